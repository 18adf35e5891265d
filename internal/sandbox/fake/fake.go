package fake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox"
)

// DefaultReadyURL is the URL sent on endpoint ready events when none is configured.
const DefaultReadyURL = "http://127.0.0.1:3000"

var errTornDown = errors.New("session has been torn down")

// Command is the scripted behaviour of a command.
type Command struct {
	// Output chunks sent by the process before exiting.
	Output []string
	// ExitCode of the process.
	ExitCode int
	// SpawnErr makes the spawn fail.
	SpawnErr error
	// Delay before the process exits.
	Delay time.Duration
	// Hang makes the process run until the session is torn down.
	Hang bool
	// Ready emits an endpoint ready event after the output has been sent.
	Ready bool
}

// SessionConfig is the configuration of the fake sessions.
type SessionConfig struct {
	BootErr     error
	BootDelay   time.Duration
	MountErr    error
	TeardownErr error
	// Commands are indexed by the full command line (e.g. `npm run dev`).
	// Unknown commands fail to spawn.
	Commands map[string]Command
	ReadyURL string
	Logger   log.Logger
}

func (c *SessionConfig) defaults() error {
	if c.Commands == nil {
		c.Commands = map[string]Command{}
	}
	if c.ReadyURL == "" {
		c.ReadyURL = DefaultReadyURL
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Fake"})
	return nil
}

// Session is a fake sandbox.Session that runs scripted commands, used for tests
// and dry runs without a container runtime.
type Session struct {
	cfg    SessionConfig
	events chan sandbox.Event
	closed chan struct{}
	logger log.Logger

	mu            sync.Mutex
	booted        bool
	bootCount     int
	teardownCount int
	mounted       *model.FileTree
	spawned       []string
}

// NewSession returns a new fake session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Session{
		cfg:    cfg,
		events: make(chan sandbox.Event, 16),
		closed: make(chan struct{}),
		logger: cfg.Logger,
	}, nil
}

func (s *Session) Boot(ctx context.Context) error {
	s.mu.Lock()
	if s.booted {
		s.mu.Unlock()
		return nil
	}
	s.bootCount++
	s.mu.Unlock()

	if s.cfg.BootDelay > 0 {
		select {
		case <-time.After(s.cfg.BootDelay):
		case <-ctx.Done():
			return model.NewBootError("boot cancelled", ctx.Err())
		case <-s.closed:
			return model.NewBootError("boot interrupted", errTornDown)
		}
	}

	if s.cfg.BootErr != nil {
		return model.NewBootError("could not boot fake session", s.cfg.BootErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() {
		return model.NewBootError("boot interrupted", errTornDown)
	}
	s.booted = true
	s.logger.Debugf("Fake session booted")

	return nil
}

func (s *Session) Mount(ctx context.Context, tree *model.FileTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return model.NewMountError("could not mount files", errTornDown)
	}
	if s.cfg.MountErr != nil {
		return model.NewMountError("could not mount files", s.cfg.MountErr)
	}
	s.mounted = tree

	return nil
}

func (s *Session) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	cmdLine := strings.Join(append([]string{command}, args...), " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return nil, model.NewSpawnError(cmdLine, errTornDown)
	}
	cmd, ok := s.cfg.Commands[cmdLine]
	if !ok {
		return nil, model.NewSpawnError(cmdLine, fmt.Errorf("command not found"))
	}
	if cmd.SpawnErr != nil {
		return nil, model.NewSpawnError(cmdLine, cmd.SpawnErr)
	}
	s.spawned = append(s.spawned, cmdLine)
	s.logger.Debugf("Spawned %q", cmdLine)

	p := &process{
		output: make(chan []byte, len(cmd.Output)),
		done:   make(chan struct{}),
	}
	go s.run(p, cmd)

	return p, nil
}

func (s *Session) run(p *process, cmd Command) {
	defer close(p.done)
	defer close(p.output)

	for _, chunk := range cmd.Output {
		select {
		case p.output <- []byte(chunk):
		case <-s.closed:
			p.exitCode, p.err = -1, errTornDown
			return
		}
	}

	if cmd.Ready {
		s.EmitEndpointReady(3000, s.cfg.ReadyURL)
	}

	if cmd.Hang {
		<-s.closed
		p.exitCode, p.err = -1, errTornDown
		return
	}

	if cmd.Delay > 0 {
		select {
		case <-time.After(cmd.Delay):
		case <-s.closed:
			p.exitCode, p.err = -1, errTornDown
			return
		}
	}

	p.exitCode = cmd.ExitCode
}

func (s *Session) Events() <-chan sandbox.Event { return s.events }

func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownCount++
	if !s.isClosed() {
		close(s.closed)
	}

	return s.cfg.TeardownErr
}

// EmitFatal sends a fatal session event.
func (s *Session) EmitFatal(msg string) {
	s.emit(sandbox.Event{Type: sandbox.EventTypeFatal, Message: msg})
}

// EmitEndpointReady sends an endpoint ready event.
func (s *Session) EmitEndpointReady(port int, url string) {
	s.emit(sandbox.Event{Type: sandbox.EventTypeEndpointReady, Port: port, URL: url})
}

func (s *Session) emit(ev sandbox.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warningf("Dropped %s event, events buffer is full", ev.Type)
	}
}

// BootCount returns how many times the session has really booted.
func (s *Session) BootCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootCount
}

// TeardownCount returns how many times the session has been torn down.
func (s *Session) TeardownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardownCount
}

// Spawned returns the spawned command lines in order.
func (s *Session) Spawned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.spawned...)
}

// Mounted returns the last mounted tree.
func (s *Session) Mounted() *model.FileTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type process struct {
	output   chan []byte
	done     chan struct{}
	exitCode int
	err      error
}

func (p *process) Output() <-chan []byte { return p.output }

func (p *process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, p.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// SessionFactory creates fake sessions sharing the same configuration.
type SessionFactory struct {
	Config SessionConfig
	// Err makes the session creation fail.
	Err error

	mu       sync.Mutex
	sessions []*Session
}

func (f *SessionFactory) NewSession(ctx context.Context) (sandbox.Session, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	s, err := NewSession(f.Config)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()

	return s, nil
}

// Sessions returns the created sessions in order.
func (f *SessionFactory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session{}, f.sessions...)
}

// Last returns the last created session.
func (f *SessionFactory) Last() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

var (
	_ sandbox.Session        = &Session{}
	_ sandbox.SessionFactory = &SessionFactory{}
)
