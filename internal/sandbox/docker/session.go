package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/sandbox"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

const (
	containerNamePrefix = "repoready-"
	sessionLabel        = "dev.repoready.session"
	probeTimeout        = 2 * time.Second
	execInspectRetries  = 20
)

var errTornDown = errors.New("session has been torn down")

// SessionConfig is the configuration of a Docker session.
type SessionConfig struct {
	Client  DockerClient
	Sandbox model.SandboxConfig
	// PublishHost is the host IP where the container ports are published.
	PublishHost string
	// ProbeInterval is the interval between endpoint readiness probes.
	ProbeInterval time.Duration
	// HTTPClient is used by the endpoint readiness probes.
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *SessionConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("docker client is required")
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("invalid sandbox config: %w", err)
	}
	if c.PublishHost == "" {
		c.PublishHost = "127.0.0.1"
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout: probeTimeout,
			// Any answer means the server is up, redirects included.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

type endpoint struct {
	port int
	url  string
}

// Session is a sandbox.Session backed by a Docker container. The container idles
// and every spawned command is a container exec.
type Session struct {
	id          string
	name        string
	client      DockerClient
	cfg         model.SandboxConfig
	publishHost string
	interval    time.Duration
	httpClient  *http.Client
	logger      log.Logger
	events      chan sandbox.Event

	// ctx lives until teardown, the session background tasks depend on it.
	ctx    context.Context
	cancel context.CancelFunc

	bootMu      sync.Mutex
	mu          sync.Mutex
	booted      bool
	tornDown    bool
	containerID string
}

// NewSession returns a new unbooted Docker session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:          id,
		name:        containerNamePrefix + strings.ToLower(id),
		client:      cfg.Client,
		cfg:         cfg.Sandbox,
		publishHost: cfg.PublishHost,
		interval:    cfg.ProbeInterval,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger.WithValues(log.Kv{"svc": "sandbox.Docker", "session-id": id}),
		events:      make(chan sandbox.Event, 16),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

func (s *Session) Boot(ctx context.Context) error {
	s.bootMu.Lock()
	defer s.bootMu.Unlock()

	s.mu.Lock()
	booted, tornDown := s.booted, s.tornDown
	s.mu.Unlock()
	if tornDown {
		return model.NewBootError("could not boot session", errTornDown)
	}
	if booted {
		return nil
	}

	s.logger.Infof("[1/3] Pulling image: %s", s.cfg.Image)
	pullResp, err := s.client.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
	if err != nil {
		return model.NewBootError(fmt.Sprintf("could not pull image %s", s.cfg.Image), err)
	}
	// Consume the pull response to ensure it completes.
	_, _ = io.Copy(io.Discard, pullResp)
	pullResp.Close()

	s.logger.Infof("[2/3] Creating container: %s", s.name)
	containerConfig, hostConfig := s.containerConfig()
	resp, err := s.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, s.name)
	if err != nil {
		return model.NewBootError("could not create container", err)
	}

	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		// Torn down while creating, nobody else knows about this container.
		_ = s.removeContainer(context.WithoutCancel(ctx), resp.ID)
		return model.NewBootError("could not boot session", errTornDown)
	}
	s.containerID = resp.ID
	s.mu.Unlock()

	s.logger.Infof("[3/3] Starting container: %s", resp.ID)
	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return model.NewBootError("could not start container", err)
	}

	info, err := s.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return model.NewBootError("could not inspect container", err)
	}
	endpoints := s.publishedEndpoints(info)
	if len(endpoints) == 0 {
		return model.NewBootError("container has no published ports", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return model.NewBootError("could not boot session", errTornDown)
	}
	s.booted = true

	go s.watchEvents(resp.ID)
	go s.probeEndpoints(endpoints)

	s.logger.Infof("Booted Docker session (container: %s)", resp.ID)
	return nil
}

func (s *Session) containerConfig() (*container.Config, *container.HostConfig) {
	var envVars []string
	for k, v := range s.cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range s.cfg.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		// Empty host port gets a random free port.
		bindings[port] = []nat.PortBinding{{HostIP: s.publishHost, HostPort: ""}}
	}

	containerConfig := &container.Config{
		Image:        s.cfg.Image,
		Env:          envVars,
		WorkingDir:   s.cfg.WorkDir,
		ExposedPorts: exposed,
		Labels:       map[string]string{sessionLabel: s.id},
		Cmd:          []string{"tail", "-f", "/dev/null"}, // Keep container running.
	}

	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Resources: container.Resources{
			NanoCPUs: int64(s.cfg.Resources.VCPUs * 1e9),
			Memory:   int64(s.cfg.Resources.MemoryMB) * 1024 * 1024,
		},
	}

	return containerConfig, hostConfig
}

func (s *Session) publishedEndpoints(info container.InspectResponse) []endpoint {
	if info.NetworkSettings == nil {
		return nil
	}

	var endpoints []endpoint
	for _, p := range s.cfg.Ports {
		bindings := info.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", p))]
		for _, b := range bindings {
			if b.HostPort == "" {
				continue
			}
			host := b.HostIP
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "127.0.0.1"
			}
			endpoints = append(endpoints, endpoint{port: p, url: fmt.Sprintf("http://%s:%s", host, b.HostPort)})
			break
		}
	}

	return endpoints
}

func (s *Session) Mount(ctx context.Context, tree *model.FileTree) error {
	containerID, err := s.liveContainer()
	if err != nil {
		return model.NewMountError("could not mount files", err)
	}

	content, err := tarFromTree(tree)
	if err != nil {
		return model.NewMountError("could not pack files", err)
	}

	err = s.client.CopyToContainer(ctx, containerID, s.cfg.WorkDir, content, container.CopyToContainerOptions{})
	if err != nil {
		return model.NewMountError(fmt.Sprintf("could not copy files to %s", s.cfg.WorkDir), err)
	}

	s.logger.Debugf("Mounted %d files on %s", tree.FileCount(), s.cfg.WorkDir)
	return nil
}

func tarFromTree(tree *model.FileTree) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	err := tree.Walk(func(p string, n *model.FileNode) error {
		hdr := &tar.Header{
			Name:    p,
			Mode:    0o644,
			Size:    int64(len(n.Contents)),
			ModTime: now,
		}
		if n.IsDir() {
			hdr.Typeflag = tar.TypeDir
			hdr.Name = p + "/"
			hdr.Mode = 0o755
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if n.IsDir() {
			return nil
		}
		_, err := tw.Write(n.Contents)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	return &buf, nil
}

func (s *Session) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	cmd := append([]string{command}, args...)
	cmdLine := strings.Join(cmd, " ")

	containerID, err := s.liveContainer()
	if err != nil {
		return nil, model.NewSpawnError(cmdLine, err)
	}

	// Exec reports missing executables as exit codes, check it before so they are spawn errors.
	code, err := s.execWait(ctx, containerID, []string{"sh", "-c", `command -v "$1" >/dev/null 2>&1`, "sh", command})
	if err != nil {
		return nil, model.NewSpawnError(cmdLine, err)
	}
	if code != 0 {
		return nil, model.NewSpawnError(cmdLine, fmt.Errorf("executable %q not found", command))
	}

	execID, hj, err := s.execStart(ctx, containerID, cmd)
	if err != nil {
		return nil, model.NewSpawnError(cmdLine, err)
	}
	s.logger.Debugf("Spawned %q (exec: %s)", cmdLine, execID)

	p := &process{
		output: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go s.stream(p, execID, hj)

	return p, nil
}

func (s *Session) execStart(ctx context.Context, containerID string, cmd []string) (string, types.HijackedResponse, error) {
	ex, err := s.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   s.cfg.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("could not create exec: %w", err)
	}

	hj, err := s.client.ContainerExecAttach(ctx, ex.ID, container.ExecStartOptions{})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("could not attach exec: %w", err)
	}

	return ex.ID, hj, nil
}

// execWait runs a command discarding its output and returns the exit code.
func (s *Session) execWait(ctx context.Context, containerID string, cmd []string) (int, error) {
	execID, hj, err := s.execStart(ctx, containerID, cmd)
	if err != nil {
		return 0, err
	}
	defer hj.Close()

	if _, err := stdcopy.StdCopy(io.Discard, io.Discard, hj.Reader); err != nil {
		return 0, fmt.Errorf("could not read exec output: %w", err)
	}

	return s.execExitCode(ctx, execID)
}

func (s *Session) stream(p *process, execID string, hj types.HijackedResponse) {
	defer close(p.done)

	stop := make(chan struct{})
	go func() {
		select {
		case <-s.ctx.Done():
		case <-stop:
		}
		hj.Close()
	}()

	w := &chanWriter{ch: p.output, done: s.ctx.Done()}
	_, copyErr := stdcopy.StdCopy(w, w, hj.Reader)
	close(stop)
	close(p.output)

	if s.ctx.Err() != nil {
		p.exitCode, p.err = -1, errTornDown
		return
	}

	// Inspect even when the stream broke, the exit code is what matters.
	code, err := s.execExitCode(s.ctx, execID)
	if err != nil {
		p.exitCode, p.err = -1, errors.Join(copyErr, err)
		return
	}
	p.exitCode = code
}

func (s *Session) execExitCode(ctx context.Context, execID string) (int, error) {
	for i := 0; ; i++ {
		insp, err := s.client.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("could not inspect exec: %w", err)
		}
		if !insp.Running {
			return insp.ExitCode, nil
		}
		if i >= execInspectRetries {
			return 0, fmt.Errorf("exec %s still running after its output finished", execID)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *Session) watchEvents(containerID string) {
	msgs, errs := s.client.Events(s.ctx, events.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("container", containerID),
		),
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			switch msg.Action {
			case events.ActionOOM:
				s.emit(sandbox.Event{Type: sandbox.EventTypeFatal, Message: "container ran out of memory"})
			case events.ActionDie:
				exitCode := msg.Actor.Attributes["exitCode"]
				s.emit(sandbox.Event{Type: sandbox.EventTypeFatal, Message: fmt.Sprintf("container died (exit code %s)", exitCode)})
				return
			}
		case err, ok := <-errs:
			if !ok || s.ctx.Err() != nil {
				return
			}
			s.emit(sandbox.Event{Type: sandbox.EventTypeFatal, Message: fmt.Sprintf("lost Docker events stream: %s", err)})
			return
		}
	}
}

// probeEndpoints emits an endpoint ready event every time a published port starts answering,
// a port that stops answering emits again once it's back.
func (s *Session) probeEndpoints(endpoints []endpoint) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	up := make(map[int]bool, len(endpoints))
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}

		for _, e := range endpoints {
			ok := s.probe(e.url)
			if ok && !up[e.port] {
				s.logger.Infof("Endpoint ready on port %d: %s", e.port, e.url)
				s.emit(sandbox.Event{Type: sandbox.EventTypeEndpointReady, Port: e.port, URL: e.url})
			}
			up[e.port] = ok
		}
	}
}

func (s *Session) probe(url string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()

	return true
}

func (s *Session) emit(ev sandbox.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warningf("Dropped %s event, events buffer is full", ev.Type)
	}
}

func (s *Session) Events() <-chan sandbox.Event { return s.events }

func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	s.tornDown = true
	s.cancel()
	containerID := s.containerID
	s.containerID = ""
	s.mu.Unlock()

	if containerID == "" {
		return nil
	}

	s.logger.Infof("Removing container: %s", containerID)
	return s.removeContainer(ctx, containerID)
}

func (s *Session) removeContainer(ctx context.Context, containerID string) error {
	err := s.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true, // Force removal even if running.
		RemoveVolumes: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			s.logger.Debugf("Container %s already removed", containerID)
			return nil
		}
		s.logger.Errorf("Could not remove container %s: %v", containerID, err)
		return fmt.Errorf("could not remove container %s: %w", containerID, err)
	}
	return nil
}

func (s *Session) liveContainer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		return "", errTornDown
	}
	if !s.booted {
		return "", fmt.Errorf("session is not booted")
	}
	return s.containerID, nil
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

// chanWriter sends every write as an output chunk.
type chanWriter struct {
	ch   chan<- []byte
	done <-chan struct{}
}

func (w *chanWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	select {
	case w.ch <- chunk:
		return len(p), nil
	case <-w.done:
		return 0, errTornDown
	}
}

var _ sandbox.Session = &Session{}
