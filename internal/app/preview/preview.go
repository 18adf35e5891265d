package preview

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/slok/repoready/internal/conventions"
	"github.com/slok/repoready/internal/fallback"
	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
	"github.com/slok/repoready/internal/packagemanager"
	"github.com/slok/repoready/internal/sandbox"
	"github.com/slok/repoready/internal/storage"
)

const (
	subscriberBuffer  = 64
	persistTimeout    = 5 * time.Second
	errScriptNotFound = "script not defined in package.json"
)

// Fetcher fetches the file tree of a repository.
type Fetcher interface {
	Fetch(ctx context.Context, ref model.RepositoryRef) (*model.FileTree, error)
}

// ServiceConfig is the configuration for the preview service.
type ServiceConfig struct {
	Fetcher  Fetcher
	Sessions sandbox.SessionFactory
	// Repository stores the run history, optional.
	Repository      storage.RunRepository
	Timeout         time.Duration
	TeardownTimeout time.Duration
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Sessions == nil {
		return fmt.Errorf("session factory is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = conventions.DefaultRunTimeout
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = conventions.DefaultTeardownTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Preview"})
	return nil
}

// Service orchestrates the runs of repositories inside sandbox sessions. It owns a
// single run slot: a new run can only start when the previous one is terminal.
type Service struct {
	fetcher         Fetcher
	sessions        sandbox.SessionFactory
	repo            storage.RunRepository
	timeout         time.Duration
	teardownTimeout time.Duration
	logger          log.Logger

	// notifyMu serializes the state changes with their persistence and publishing,
	// it's always acquired before mu.
	notifyMu sync.Mutex
	mu       sync.Mutex
	state    model.RunState
	current  *run

	subMu   sync.Mutex
	subs    map[int]chan model.RunUpdate
	nextSub int
}

// NewService creates a new preview service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		fetcher:         cfg.Fetcher,
		sessions:        cfg.Sessions,
		repo:            cfg.Repository,
		timeout:         cfg.Timeout,
		teardownTimeout: cfg.TeardownTimeout,
		logger:          cfg.Logger,
		state:           model.RunState{Phase: model.PhaseIdle},
		subs:            map[int]chan model.RunUpdate{},
	}, nil
}

// run is the bookkeeping of a single run, its fields are guarded by Service.mu.
type run struct {
	id     string
	ref    model.RepositoryRef
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	// done is closed when the run reaches a terminal phase or is disposed.
	done     chan struct{}
	finished bool

	session  sandbox.Session
	tornDown bool
	// candidateSpawned is set once a start candidate is launched, only then
	// endpoints are taken as the dev server.
	candidateSpawned bool
}

func (r *run) finish() {
	if r.finished {
		return
	}
	r.finished = true
	if r.timer != nil {
		r.timer.Stop()
	}
	close(r.done)
}

// Request is a run request.
type Request struct {
	RepositoryURL string
	// Analysis is the optional result of the repository analysis, non runnable
	// repositories are rejected.
	Analysis *model.Analysis
}

// Start triggers a new run and returns its ID. The run continues in the background,
// use Snapshot, Wait or Subscribe to observe it.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	if req.Analysis != nil && !req.Analysis.Runnable {
		return "", fmt.Errorf("repository %s can't run in a sandbox: %w", req.RepositoryURL, model.ErrNotRunnable)
	}

	ref, err := model.ParseRepositoryURL(req.RepositoryURL)
	if err != nil {
		return "", fmt.Errorf("invalid repository url: %w", err)
	}

	s.notifyMu.Lock()
	s.mu.Lock()
	if s.current != nil && s.state.Phase.Active() {
		id := s.current.id
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return "", fmt.Errorf("run %s is still in flight: %w", id, model.ErrRunInProgress)
	}
	prev := s.current

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:     ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		ref:    ref,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.current = r
	s.state = model.RunState{
		RunID:         r.id,
		RepositoryURL: model.NormalizeRepositoryURL(req.RepositoryURL),
		Repository:    ref,
		Phase:         model.PhaseIdle,
		StartedAt:     time.Now().UTC(),
	}
	record := s.state.Record()
	s.mu.Unlock()

	if prev != nil {
		s.release(prev)
	}
	s.persist(func(ctx context.Context, repo storage.RunRepository) error { return repo.CreateRun(ctx, record) })
	s.transitionLocked(r, transition{
		phase:    model.PhaseBooting,
		progress: model.ProgressBooting,
		log:      fmt.Sprintf("Booting sandbox and fetching %s...\n", ref),
	})

	s.mu.Lock()
	r.timer = time.AfterFunc(s.timeout, func() { s.timedOut(r) })
	s.mu.Unlock()
	s.notifyMu.Unlock()

	// The previous run session is released out of the critical section, it can be slow.
	if prev != nil {
		s.teardown(prev)
	}

	s.logger.Infof("Run %s started for %s", r.id, ref)
	go s.pipeline(r)

	return r.id, nil
}

// Snapshot returns a copy of the current run state.
func (s *Service) Snapshot() model.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Log = append([]string{}, s.state.Log...)
	if s.state.Fallback != nil {
		links := *s.state.Fallback
		st.Fallback = &links
	}
	return st
}

// Wait blocks until the current run reaches a terminal phase or is disposed, and
// returns its state.
func (s *Service) Wait(ctx context.Context) (model.RunState, error) {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return s.Snapshot(), nil
	}

	select {
	case <-r.done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Subscribe returns a channel of run updates and a function to stop receiving them.
// Slow subscribers miss updates instead of blocking the run.
func (s *Service) Subscribe() (<-chan model.RunUpdate, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan model.RunUpdate, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Dispose releases the current run: its session is torn down whatever the phase
// and the state goes back to idle.
func (s *Service) Dispose(ctx context.Context) error {
	s.notifyMu.Lock()
	s.mu.Lock()
	r := s.current
	if r == nil {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return nil
	}
	wasActive := s.state.Phase.Active()
	record := s.state.Record()
	s.current = nil
	s.state = model.RunState{Phase: model.PhaseIdle}
	s.mu.Unlock()

	if wasActive {
		now := time.Now().UTC()
		record.Phase = model.PhaseFailed
		record.ErrorKind = model.ErrorKindCanceled
		record.ErrorMessage = "run disposed before completion"
		record.FinishedAt = &now
		s.persist(func(ctx context.Context, repo storage.RunRepository) error { return repo.UpdateRun(ctx, record) })
	}
	s.release(r)
	s.publish(model.RunUpdate{RunID: r.id, Phase: model.PhaseIdle})
	s.notifyMu.Unlock()

	s.teardown(r)
	s.logger.Infof("Run %s disposed", r.id)

	return nil
}

// release detaches a run that is no longer the current one.
func (s *Service) release(r *run) {
	s.mu.Lock()
	r.finish()
	s.mu.Unlock()
	r.cancel()
}

type transition struct {
	phase    model.Phase
	progress int
	log      string
	pm       model.PackageManager
	url      string
	err      error
}

func (s *Service) transition(r *run, t transition) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.transitionLocked(r, t)
}

// transitionLocked applies a phase change, notifyMu must be held. Changes for runs
// that are not the current one or that break the phase order are discarded.
func (s *Service) transitionLocked(r *run, t transition) bool {
	s.mu.Lock()
	if s.current != r || !s.state.Phase.CanTransitionTo(t.phase) {
		s.mu.Unlock()
		return false
	}

	st := &s.state
	from := st.Phase
	st.Phase = t.phase
	if t.progress > st.Progress {
		st.Progress = t.progress
	}
	if t.pm != "" {
		st.PackageManager = t.pm
	}
	if t.log != "" {
		st.Log = append(st.Log, t.log)
	}

	switch t.phase {
	case model.PhaseReady:
		st.URL = t.url
	case model.PhaseFailed, model.PhaseTimedOut:
		st.Err = t.err
		st.Message = t.err.Error()
		links := fallback.LinksFromURL(st.RepositoryURL)
		st.Fallback = &links
	}
	terminal := t.phase.Terminal()
	if terminal {
		now := time.Now().UTC()
		st.FinishedAt = &now
	}

	record := st.Record()
	update := model.RunUpdate{RunID: r.id, Phase: st.Phase, Progress: st.Progress, LogChunk: t.log}
	s.mu.Unlock()

	s.logger.Debugf("Run %s: %s -> %s", r.id, from, t.phase)
	s.persist(func(ctx context.Context, repo storage.RunRepository) error {
		if t.log != "" {
			if err := repo.AppendRunLog(ctx, record.ID, t.log); err != nil {
				return err
			}
		}
		return repo.UpdateRun(ctx, record)
	})
	s.publish(update)

	// Waiters are released once the terminal state is persisted.
	if terminal {
		s.mu.Lock()
		r.finish()
		s.mu.Unlock()
	}

	return true
}

// appendLog adds process output to the run log. Output of failed, timed out or
// released runs is dropped, ready runs keep logging their server.
func (s *Service) appendLog(r *run, chunk string) {
	if chunk == "" {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	phase := s.state.Phase
	if s.current != r || phase == model.PhaseFailed || phase == model.PhaseTimedOut {
		s.mu.Unlock()
		return
	}
	s.state.Log = append(s.state.Log, chunk)
	update := model.RunUpdate{RunID: r.id, Phase: phase, Progress: s.state.Progress, LogChunk: chunk}
	s.mu.Unlock()

	s.persist(func(ctx context.Context, repo storage.RunRepository) error { return repo.AppendRunLog(ctx, r.id, chunk) })
	s.publish(update)
}

func (s *Service) fail(r *run, err error) {
	ok := s.transition(r, transition{
		phase: model.PhaseFailed,
		log:   fmt.Sprintf("Error: %s\n", err),
		err:   err,
	})
	if !ok {
		s.logger.Debugf("Run %s: ignoring late error: %s", r.id, err)
		return
	}

	s.logger.Warningf("Run %s failed: %s", r.id, err)
	s.teardown(r)
}

func (s *Service) timedOut(r *run) {
	err := &model.TimeoutError{Budget: s.timeout}
	ok := s.transition(r, transition{
		phase: model.PhaseTimedOut,
		log:   fmt.Sprintf("Error: %s\n", err),
		err:   err,
	})
	if !ok {
		return
	}

	s.logger.Warningf("Run %s timed out after %s", r.id, s.timeout)
	s.teardown(r)
}

// attach sets the run session, a session created for a run that has already been
// torn down is torn down right away.
func (s *Service) attach(r *run, session sandbox.Session) bool {
	s.mu.Lock()
	if !r.tornDown {
		r.session = session
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	s.teardownSession(r, session)
	return false
}

// teardown releases the run session once.
func (s *Service) teardown(r *run) {
	s.mu.Lock()
	if r.tornDown {
		s.mu.Unlock()
		return
	}
	r.tornDown = true
	session := r.session
	s.mu.Unlock()

	if session != nil {
		s.teardownSession(r, session)
	}
}

func (s *Service) teardownSession(r *run, session sandbox.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
	defer cancel()

	if err := session.Teardown(ctx); err != nil {
		s.logger.Errorf("Run %s: could not tear down session: %s", r.id, err)
		return
	}
	s.logger.Debugf("Run %s: session torn down", r.id)
}

func (s *Service) persist(fn func(ctx context.Context, repo storage.RunRepository) error) {
	if s.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx, s.repo); err != nil {
		s.logger.Warningf("Could not persist run: %s", err)
	}
}

func (s *Service) publish(u model.RunUpdate) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Service) pipeline(r *run) {
	ctx := r.ctx

	session, err := s.sessions.NewSession(ctx)
	if err != nil {
		s.fail(r, typed(err, func(err error) error { return model.NewBootError("could not create sandbox session", err) }))
		return
	}
	if !s.attach(r, session) {
		return
	}
	go s.watchEvents(r, session)

	tree, err := s.bootAndFetch(ctx, r, session)
	if err != nil {
		s.fail(r, err)
		return
	}

	// Mounting.
	pm, lockFile := packagemanager.DetectWithLockFile(tree)
	detected := fmt.Sprintf("No lock file found. Using %s.\n", pm)
	if lockFile != "" {
		detected = fmt.Sprintf("Detected %s lock file. Using %s.\n", pm, pm)
	}
	if !s.transition(r, transition{phase: model.PhaseMounting, progress: model.ProgressMounting, pm: pm, log: detected}) {
		return
	}
	if err := session.Mount(ctx, tree); err != nil {
		s.fail(r, typed(err, func(err error) error { return model.NewMountError("could not mount files", err) }))
		return
	}
	s.appendLog(r, fmt.Sprintf("Mounted %d files (%s).\n", tree.FileCount(), humanize.IBytes(uint64(tree.Size()))))

	// Installing.
	install := packagemanager.InstallCommand(pm)
	if !s.transition(r, transition{phase: model.PhaseInstalling, progress: model.ProgressInstalling, log: fmt.Sprintf("Running %s...\n", install)}) {
		return
	}
	if err := s.install(ctx, r, session, install); err != nil {
		s.fail(r, err)
		return
	}

	// Starting.
	if !s.transition(r, transition{phase: model.PhaseStarting, progress: model.ProgressStarting, log: "Starting development server...\n"}) {
		return
	}
	if err := s.start(ctx, r, session, pm, tree); err != nil {
		s.fail(r, err)
	}
}

// bootAndFetch boots the session and fetches the repository concurrently, the first
// failure is returned without waiting for the other operation.
func (s *Service) bootAndFetch(ctx context.Context, r *run, session sandbox.Session) (*model.FileTree, error) {
	var (
		tree     *model.FileTree
		firstErr = make(chan error, 1)
		once     sync.Once
	)
	report := func(err error) error {
		once.Do(func() { firstErr <- err })
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := session.Boot(gctx); err != nil {
			return report(typed(err, func(err error) error { return model.NewBootError("could not boot sandbox", err) }))
		}
		s.appendLog(r, "Sandbox booted.\n")
		return nil
	})
	g.Go(func() error {
		t, err := s.fetcher.Fetch(gctx, r.ref)
		if err != nil {
			return report(typed(err, func(err error) error { return model.NewFetchError("could not fetch repository", err) }))
		}
		tree = t
		s.appendLog(r, fmt.Sprintf("Fetched %s: %d files (%s).\n", r.ref, t.FileCount(), humanize.IBytes(uint64(t.Size()))))
		return nil
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err := <-firstErr:
		return nil, err
	case err := <-waitErr:
		if err != nil {
			return nil, err
		}
		return tree, nil
	}
}

func (s *Service) install(ctx context.Context, r *run, session sandbox.Session, cmd packagemanager.Command) error {
	proc, err := session.Spawn(ctx, cmd.Name, cmd.Args...)
	if err != nil {
		return typed(err, func(err error) error { return model.NewSpawnError(cmd.String(), err) })
	}

	for chunk := range proc.Output() {
		s.appendLog(r, string(chunk))
	}

	code, err := proc.Wait(ctx)
	if err != nil {
		return &model.InstallError{Command: cmd.String(), ExitCode: -1, Err: err}
	}
	if code != 0 {
		return &model.InstallError{Command: cmd.String(), ExitCode: code}
	}

	s.appendLog(r, "Dependencies installed.\n")
	return nil
}

type procExit struct {
	code int
	err  error
}

// start runs the start candidates in order until one keeps serving. The run becomes
// ready through the session endpoint ready events.
func (s *Service) start(ctx context.Context, r *run, session sandbox.Session, pm model.PackageManager, tree *model.FileTree) error {
	scripts, err := packagemanager.Scripts(tree)
	if err != nil {
		s.appendLog(r, fmt.Sprintf("Could not read package.json scripts: %s\n", err))
		scripts = map[string]string{}
	}

	var attempts []error
	for _, c := range packagemanager.StartCandidates(pm) {
		select {
		case <-r.done:
			return nil
		default:
		}

		cmd := c.Command.String()
		if !c.Available(scripts, tree) {
			attempts = append(attempts, model.NewSpawnError(cmd, errors.New(errScriptNotFound)))
			s.appendLog(r, fmt.Sprintf("No %q script, skipping %s.\n", c.Script, cmd))
			continue
		}

		s.appendLog(r, fmt.Sprintf("Running %s...\n", cmd))
		s.mu.Lock()
		r.candidateSpawned = true
		s.mu.Unlock()
		proc, err := session.Spawn(ctx, c.Command.Name, c.Command.Args...)
		if err != nil {
			attempts = append(attempts, typed(err, func(err error) error { return model.NewSpawnError(cmd, err) }))
			s.appendLog(r, fmt.Sprintf("Could not run %s: %s\n", cmd, err))
			continue
		}

		exited := make(chan procExit, 1)
		go func() {
			for chunk := range proc.Output() {
				s.appendLog(r, string(chunk))
			}
			code, err := proc.Wait(ctx)
			exited <- procExit{code: code, err: err}
		}()

		select {
		case <-r.done:
			return nil
		case e := <-exited:
			if e.err == nil {
				e.err = fmt.Errorf("exited with code %d before serving", e.code)
			}
			attempts = append(attempts, fmt.Errorf("%s: %w", cmd, e.err))
			s.appendLog(r, fmt.Sprintf("%s stopped: %s\n", cmd, e.err))
		}
	}

	return &model.StartError{Attempts: attempts}
}

func (s *Service) watchEvents(r *run, session sandbox.Session) {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case sandbox.EventTypeFatal:
				s.fail(r, &model.SessionFatalError{Message: ev.Message})
			case sandbox.EventTypeEndpointReady:
				s.endpointReady(r, ev.URL)
			}
		}
	}
}

// endpointReady makes the run ready when a start candidate is running. Endpoints opened
// earlier (e.g. by install scripts) are not the dev server and are ignored.
func (s *Service) endpointReady(r *run, url string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	accept := s.current == r && s.state.Phase == model.PhaseStarting && r.candidateSpawned
	s.mu.Unlock()

	if !accept {
		s.logger.Debugf("Run %s: ignoring endpoint %s, no start candidate running", r.id, url)
		return
	}
	s.ready(r, url)
}

func (s *Service) ready(r *run, url string) {
	ok := s.transitionLocked(r, transition{
		phase:    model.PhaseReady,
		progress: model.ProgressReady,
		url:      url,
		log:      fmt.Sprintf("Server ready at %s\n", url),
	})
	if ok {
		s.logger.Infof("Run %s ready at %s", r.id, url)
	}
}

// typed returns the error as is when it's already a run error, otherwise it's wrapped.
func typed(err error, wrap func(error) error) error {
	if model.ErrorKindOf(err) != model.ErrorKindUnknown {
		return err
	}
	return wrap(err)
}
