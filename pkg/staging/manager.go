// Package staging implements the staging-server lifecycle manager: a
// per-customer process supervisor behind a persisted state machine
// (stopped -> starting -> running -> stopped/error).
//
// The persisted record is the single source of truth. The in-memory
// process handle is a cache that is re-validated against the OS process
// table and the TCP port before being trusted, so a manager restart or an
// externally killed child never wedges a customer's preview.
package staging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"upserver/pkg/config"
	"upserver/pkg/ports"
	"upserver/pkg/protocol"
	"upserver/pkg/siteprofile"
	"upserver/pkg/store"
)

// stderrTailBytes is how much process output is retained for diagnostics.
const stderrTailBytes = 500

// trackedProc is the live-process cache entry for one customer.
type trackedProc struct {
	gen  int64
	pid  int
	port int
	tail *TailBuffer

	// done is closed after cmd.Wait returns; waitErr is valid once done is
	// closed. A closed channel lets the readiness poll, the exit watcher,
	// and Stop all observe the exit without racing over a single value.
	done    chan struct{}
	waitErr error
}

// StartResult reports the outcome of a successful Start call.
type StartResult struct {
	CustomerID     string               `json:"customer_id"`
	State          protocol.ServerState `json:"state"`
	Port           int                  `json:"port"`
	AlreadyRunning bool                 `json:"already_running"`
	Message        string               `json:"message,omitempty"`
}

// Preflight bundles liveness and config-sanity booleans for UI display.
type Preflight struct {
	CustomerID    string               `json:"customer_id"`
	SiteExists    bool                 `json:"site_exists"`
	HasFixedPort  bool                 `json:"has_fixed_port"`
	FixedPort     int                  `json:"fixed_port,omitempty"`
	PortListening bool                 `json:"port_listening"`
	ProcessAlive  bool                 `json:"process_alive"`
	State         protocol.ServerState `json:"state"`
}

// Manager owns the lifecycle of at most one preview process per customer.
type Manager struct {
	store *store.Store

	mu              sync.Mutex
	alloc           *ports.Allocator
	siteRoot        string
	idleThreshold   time.Duration
	readyTimeout    time.Duration
	installTimeout  time.Duration
	cleanupInterval time.Duration
	killGrace       time.Duration
	probeInterval   time.Duration

	inflight map[string]bool
	procs    map[string]*trackedProc
	gen      int64

	// Injectable for tests.
	cmdFactory func(dir string, argv []string) *exec.Cmd
	probeFunc  func(port int) bool
	detectFunc func(siteDir string) (siteprofile.Profile, error)
	nowFunc    func() time.Time
}

// NewManager creates a Manager over the state store with the given config.
func NewManager(st *store.Store, cfg config.Config) *Manager {
	m := &Manager{
		store:      st,
		inflight:   make(map[string]bool),
		procs:      make(map[string]*trackedProc),
		cmdFactory: defaultCmdFactory,
		probeFunc:  defaultProbe,
		detectFunc: siteprofile.Detect,
		nowFunc:    time.Now,

		killGrace:     3 * time.Second,
		probeInterval: 250 * time.Millisecond,
	}
	m.applyConfig(cfg)
	return m
}

// SetConfig applies a hot-reloaded configuration. Live processes are not
// disturbed; new settings take effect on the next operation.
func (m *Manager) SetConfig(cfg config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyConfig(cfg)
}

func (m *Manager) applyConfig(cfg config.Config) {
	m.alloc = ports.New(cfg.Ports.RangeStart, cfg.Ports.RangeEnd, cfg.Ports.Fixed)
	m.siteRoot = cfg.SiteRoot
	m.idleThreshold = time.Duration(cfg.Staging.IdleMinutes) * time.Minute
	m.readyTimeout = time.Duration(cfg.Staging.ReadySeconds) * time.Second
	m.installTimeout = time.Duration(cfg.Staging.InstallSeconds) * time.Second
	m.cleanupInterval = time.Duration(cfg.Staging.CleanupIntervalMinutes) * time.Minute
}

// SetCmdFactory replaces the process factory. Tests inject controllable
// commands here.
func (m *Manager) SetCmdFactory(f func(dir string, argv []string) *exec.Cmd) {
	m.cmdFactory = f
}

// SetProbeFunc replaces the TCP reachability probe.
func (m *Manager) SetProbeFunc(f func(port int) bool) {
	m.probeFunc = f
}

// SetDetectFunc replaces site-profile detection.
func (m *Manager) SetDetectFunc(f func(string) (siteprofile.Profile, error)) {
	m.detectFunc = f
}

// SetNowFunc replaces the clock.
func (m *Manager) SetNowFunc(f func() time.Time) {
	m.nowFunc = f
}

// Allocator exposes the current port allocator (used by preflight display).
func (m *Manager) Allocator() *ports.Allocator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alloc
}

// Start brings a customer's staging server to running. Concurrent starts
// for the same customer fail with StartInProgressError; a stale persisted
// running state is reconciled against the OS before anything is spawned.
func (m *Manager) Start(ctx context.Context, customerID string) (*StartResult, error) {
	// Step 1: per-customer in-flight marker held for the whole call.
	m.mu.Lock()
	if m.inflight[customerID] {
		m.mu.Unlock()
		return nil, &protocol.StartInProgressError{CustomerID: customerID}
	}
	m.inflight[customerID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, customerID)
		m.mu.Unlock()
	}()

	rec, err := m.store.GetStagingServer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &protocol.StagingServer{CustomerID: customerID, State: protocol.StateStopped}
	}

	// Step 2: a persisted running state is only trusted after verifying
	// both OS-process liveness and port reachability. A stale record (prior
	// supervisor crash, externally killed child) must never block a start.
	if rec.State == protocol.StateRunning {
		if isProcessAlive(rec.PID) && m.currentProbe()(rec.Port) {
			return &StartResult{
				CustomerID:     customerID,
				State:          protocol.StateRunning,
				Port:           rec.Port,
				AlreadyRunning: true,
				Message:        "already running",
			}, nil
		}
		rec.State = protocol.StateStopped
		rec.PID = 0
		if err := m.persist(ctx, rec); err != nil {
			return nil, err
		}
	}

	// Step 3: secondary guard against multi-instance managers — a persisted
	// starting row from someone else is reported, not raced.
	if rec.State == protocol.StateStarting {
		return &StartResult{
			CustomerID: customerID,
			State:      protocol.StateStarting,
			Port:       rec.Port,
			Message:    "start already in progress",
		}, nil
	}

	// Step 4: resolve the customer's working tree.
	siteDir := m.siteDir(customerID)
	if info, statErr := os.Stat(siteDir); statErr != nil || !info.IsDir() {
		return nil, &protocol.SiteNotFoundError{CustomerID: customerID, Dir: siteDir}
	}

	// Step 5: detect the project kind and materialize dependencies.
	profile, err := m.detectFunc(siteDir)
	if err != nil {
		return nil, fmt.Errorf("detect site profile for %s: %w", customerID, err)
	}
	if err := m.ensureDependencies(ctx, customerID, siteDir, profile); err != nil {
		return nil, err
	}

	// Step 6: allocate the port. Serialized under the manager lock so two
	// scanned allocations cannot pick the same port before either persists.
	m.mu.Lock()
	busy, busyErr := m.busyPorts(ctx, customerID)
	if busyErr != nil {
		m.mu.Unlock()
		return nil, busyErr
	}
	port, err := m.alloc.Allocate(ctx, customerID, busy)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	// Step 7: persist starting before spawning, so a crash between
	// allocation and spawn is observable rather than silently lost.
	now := m.nowFunc()
	rec.Port = port
	rec.PID = 0
	rec.State = protocol.StateStarting
	rec.LastError = ""
	rec.UpdatedAt = now
	if err := m.persist(ctx, rec); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	m.logEvent(ctx, "staging_starting", customerID, fmt.Sprintf("port=%d kind=%s", port, profile.Kind))

	// Step 8: spawn the preview process bound to the allocated port.
	tp, err := m.spawn(customerID, siteDir, profile, port)
	if err != nil {
		m.failStart(ctx, rec, err.Error())
		return nil, err
	}

	// Step 9: poll for readiness with short probes up to a bounded total.
	if err := m.awaitReady(ctx, customerID, tp); err != nil {
		m.untrack(customerID, tp.gen)
		terminateGroup(tp.pid, tp.done, m.killGrace)
		m.failStart(ctx, rec, err.Error())
		return nil, err
	}

	now = m.nowFunc()
	rec.PID = tp.pid
	rec.State = protocol.StateRunning
	rec.StartedAt = &now
	rec.LastActivityAt = &now
	rec.UpdatedAt = now
	if err := m.persist(ctx, rec); err != nil {
		return nil, err
	}
	m.logEvent(ctx, "staging_running", customerID, fmt.Sprintf("port=%d pid=%d", port, tp.pid))

	// Step 10: watch for unexpected exits, guarded by process generation so
	// a stale watcher for a superseded process cannot corrupt newer state.
	go m.watchExit(customerID, tp)

	return &StartResult{
		CustomerID: customerID,
		State:      protocol.StateRunning,
		Port:       port,
	}, nil
}

// Stop terminates a customer's staging server. A customer with no record
// is a no-op success; state cleanup is guaranteed even if the kill is only
// best-effort.
func (m *Manager) Stop(ctx context.Context, customerID string) error {
	rec, err := m.store.GetStagingServer(ctx, customerID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	m.mu.Lock()
	tp := m.procs[customerID]
	delete(m.procs, customerID)
	grace := m.killGrace
	m.mu.Unlock()

	switch {
	case tp != nil:
		terminateGroup(tp.pid, tp.done, grace)
	case rec.PID > 0:
		// Spawned by a previous manager instance — no exit channel.
		terminateGroup(rec.PID, nil, grace)
	}

	if rec.State != protocol.StateStopped {
		now := m.nowFunc()
		rec.State = protocol.StateStopped
		rec.PID = 0
		rec.UpdatedAt = now
		if err := m.persist(ctx, rec); err != nil {
			return err
		}
		m.logEvent(ctx, "staging_stopped", customerID, "")
	}
	return nil
}

// Status reads the persisted record and reconciles it against OS reality:
// a starting row auto-advances to running or error, a running row with a
// dead process or unreachable port demotes to stopped. Drift correction is
// silent — it is self-healing, not an error.
func (m *Manager) Status(ctx context.Context, customerID string) (*protocol.StagingServer, error) {
	rec, err := m.store.GetStagingServer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &protocol.StagingServer{CustomerID: customerID, State: protocol.StateStopped}, nil
	}

	m.mu.Lock()
	startInFlight := m.inflight[customerID]
	probe := m.probeFunc
	m.mu.Unlock()

	switch rec.State {
	case protocol.StateStarting:
		if startInFlight {
			// This instance is mid-start; let it finish.
			return rec, nil
		}
		if probe(rec.Port) {
			now := m.nowFunc()
			rec.State = protocol.StateRunning
			if rec.StartedAt == nil {
				rec.StartedAt = &now
			}
			if rec.LastActivityAt == nil {
				rec.LastActivityAt = &now
			}
			rec.UpdatedAt = now
			if err := m.persist(ctx, rec); err != nil {
				return nil, err
			}
		} else if !isProcessAlive(rec.PID) {
			now := m.nowFunc()
			rec.State = protocol.StateError
			rec.LastError = "process exited before becoming ready"
			rec.PID = 0
			rec.UpdatedAt = now
			if err := m.persist(ctx, rec); err != nil {
				return nil, err
			}
		}

	case protocol.StateRunning:
		if !isProcessAlive(rec.PID) || !probe(rec.Port) {
			now := m.nowFunc()
			rec.State = protocol.StateStopped
			rec.PID = 0
			rec.UpdatedAt = now
			if err := m.persist(ctx, rec); err != nil {
				return nil, err
			}
			m.untrackAny(customerID)
		}
	}

	return rec, nil
}

// List returns all records without reconciliation (cheap bulk read for
// dashboards; per-customer Status is the reconciling path).
func (m *Manager) List(ctx context.Context) ([]protocol.StagingServer, error) {
	return m.store.ListStagingServers(ctx)
}

// Preflight bundles the booleans the dashboard needs to render a
// customer's staging panel.
func (m *Manager) Preflight(ctx context.Context, customerID string) (*Preflight, error) {
	rec, err := m.Status(ctx, customerID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	alloc := m.alloc
	probe := m.probeFunc
	m.mu.Unlock()

	pf := &Preflight{
		CustomerID:   customerID,
		State:        rec.State,
		ProcessAlive: isProcessAlive(rec.PID),
	}
	if info, statErr := os.Stat(m.siteDir(customerID)); statErr == nil && info.IsDir() {
		pf.SiteExists = true
	}
	if port, ok := alloc.FixedPort(customerID); ok {
		pf.HasFixedPort = true
		pf.FixedPort = port
		pf.PortListening = probe(port)
	} else if rec.Port > 0 {
		pf.PortListening = probe(rec.Port)
	}
	return pf, nil
}

// UpdateActivity resets a customer's idle clock. Called on every
// customer-driven interaction.
func (m *Manager) UpdateActivity(ctx context.Context, customerID string) error {
	return m.store.TouchActivity(ctx, customerID, m.nowFunc())
}

// CleanupInactive stops running servers whose last activity exceeds the
// idle threshold and returns the customers that were reclaimed.
func (m *Manager) CleanupInactive(ctx context.Context) ([]string, error) {
	recs, err := m.store.ListStagingServers(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	threshold := m.idleThreshold
	m.mu.Unlock()

	now := m.nowFunc()
	var reclaimed []string
	for _, rec := range recs {
		if rec.State != protocol.StateRunning || rec.LastActivityAt == nil {
			continue
		}
		if now.Sub(*rec.LastActivityAt) <= threshold {
			continue
		}
		if err := m.Stop(ctx, rec.CustomerID); err != nil {
			return reclaimed, fmt.Errorf("reclaim %s: %w", rec.CustomerID, err)
		}
		m.logEvent(ctx, "staging_idle_reclaimed", rec.CustomerID,
			fmt.Sprintf("idle=%s", now.Sub(*rec.LastActivityAt).Round(time.Second)))
		reclaimed = append(reclaimed, rec.CustomerID)
	}
	return reclaimed, nil
}

// RunCleanupLoop runs the periodic idle sweep until ctx is cancelled.
func (m *Manager) RunCleanupLoop(ctx context.Context) {
	m.mu.Lock()
	interval := m.cleanupInterval
	m.mu.Unlock()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CleanupInactive(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "warning: idle cleanup: %v\n", err)
			}
		}
	}
}

// --- internals ---

func (m *Manager) siteDir(customerID string) string {
	m.mu.Lock()
	root := m.siteRoot
	m.mu.Unlock()
	return filepath.Join(root, customerID)
}

func (m *Manager) currentProbe() func(int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeFunc
}

// busyPorts collects ports held by other customers' starting/running rows.
// Callers hold m.mu.
func (m *Manager) busyPorts(ctx context.Context, customerID string) (map[int]bool, error) {
	recs, err := m.store.ListStagingServers(ctx)
	if err != nil {
		return nil, err
	}
	busy := make(map[int]bool)
	for _, rec := range recs {
		if rec.CustomerID == customerID {
			continue
		}
		if rec.State == protocol.StateStarting || rec.State == protocol.StateRunning {
			busy[rec.Port] = true
		}
	}
	return busy, nil
}

// ensureDependencies runs the profile's install step synchronously when
// the dependency directory is absent. An install failure is fatal for this
// start attempt and leaves nothing spawned.
func (m *Manager) ensureDependencies(ctx context.Context, customerID, siteDir string, profile siteprofile.Profile) error {
	if !profile.NeedsInstall() {
		return nil
	}
	depDir := filepath.Join(siteDir, profile.DependencyDir)
	if _, err := os.Stat(depDir); err == nil {
		return nil
	}

	m.mu.Lock()
	timeout := m.installTimeout
	m.mu.Unlock()

	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := profile.InstallArgs
	cmd := m.cmdFactory(siteDir, args)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	tail := NewTailBuffer(stderrTailBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return &protocol.DependencyInstallError{
			CustomerID: customerID,
			Command:    args[0],
			Output:     err.Error(),
		}
	}

	var waitErr error
	done := make(chan struct{})
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		if waitErr != nil {
			return &protocol.DependencyInstallError{
				CustomerID: customerID,
				Command:    args[0],
				Output:     tail.String(),
			}
		}
		return nil
	case <-installCtx.Done():
		terminateGroup(cmd.Process.Pid, done, m.killGrace)
		return &protocol.DependencyInstallError{
			CustomerID: customerID,
			Command:    args[0],
			Output:     "install timed out: " + tail.String(),
		}
	}
}

// spawn starts the preview process in its own process group with output
// captured into a bounded tail buffer, and tracks it under a fresh
// generation.
func (m *Manager) spawn(customerID, siteDir string, profile siteprofile.Profile, port int) (*trackedProc, error) {
	argv := profile.DevCommand(port)
	cmd := m.cmdFactory(siteDir, argv)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tail := NewTailBuffer(stderrTailBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn preview for %s: %w", customerID, err)
	}

	m.mu.Lock()
	m.gen++
	tp := &trackedProc{
		gen:  m.gen,
		pid:  cmd.Process.Pid,
		port: port,
		tail: tail,
		done: make(chan struct{}),
	}
	m.procs[customerID] = tp
	m.mu.Unlock()

	go func() {
		tp.waitErr = cmd.Wait()
		close(tp.done)
	}()

	return tp, nil
}

// awaitReady polls the port with short-interval probes up to the bounded
// readiness timeout. An early process exit fails immediately with the
// captured output tail.
func (m *Manager) awaitReady(ctx context.Context, customerID string, tp *trackedProc) error {
	m.mu.Lock()
	timeout := m.readyTimeout
	interval := m.probeInterval
	probe := m.probeFunc
	m.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tp.done:
			return &protocol.ServerNotReadyError{
				CustomerID: customerID,
				Port:       tp.port,
				StderrTail: tp.tail.String(),
			}
		case <-deadline.C:
			return &protocol.ServerNotReadyError{
				CustomerID: customerID,
				Port:       tp.port,
				StderrTail: tp.tail.String(),
			}
		case <-ticker.C:
			if probe(tp.port) {
				return nil
			}
		}
	}
}

// watchExit marks a customer stopped (or error on abnormal exit) when its
// process dies unexpectedly. It only acts if the tracked generation still
// matches — a superseded process must not touch the newer record.
func (m *Manager) watchExit(customerID string, tp *trackedProc) {
	<-tp.done
	waitErr := tp.waitErr

	m.mu.Lock()
	current, ok := m.procs[customerID]
	if !ok || current.gen != tp.gen {
		// Superseded or deliberately stopped; nothing to do.
		m.mu.Unlock()
		return
	}
	delete(m.procs, customerID)
	m.mu.Unlock()

	ctx := context.Background()
	rec, err := m.store.GetStagingServer(ctx, customerID)
	if err != nil || rec == nil || rec.PID != tp.pid {
		// The record has moved on; leave it alone.
		return
	}

	now := m.nowFunc()
	rec.PID = 0
	rec.UpdatedAt = now
	var exitErr *exec.ExitError
	if waitErr != nil && errors.As(waitErr, &exitErr) && !killedBySignal(exitErr) {
		rec.State = protocol.StateError
		rec.LastError = fmt.Sprintf("preview exited: %v: %s", waitErr, tp.tail.String())
	} else {
		rec.State = protocol.StateStopped
	}
	if persistErr := m.persist(ctx, rec); persistErr != nil {
		fmt.Fprintf(os.Stderr, "warning: record exit for %s: %v\n", customerID, persistErr)
		return
	}
	m.logEvent(ctx, "staging_exited", customerID, rec.LastError)
}

// killedBySignal reports whether the process died from a termination
// signal (expected during stop) rather than its own abnormal exit.
func killedBySignal(exitErr *exec.ExitError) bool {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled()
}

// failStart records a failed start attempt in a terminal, inspectable
// state. The record is never left stuck in starting.
func (m *Manager) failStart(ctx context.Context, rec *protocol.StagingServer, detail string) {
	now := m.nowFunc()
	rec.State = protocol.StateError
	rec.PID = 0
	rec.LastError = detail
	rec.UpdatedAt = now
	if err := m.persist(ctx, rec); err != nil {
		fmt.Fprintf(os.Stderr, "warning: record start failure for %s: %v\n", rec.CustomerID, err)
	}
	m.logEvent(ctx, "staging_start_failed", rec.CustomerID, detail)
}

func (m *Manager) persist(ctx context.Context, rec *protocol.StagingServer) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.nowFunc()
	}
	return m.store.PutStagingServer(ctx, *rec)
}

func (m *Manager) untrack(customerID string, gen int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp, ok := m.procs[customerID]; ok && tp.gen == gen {
		delete(m.procs, customerID)
	}
}

func (m *Manager) untrackAny(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, customerID)
}

func (m *Manager) logEvent(ctx context.Context, eventType, customerID, detail string) {
	if err := m.store.AppendEvent(ctx, eventType, customerID, detail, m.nowFunc()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

// defaultCmdFactory builds the real preview/install command.
func defaultCmdFactory(dir string, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(context.Background(), argv[0], argv[1:]...) //nolint:gosec // argv comes from detected profiles and operator overrides
	cmd.Dir = dir
	return cmd
}

// defaultProbe checks TCP reachability on localhost.
func defaultProbe(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
