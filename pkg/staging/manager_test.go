package staging

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"upserver/pkg/config"
	"upserver/pkg/protocol"
	"upserver/pkg/store"
)

// execFactory runs the argv as given, like production, rooted in dir.
func execFactory(dir string, argv []string) *exec.Cmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	return cmd
}

func newTestManager(t *testing.T, mutate func(*config.Config)) (*Manager, *store.Store, string) {
	t.Helper()

	home := t.TempDir()
	db, err := store.Open(filepath.Join(home, "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg := config.Default()
	cfg.SiteRoot = filepath.Join(home, "sites")
	cfg.Staging.ReadySeconds = 2
	if mutate != nil {
		mutate(&cfg)
	}
	if err := os.MkdirAll(cfg.SiteRoot, 0o700); err != nil {
		t.Fatalf("mkdir site root: %v", err)
	}

	m := NewManager(st, cfg)
	m.SetCmdFactory(execFactory)
	m.SetProbeFunc(func(int) bool { return true })
	// Deterministic allocation: nothing listening, everything bindable.
	m.Allocator().SetProbeFuncs(func(int) bool { return false }, func(int) bool { return true })
	return m, st, cfg.SiteRoot
}

func makeSite(t *testing.T, siteRoot, customerID string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(siteRoot, customerID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir site: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// longRunningSite configures an upserver.toml override so the preview
// process is a plain sleep the test can observe and kill.
func longRunningSite(t *testing.T, siteRoot, customerID string) {
	t.Helper()
	makeSite(t, siteRoot, customerID, map[string]string{
		"upserver.toml": "[dev]\ncommand = \"sleep 60\"\n",
	})
}

func TestStartStop_Lifecycle(t *testing.T) {
	m, st, siteRoot := newTestManager(t, nil)
	ctx := context.Background()
	longRunningSite(t, siteRoot, "alice")
	t.Cleanup(func() { _ = m.Stop(ctx, "alice") })

	res, err := m.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.State != protocol.StateRunning || res.AlreadyRunning {
		t.Fatalf("start result: %+v", res)
	}
	if res.Port < 4000 || res.Port > 4999 {
		t.Fatalf("port %d outside range", res.Port)
	}

	rec, err := st.GetStagingServer(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != protocol.StateRunning || rec.PID <= 0 {
		t.Fatalf("persisted record: %+v", rec)
	}
	if !isProcessAlive(rec.PID) {
		t.Fatal("preview process not alive after start")
	}

	if err := m.Stop(ctx, "alice"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec, err = st.GetStagingServer(ctx, "alice")
	if err != nil {
		t.Fatalf("get after stop: %v", err)
	}
	if rec.State != protocol.StateStopped || rec.PID != 0 {
		t.Fatalf("record after stop: %+v", rec)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	m, _, siteRoot := newTestManager(t, nil)
	ctx := context.Background()
	longRunningSite(t, siteRoot, "alice")
	t.Cleanup(func() { _ = m.Stop(ctx, "alice") })

	first, err := m.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	second, err := m.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !second.AlreadyRunning {
		t.Fatalf("second start did not report already running: %+v", second)
	}
	if second.Port != first.Port {
		t.Fatalf("port changed across idempotent start: %d vs %d", second.Port, first.Port)
	}
}

func TestStart_SiteMissing(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	_, err := m.Start(context.Background(), "ghost")
	var snf *protocol.SiteNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("error = %v, want SiteNotFoundError", err)
	}
	if snf.CustomerID != "ghost" {
		t.Fatalf("error customer: %+v", snf)
	}
}

func TestStart_ReconcilesStaleRunningRow(t *testing.T) {
	m, st, siteRoot := newTestManager(t, nil)
	ctx := context.Background()
	longRunningSite(t, siteRoot, "alice")
	t.Cleanup(func() { _ = m.Stop(ctx, "alice") })

	// A reaped child gives us a PID that is guaranteed dead.
	probe := exec.Command("true")
	if err := probe.Run(); err != nil {
		t.Fatalf("probe process: %v", err)
	}
	deadPID := probe.Process.Pid

	now := time.Now()
	if err := st.PutStagingServer(ctx, protocol.StagingServer{
		CustomerID: "alice",
		Port:       4123,
		PID:        deadPID,
		State:      protocol.StateRunning,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	res, err := m.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("start over stale row: %v", err)
	}
	if res.AlreadyRunning {
		t.Fatal("stale row treated as live")
	}
	if res.State != protocol.StateRunning {
		t.Fatalf("state = %s, want running", res.State)
	}
}

func TestStart_ConcurrentStartRejected(t *testing.T) {
	m, _, siteRoot := newTestManager(t, func(cfg *config.Config) {
		cfg.Staging.ReadySeconds = 1
	})
	ctx := context.Background()
	longRunningSite(t, siteRoot, "alice")

	// Keep the first start stuck in the readiness poll.
	m.SetProbeFunc(func(int) bool { return false })

	spawned := make(chan struct{})
	m.SetCmdFactory(func(dir string, argv []string) *exec.Cmd {
		close(spawned)
		return execFactory(dir, argv)
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Start(ctx, "alice")
		firstDone <- err
	}()

	<-spawned
	_, err := m.Start(ctx, "alice")
	var sip *protocol.StartInProgressError
	if !errors.As(err, &sip) {
		t.Fatalf("concurrent start error = %v, want StartInProgressError", err)
	}

	// The stuck start eventually fails readiness and cleans up.
	var nre *protocol.ServerNotReadyError
	if err := <-firstDone; !errors.As(err, &nre) {
		t.Fatalf("first start error = %v, want ServerNotReadyError", err)
	}
}

func TestStart_NotReady(t *testing.T) {
	m, st, siteRoot := newTestManager(t, func(cfg *config.Config) {
		cfg.Staging.ReadySeconds = 1
	})
	ctx := context.Background()
	longRunningSite(t, siteRoot, "alice")
	m.SetProbeFunc(func(int) bool { return false })

	_, err := m.Start(ctx, "alice")
	var nre *protocol.ServerNotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("error = %v, want ServerNotReadyError", err)
	}

	rec, err := st.GetStagingServer(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != protocol.StateError || rec.LastError == "" {
		t.Fatalf("record after failed start: %+v", rec)
	}
}

func TestStart_SpawnFailure(t *testing.T) {
	m, st, siteRoot := newTestManager(t, nil)
	ctx := context.Background()
	makeSite(t, siteRoot, "alice", map[string]string{
		"upserver.toml": "[dev]\ncommand = \"/nonexistent-preview-binary\"\n",
	})

	if _, err := m.Start(ctx, "alice"); err == nil {
		t.Fatal("spawn of missing binary succeeded")
	}

	rec, err := st.GetStagingServer(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != protocol.StateError {
		t.Fatalf("state = %s, want error", rec.State)
	}
}

func TestStart_FixedPortBusy(t *testing.T) {
	m, _, siteRoot := newTestManager(t, func(cfg *config.Config) {
		cfg.Ports.Fixed = map[string]int{"alice": 4005}
	})
	longRunningSite(t, siteRoot, "alice")

	// Something already answers on the fixed port.
	m.Allocator().SetProbeFuncs(func(port int) bool { return port == 4005 }, func(int) bool { return true })

	_, err := m.Start(context.Background(), "alice")
	var piu *protocol.PortInUseError
	if !errors.As(err, &piu) {
		t.Fatalf("error = %v, want PortInUseError", err)
	}
}

func TestStart_InstallStep(t *testing.T) {
	m, _, siteRoot := newTestManager(t, nil)
	ctx := context.Background()
	makeSite(t, siteRoot, "alice", map[string]string{
		"upserver.toml": "[dev]\ncommand = \"sleep 60\"\n\n[install]\ndir = \"deps\"\ncommand = \"mkdir deps\"\n",
	})
	t.Cleanup(func() { _ = m.Stop(ctx, "alice") })

	if _, err := m.Start(ctx, "alice"); err != nil {
		t.Fatalf("start with install step: %v", err)
	}
	if _, err := os.Stat(filepath.Join(siteRoot, "alice", "deps")); err != nil {
		t.Fatalf("install step did not run: %v", err)
	}
}

func TestStart_InstallFailure(t *testing.T) {
	m, _, siteRoot := newTestManager(t, nil)
	makeSite(t, siteRoot, "alice", map[string]string{
		"upserver.toml": "[dev]\ncommand = \"sleep 60\"\n\n[install]\ndir = \"deps\"\ncommand = \"false\"\n",
	})

	_, err := m.Start(context.Background(), "alice")
	var die *protocol.DependencyInstallError
	if !errors.As(err, &die) {
		t.Fatalf("error = %v, want DependencyInstallError", err)
	}
	if die.Command != "false" {
		t.Fatalf("error command: %+v", die)
	}
}

func TestStop_UnknownCustomerIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	if err := m.Stop(context.Background(), "nobody"); err != nil {
		t.Fatalf("stop unknown: %v", err)
	}
}

func TestStatus_UnknownCustomer(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	rec, err := m.Status(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State != protocol.StateStopped {
		t.Fatalf("state = %s, want stopped", rec.State)
	}
}

func TestStatus_DemotesDeadRunningRow(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	ctx := context.Background()

	probe := exec.Command("true")
	if err := probe.Run(); err != nil {
		t.Fatalf("probe process: %v", err)
	}

	if err := st.PutStagingServer(ctx, protocol.StagingServer{
		CustomerID: "alice",
		Port:       4100,
		PID:        probe.Process.Pid,
		State:      protocol.StateRunning,
		UpdatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	rec, err := m.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State != protocol.StateStopped || rec.PID != 0 {
		t.Fatalf("record not demoted: %+v", rec)
	}
}

func TestStatus_PromotesReadyStartingRow(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	ctx := context.Background()

	if err := st.PutStagingServer(ctx, protocol.StagingServer{
		CustomerID: "alice",
		Port:       4100,
		State:      protocol.StateStarting,
		UpdatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	// Port answers: some other manager instance finished the start.
	rec, err := m.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State != protocol.StateRunning {
		t.Fatalf("state = %s, want running", rec.State)
	}
	if rec.StartedAt == nil || rec.LastActivityAt == nil {
		t.Fatalf("timestamps not backfilled: %+v", rec)
	}
}

func TestStatus_FailsAbandonedStartingRow(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	ctx := context.Background()
	m.SetProbeFunc(func(int) bool { return false })

	if err := st.PutStagingServer(ctx, protocol.StagingServer{
		CustomerID: "alice",
		Port:       4100,
		State:      protocol.StateStarting,
		UpdatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	rec, err := m.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.State != protocol.StateError {
		t.Fatalf("state = %s, want error", rec.State)
	}
	if !strings.Contains(rec.LastError, "before becoming ready") {
		t.Fatalf("last error = %q", rec.LastError)
	}
}

func TestPreflight(t *testing.T) {
	m, _, siteRoot := newTestManager(t, func(cfg *config.Config) {
		cfg.Ports.Fixed = map[string]int{"alice": 4005}
	})
	longRunningSite(t, siteRoot, "alice")

	pf, err := m.Preflight(context.Background(), "alice")
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !pf.SiteExists {
		t.Error("site_exists false for existing site")
	}
	if !pf.HasFixedPort || pf.FixedPort != 4005 {
		t.Errorf("fixed port: %+v", pf)
	}
	if pf.State != protocol.StateStopped {
		t.Errorf("state = %s, want stopped", pf.State)
	}

	pf, err = m.Preflight(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("preflight ghost: %v", err)
	}
	if pf.SiteExists || pf.HasFixedPort {
		t.Errorf("ghost preflight: %+v", pf)
	}
}

func TestCleanupInactive(t *testing.T) {
	m, st, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.Staging.IdleMinutes = 30
	})
	ctx := context.Background()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m.SetNowFunc(func() time.Time { return now })

	stale := now.Add(-45 * time.Minute)
	fresh := now.Add(-5 * time.Minute)
	rows := []protocol.StagingServer{
		{CustomerID: "idle", Port: 4001, State: protocol.StateRunning, LastActivityAt: &stale, UpdatedAt: stale},
		{CustomerID: "busy", Port: 4002, State: protocol.StateRunning, LastActivityAt: &fresh, UpdatedAt: fresh},
		{CustomerID: "off", Port: 4003, State: protocol.StateStopped, LastActivityAt: &stale, UpdatedAt: stale},
	}
	for _, rec := range rows {
		if err := st.PutStagingServer(ctx, rec); err != nil {
			t.Fatalf("seed %s: %v", rec.CustomerID, err)
		}
	}

	reclaimed, err := m.CleanupInactive(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "idle" {
		t.Fatalf("reclaimed = %v, want [idle]", reclaimed)
	}

	rec, err := st.GetStagingServer(ctx, "idle")
	if err != nil {
		t.Fatalf("get idle: %v", err)
	}
	if rec.State != protocol.StateStopped {
		t.Fatalf("idle state = %s, want stopped", rec.State)
	}
	rec, err = st.GetStagingServer(ctx, "busy")
	if err != nil {
		t.Fatalf("get busy: %v", err)
	}
	if rec.State != protocol.StateRunning {
		t.Fatalf("busy state = %s, want running", rec.State)
	}
}

func TestUpdateActivity(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	ctx := context.Background()

	seed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := st.PutStagingServer(ctx, protocol.StagingServer{
		CustomerID: "alice", State: protocol.StateRunning, UpdatedAt: seed,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	later := seed.Add(10 * time.Minute)
	m.SetNowFunc(func() time.Time { return later })
	if err := m.UpdateActivity(ctx, "alice"); err != nil {
		t.Fatalf("update activity: %v", err)
	}

	rec, err := st.GetStagingServer(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.LastActivityAt == nil || !rec.LastActivityAt.Equal(later) {
		t.Fatalf("last activity = %v, want %v", rec.LastActivityAt, later)
	}
}

func TestTailBuffer(t *testing.T) {
	b := NewTailBuffer(10)

	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.String() != "hello" {
		t.Fatalf("tail = %q", b.String())
	}

	if _, err := b.Write([]byte("worldworld")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := b.String(); got != "worldworld" {
		t.Fatalf("tail = %q, want last 10 bytes", got)
	}

	// A single oversized write keeps only its own tail.
	if _, err := b.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := b.String(); got != "6789abcdef" {
		t.Fatalf("tail = %q", got)
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Error("own pid reported dead")
	}
	if isProcessAlive(0) || isProcessAlive(-1) {
		t.Error("non-positive pid reported alive")
	}

	reaped := exec.Command("true")
	if err := reaped.Run(); err != nil {
		t.Fatalf("probe process: %v", err)
	}
	if isProcessAlive(reaped.Process.Pid) {
		t.Error("reaped pid reported alive")
	}
}
