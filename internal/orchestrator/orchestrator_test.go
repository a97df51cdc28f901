package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/dockerrt"
	"github.com/sentrymon/sentrymon/internal/events"
	"github.com/sentrymon/sentrymon/internal/report"
)

type fakeRegistry struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeRegistry) EventRecorded(eventType, containerName, severity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}
func (f *fakeRegistry) QueueFullIncrement()                  {}
func (f *fakeRegistry) AlertSent(string)                      {}
func (f *fakeRegistry) AlertFailed(string)                    {}
func (f *fakeRegistry) AnalysisErrorRecorded(string)          {}
func (f *fakeRegistry) ContainersMonitored(int)               {}
func (f *fakeRegistry) ReportGenerated(float64)                {}

func (f *fakeRegistry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.ContainerPatterns = []string{"web-*"}
	cfg.Control.Enabled = false
	cfg.FileMonitoring = false
	return &cfg
}

func waitForRetention(t *testing.T, o *Orchestrator, min int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.pipe.Retention().Len() >= min {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for at least %d retained events, got %d", min, o.pipe.Retention().Len())
}

func TestTickAnalyzesMatchingContainersAndEmitsPostureEvents(t *testing.T) {
	fc := dockerrt.NewFakeClient()
	fc.AddContainer(
		dockerrt.ContainerSummary{ID: "c1", Name: "web-1", Status: "running"},
		dockerrt.ContainerDetail{ID: "c1", Name: "web-1", User: "root", Privileged: true},
		dockerrt.StatsSnapshot{NumCPUs: 1},
		dockerrt.ProcessList{},
	)
	// Non-matching container must never reach the pipeline.
	fc.AddContainer(
		dockerrt.ContainerSummary{ID: "c2", Name: "db-1", Status: "running"},
		dockerrt.ContainerDetail{ID: "c2", Name: "db-1", Privileged: true},
		dockerrt.StatsSnapshot{NumCPUs: 1},
		dockerrt.ProcessList{},
	)

	reg := &fakeRegistry{}
	o, err := newOrchestrator(testConfig(), reg, zap.NewNop(), fc)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}

	go o.pipe.Run()
	defer o.pipe.Stop(time.Second)

	o.tick(context.Background())

	waitForRetention(t, o, 2) // root + privileged
	snap := o.pipe.Retention().Snapshot()
	for _, e := range snap {
		if e.ContainerName != "web-1" {
			t.Fatalf("expected only web-1 events, got one for %q", e.ContainerName)
		}
	}
}

func TestTickSkipsNonRunningAndNonMatchingContainers(t *testing.T) {
	fc := dockerrt.NewFakeClient()
	fc.AddContainer(
		dockerrt.ContainerSummary{ID: "c1", Name: "web-1", Status: "exited"},
		dockerrt.ContainerDetail{ID: "c1", Name: "web-1", Privileged: true},
		dockerrt.StatsSnapshot{NumCPUs: 1},
		dockerrt.ProcessList{},
	)
	fc.AddContainer(
		dockerrt.ContainerSummary{ID: "c2", Name: "db-1", Status: "running"},
		dockerrt.ContainerDetail{ID: "c2", Name: "db-1", Privileged: true},
		dockerrt.StatsSnapshot{NumCPUs: 1},
		dockerrt.ProcessList{},
	)

	reg := &fakeRegistry{}
	o, err := newOrchestrator(testConfig(), reg, zap.NewNop(), fc)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	go o.pipe.Run()
	defer o.pipe.Stop(time.Second)

	o.tick(context.Background())
	time.Sleep(50 * time.Millisecond)

	if got := o.pipe.Retention().Len(); got != 0 {
		t.Fatalf("expected no retained events for a non-running or non-matching container, got %d", got)
	}
	if reg.count() != 0 {
		t.Fatalf("expected no events recorded, got %d", reg.count())
	}
}

func TestAnalyzeSkipsContainerThatVanishedBetweenListAndAnalyze(t *testing.T) {
	fc := dockerrt.NewFakeClient()
	fc.AddContainer(
		dockerrt.ContainerSummary{ID: "c1", Name: "web-1", Status: "running"},
		dockerrt.ContainerDetail{ID: "c1", Name: "web-1"},
		dockerrt.StatsSnapshot{NumCPUs: 1},
		dockerrt.ProcessList{},
	)
	fc.SetMissing("c1")

	reg := &fakeRegistry{}
	o, err := newOrchestrator(testConfig(), reg, zap.NewNop(), fc)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	go o.pipe.Run()
	defer o.pipe.Stop(time.Second)

	if err := o.analyze(context.Background(), dockerrt.ContainerSummary{ID: "c1", Name: "web-1"}); err != nil {
		t.Fatalf("analyze: expected nil error for a vanished container, got %v", err)
	}
}

func TestLifecycleOnlyAcceptsTicksWhileRunning(t *testing.T) {
	fc := dockerrt.NewFakeClient()
	reg := &fakeRegistry{}
	o, err := newOrchestrator(testConfig(), reg, zap.NewNop(), fc)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}

	if o.State() != StateRunning {
		t.Fatalf("expected RUNNING after construction, got %s", o.State())
	}
	o.life.Advance(StateDraining)
	if o.life.AcceptsTicks() {
		t.Fatal("expected DRAINING to reject new ticks")
	}
	if o.life.Advance(StateRunning) {
		t.Fatal("expected a backward transition to RUNNING to be rejected")
	}
}

func TestSetConfigSwapsAtomicallyAndInvalidatesCache(t *testing.T) {
	fc := dockerrt.NewFakeClient()
	reg := &fakeRegistry{}
	cfg := testConfig()
	o, err := newOrchestrator(cfg, reg, zap.NewNop(), fc)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}

	now := time.Now()
	before := o.reportGen.Generate(report.Timeframe1h, report.FormatJSON, false, now)
	o.pipe.Retention().Append(events.New(events.TypeSecurityMisconfig, events.Critical, "posture", "c1", "web-1", "container runs in privileged mode", nil))

	newCfg := testConfig()
	newCfg.MonitorInterval = 5 * time.Second
	o.SetConfig(newCfg)

	if got := o.currentConfig().MonitorInterval; got != 5*time.Second {
		t.Fatalf("expected SetConfig to take effect, got monitor_interval=%s", got)
	}
	after := o.reportGen.Generate(report.Timeframe1h, report.FormatJSON, false, now)
	if after.Meta.TotalEvents != before.Meta.TotalEvents+1 {
		t.Fatalf("expected SetConfig to invalidate the report cache: total events %d before, %d after", before.Meta.TotalEvents, after.Meta.TotalEvents)
	}
}
