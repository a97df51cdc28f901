// Package analyzer implements the four runtime analyzers (behavior,
// network, posture, filesystem) described in spec.md §4.2–§4.5. Every
// Analyze method returns (events, error) and never panics outward: a
// caught panic becomes a single LOW error event (analysis_error from
// Behavior, network_analysis_error from Network, posture_check_error from
// Posture), and the baseline is left untouched for that pass.
package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/sentrymon/sentrymon/internal/baseline"
	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/dockerrt"
	"github.com/sentrymon/sentrymon/internal/events"
)

const (
	cpuHighSeverityPct = 95.0
	memHighSeverityPct = 95.0

	cpuDeviationMultiplier = 2.0
	memDeviationMultiplier = 1.5
	procDeviationMultiplier = 2.0

	highCPUSampleFraction = 8 // of last 10
)

var heuristicProcessPatterns = []string{"wget", "curl", "ssh", "scp", "rsync", "nmap", "masscan"}

// expectedCommands maps a container-name keyword to command substrings
// considered normal for that kind of container (spec.md §4.2).
var expectedCommands = map[string][]string{
	"web":   {"nginx", "apache", "node", "python", "gunicorn"},
	"db":    {"mysql", "postgres", "redis", "mongo"},
	"cache": {"redis", "memcached"},
	"proxy": {"nginx", "haproxy", "envoy"},
}

// Behavior is the Behavior Analyzer (spec.md §4.2).
type Behavior struct {
	cfg *config.Config
}

// NewBehavior returns a Behavior analyzer bound to cfg.
func NewBehavior(cfg *config.Config) *Behavior {
	return &Behavior{cfg: cfg}
}

// Analyze inspects one container's fresh stats and process list against
// its baseline, returning every event the rules in spec.md §4.2 fire.
func (b *Behavior) Analyze(containerID, containerName string, stats dockerrt.StatsSnapshot, procs dockerrt.ProcessList, bl *baseline.ContainerBaseline, now time.Time) (out []events.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = []events.Event{
				events.New(events.TypeAnalysisError, events.Low, "behavior", containerID, containerName,
					fmt.Sprintf("behavior analyzer panic: %v", r), nil),
			}
			err = nil
		}
	}()

	cpuPct := cpuPercent(stats)
	memPct := memPercent(stats)

	out = append(out, thresholdEvents(containerID, containerName, cpuPct, memPct, b.cfg)...)
	out = append(out, deviationEvents(containerID, containerName, cpuPct, memPct, bl)...)
	out = append(out, processCountEvent(containerID, containerName, float64(len(procs.Processes)), bl)...)
	out = append(out, sustainedCPUEvent(containerID, containerName, bl)...)
	out = append(out, processEvents(containerID, containerName, procs, b.cfg)...)

	bl.RecordCPU(cpuPct, now)
	bl.RecordMemory(memPct, now)
	bl.RecordProcessCount(float64(len(procs.Processes)), now)

	return out, nil
}

// cpuPercent computes cpu% = (Δtotal / Δsystem) × n_cpus × 100, guarding
// every division against zero (spec.md §4.2).
func cpuPercent(s dockerrt.StatsSnapshot) float64 {
	deltaTotal := float64(s.CPUTotalUsage) - float64(s.CPUTotalUsagePrev)
	deltaSystem := float64(s.SystemUsage) - float64(s.SystemUsagePrev)
	if deltaTotal <= 0 || deltaSystem <= 0 {
		return 0
	}
	nCPUs := s.NumCPUs
	if nCPUs <= 0 {
		nCPUs = 1
	}
	return (deltaTotal / deltaSystem) * float64(nCPUs) * 100
}

// memPercent computes memory.usage / memory.limit × 100, or 0 if unset.
func memPercent(s dockerrt.StatsSnapshot) float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return float64(s.MemoryUsage) / float64(s.MemoryLimit) * 100
}

func thresholdEvents(id, name string, cpuPct, memPct float64, cfg *config.Config) []events.Event {
	var out []events.Event
	if cpuPct > cfg.CPUThreshold {
		sev := events.Medium
		if cpuPct >= cpuHighSeverityPct {
			sev = events.High
		}
		out = append(out, events.New(events.TypeResourceAnomaly, sev, "behavior", id, name,
			fmt.Sprintf("CPU usage %.1f%% exceeds threshold %.1f%%", cpuPct, cfg.CPUThreshold),
			map[string]any{"cpu_percent": cpuPct, "threshold": cfg.CPUThreshold}))
	}
	if memPct > cfg.MemoryThreshold {
		sev := events.Medium
		if memPct >= memHighSeverityPct {
			sev = events.High
		}
		out = append(out, events.New(events.TypeResourceAnomaly, sev, "behavior", id, name,
			fmt.Sprintf("memory usage %.1f%% exceeds threshold %.1f%%", memPct, cfg.MemoryThreshold),
			map[string]any{"memory_percent": memPct, "threshold": cfg.MemoryThreshold}))
	}
	return out
}

func deviationEvents(id, name string, cpuPct, memPct float64, bl *baseline.ContainerBaseline) []events.Event {
	var out []events.Event

	cpuCount, cpuAvg, cpuHistory := bl.CPUStats(10)
	if cpuCount >= 5 && cpuAvg > 0 && cpuPct > cpuDeviationMultiplier*cpuAvg {
		trend := baseline.ComputeTrend(append(cpuHistory, cpuPct), 1.2, 0.8)
		out = append(out, events.New(events.TypeBehavioralAnomaly, events.Medium, "behavior", id, name,
			fmt.Sprintf("CPU %.1f%% exceeds %.1fx its baseline average %.1f%%", cpuPct, cpuDeviationMultiplier, cpuAvg),
			map[string]any{"cpu_percent": cpuPct, "baseline_avg": cpuAvg, "trend": string(trend)}))
	}

	memCount, memAvg, memHistory := bl.MemoryStats(10)
	if memCount >= 5 && memAvg > 0 && memPct > memDeviationMultiplier*memAvg {
		trend := baseline.ComputeTrend(append(memHistory, memPct), 1.2, 0.8)
		out = append(out, events.New(events.TypeBehavioralAnomaly, events.Medium, "behavior", id, name,
			fmt.Sprintf("memory %.1f%% exceeds %.1fx its baseline average %.1f%%", memPct, memDeviationMultiplier, memAvg),
			map[string]any{"memory_percent": memPct, "baseline_avg": memAvg, "trend": string(trend)}))
	}

	return out
}

func processCountEvent(id, name string, count float64, bl *baseline.ContainerBaseline) []events.Event {
	procCount, procAvg := bl.ProcessStats()
	if procCount >= 5 && procAvg > 0 && count > procDeviationMultiplier*procAvg {
		return []events.Event{events.New(events.TypeBehavioralAnomaly, events.Medium, "behavior", id, name,
			fmt.Sprintf("process count %.0f exceeds %.1fx its baseline average %.1f", count, procDeviationMultiplier, procAvg),
			map[string]any{"process_count": count, "baseline_avg": procAvg})}
	}
	return nil
}

func sustainedCPUEvent(id, name string, bl *baseline.ContainerBaseline) []events.Event {
	count, _, last10 := bl.CPUStats(10)
	if count < 10 {
		return nil
	}
	above := baseline.CountAbove(last10, 70)
	if above >= highCPUSampleFraction {
		return []events.Event{events.New(events.TypeBehavioralAnomaly, events.Medium, "behavior", id, name,
			fmt.Sprintf("%d of the last 10 CPU samples exceeded 70%%", above),
			map[string]any{"samples_above_70": above})}
	}
	return nil
}

func processEvents(id, name string, procs dockerrt.ProcessList, cfg *config.Config) []events.Event {
	var out []events.Event
	allowed := expectedSubstringsFor(name)

	for _, p := range procs.Processes {
		cmdLower := strings.ToLower(p.Command)

		if matchesAny(cmdLower, cfg.BlockedProcesses) {
			out = append(out, events.New(events.TypeSuspiciousProcess, events.High, "behavior", id, name,
				fmt.Sprintf("blocked process command detected: %s", p.Command),
				map[string]any{"command": p.Command, "pid": p.PID}))
			continue
		}

		if matchesAny(cmdLower, heuristicProcessPatterns) && !matchesAny(cmdLower, allowed) {
			out = append(out, events.New(events.TypeSuspiciousProcess, events.Medium, "behavior", id, name,
				fmt.Sprintf("unexpected heuristic-matched command: %s", p.Command),
				map[string]any{"command": p.Command, "pid": p.PID}))
		}
	}
	return out
}

func expectedSubstringsFor(containerName string) []string {
	lowerName := strings.ToLower(containerName)
	var allowed []string
	for keyword, cmds := range expectedCommands {
		if strings.Contains(lowerName, keyword) {
			allowed = append(allowed, cmds...)
		}
	}
	return allowed
}

func matchesAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
