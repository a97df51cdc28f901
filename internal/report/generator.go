package report

import (
	"sort"
	"strings"
	"time"

	"github.com/sentrymon/sentrymon/internal/events"
)

// Source is the retention buffer the Generator reduces. Satisfied by
// *pipeline.RetentionBuffer; declared here so this package doesn't import
// internal/pipeline back.
type Source interface {
	Since(cutoff time.Time) []events.Event
}

// Generator implements GenerateReport (spec.md §4.9).
type Generator struct {
	source Source
	cache  *Cache
	trends map[Timeframe]*Trend
}

// New returns a Generator reading from source, with a 15-minute report
// cache and an EWMA risk-trend smoother per timeframe.
func New(source Source) *Generator {
	return &Generator{
		source: source,
		cache:  NewCache(15 * time.Minute),
		trends: make(map[Timeframe]*Trend),
	}
}

// Generate produces (or returns the cached) report for the given
// parameters. now is the generation timestamp, passed in rather than
// read from time.Now() so callers (and tests) control it.
func (g *Generator) Generate(timeframe Timeframe, format Format, includeDetails bool, now time.Time) Report {
	timeframe = normalizeTimeframe(timeframe)
	key := CacheKey{Timeframe: timeframe, Format: format, IncludeDetails: includeDetails}
	if cached, ok := g.cache.Get(key, now); ok {
		return cached
	}

	windowStart := now.Add(-timeframe.duration())
	evs := g.source.Since(windowStart)

	rpt := Report{
		Timeframe: timeframe,
		Meta: Metadata{
			GeneratedAt: now,
			WindowStart: windowStart,
			WindowEnd:   now,
			TotalEvents: len(evs),
		},
	}
	rpt.Summary = buildExecutiveSummary(evs)
	rpt.Posture = buildSecurityPosture(evs)
	rpt.Threats = buildThreatAnalysis(evs)
	rpt.Compliance = buildComplianceStatus(evs)
	rpt.Recommendations = buildRecommendations(rpt)

	trend := g.trendFor(timeframe)
	rpt.RiskTrend = trend.Observe(rpt.Summary.RiskScore)

	g.cache.Set(key, rpt, now)
	return rpt
}

// InvalidateCache clears every cached report. Called on config reload
// (spec.md §4.9: "Cache is process-local; cleared on config reload").
func (g *Generator) InvalidateCache() {
	g.cache.Clear()
}

func (g *Generator) trendFor(tf Timeframe) *Trend {
	t, ok := g.trends[tf]
	if !ok {
		t = NewTrend(defaultAlpha)
		g.trends[tf] = t
	}
	return t
}

func buildExecutiveSummary(evs []events.Event) ExecutiveSummary {
	var riskScore float64
	counts := make(map[string]map[string]int)
	countsTotal := make(map[string]int)
	containers := make(map[string]struct{})

	for _, e := range evs {
		riskScore += severityWeight(e.Severity)
		if e.ContainerID != "" {
			containers[e.ContainerID] = struct{}{}
		}
		t := string(e.EventType)
		if counts[t] == nil {
			counts[t] = make(map[string]int)
		}
		counts[t][e.Severity.String()]++
		countsTotal[t]++
	}

	var top []EventTypeBreakdown
	for t, c := range countsTotal {
		top = append(top, EventTypeBreakdown{EventType: t, Count: c, BySeverity: counts[t]})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].EventType < top[j].EventType
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return ExecutiveSummary{
		Status:             statusFor(riskScore, len(evs)),
		RiskScore:          riskScore,
		TopEventTypes:      top,
		AffectedContainers: len(containers),
	}
}

func statusFor(riskScore float64, total int) Status {
	switch {
	case total == 0:
		return StatusHealthy
	case riskScore >= 100:
		return StatusCritical
	case riskScore >= 50:
		return StatusHighRisk
	case riskScore >= 20:
		return StatusMedRisk
	default:
		return StatusHealthy
	}
}

var postureCategoryKeywords = []struct {
	category string
	keywords []string
}{
	{"privileged", []string{"privileged mode"}},
	{"root", []string{"runs as root"}},
	{"mounts", []string{"mount", "docker socket"}},
	{"exposure", []string{"exposed port", "bound to all interfaces", "host network"}},
	{"capability", []string{"capability", "cap_add"}},
	{"resource-limit", []string{"memory limit", "pid limit"}},
}

func postureCategory(description string) string {
	lower := strings.ToLower(description)
	for _, c := range postureCategoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.category
			}
		}
	}
	return "other"
}

func isPostureEvent(t events.Type) bool {
	return t == events.TypeSecurityMisconfig || t == events.TypeSecurityRecommendation || t == events.TypeNetworkSecurity
}

func buildSecurityPosture(evs []events.Event) SecurityPosture {
	var weightSum float64
	byCategory := make(map[string]int)
	labelCounts := make(map[string]int)

	for _, e := range evs {
		if !isPostureEvent(e.EventType) {
			continue
		}
		weightSum += severityWeight(e.Severity)
		byCategory[postureCategory(e.Description)]++
		labelCounts[e.Description]++
	}

	score := 100 - minFloat(weightSum, 100)
	if score < 0 {
		score = 0
	}

	type labelCount struct {
		label string
		count int
	}
	var labels []labelCount
	for l, c := range labelCounts {
		labels = append(labels, labelCount{l, c})
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].count != labels[j].count {
			return labels[i].count > labels[j].count
		}
		return labels[i].label < labels[j].label
	})
	var top []string
	for i, l := range labels {
		if i >= 10 {
			break
		}
		top = append(top, l.label)
	}

	return SecurityPosture{
		Score:              score,
		CountsByCategory:   byCategory,
		TopMisconfigurations: top,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

var threatEventTypes = map[events.Type]string{
	events.TypeSuspiciousProcess: "suspicious_process",
	events.TypeNetworkAnomaly:    "network_anomaly",
	events.TypeDataExfiltration:  "data_exfiltration",
	events.TypeNetworkScanning:   "network_scanning",
}

func buildThreatAnalysis(evs []events.Event) ThreatAnalysis {
	counts := make(map[string]int)
	containerSignals := make(map[string]map[string]struct{})

	for _, e := range evs {
		signal, ok := threatEventTypes[e.EventType]
		if !ok {
			continue
		}
		counts[signal]++
		if e.ContainerName == "" {
			continue
		}
		if containerSignals[e.ContainerName] == nil {
			containerSignals[e.ContainerName] = make(map[string]struct{})
		}
		containerSignals[e.ContainerName][signal] = struct{}{}
	}

	var multiVector []string
	for name, signals := range containerSignals {
		if len(signals) >= 3 {
			multiVector = append(multiVector, name)
		}
	}
	sort.Strings(multiVector)

	total := 0
	for _, c := range counts {
		total += c
	}
	level := ThreatNone
	switch {
	case total >= 10 || len(multiVector) > 0:
		level = ThreatSevere
	case total > 0:
		level = ThreatElevated
	}

	return ThreatAnalysis{
		Level:              level,
		CountsBySignal:     counts,
		MultiVectorAttacks: multiVector,
	}
}

// complianceKeywords maps each framework to the keywords that route a
// posture/threat event's description into its score, mirroring the
// original Python source's keyword-routing approach to compliance mapping.
var complianceKeywords = map[string][]string{
	"CIS_Docker": {"privileged", "root", "capability", "docker socket", "host network", "apparmor", "seccomp"},
	"NIST":       {"port", "exposed", "mount", "no-new-privileges", "memory limit", "pid limit"},
	"PCI_DSS":    {"root", "privileged", "docker socket", "capability", "exfiltration", "scanning"},
}

func buildComplianceStatus(evs []events.Event) ComplianceStatus {
	scores := make(map[string]float64)
	for framework, keywords := range complianceKeywords {
		var weight float64
		for _, e := range evs {
			lower := strings.ToLower(e.Description)
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					weight += severityWeight(e.Severity)
					break
				}
			}
		}
		score := 100 - minFloat(weight, 100)
		if score < 0 {
			score = 0
		}
		scores[framework] = score
	}
	return ComplianceStatus{Scores: scores}
}

func buildRecommendations(rpt Report) []string {
	var recs []string
	if rpt.Posture.CountsByCategory["privileged"] > 0 {
		recs = append(recs, "Remove --privileged from containers; grant only the specific capabilities required.")
	}
	if rpt.Posture.CountsByCategory["root"] > 0 {
		recs = append(recs, "Run containers as a non-root user via USER or security context.")
	}
	if rpt.Posture.CountsByCategory["mounts"] > 0 {
		recs = append(recs, "Avoid mounting the Docker socket or sensitive host directories into containers.")
	}
	if rpt.Posture.CountsByCategory["exposure"] > 0 {
		recs = append(recs, "Restrict exposed ports to allowed_ports and bind to specific interfaces, not 0.0.0.0.")
	}
	if rpt.Posture.CountsByCategory["capability"] > 0 {
		recs = append(recs, "Drop dangerous Linux capabilities; avoid CAP_ADD: ALL.")
	}
	if rpt.Posture.CountsByCategory["resource-limit"] > 0 {
		recs = append(recs, "Set memory and PID limits on every container to bound resource exhaustion.")
	}
	if rpt.Threats.Level != ThreatNone {
		recs = append(recs, "Investigate flagged containers for suspicious process activity and anomalous network traffic.")
	}
	if len(rpt.Threats.MultiVectorAttacks) > 0 {
		recs = append(recs, "Isolate and re-image containers flagged for multi-vector attack patterns.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No immediate action required; continue routine monitoring.")
	}
	return recs
}
