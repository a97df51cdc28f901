// Package report implements the Report Generator (spec.md §4.9): it reduces
// the retention buffer into six fixed sections, cached per
// (timeframe, format, include_details) for 15 minutes.
package report

import (
	"time"

	"github.com/sentrymon/sentrymon/internal/events"
)

// Timeframe is the closed set of report windows spec.md §4.9 recognizes.
// Unknown values default to Timeframe24h.
type Timeframe string

const (
	Timeframe1h   Timeframe = "1h"
	Timeframe24h  Timeframe = "24h"
	Timeframe7d   Timeframe = "7d"
	Timeframe30d  Timeframe = "30d"
)

func normalizeTimeframe(tf Timeframe) Timeframe {
	switch tf {
	case Timeframe1h, Timeframe24h, Timeframe7d, Timeframe30d:
		return tf
	default:
		return Timeframe24h
	}
}

func (tf Timeframe) duration() time.Duration {
	switch tf {
	case Timeframe1h:
		return time.Hour
	case Timeframe7d:
		return 7 * 24 * time.Hour
	case Timeframe30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Format is the closed set of output encodings spec.md §4.9 recognizes.
type Format string

const (
	FormatJSON    Format = "json"
	FormatSummary Format = "summary"
	FormatHTML    Format = "html"
)

// Metadata is report section 1.
type Metadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	TotalEvents int       `json:"total_events"`
}

// Status is the overall posture label derived from event counts.
type Status string

const (
	StatusCritical Status = "CRITICAL"
	StatusHighRisk Status = "HIGH_RISK"
	StatusMedRisk  Status = "MEDIUM_RISK"
	StatusHealthy  Status = "HEALTHY"
)

// EventTypeBreakdown is one row of the Executive Summary's top-5 table.
type EventTypeBreakdown struct {
	EventType string         `json:"event_type"`
	Count     int            `json:"count"`
	BySeverity map[string]int `json:"by_severity"`
}

// ExecutiveSummary is report section 2.
type ExecutiveSummary struct {
	Status             Status               `json:"status"`
	RiskScore          float64              `json:"risk_score"`
	TopEventTypes      []EventTypeBreakdown `json:"top_event_types"`
	AffectedContainers int                  `json:"affected_containers"`
}

// SecurityPosture is report section 3.
type SecurityPosture struct {
	Score              float64        `json:"score"`
	CountsByCategory   map[string]int `json:"counts_by_category"`
	TopMisconfigurations []string     `json:"top_misconfigurations"`
}

// ThreatLevel is the coarse label report section 4 assigns.
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = "NONE"
	ThreatElevated ThreatLevel = "ELEVATED"
	ThreatSevere   ThreatLevel = "SEVERE"
)

// ThreatAnalysis is report section 4.
type ThreatAnalysis struct {
	Level            ThreatLevel    `json:"level"`
	CountsBySignal   map[string]int `json:"counts_by_signal"`
	MultiVectorAttacks []string     `json:"multi_vector_attacks"`
}

// ComplianceStatus is report section 5: a 0-100 score per framework.
type ComplianceStatus struct {
	Scores map[string]float64 `json:"scores"`
}

// Report is the full six-section output of GenerateReport.
type Report struct {
	Timeframe   Timeframe        `json:"timeframe"`
	Meta        Metadata         `json:"metadata"`
	Summary     ExecutiveSummary `json:"executive_summary"`
	Posture     SecurityPosture  `json:"security_posture"`
	Threats     ThreatAnalysis   `json:"threat_analysis"`
	Compliance  ComplianceStatus `json:"compliance_status"`
	Recommendations []string     `json:"recommendations"`
	RiskTrend   float64          `json:"risk_trend"`
}

// severityWeight implements §4.9's weighted risk score: CRITICAL=10,
// HIGH=7, MEDIUM=4, LOW=2, INFO=1.
func severityWeight(s events.Severity) float64 {
	switch s {
	case events.Critical:
		return 10
	case events.High:
		return 7
	case events.Medium:
		return 4
	case events.Low:
		return 2
	default:
		return 1
	}
}
