package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Formatter renders a Report into its final output bytes for one format
// name. Adapted from the teacher's contrib.RegisterScorer plugin-interface
// pattern: formatters register themselves by name in init() rather than
// being dispatched through a type switch.
type Formatter func(Report) ([]byte, error)

var (
	formattersMu sync.RWMutex
	formatters   = make(map[Format]Formatter)
)

// RegisterFormatter registers fn under name. Panics if name is already
// registered, matching the teacher's plugin contract.
func RegisterFormatter(name Format, fn Formatter) {
	formattersMu.Lock()
	defer formattersMu.Unlock()
	if _, exists := formatters[name]; exists {
		panic(fmt.Sprintf("report: formatter %q already registered", name))
	}
	formatters[name] = fn
}

// Render renders rpt using the formatter registered under name. Unknown
// names fall back to "json".
func Render(name Format, rpt Report) ([]byte, error) {
	formattersMu.RLock()
	fn, ok := formatters[name]
	formattersMu.RUnlock()
	if !ok {
		formattersMu.RLock()
		fn = formatters[FormatJSON]
		formattersMu.RUnlock()
	}
	return fn(rpt)
}

func init() {
	RegisterFormatter(FormatJSON, func(rpt Report) ([]byte, error) {
		return json.MarshalIndent(rpt, "", "  ")
	})

	RegisterFormatter(FormatSummary, func(rpt Report) ([]byte, error) {
		var b strings.Builder
		fmt.Fprintf(&b, "sentrymon report (%s, generated %s)\n", rpt.Timeframe, rpt.Meta.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Fprintf(&b, "status: %s (risk score %.1f, trend %.1f)\n", rpt.Summary.Status, rpt.Summary.RiskScore, rpt.RiskTrend)
		fmt.Fprintf(&b, "events in window: %d, affected containers: %d\n", rpt.Meta.TotalEvents, rpt.Summary.AffectedContainers)
		fmt.Fprintf(&b, "security posture score: %.1f\n", rpt.Posture.Score)
		fmt.Fprintf(&b, "threat level: %s\n", rpt.Threats.Level)
		for _, rec := range rpt.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
		return []byte(b.String()), nil
	})

	RegisterFormatter(FormatHTML, func(rpt Report) ([]byte, error) {
		var b strings.Builder
		b.WriteString("<html><body>\n")
		fmt.Fprintf(&b, "<h1>sentrymon report &mdash; %s</h1>\n", rpt.Timeframe)
		fmt.Fprintf(&b, "<p>Status: <b>%s</b> (risk score %.1f, trend %.1f)</p>\n", rpt.Summary.Status, rpt.Summary.RiskScore, rpt.RiskTrend)
		fmt.Fprintf(&b, "<p>Events in window: %d, affected containers: %d</p>\n", rpt.Meta.TotalEvents, rpt.Summary.AffectedContainers)
		fmt.Fprintf(&b, "<p>Security posture score: %.1f</p>\n", rpt.Posture.Score)
		fmt.Fprintf(&b, "<p>Threat level: %s</p>\n", rpt.Threats.Level)
		b.WriteString("<ul>\n")
		for _, rec := range rpt.Recommendations {
			fmt.Fprintf(&b, "<li>%s</li>\n", rec)
		}
		b.WriteString("</ul>\n</body></html>\n")
		return []byte(b.String()), nil
	})
}
