package alerts

// Alert is the candidate alert shape supplied by the upstream pipeline.
// The engine only reads this shape, never originates it; mediation annotates
// the Governance block and may adjust severity/visibility.
type Alert struct {
	ID           string `json:"id,omitempty"`
	ClientID     string `json:"client_id"`
	Jurisdiction string `json:"jurisdiction"`
	AlertType    string `json:"alert_type"`

	ThresholdAmount float64 `json:"threshold_amount,omitempty"`
	CurrentAmount   float64 `json:"current_amount,omitempty"`

	Severity Severity `json:"severity,omitempty"`

	Governance Governance `json:"governance"`
}

// Governance carries the mediation outcome.
type Governance struct {
	RuleID      string `json:"rule_id,omitempty"`
	RuleVersion int    `json:"rule_version,omitempty"`

	// JudgmentRequired is true until a doctrine rule has resolved the alert.
	JudgmentRequired bool `json:"judgment_required"`

	// Suppressed alerts must not appear in any open-alert listing downstream.
	Suppressed bool `json:"suppressed,omitempty"`

	// ActionRequired flags alerts kept visible because the firm's standing
	// decision demands registration or immediate action.
	ActionRequired bool `json:"action_required,omitempty"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// demote returns the severity one tier lower. Only the highest tier demotes;
// everything else is returned unchanged.
func (s Severity) demote() Severity {
	if s == SeverityCritical {
		return SeverityHigh
	}
	return s
}

// OpenAlerts projects the alerts still visible downstream: suppressed alerts
// are excluded.
func OpenAlerts(in []Alert) []Alert {
	var out []Alert
	for _, a := range in {
		if a.Governance.Suppressed {
			continue
		}
		out = append(out, a)
	}
	return out
}
