package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance-platform/internal/doctrine"
	"compliance-platform/internal/matcher"
	"compliance-platform/pkg/metrics"
)

// Mediator applies a matched rule's standing decision to a candidate alert.
//
// It is placed between the alert pipeline and any user-facing listing: the
// pipeline supplies candidates, the mediator consults the rule matcher, and
// suppressed alerts never reach an open-alert projection.
type Mediator struct {
	matcher *matcher.Service
	repo    doctrine.Repository
	metrics *metrics.Collector
	clock   func() time.Time
}

func NewMediator(m *matcher.Service, repo doctrine.Repository, mc *metrics.Collector) *Mediator {
	return &Mediator{matcher: m, repo: repo, metrics: mc, clock: time.Now}
}

// ProcessAlert resolves the governing rule for the alert and applies its
// decision. With no matching rule the alert is returned unchanged. On a match
// the rule's impact metrics accrue the alert's client (distinct ids only).
func (m *Mediator) ProcessAlert(ctx context.Context, orgID string, alert Alert) (Alert, error) {
	if orgID == "" {
		return Alert{}, fmt.Errorf("%w: org_id is required", doctrine.ErrValidation)
	}
	if m.matcher == nil {
		return Alert{}, errors.New("alerts: matcher not configured")
	}

	rule, ok, err := m.matcher.ResolveBest(ctx, matcher.Criteria{
		OrgID:        orgID,
		ClientID:     alert.ClientID,
		Jurisdiction: alert.Jurisdiction,
		TaxCategory:  alert.AlertType,
		Probe:        doctrine.RevenueProbe(alert.CurrentAmount),
	})
	if err != nil {
		return Alert{}, err
	}
	if !ok {
		// No governing rule: the alert passes through exactly as supplied,
		// including whatever judgment state the pipeline set.
		m.metrics.AlertMediated("unmatched")
		return alert, nil
	}

	out := alert
	out.Governance.RuleID = rule.ID
	out.Governance.RuleVersion = rule.Version

	outcome := "annotated"
	switch rule.Decision {
	case doctrine.DecisionNoRegistration, doctrine.DecisionNoAction:
		// Standing decision resolves the alert; it must not appear in any
		// open-alert listing downstream.
		out.Governance.JudgmentRequired = false
		out.Governance.Suppressed = true
		outcome = "suppressed"
	case doctrine.DecisionRegister, doctrine.DecisionImmediateAction:
		out.Governance.JudgmentRequired = false
		out.Governance.ActionRequired = true
		outcome = "action_required"
	case doctrine.DecisionMonitor:
		if out.Severity == SeverityCritical {
			out.Severity = out.Severity.demote()
		}
		out.Governance.JudgmentRequired = false
		outcome = "monitored"
	default:
		// Unknown or empty decision: annotate only; severity, visibility and
		// judgment state stay exactly as the pipeline supplied them.
	}

	if m.repo != nil {
		var clientIDs []string
		if alert.ClientID != "" {
			clientIDs = []string{alert.ClientID}
		}
		if _, err := m.repo.AccrueImpact(ctx, rule.ID, clientIDs, int64(alert.CurrentAmount), m.clock().UTC()); err != nil {
			return Alert{}, err
		}
	}

	m.metrics.AlertMediated(outcome)
	return out, nil
}
