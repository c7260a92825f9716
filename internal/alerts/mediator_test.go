package alerts

import (
	"context"
	"testing"
	"time"

	"compliance-platform/internal/doctrine"
	"compliance-platform/internal/matcher"
)

func newMediatorFixture(t *testing.T, rules ...doctrine.Rule) (*Mediator, *doctrine.MemoryRepo) {
	t.Helper()
	repo := doctrine.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	for i, r := range rules {
		if r.OrgID == "" {
			r.OrgID = "org-1"
		}
		if r.Status == "" {
			r.Status = doctrine.StatusActive
		}
		if r.Version == 0 {
			r.Version = 1
		}
		r.CreatedAt = now.Add(time.Duration(i) * time.Second)
		ev := doctrine.VersionEvent{
			ID: r.ID + "-ev", RuleID: r.ID, ToVersion: r.Version,
			ActionType: doctrine.ActionTypeCreate, NewSnapshot: r.Snapshot(), CreatedAt: r.CreatedAt,
		}
		if err := repo.CreateRule(context.Background(), r, ev, doctrine.ImpactMetrics{RuleID: r.ID}); err != nil {
			t.Fatalf("seed rule %s: %v", r.ID, err)
		}
	}
	m := NewMediator(matcher.NewService(repo), repo, nil)
	m.clock = func() time.Time { return now }
	return m, repo
}

func TestProcessAlert_SuppressionNeverReachesOpenListing(t *testing.T) {
	m, repo := newMediatorFixture(t, doctrine.Rule{
		ID: "rule-1", Scope: doctrine.ScopeClient, ClientID: "client-1",
		Jurisdiction: "CA",
		Decision:     doctrine.DecisionNoRegistration,
		Version:      3,
	})
	ctx := context.Background()

	out, err := m.ProcessAlert(ctx, "org-1", Alert{
		ID: "alert-1", ClientID: "client-1", Jurisdiction: "CA",
		AlertType: "economic_nexus", CurrentAmount: 650000,
		Severity: SeverityHigh,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !out.Governance.Suppressed || out.Governance.JudgmentRequired {
		t.Fatalf("NO_REGISTRATION must suppress and resolve judgment: %+v", out.Governance)
	}
	if out.Governance.RuleID != "rule-1" || out.Governance.RuleVersion != 3 {
		t.Fatalf("alert not annotated with governing rule: %+v", out.Governance)
	}

	open := OpenAlerts([]Alert{out})
	if len(open) != 0 {
		t.Fatalf("suppressed alert leaked into open listing")
	}

	// the rule's impact accrues the client
	metrics, err := repo.GetMetrics(ctx, "rule-1")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.ClientsAffected != 1 || metrics.RevenueCovered != 650000 || metrics.MemosGenerated != 1 {
		t.Fatalf("unexpected impact metrics: %+v", metrics)
	}
}

func TestProcessAlert_PatternExcludesBelowThreshold(t *testing.T) {
	m, _ := newMediatorFixture(t, doctrine.Rule{
		ID: "rule-1", Scope: doctrine.ScopeFirm,
		Pattern:  doctrine.Pattern{"revenueThreshold": {Op: doctrine.OpThreshold, Value: 600000}},
		Decision: doctrine.DecisionNoRegistration,
	})

	in := Alert{
		ID: "alert-1", ClientID: "client-1", Jurisdiction: "CA",
		CurrentAmount: 500000,
		Governance:    Governance{JudgmentRequired: true},
	}
	out, err := m.ProcessAlert(context.Background(), "org-1", in)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out != in {
		t.Fatalf("unmatched alert must pass through unchanged: %+v", out)
	}
}

func TestProcessAlert_NoMatchReturnsAlertUnchanged(t *testing.T) {
	// no rules at all
	m, _ := newMediatorFixture(t)

	in := Alert{
		ID: "a1", ClientID: "client-1", Jurisdiction: "NY",
		AlertType: "economic_nexus", CurrentAmount: 42,
		Severity:   SeverityCritical,
		Governance: Governance{JudgmentRequired: false},
	}
	out, err := m.ProcessAlert(context.Background(), "org-1", in)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out != in {
		t.Fatalf("mediator mutated an ungoverned alert: %+v", out)
	}
}

func TestProcessAlert_RegisterKeepsAlertActionable(t *testing.T) {
	m, _ := newMediatorFixture(t, doctrine.Rule{
		ID: "rule-1", Scope: doctrine.ScopeFirm,
		Decision: doctrine.DecisionRegister,
	})

	out, err := m.ProcessAlert(context.Background(), "org-1", Alert{
		ID: "alert-1", ClientID: "client-1", CurrentAmount: 100000,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !out.Governance.ActionRequired || out.Governance.Suppressed {
		t.Fatalf("REGISTER must keep the alert visible and actionable: %+v", out.Governance)
	}
	if len(OpenAlerts([]Alert{out})) != 1 {
		t.Fatalf("actionable alert must stay in open listing")
	}
}

func TestProcessAlert_MonitorDemotesOnlyCritical(t *testing.T) {
	m, _ := newMediatorFixture(t, doctrine.Rule{
		ID: "rule-1", Scope: doctrine.ScopeFirm,
		Decision: doctrine.DecisionMonitor,
	})
	ctx := context.Background()

	critical, err := m.ProcessAlert(ctx, "org-1", Alert{
		ID: "a1", ClientID: "client-1", Severity: SeverityCritical, CurrentAmount: 1,
	})
	if err != nil {
		t.Fatalf("process critical: %v", err)
	}
	if critical.Severity != SeverityHigh {
		t.Fatalf("critical should demote to high, got %s", critical.Severity)
	}
	if critical.Governance.JudgmentRequired {
		t.Fatalf("MONITOR resolves judgment")
	}

	medium, err := m.ProcessAlert(ctx, "org-1", Alert{
		ID: "a2", ClientID: "client-2", Severity: SeverityMedium, CurrentAmount: 1,
	})
	if err != nil {
		t.Fatalf("process medium: %v", err)
	}
	if medium.Severity != SeverityMedium {
		t.Fatalf("non-critical severity must not change, got %s", medium.Severity)
	}
}

func TestProcessAlert_UnknownDecisionAnnotatesOnly(t *testing.T) {
	m, _ := newMediatorFixture(t, doctrine.Rule{
		ID: "rule-1", Scope: doctrine.ScopeFirm,
	})

	out, err := m.ProcessAlert(context.Background(), "org-1", Alert{
		ID: "a1", ClientID: "client-1", CurrentAmount: 1,
		Severity:   SeverityCritical,
		Governance: Governance{JudgmentRequired: true},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Governance.RuleID != "rule-1" {
		t.Fatalf("alert should be annotated with the matched rule")
	}
	if !out.Governance.JudgmentRequired || out.Governance.Suppressed || out.Governance.ActionRequired {
		t.Fatalf("empty decision must annotate only: %+v", out.Governance)
	}
	if out.Severity != SeverityCritical {
		t.Fatalf("empty decision must not touch severity, got %s", out.Severity)
	}
}

func TestProcessAlert_RepeatClientDoesNotDoubleCount(t *testing.T) {
	m, repo := newMediatorFixture(t, doctrine.Rule{
		ID: "rule-1", Scope: doctrine.ScopeFirm,
		Decision: doctrine.DecisionNoAction,
	})
	ctx := context.Background()

	alert := Alert{ID: "a1", ClientID: "client-1", CurrentAmount: 200000}
	if _, err := m.ProcessAlert(ctx, "org-1", alert); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if _, err := m.ProcessAlert(ctx, "org-1", alert); err != nil {
		t.Fatalf("second process: %v", err)
	}

	metrics, _ := repo.GetMetrics(ctx, "rule-1")
	if metrics.ClientsAffected != 1 {
		t.Fatalf("same client counted twice: %+v", metrics)
	}
	if metrics.RevenueCovered != 200000 {
		t.Fatalf("revenue double-counted: %+v", metrics)
	}
	if metrics.MemosGenerated != 2 {
		t.Fatalf("every application should be recorded as a memo, got %d", metrics.MemosGenerated)
	}
}

func TestProcessAlert_MostSpecificRuleGoverns(t *testing.T) {
	m, _ := newMediatorFixture(t,
		doctrine.Rule{ID: "firm", Scope: doctrine.ScopeFirm, Decision: doctrine.DecisionRegister},
		doctrine.Rule{ID: "client", Scope: doctrine.ScopeClient, ClientID: "client-1", Decision: doctrine.DecisionNoAction},
	)

	out, err := m.ProcessAlert(context.Background(), "org-1", Alert{
		ID: "a1", ClientID: "client-1", CurrentAmount: 1,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Governance.RuleID != "client" {
		t.Fatalf("client-scoped rule should win over firm rule, got %s", out.Governance.RuleID)
	}
	if !out.Governance.Suppressed {
		t.Fatalf("NO_ACTION should suppress")
	}
}
