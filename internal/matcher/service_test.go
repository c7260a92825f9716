package matcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"compliance-platform/internal/doctrine"
)

func seedActiveRule(t *testing.T, repo *doctrine.MemoryRepo, r doctrine.Rule) doctrine.Rule {
	t.Helper()
	if r.OrgID == "" {
		r.OrgID = "org-1"
	}
	if r.Status == "" {
		r.Status = doctrine.StatusActive
	}
	if r.Version == 0 {
		r.Version = 1
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Unix(1700000000, 0).UTC()
	}
	ev := doctrine.VersionEvent{
		ID: r.ID + "-ev", RuleID: r.ID, ToVersion: r.Version,
		ActionType: doctrine.ActionTypeCreate, NewSnapshot: r.Snapshot(), CreatedAt: r.CreatedAt,
	}
	if err := repo.CreateRule(context.Background(), r, ev, doctrine.ImpactMetrics{RuleID: r.ID}); err != nil {
		t.Fatalf("seed rule %s: %v", r.ID, err)
	}
	return r
}

func TestMatch_OrdersByScopeSpecificityThenVersion(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	seedActiveRule(t, repo, doctrine.Rule{ID: "firm-old", Scope: doctrine.ScopeFirm, Version: 1})
	seedActiveRule(t, repo, doctrine.Rule{ID: "firm-new", Scope: doctrine.ScopeFirm, Version: 3})
	seedActiveRule(t, repo, doctrine.Rule{ID: "office", Scope: doctrine.ScopeOffice, OfficeID: "office-1"})
	seedActiveRule(t, repo, doctrine.Rule{ID: "client", Scope: doctrine.ScopeClient, ClientID: "client-1"})

	got, err := svc.Match(ctx, Criteria{OrgID: "org-1", ClientID: "client-1"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	want := []string{"client", "office", "firm-new", "firm-old"}
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestMatch_ScopeLadderWithoutClientContext(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)

	seedActiveRule(t, repo, doctrine.Rule{ID: "firm", Scope: doctrine.ScopeFirm})
	seedActiveRule(t, repo, doctrine.Rule{ID: "office", Scope: doctrine.ScopeOffice, OfficeID: "office-1"})
	seedActiveRule(t, repo, doctrine.Rule{ID: "client", Scope: doctrine.ScopeClient, ClientID: "client-1"})

	got, err := svc.Match(context.Background(), Criteria{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0].ID != "firm" {
		t.Fatalf("without client context only firm rules apply, got %+v", got)
	}
}

func TestMatch_ClientRulesRequireExactClient(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)

	seedActiveRule(t, repo, doctrine.Rule{ID: "client", Scope: doctrine.ScopeClient, ClientID: "client-1"})

	got, err := svc.Match(context.Background(), Criteria{OrgID: "org-1", ClientID: "client-2"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("another client's rule must not match, got %+v", got)
	}
}

func TestMatch_JurisdictionAndCategoryFilters(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	seedActiveRule(t, repo, doctrine.Rule{ID: "ca-sales", Scope: doctrine.ScopeFirm, Jurisdiction: "CA", TaxCategory: "sales_tax"})
	seedActiveRule(t, repo, doctrine.Rule{ID: "anywhere", Scope: doctrine.ScopeFirm})

	got, err := svc.Match(ctx, Criteria{OrgID: "org-1", Jurisdiction: "NY", TaxCategory: "sales_tax"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0].ID != "anywhere" {
		t.Fatalf("jurisdiction-bound rule leaked into NY context: %+v", got)
	}

	got, _ = svc.Match(ctx, Criteria{OrgID: "org-1", Jurisdiction: "CA", TaxCategory: "sales_tax"})
	if len(got) != 2 {
		t.Fatalf("expected both rules in CA sales context, got %d", len(got))
	}
}

func TestMatch_PatternFailSafe(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	seedActiveRule(t, repo, doctrine.Rule{
		ID: "thresholded", Scope: doctrine.ScopeFirm,
		Pattern: doctrine.Pattern{"revenueThreshold": {Op: doctrine.OpThreshold, Value: 600000}},
	})

	// probe below the threshold does not match
	got, err := svc.Match(ctx, Criteria{OrgID: "org-1", Probe: map[string]float64{"revenueThreshold": 500000}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("below-threshold probe must not match")
	}

	// probe missing the pattern's key does not match either
	got, _ = svc.Match(ctx, Criteria{OrgID: "org-1", Probe: map[string]float64{"transactionCount": 9}})
	if len(got) != 0 {
		t.Fatalf("ambiguous probe must fail the pattern, got %+v", got)
	}
}

func TestMatch_IgnoresInactiveRules(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)

	seedActiveRule(t, repo, doctrine.Rule{ID: "pending", Scope: doctrine.ScopeFirm, Status: doctrine.StatusPendingApproval})
	seedActiveRule(t, repo, doctrine.Rule{ID: "disabled", Scope: doctrine.ScopeFirm, Status: doctrine.StatusDisabled})

	got, err := svc.Match(context.Background(), Criteria{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("only active rules may govern, got %+v", got)
	}
}

func TestResolveBest(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if _, ok, err := svc.ResolveBest(ctx, Criteria{OrgID: "org-1"}); err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}

	seedActiveRule(t, repo, doctrine.Rule{ID: "firm", Scope: doctrine.ScopeFirm})
	seedActiveRule(t, repo, doctrine.Rule{ID: "client", Scope: doctrine.ScopeClient, ClientID: "client-1"})

	best, ok, err := svc.ResolveBest(ctx, Criteria{OrgID: "org-1", ClientID: "client-1"})
	if err != nil || !ok {
		t.Fatalf("expected a match, got ok=%v err=%v", ok, err)
	}
	if best.ID != "client" {
		t.Fatalf("most specific rule should win, got %s", best.ID)
	}
}

func TestMatch_SeesBeyondOneRepositoryPage(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()

	// the most specific rule is also the oldest, so a single newest-first
	// page of 200 would never contain it
	seedActiveRule(t, repo, doctrine.Rule{
		ID: "client-rule", Scope: doctrine.ScopeClient, ClientID: "client-1",
		CreatedAt: base,
	})
	for i := 0; i < 220; i++ {
		seedActiveRule(t, repo, doctrine.Rule{
			ID:        fmt.Sprintf("firm-%03d", i),
			Scope:     doctrine.ScopeFirm,
			CreatedAt: base.Add(time.Duration(i+1) * time.Second),
		})
	}

	best, ok, err := svc.ResolveBest(ctx, Criteria{OrgID: "org-1", ClientID: "client-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ok || best.ID != "client-rule" {
		t.Fatalf("most specific rule lost to page truncation: ok=%v got=%q", ok, best.ID)
	}

	all, err := svc.Match(ctx, Criteria{OrgID: "org-1", ClientID: "client-1"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(all) != 221 {
		t.Fatalf("expected every active rule considered, got %d", len(all))
	}
}

func TestMatch_RequiresOrg(t *testing.T) {
	svc := NewService(doctrine.NewMemoryRepo())
	if _, err := svc.Match(context.Background(), Criteria{}); !errors.Is(err, doctrine.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
