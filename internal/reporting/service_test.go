package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"compliance-platform/internal/doctrine"
)

func TestGovernanceSummary_CountsByStatusAndScope(t *testing.T) {
	repo := doctrine.NewMemoryRepo()
	rules := doctrine.NewService(repo, nil, nil)
	svc := NewService(repo)
	ctx := context.Background()

	// one auto-activated client rule, one pending firm rule
	active, err := rules.Create(ctx, "org-1", "actor", doctrine.CreateRequest{
		Name: "client stance", Scope: doctrine.ScopeClient, ClientID: "client-1",
	})
	if err != nil {
		t.Fatalf("create client rule: %v", err)
	}
	if _, err := rules.Create(ctx, "org-1", "actor", doctrine.CreateRequest{
		Name: "firm stance", Scope: doctrine.ScopeFirm,
	}); err != nil {
		t.Fatalf("create firm rule: %v", err)
	}

	// another org's rule must not bleed into the summary
	if _, err := rules.Create(ctx, "org-2", "actor", doctrine.CreateRequest{
		Name: "foreign", Scope: doctrine.ScopeFirm,
	}); err != nil {
		t.Fatalf("create foreign rule: %v", err)
	}

	// accrue some impact on the active rule
	if _, err := repo.AccrueImpact(ctx, active.ID, []string{"client-1"}, 250000, time.Unix(1700000000, 0).UTC()); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	sum, err := svc.GovernanceSummary(ctx, "org-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalRules != 2 {
		t.Fatalf("expected 2 rules, got %d", sum.TotalRules)
	}
	if sum.ActiveRules != 1 || sum.PendingRules != 1 {
		t.Fatalf("status counts wrong: %+v", sum)
	}
	if sum.ClientScoped != 1 || sum.FirmScoped != 1 || sum.OfficeScoped != 0 {
		t.Fatalf("scope counts wrong: %+v", sum)
	}
	if sum.ClientsAffected != 1 || sum.RevenueCovered != 250000 || sum.MemosGenerated != 1 {
		t.Fatalf("impact aggregation wrong: %+v", sum)
	}
}

func TestGovernanceSummary_EmptyOrg(t *testing.T) {
	svc := NewService(doctrine.NewMemoryRepo())
	sum, err := svc.GovernanceSummary(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalRules != 0 {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

func TestGovernanceSummary_RequiresOrg(t *testing.T) {
	svc := NewService(doctrine.NewMemoryRepo())
	if _, err := svc.GovernanceSummary(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
