package doctrine

import (
	"context"
	"time"
)

// Repository is the persistence contract for rules, approvals, version events
// and impact metrics.
//
// Atomicity contract:
// - Each mutating method commits all of its writes together or not at all.
//   A lifecycle transition and its ledger event are one unit; the engine never
//   risks a rule whose status changed but whose ledger has no entry.
// - Methods taking expectedVersion must fail with ErrConflict when the stored
//   version differs (stale read by a concurrent writer).
// - Version events are append-only; no update or delete methods exist by design.
type Repository interface {
	// CreateRule persists a new rule, its creation event and zeroed metrics.
	CreateRule(ctx context.Context, rule Rule, event VersionEvent, metrics ImpactMetrics) error

	// UpdateRule replaces the rule row and appends the event, guarded by
	// expectedVersion compare-and-swap on the stored row.
	UpdateRule(ctx context.Context, rule Rule, expectedVersion int, event VersionEvent) error

	// AddApproval records an approval action; when statusTo is non-empty the
	// rule's status flips and the event is appended in the same unit.
	AddApproval(ctx context.Context, approval Approval, expectedVersion int, statusTo Status, event *VersionEvent) error

	GetRule(ctx context.Context, orgID, ruleID string) (Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error)

	ListApprovals(ctx context.Context, ruleID string) ([]Approval, error)

	// ListEvents returns the rule's version events newest-first.
	ListEvents(ctx context.Context, ruleID string) ([]VersionEvent, error)

	GetMetrics(ctx context.Context, ruleID string) (ImpactMetrics, error)

	// AccrueImpact folds newly observed client ids into the rule's distinct-client
	// set and accrues revenue only for clients seen for the first time.
	AccrueImpact(ctx context.Context, ruleID string, clientIDs []string, revenue int64, at time.Time) (ImpactMetrics, error)
}

// RuleFilter narrows ListRules. Zero values mean "any".
// OrgID is required; tenancy is enforced in every query.
type RuleFilter struct {
	OrgID        string
	ClientID     string
	Scope        Scope
	Status       Status
	Jurisdiction string
	TaxCategory  string

	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f RuleFilter) normalized() RuleFilter {
	out := f
	if out.Limit <= 0 {
		out.Limit = defaultListLimit
	}
	if out.Limit > maxListLimit {
		out.Limit = maxListLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

func (f RuleFilter) matches(r Rule) bool {
	if r.OrgID != f.OrgID {
		return false
	}
	if f.ClientID != "" && r.ClientID != f.ClientID {
		return false
	}
	if f.Scope != "" && r.Scope != f.Scope {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Jurisdiction != "" && r.Jurisdiction != f.Jurisdiction {
		return false
	}
	if f.TaxCategory != "" && r.TaxCategory != f.TaxCategory {
		return false
	}
	return true
}
