package reporting

import (
	"context"
	"errors"
	"fmt"

	"compliance-platform/internal/doctrine"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service aggregates governance state for the dashboard.
//
// It reads only through the doctrine repository; summaries are derived from
// immutable sources (rules, impact metrics) and perform no writes.
type Service struct {
	repo doctrine.Repository
}

func NewService(repo doctrine.Repository) *Service { return &Service{repo: repo} }

// GovernanceSummary aggregates an organization's rules by status and scope
// plus cumulative impact across all of them.
type GovernanceSummary struct {
	OrgID string `json:"org_id"`

	TotalRules    int `json:"total_rules"`
	ActiveRules   int `json:"active_rules"`
	PendingRules  int `json:"pending_rules"`
	RejectedRules int `json:"rejected_rules"`
	DisabledRules int `json:"disabled_rules"`

	ClientScoped int `json:"client_scoped"`
	OfficeScoped int `json:"office_scoped"`
	FirmScoped   int `json:"firm_scoped"`

	ClientsAffected int   `json:"clients_affected"`
	MemosGenerated  int   `json:"memos_generated"`
	RevenueCovered  int64 `json:"revenue_covered"`
}

func (s *Service) GovernanceSummary(ctx context.Context, orgID string) (GovernanceSummary, error) {
	if orgID == "" {
		return GovernanceSummary{}, fmt.Errorf("%w: org_id required", ErrInvalidRequest)
	}
	if s.repo == nil {
		return GovernanceSummary{}, errors.New("reporting: repository not configured")
	}

	out := GovernanceSummary{OrgID: orgID}
	offset := 0
	for {
		rules, err := s.repo.ListRules(ctx, doctrine.RuleFilter{OrgID: orgID, Limit: 200, Offset: offset})
		if err != nil {
			return GovernanceSummary{}, err
		}
		if len(rules) == 0 {
			break
		}
		for _, r := range rules {
			out.TotalRules++
			switch r.Status {
			case doctrine.StatusActive:
				out.ActiveRules++
			case doctrine.StatusPendingApproval:
				out.PendingRules++
			case doctrine.StatusRejected:
				out.RejectedRules++
			case doctrine.StatusDisabled:
				out.DisabledRules++
			case doctrine.StatusDraft:
				// drafts are transient and not counted separately
			}
			switch r.Scope {
			case doctrine.ScopeClient:
				out.ClientScoped++
			case doctrine.ScopeOffice:
				out.OfficeScoped++
			case doctrine.ScopeFirm:
				out.FirmScoped++
			}

			m, err := s.repo.GetMetrics(ctx, r.ID)
			if err != nil {
				if errors.Is(err, doctrine.ErrNotFound) {
					continue
				}
				return GovernanceSummary{}, err
			}
			out.ClientsAffected += m.ClientsAffected
			out.MemosGenerated += m.MemosGenerated
			out.RevenueCovered += m.RevenueCovered
		}
		offset += len(rules)
	}
	return out, nil
}
