package matcher

import (
	"context"
	"fmt"
	"sort"

	"compliance-platform/internal/doctrine"
)

// Service resolves, for a candidate-alert context, the active rules that govern
// it, ordered by specificity.
//
// Return matched rules only. No side effects (no writes, no metric updates);
// impact accounting belongs to the alert mediator.
type Service struct {
	repo doctrine.Repository
}

func NewService(repo doctrine.Repository) *Service { return &Service{repo: repo} }

// Criteria describes the context being governed.
type Criteria struct {
	OrgID        string `json:"org_id"`
	ClientID     string `json:"client_id,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	TaxCategory  string `json:"tax_category,omitempty"`

	// Probe carries the observed activity values evaluated against rule
	// patterns. A rule requiring a key the probe lacks does not match.
	Probe map[string]float64 `json:"probe,omitempty"`
}

// Match returns all active rules compatible with the criteria, ordered
// client > office > firm, then version descending (prefer latest).
// The full active set is considered: matching pages through the repository
// until a short page, never against a truncated subset.
func (s *Service) Match(ctx context.Context, c Criteria) ([]doctrine.Rule, error) {
	if c.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id is required", doctrine.ErrValidation)
	}

	const pageSize = 200
	var out []doctrine.Rule
	for offset := 0; ; offset += pageSize {
		rules, err := s.repo.ListRules(ctx, doctrine.RuleFilter{
			OrgID:  c.OrgID,
			Status: doctrine.StatusActive,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			if !scopeCompatible(r, c) {
				continue
			}
			if r.Jurisdiction != "" && c.Jurisdiction != r.Jurisdiction {
				continue
			}
			if r.TaxCategory != "" && c.TaxCategory != r.TaxCategory {
				continue
			}
			if len(r.Pattern) > 0 && c.Probe != nil && !r.Pattern.Matches(c.Probe) {
				continue
			}
			out = append(out, r)
		}
		if len(rules) < pageSize {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scopeRank(out[i].Scope), scopeRank(out[j].Scope)
		if si != sj {
			return si < sj
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

// ResolveBest returns the single most specific governing rule, or ok=false
// when no active rule applies.
func (s *Service) ResolveBest(ctx context.Context, c Criteria) (doctrine.Rule, bool, error) {
	matches, err := s.Match(ctx, c)
	if err != nil {
		return doctrine.Rule{}, false, err
	}
	if len(matches) == 0 {
		return doctrine.Rule{}, false, nil
	}
	return matches[0], true, nil
}

// scopeCompatible applies the scope ladder: with a client in context, firm and
// office rules apply alongside rules for that exact client; without one, only
// firm-wide rules qualify.
func scopeCompatible(r doctrine.Rule, c Criteria) bool {
	switch r.Scope {
	case doctrine.ScopeFirm:
		return true
	case doctrine.ScopeOffice:
		return c.ClientID != ""
	case doctrine.ScopeClient:
		return c.ClientID != "" && r.ClientID == c.ClientID
	default:
		return false
	}
}

func scopeRank(s doctrine.Scope) int {
	switch s {
	case doctrine.ScopeClient:
		return 0
	case doctrine.ScopeOffice:
		return 1
	default:
		return 2
	}
}
