package impact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance-platform/internal/doctrine"
	"compliance-platform/pkg/metrics"
)

// ExposureStore is the read-only compliance-data collaborator: active clients
// in an organization, optionally narrowed by jurisdiction, with aggregated
// current-amount per jurisdiction. This is the only outside data the estimator
// needs.
type ExposureStore interface {
	ActiveClients(ctx context.Context, orgID, jurisdiction string) ([]ClientExposure, error)
}

// ClientExposure is one client's aggregated revenue per jurisdiction.
type ClientExposure struct {
	ClientID string           `json:"client_id"`
	Name     string           `json:"name"`
	Status   string           `json:"status"`
	Revenue  map[string]int64 `json:"revenue"`
}

// Service simulates (dry-run) or measures (blast radius) which clients and
// jurisdictions a rule affects. It performs no writes and is safe to call
// repeatedly.
type Service struct {
	store   ExposureStore
	repo    doctrine.Repository
	metrics *metrics.Collector
	clock   func() time.Time
}

func NewService(store ExposureStore, repo doctrine.Repository, mc *metrics.Collector) *Service {
	return &Service{store: store, repo: repo, metrics: mc, clock: time.Now}
}

// Draft is the rule shape an impact simulation needs; it works for both
// unpersisted drafts and stored rules.
type Draft struct {
	Scope        doctrine.Scope    `json:"scope"`
	ClientID     string            `json:"client_id,omitempty"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
	Pattern      doctrine.Pattern  `json:"pattern,omitempty"`
	Decision     doctrine.Decision `json:"decision,omitempty"`
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Result is the outcome of a simulation. Zero matched clients is a valid
// zero-impact result, not an error.
type Result struct {
	ClientsAffected       int             `json:"clients_affected"`
	JurisdictionsAffected int             `json:"jurisdictions_affected"`
	TotalRevenue          int64           `json:"total_revenue"`
	RiskLevel             RiskLevel       `json:"risk_level"`
	Previews              []ClientPreview `json:"previews"`
}

// ClientPreview shows current vs predicted status for a representative client.
type ClientPreview struct {
	ClientID        string `json:"client_id"`
	Name            string `json:"name"`
	Jurisdiction    string `json:"jurisdiction"`
	Revenue         int64  `json:"revenue"`
	CurrentStatus   string `json:"current_status"`
	PredictedStatus string `json:"predicted_status"`
}

const maxPreviews = 10

// Risk thresholds.
const (
	highClientCount    = 50
	highRevenueTotal   = 10_000_000
	mediumClientCount  = 20
	mediumRevenueTotal = 5_000_000
)

// CalculateImpact runs a dry-run simulation for a rule draft.
// Cancellation surfaces ErrCancelled; a cancelled run never returns a partial,
// silently truncated result.
func (s *Service) CalculateImpact(ctx context.Context, orgID string, draft Draft) (Result, error) {
	if orgID == "" {
		return Result{}, fmt.Errorf("%w: org_id is required", doctrine.ErrValidation)
	}
	if s.store == nil {
		return Result{}, errors.New("impact: exposure store not configured")
	}
	if err := draft.Pattern.Validate(); err != nil {
		return Result{}, err
	}

	start := s.clock()
	defer func() { s.metrics.ObserveImpactSimulation(s.clock().Sub(start)) }()

	clients, err := s.store.ActiveClients(ctx, orgID, draft.Jurisdiction)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.metrics.ImpactSimulationCancelled()
			return Result{}, fmt.Errorf("%w: impact simulation interrupted", doctrine.ErrCancelled)
		}
		return Result{}, err
	}

	out := Result{}
	jurisdictions := make(map[string]struct{})

	for _, client := range clients {
		if err := ctx.Err(); err != nil {
			s.metrics.ImpactSimulationCancelled()
			return Result{}, fmt.Errorf("%w: impact simulation interrupted", doctrine.ErrCancelled)
		}
		if draft.Scope == doctrine.ScopeClient && draft.ClientID != "" && client.ClientID != draft.ClientID {
			continue
		}

		matched := false
		var clientRevenue int64
		for jurisdiction, revenue := range client.Revenue {
			if draft.Jurisdiction != "" && jurisdiction != draft.Jurisdiction {
				continue
			}
			if len(draft.Pattern) > 0 && !draft.Pattern.MatchesAmount(float64(revenue)) {
				continue
			}
			matched = true
			clientRevenue += revenue
			jurisdictions[jurisdiction] = struct{}{}

			if len(out.Previews) < maxPreviews {
				out.Previews = append(out.Previews, ClientPreview{
					ClientID:        client.ClientID,
					Name:            client.Name,
					Jurisdiction:    jurisdiction,
					Revenue:         revenue,
					CurrentStatus:   client.Status,
					PredictedStatus: predictedStatus(draft.Decision),
				})
			}
		}
		if matched {
			out.ClientsAffected++
			out.TotalRevenue += clientRevenue
		}
	}

	out.JurisdictionsAffected = len(jurisdictions)
	out.RiskLevel = classifyRisk(out.ClientsAffected, out.TotalRevenue)
	return out, nil
}

// BlastRadius runs the same computation for an already-persisted rule.
func (s *Service) BlastRadius(ctx context.Context, orgID, ruleID string) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("impact: repository not configured")
	}
	rule, err := s.repo.GetRule(ctx, orgID, ruleID)
	if err != nil {
		return Result{}, err
	}
	return s.CalculateImpact(ctx, orgID, Draft{
		Scope:        rule.Scope,
		ClientID:     rule.ClientID,
		Jurisdiction: rule.Jurisdiction,
		Pattern:      rule.Pattern,
		Decision:     rule.Decision,
	})
}

func classifyRisk(clients int, revenue int64) RiskLevel {
	switch {
	case clients > highClientCount || revenue > highRevenueTotal:
		return RiskHigh
	case clients > mediumClientCount || revenue > mediumRevenueTotal:
		return RiskMedium
	default:
		return RiskLow
	}
}

func predictedStatus(d doctrine.Decision) string {
	switch d {
	case doctrine.DecisionNoRegistration, doctrine.DecisionNoAction:
		return "suppressed"
	case doctrine.DecisionRegister, doctrine.DecisionImmediateAction:
		return "action_required"
	case doctrine.DecisionMonitor:
		return "monitoring"
	default:
		return "annotated"
	}
}
