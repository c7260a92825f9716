package doctrine

import (
	"context"
	"fmt"
	"time"

	"compliance-platform/pkg/metrics"

	"github.com/google/uuid"
)

// Service is the rule lifecycle manager.
//
// State machine:
//
//	draft -> pending_approval -> active -> disabled
//	draft -> active                     (client scope, auto-activation)
//	pending_approval -> rejected        (terminal)
//	active -> active                    (rollback: same status, new version)
//
// All mutations run under the per-rule lock and commit the rule change and its
// ledger event as one unit through the repository.
type Service struct {
	repo    Repository
	locks   Locker
	metrics *metrics.Collector
	clock   func() time.Time
}

func NewService(repo Repository, locks Locker, mc *metrics.Collector) *Service {
	if locks == nil {
		locks = NewMemoryLocker()
	}
	return &Service{repo: repo, locks: locks, metrics: mc, clock: time.Now}
}

// CreateRequest carries the caller-supplied rule draft.
type CreateRequest struct {
	Name         string     `json:"name"`
	Scope        Scope      `json:"scope"`
	ClientID     string     `json:"client_id,omitempty"`
	OfficeID     string     `json:"office_id,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	TaxCategory  string     `json:"tax_category,omitempty"`
	Pattern      Pattern    `json:"pattern,omitempty"`
	Posture      string     `json:"posture,omitempty"`
	Decision     Decision   `json:"decision,omitempty"`
	Rationale    string     `json:"rationale,omitempty"`
	ReviewDue    *time.Time `json:"review_due,omitempty"`
}

// UpdatePatch applies partial content changes. Nil fields are left untouched.
// Status and scope targets cannot be patched; those move through the lifecycle
// operations.
type UpdatePatch struct {
	Name         *string    `json:"name,omitempty"`
	Jurisdiction *string    `json:"jurisdiction,omitempty"`
	TaxCategory  *string    `json:"tax_category,omitempty"`
	Pattern      *Pattern   `json:"pattern,omitempty"`
	Posture      *string    `json:"posture,omitempty"`
	Decision     *Decision  `json:"decision,omitempty"`
	Rationale    *string    `json:"rationale,omitempty"`
	ReviewDue    *time.Time `json:"review_due,omitempty"`
}

// Create validates the draft and persists it with version 1, a creation event
// and zeroed impact metrics. Client-scoped rules auto-activate; office and firm
// scoped rules enter the approval workflow.
func (s *Service) Create(ctx context.Context, orgID, actorID string, req CreateRequest) (Rule, error) {
	if actorID == "" {
		return Rule{}, ErrUnauthorized
	}
	if orgID == "" || req.Name == "" {
		return Rule{}, fmt.Errorf("%w: org_id and name are required", ErrValidation)
	}
	if err := validateScopeTarget(req.Scope, req.ClientID, req.OfficeID); err != nil {
		return Rule{}, err
	}
	if err := req.Pattern.Validate(); err != nil {
		return Rule{}, err
	}

	now := s.clock().UTC()
	status := StatusPendingApproval
	if req.Scope == ScopeClient {
		// Single-client rules need no quorum.
		status = StatusActive
	}

	rule := Rule{
		ID:           uuid.NewString(),
		OrgID:        orgID,
		Name:         req.Name,
		Scope:        req.Scope,
		ClientID:     req.ClientID,
		OfficeID:     req.OfficeID,
		Jurisdiction: req.Jurisdiction,
		TaxCategory:  req.TaxCategory,
		Pattern:      req.Pattern,
		Posture:      req.Posture,
		Decision:     req.Decision,
		Status:       status,
		Version:      1,
		Rationale:    req.Rationale,
		ReviewDue:    req.ReviewDue,
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	event := VersionEvent{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		FromVersion: nil,
		ToVersion:   1,
		ActionType:  ActionTypeCreate,
		ActorID:     actorID,
		NewSnapshot: rule.snapshot(),
		CreatedAt:   now,
	}
	zeroed := ImpactMetrics{RuleID: rule.ID}

	if err := s.repo.CreateRule(ctx, rule, event, zeroed); err != nil {
		return Rule{}, err
	}
	s.metrics.RuleCreated(string(rule.Scope))
	return rule, nil
}

// Update applies a content patch, increments the version and appends an update
// event with full before/after snapshots. Status is not changed.
func (s *Service) Update(ctx context.Context, orgID, ruleID, actorID, reason string, patch UpdatePatch) (Rule, error) {
	if actorID == "" {
		return Rule{}, ErrUnauthorized
	}
	if patch.Pattern != nil {
		if err := patch.Pattern.Validate(); err != nil {
			return Rule{}, err
		}
	}

	var out Rule
	err := s.locks.WithRuleLock(ctx, ruleID, func(ctx context.Context) error {
		cur, err := s.repo.GetRule(ctx, orgID, ruleID)
		if err != nil {
			return err
		}

		next := cur
		applyPatch(&next, patch)
		next.Version = cur.Version + 1
		now := s.clock().UTC()
		next.UpdatedAt = now

		from := cur.Version
		event := VersionEvent{
			ID:           uuid.NewString(),
			RuleID:       ruleID,
			FromVersion:  &from,
			ToVersion:    next.Version,
			ActionType:   ActionTypeUpdate,
			ActorID:      actorID,
			Reason:       reason,
			PrevSnapshot: cur.snapshot(),
			NewSnapshot:  next.snapshot(),
			CreatedAt:    now,
		}
		if err := s.repo.UpdateRule(ctx, next, cur.Version, event); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	s.metrics.RuleTransition(string(ActionTypeUpdate))
	return out, nil
}

// Disable turns an active rule off. The version does not change (disabling is
// not a content change) but the transition is still ledgered.
func (s *Service) Disable(ctx context.Context, orgID, ruleID, actorID, reason string) (Rule, error) {
	if actorID == "" {
		return Rule{}, ErrUnauthorized
	}
	if reason == "" {
		return Rule{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	var out Rule
	err := s.locks.WithRuleLock(ctx, ruleID, func(ctx context.Context) error {
		cur, err := s.repo.GetRule(ctx, orgID, ruleID)
		if err != nil {
			return err
		}
		if cur.Status != StatusActive {
			return fmt.Errorf("%w: rule %s is %s, only active rules can be disabled", ErrState, ruleID, cur.Status)
		}

		next := cur
		next.Status = StatusDisabled
		now := s.clock().UTC()
		next.UpdatedAt = now

		from := cur.Version
		event := VersionEvent{
			ID:           uuid.NewString(),
			RuleID:       ruleID,
			FromVersion:  &from,
			ToVersion:    cur.Version,
			ActionType:   ActionTypeDisable,
			ActorID:      actorID,
			Reason:       reason,
			PrevSnapshot: cur.snapshot(),
			NewSnapshot:  next.snapshot(),
			CreatedAt:    now,
		}
		if err := s.repo.UpdateRule(ctx, next, cur.Version, event); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	s.metrics.RuleTransition(string(ActionTypeDisable))
	return out, nil
}

// Rollback restores content fields from the snapshot at targetVersion under a
// new version (currentVersion+1, never reusing targetVersion).
func (s *Service) Rollback(ctx context.Context, orgID, ruleID string, targetVersion int, actorID, reason string) (Rule, error) {
	if actorID == "" {
		return Rule{}, ErrUnauthorized
	}

	var out Rule
	err := s.locks.WithRuleLock(ctx, ruleID, func(ctx context.Context) error {
		cur, err := s.repo.GetRule(ctx, orgID, ruleID)
		if err != nil {
			return err
		}
		if targetVersion >= cur.Version || targetVersion < 1 {
			return fmt.Errorf("%w: target version %d must be below current version %d", ErrValidation, targetVersion, cur.Version)
		}

		snap, err := s.snapshotAt(ctx, ruleID, targetVersion)
		if err != nil {
			return err
		}

		next := cur
		next.Name = snap.Name
		next.Jurisdiction = snap.Jurisdiction
		next.TaxCategory = snap.TaxCategory
		next.Pattern = snap.Pattern
		next.Posture = snap.Posture
		next.Decision = snap.Decision
		next.Version = cur.Version + 1
		now := s.clock().UTC()
		next.UpdatedAt = now

		from := cur.Version
		event := VersionEvent{
			ID:           uuid.NewString(),
			RuleID:       ruleID,
			FromVersion:  &from,
			ToVersion:    next.Version,
			ActionType:   ActionTypeRollback,
			ActorID:      actorID,
			Reason:       reason,
			PrevSnapshot: cur.snapshot(),
			NewSnapshot:  next.snapshot(),
			CreatedAt:    now,
		}
		if err := s.repo.UpdateRule(ctx, next, cur.Version, event); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	s.metrics.RuleTransition(string(ActionTypeRollback))
	return out, nil
}

func (s *Service) Get(ctx context.Context, orgID, ruleID string) (Rule, error) {
	return s.repo.GetRule(ctx, orgID, ruleID)
}

func (s *Service) List(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	if filter.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id is required", ErrValidation)
	}
	return s.repo.ListRules(ctx, filter.normalized())
}

func (s *Service) snapshotAt(ctx context.Context, ruleID string, version int) (*Rule, error) {
	events, err := s.repo.ListEvents(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.ToVersion == version && e.NewSnapshot != nil && e.ActionType != ActionTypeDisable {
			return e.NewSnapshot, nil
		}
	}
	return nil, fmt.Errorf("%w: rule %s has no ledger entry for version %d", ErrNotFound, ruleID, version)
}

func validateScopeTarget(scope Scope, clientID, officeID string) error {
	switch scope {
	case ScopeClient:
		if clientID == "" {
			return fmt.Errorf("%w: client scope requires client_id", ErrValidation)
		}
		if officeID != "" {
			return fmt.Errorf("%w: client scope forbids office_id", ErrValidation)
		}
	case ScopeOffice:
		if officeID == "" {
			return fmt.Errorf("%w: office scope requires office_id", ErrValidation)
		}
		if clientID != "" {
			return fmt.Errorf("%w: office scope forbids client_id", ErrValidation)
		}
	case ScopeFirm:
		if clientID != "" || officeID != "" {
			return fmt.Errorf("%w: firm scope forbids client_id and office_id", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrValidation, scope)
	}
	return nil
}

func applyPatch(r *Rule, p UpdatePatch) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Jurisdiction != nil {
		r.Jurisdiction = *p.Jurisdiction
	}
	if p.TaxCategory != nil {
		r.TaxCategory = *p.TaxCategory
	}
	if p.Pattern != nil {
		r.Pattern = *p.Pattern
	}
	if p.Posture != nil {
		r.Posture = *p.Posture
	}
	if p.Decision != nil {
		r.Decision = *p.Decision
	}
	if p.Rationale != nil {
		r.Rationale = *p.Rationale
	}
	if p.ReviewDue != nil {
		r.ReviewDue = p.ReviewDue
	}
}
