package approval

import (
	"context"
	"fmt"
	"time"

	"compliance-platform/internal/doctrine"
	"compliance-platform/pkg/metrics"

	"github.com/google/uuid"
)

// Service coordinates the quorum-based approval workflow that gates activation
// of non-client-scoped rules.
//
// Quorum: office scope needs 1 distinct approver, firm scope needs 2.
// Client-scoped rules never enter this path (they auto-activate on creation).
//
// Concurrency: the approval write, the distinct-approver count and the
// activation decision all happen under the per-rule lock and inside one
// repository unit, so two concurrent approvals cannot both believe they are
// the one reaching quorum.
type Service struct {
	repo    doctrine.Repository
	locks   doctrine.Locker
	metrics *metrics.Collector
	clock   func() time.Time
}

func NewService(repo doctrine.Repository, locks doctrine.Locker, mc *metrics.Collector) *Service {
	if locks == nil {
		locks = doctrine.NewMemoryLocker()
	}
	return &Service{repo: repo, locks: locks, metrics: mc, clock: time.Now}
}

// Result reports the quorum arithmetic after an approval.
type Result struct {
	RuleID            string `json:"rule_id"`
	Activated         bool   `json:"activated"`
	ApprovalsReceived int    `json:"approvals_received"`
	ApprovalsRequired int    `json:"approvals_required"`
}

// PendingRule is a pending rule annotated with its quorum state.
type PendingRule struct {
	Rule               doctrine.Rule `json:"rule"`
	ApprovalsReceived  int           `json:"approvals_received"`
	ApprovalsRequired  int           `json:"approvals_required"`
	NeedsMoreApprovals bool          `json:"needs_more_approvals"`
}

// Approve records an approve action and activates the rule if the distinct
// approver count reaches quorum. A repeat approval by the same approver fails
// with ErrDuplicateApproval; approving a rule that is not pending fails with
// ErrState (an already-active rule accepts no further approvals).
func (s *Service) Approve(ctx context.Context, orgID, ruleID, approverID, role, comment string) (Result, error) {
	if approverID == "" {
		return Result{}, doctrine.ErrUnauthorized
	}

	var out Result
	err := s.locks.WithRuleLock(ctx, ruleID, func(ctx context.Context) error {
		rule, err := s.repo.GetRule(ctx, orgID, ruleID)
		if err != nil {
			return err
		}
		if rule.Status != doctrine.StatusPendingApproval {
			return fmt.Errorf("%w: rule %s is %s, not pending_approval", doctrine.ErrState, ruleID, rule.Status)
		}

		existing, err := s.repo.ListApprovals(ctx, ruleID)
		if err != nil {
			return err
		}
		distinct := distinctApprovers(existing)
		if _, dup := distinct[approverID]; dup {
			return fmt.Errorf("%w: approver %s already approved rule %s", doctrine.ErrDuplicateApproval, approverID, ruleID)
		}

		required := requiredApprovals(rule.Scope)
		received := len(distinct) + 1
		now := s.clock().UTC()

		approval := doctrine.Approval{
			ID:           uuid.NewString(),
			RuleID:       ruleID,
			ApproverID:   approverID,
			ApproverRole: role,
			Action:       doctrine.ApprovalActionApprove,
			Comment:      comment,
			CreatedAt:    now,
		}

		var statusTo doctrine.Status
		var event *doctrine.VersionEvent
		if received >= required {
			statusTo = doctrine.StatusActive
			next := rule
			next.Status = doctrine.StatusActive
			next.UpdatedAt = now
			from := rule.Version
			// Activation is a status-only change: same version, still ledgered.
			event = &doctrine.VersionEvent{
				ID:           uuid.NewString(),
				RuleID:       ruleID,
				FromVersion:  &from,
				ToVersion:    rule.Version,
				ActionType:   doctrine.ActionTypeUpdate,
				ActorID:      approverID,
				Reason:       "approval quorum reached",
				PrevSnapshot: rule.Snapshot(),
				NewSnapshot:  next.Snapshot(),
				CreatedAt:    now,
			}
		}

		if err := s.repo.AddApproval(ctx, approval, rule.Version, statusTo, event); err != nil {
			return err
		}

		out = Result{
			RuleID:            ruleID,
			Activated:         statusTo == doctrine.StatusActive,
			ApprovalsReceived: received,
			ApprovalsRequired: required,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.ApprovalRecorded(string(doctrine.ApprovalActionApprove))
	if out.Activated {
		s.metrics.RuleActivated()
	}
	return out, nil
}

// Reject records a reject action and finalizes the rule as rejected.
// A single rejection is final; there is no rejection quorum. Like Approve,
// it is valid only while the rule is pending, so a rejection can never race
// past an activation and undo it.
func (s *Service) Reject(ctx context.Context, orgID, ruleID, approverID, role, comment string) (Result, error) {
	if approverID == "" {
		return Result{}, doctrine.ErrUnauthorized
	}

	var out Result
	err := s.locks.WithRuleLock(ctx, ruleID, func(ctx context.Context) error {
		rule, err := s.repo.GetRule(ctx, orgID, ruleID)
		if err != nil {
			return err
		}
		if rule.Status != doctrine.StatusPendingApproval {
			return fmt.Errorf("%w: rule %s is %s, not pending_approval", doctrine.ErrState, ruleID, rule.Status)
		}

		now := s.clock().UTC()
		rejection := doctrine.Approval{
			ID:           uuid.NewString(),
			RuleID:       ruleID,
			ApproverID:   approverID,
			ApproverRole: role,
			Action:       doctrine.ApprovalActionReject,
			Comment:      comment,
			CreatedAt:    now,
		}

		next := rule
		next.Status = doctrine.StatusRejected
		next.UpdatedAt = now
		from := rule.Version
		event := &doctrine.VersionEvent{
			ID:           uuid.NewString(),
			RuleID:       ruleID,
			FromVersion:  &from,
			ToVersion:    rule.Version,
			ActionType:   doctrine.ActionTypeUpdate,
			ActorID:      approverID,
			Reason:       "rejected by approver",
			PrevSnapshot: rule.Snapshot(),
			NewSnapshot:  next.Snapshot(),
			CreatedAt:    now,
		}

		if err := s.repo.AddApproval(ctx, rejection, rule.Version, doctrine.StatusRejected, event); err != nil {
			return err
		}

		existing, err := s.repo.ListApprovals(ctx, ruleID)
		if err != nil {
			return err
		}
		out = Result{
			RuleID:            ruleID,
			Activated:         false,
			ApprovalsReceived: len(distinctApprovers(existing)),
			ApprovalsRequired: requiredApprovals(rule.Scope),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.ApprovalRecorded(string(doctrine.ApprovalActionReject))
	return out, nil
}

// ListPending returns pending rules annotated with their quorum state.
func (s *Service) ListPending(ctx context.Context, filter doctrine.RuleFilter) ([]PendingRule, error) {
	filter.Status = doctrine.StatusPendingApproval
	rules, err := s.repo.ListRules(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]PendingRule, 0, len(rules))
	for _, rule := range rules {
		approvals, err := s.repo.ListApprovals(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
		received := len(distinctApprovers(approvals))
		required := requiredApprovals(rule.Scope)
		out = append(out, PendingRule{
			Rule:               rule,
			ApprovalsReceived:  received,
			ApprovalsRequired:  required,
			NeedsMoreApprovals: received < required,
		})
	}
	return out, nil
}

// Status is the read-only projection of the quorum arithmetic for one rule.
func (s *Service) Status(ctx context.Context, orgID, ruleID string) (Result, error) {
	rule, err := s.repo.GetRule(ctx, orgID, ruleID)
	if err != nil {
		return Result{}, err
	}
	approvals, err := s.repo.ListApprovals(ctx, ruleID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		RuleID:            ruleID,
		Activated:         rule.Status == doctrine.StatusActive,
		ApprovalsReceived: len(distinctApprovers(approvals)),
		ApprovalsRequired: requiredApprovals(rule.Scope),
	}, nil
}

func distinctApprovers(approvals []doctrine.Approval) map[string]struct{} {
	out := make(map[string]struct{})
	for _, a := range approvals {
		if a.Action == doctrine.ApprovalActionApprove {
			out[a.ApproverID] = struct{}{}
		}
	}
	return out
}

func requiredApprovals(scope doctrine.Scope) int {
	switch scope {
	case doctrine.ScopeFirm:
		return 2
	case doctrine.ScopeOffice:
		return 1
	default:
		// Client-scoped rules auto-activate and never reach quorum counting.
		return 0
	}
}
