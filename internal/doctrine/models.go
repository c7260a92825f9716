package doctrine

import "time"

// Rule is a standing governance decision for an organization.
//
// Invariants:
// - org_id is required for tenancy isolation.
// - Scope targets are exclusive: client scope requires client_id and forbids
//   office_id, office scope the reverse, firm scope forbids both.
// - Version is a positive integer, strictly increasing per rule, never reused.
// - Every persisted field change increments Version and appends exactly one
//   VersionEvent. Rules are never physically deleted; disablement is a status.
type Rule struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	Name  string `json:"name" db:"name"`
	Scope Scope  `json:"scope" db:"scope"`

	// ClientID/OfficeID are set iff Scope is client/office respectively.
	ClientID string `json:"client_id,omitempty" db:"client_id"`
	OfficeID string `json:"office_id,omitempty" db:"office_id"`

	// Jurisdiction is a state/jurisdiction code; empty means "any".
	Jurisdiction string `json:"jurisdiction,omitempty" db:"jurisdiction"`
	// TaxCategory narrows the rule to a tax category; empty means "any".
	TaxCategory string `json:"tax_category,omitempty" db:"tax_category"`

	// Pattern is the structured activity predicate the rule requires.
	Pattern Pattern `json:"pattern,omitempty" db:"pattern"`

	// Posture is the firm's professional stance, free text.
	Posture  string   `json:"posture,omitempty" db:"posture"`
	Decision Decision `json:"decision,omitempty" db:"decision"`

	Status  Status `json:"status" db:"status"`
	Version int    `json:"version" db:"version"`

	// Rationale is internal-only and must not be exposed to client-facing surfaces.
	Rationale string     `json:"rationale,omitempty" db:"rationale"`
	ReviewDue *time.Time `json:"review_due,omitempty" db:"review_due"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Scope string

const (
	ScopeClient Scope = "client"
	ScopeOffice Scope = "office"
	ScopeFirm   Scope = "firm"
)

type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusRejected        Status = "rejected"
	StatusDisabled        Status = "disabled"
)

type Decision string

const (
	DecisionNoRegistration  Decision = "NO_REGISTRATION"
	DecisionNoAction        Decision = "NO_ACTION"
	DecisionRegister        Decision = "REGISTER"
	DecisionImmediateAction Decision = "IMMEDIATE_ACTION"
	DecisionMonitor         Decision = "MONITOR"
)

// Approval is one approver's recorded action on a pending rule.
// Invariant: at most one approve action per distinct approver per rule;
// a duplicate is an error, never silently ignored.
type Approval struct {
	ID     string `json:"id" db:"id"`
	RuleID string `json:"rule_id" db:"rule_id"`

	ApproverID   string         `json:"approver_id" db:"approver_id"`
	ApproverRole string         `json:"approver_role" db:"approver_role"`
	Action       ApprovalAction `json:"action" db:"action"`
	Comment      string         `json:"comment,omitempty" db:"comment"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ApprovalAction string

const (
	ApprovalActionApprove ApprovalAction = "approve"
	ApprovalActionReject  ApprovalAction = "reject"
)

// VersionEvent is an immutable, append-only record of one mutation to a rule.
//
// Invariants:
// - Events are never updated or deleted.
// - FromVersion is nil only for creation.
// - The event sequence for a rule, ordered by time, reconstructs every
//   historical version exactly (NewSnapshot of the event with ToVersion == v).
type VersionEvent struct {
	ID     string `json:"id" db:"id"`
	RuleID string `json:"rule_id" db:"rule_id"`

	FromVersion *int       `json:"from_version" db:"from_version"`
	ToVersion   int        `json:"to_version" db:"to_version"`
	ActionType  ActionType `json:"action_type" db:"action_type"`

	ActorID string `json:"actor_id" db:"actor_id"`
	Reason  string `json:"reason,omitempty" db:"reason"`

	// Full before/after snapshots. PrevSnapshot is nil for creation.
	PrevSnapshot *Rule `json:"prev_snapshot,omitempty" db:"prev_snapshot"`
	NewSnapshot  *Rule `json:"new_snapshot" db:"new_snapshot"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ActionType string

const (
	ActionTypeCreate   ActionType = "create"
	ActionTypeUpdate   ActionType = "update"
	ActionTypeRollback ActionType = "rollback"
	ActionTypeDisable  ActionType = "disable"
)

// ImpactMetrics is the per-rule cumulative impact projection.
// ClientsAffected counts distinct clients; re-processing the same client
// never double-counts (the repository keeps the distinct-id set).
type ImpactMetrics struct {
	RuleID string `json:"rule_id" db:"rule_id"`

	ClientsAffected int   `json:"clients_affected" db:"clients_affected"`
	MemosGenerated  int   `json:"memos_generated" db:"memos_generated"`
	RevenueCovered  int64 `json:"revenue_covered" db:"revenue_covered"`

	LastAppliedAt *time.Time `json:"last_applied_at,omitempty" db:"last_applied_at"`
}

// snapshot returns a value copy suitable for embedding in a VersionEvent.
// Pattern is copied so later in-place edits cannot leak into history.
func (r Rule) snapshot() *Rule {
	cp := r
	if r.Pattern != nil {
		cp.Pattern = make(Pattern, len(r.Pattern))
		for k, v := range r.Pattern {
			cp.Pattern[k] = v
		}
	}
	if r.ReviewDue != nil {
		due := *r.ReviewDue
		cp.ReviewDue = &due
	}
	return &cp
}

// Snapshot is the exported copy helper used by services building ledger events.
func (r Rule) Snapshot() *Rule { return r.snapshot() }
