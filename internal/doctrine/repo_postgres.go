package doctrine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compliance-platform/pkg/utils"
)

// PostgresRepo persists rules, approvals, version events and impact metrics.
//
// It assumes the following tables exist:
// - doctrine_rules
// - doctrine_rule_events (immutable append-only)
// - doctrine_approvals (immutable append-only)
// - doctrine_impact_metrics (projection)
// - doctrine_impact_clients (distinct-client set, UNIQUE (rule_id, client_id))
//
// Snapshots and patterns are stored as JSONB.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) CreateRule(ctx context.Context, rule Rule, event VersionEvent, metrics ImpactMetrics) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertRule(ctx, tx, rule); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		const q = `
INSERT INTO doctrine_impact_metrics (rule_id, clients_affected, memos_generated, revenue_covered, last_applied_at)
VALUES ($1, $2, $3, $4, NULL)
`
		_, err := tx.ExecContext(ctx, q, metrics.RuleID, metrics.ClientsAffected, metrics.MemosGenerated, metrics.RevenueCovered)
		return err
	})
}

func (r *PostgresRepo) UpdateRule(ctx context.Context, rule Rule, expectedVersion int, event VersionEvent) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := updateRuleCAS(ctx, tx, rule, expectedVersion); err != nil {
			return err
		}
		return insertEvent(ctx, tx, event)
	})
}

func (r *PostgresRepo) AddApproval(ctx context.Context, approval Approval, expectedVersion int, statusTo Status, event *VersionEvent) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the rule row to serialize concurrent approvals per rule.
		const lockQ = `SELECT version FROM doctrine_rules WHERE id = $1 FOR UPDATE`
		var version int
		if err := tx.QueryRowContext(ctx, lockQ, approval.RuleID).Scan(&version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: rule %s", ErrNotFound, approval.RuleID)
			}
			return err
		}
		if version != expectedVersion {
			return fmt.Errorf("%w: rule %s expected version %d, found %d", ErrConflict, approval.RuleID, expectedVersion, version)
		}

		const q = `
INSERT INTO doctrine_approvals (id, rule_id, approver_id, approver_role, action, comment, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
		if _, err := tx.ExecContext(ctx, q,
			approval.ID, approval.RuleID, approval.ApproverID, approval.ApproverRole,
			approval.Action, approval.Comment, approval.CreatedAt,
		); err != nil {
			return err
		}

		if statusTo != "" {
			const upd = `UPDATE doctrine_rules SET status = $1, updated_at = $2 WHERE id = $3`
			if _, err := tx.ExecContext(ctx, upd, statusTo, approval.CreatedAt, approval.RuleID); err != nil {
				return err
			}
			if event != nil {
				if err := insertEvent(ctx, tx, *event); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *PostgresRepo) GetRule(ctx context.Context, orgID, ruleID string) (Rule, error) {
	const q = ruleSelect + ` WHERE org_id = $1 AND id = $2`
	row := r.db.QueryRowContext(ctx, q, orgID, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rule{}, fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
		}
		return Rule{}, err
	}
	return rule, nil
}

func (r *PostgresRepo) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	f := filter.normalized()

	q := ruleSelect + ` WHERE org_id = $1`
	args := []any{f.OrgID}
	add := func(clause, val string) {
		args = append(args, val)
		q += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if f.ClientID != "" {
		add("client_id", f.ClientID)
	}
	if f.Scope != "" {
		add("scope", string(f.Scope))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Jurisdiction != "" {
		add("jurisdiction", f.Jurisdiction)
	}
	if f.TaxCategory != "" {
		add("tax_category", f.TaxCategory)
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListApprovals(ctx context.Context, ruleID string) ([]Approval, error) {
	const q = `
SELECT id, rule_id, approver_id, approver_role, action, comment, created_at
FROM doctrine_approvals
WHERE rule_id = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.RuleID, &a.ApproverID, &a.ApproverRole, &a.Action, &a.Comment, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListEvents(ctx context.Context, ruleID string) ([]VersionEvent, error) {
	const q = `
SELECT id, rule_id, from_version, to_version, action_type, actor_id, reason, prev_snapshot, new_snapshot, created_at
FROM doctrine_rule_events
WHERE rule_id = $1
ORDER BY created_at DESC, to_version DESC
`
	rows, err := r.db.QueryContext(ctx, q, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VersionEvent
	for rows.Next() {
		var (
			e    VersionEvent
			from sql.NullInt64
			prev []byte
			next []byte
		)
		if err := rows.Scan(&e.ID, &e.RuleID, &from, &e.ToVersion, &e.ActionType, &e.ActorID, &e.Reason, &prev, &next, &e.CreatedAt); err != nil {
			return nil, err
		}
		if from.Valid {
			v := int(from.Int64)
			e.FromVersion = &v
		}
		if len(prev) > 0 {
			e.PrevSnapshot = &Rule{}
			if err := json.Unmarshal(prev, e.PrevSnapshot); err != nil {
				return nil, err
			}
		}
		if len(next) > 0 {
			e.NewSnapshot = &Rule{}
			if err := json.Unmarshal(next, e.NewSnapshot); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetMetrics(ctx context.Context, ruleID string) (ImpactMetrics, error) {
	const q = `
SELECT rule_id, clients_affected, memos_generated, revenue_covered, last_applied_at
FROM doctrine_impact_metrics
WHERE rule_id = $1
`
	var (
		m    ImpactMetrics
		last sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, q, ruleID).Scan(&m.RuleID, &m.ClientsAffected, &m.MemosGenerated, &m.RevenueCovered, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ImpactMetrics{}, fmt.Errorf("%w: metrics for rule %s", ErrNotFound, ruleID)
		}
		return ImpactMetrics{}, err
	}
	if last.Valid {
		t := last.Time
		m.LastAppliedAt = &t
	}
	return m, nil
}

func (r *PostgresRepo) AccrueImpact(ctx context.Context, ruleID string, clientIDs []string, revenue int64, at time.Time) (ImpactMetrics, error) {
	var out ImpactMetrics
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var newClients int64
		const ins = `
INSERT INTO doctrine_impact_clients (rule_id, client_id)
VALUES ($1, $2)
ON CONFLICT (rule_id, client_id) DO NOTHING
`
		for _, id := range clientIDs {
			res, err := tx.ExecContext(ctx, ins, ruleID, id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			newClients += n
		}

		const upd = `
UPDATE doctrine_impact_metrics
SET clients_affected = (SELECT COUNT(*) FROM doctrine_impact_clients WHERE rule_id = $1),
    memos_generated = memos_generated + 1,
    revenue_covered = revenue_covered + $2,
    last_applied_at = $3
WHERE rule_id = $1
RETURNING rule_id, clients_affected, memos_generated, revenue_covered, last_applied_at
`
		var last sql.NullTime
		if err := tx.QueryRowContext(ctx, upd, ruleID, revenue*newClients, at).Scan(
			&out.RuleID, &out.ClientsAffected, &out.MemosGenerated, &out.RevenueCovered, &last,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: metrics for rule %s", ErrNotFound, ruleID)
			}
			return err
		}
		if last.Valid {
			t := last.Time
			out.LastAppliedAt = &t
		}
		return nil
	})
	return out, err
}

const ruleSelect = `
SELECT id, org_id, name, scope, client_id, office_id, jurisdiction, tax_category,
       pattern, posture, decision, status, version, rationale, review_due,
       created_by, created_at, updated_at
FROM doctrine_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (Rule, error) {
	var (
		r       Rule
		pattern []byte
		due     sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &r.OrgID, &r.Name, &r.Scope, &r.ClientID, &r.OfficeID,
		&r.Jurisdiction, &r.TaxCategory, &pattern, &r.Posture, &r.Decision,
		&r.Status, &r.Version, &r.Rationale, &due,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return Rule{}, err
	}
	if len(pattern) > 0 {
		if err := json.Unmarshal(pattern, &r.Pattern); err != nil {
			return Rule{}, err
		}
	}
	if due.Valid {
		t := due.Time
		r.ReviewDue = &t
	}
	return r, nil
}

func insertRule(ctx context.Context, tx *sql.Tx, r Rule) error {
	pattern, err := marshalPattern(r.Pattern)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO doctrine_rules (
  id, org_id, name, scope, client_id, office_id, jurisdiction, tax_category,
  pattern, posture, decision, status, version, rationale, review_due,
  created_by, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
`
	_, err = tx.ExecContext(ctx, q,
		r.ID, r.OrgID, r.Name, r.Scope, r.ClientID, r.OfficeID, r.Jurisdiction, r.TaxCategory,
		pattern, r.Posture, r.Decision, r.Status, r.Version, r.Rationale, nullTime(r.ReviewDue),
		r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func updateRuleCAS(ctx context.Context, tx *sql.Tx, r Rule, expectedVersion int) error {
	pattern, err := marshalPattern(r.Pattern)
	if err != nil {
		return err
	}
	const q = `
UPDATE doctrine_rules
SET name = $1, jurisdiction = $2, tax_category = $3, pattern = $4, posture = $5,
    decision = $6, status = $7, version = $8, rationale = $9, review_due = $10,
    updated_at = $11
WHERE id = $12 AND version = $13
`
	res, err := tx.ExecContext(ctx, q,
		r.Name, r.Jurisdiction, r.TaxCategory, pattern, r.Posture,
		r.Decision, r.Status, r.Version, r.Rationale, nullTime(r.ReviewDue),
		r.UpdatedAt, r.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing rule from a stale version.
		const exists = `SELECT 1 FROM doctrine_rules WHERE id = $1`
		var one int
		if err := tx.QueryRowContext(ctx, exists, r.ID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: rule %s", ErrNotFound, r.ID)
			}
			return err
		}
		return fmt.Errorf("%w: rule %s expected version %d", ErrConflict, r.ID, expectedVersion)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e VersionEvent) error {
	prev, err := marshalSnapshot(e.PrevSnapshot)
	if err != nil {
		return err
	}
	next, err := marshalSnapshot(e.NewSnapshot)
	if err != nil {
		return err
	}
	var from sql.NullInt64
	if e.FromVersion != nil {
		from = sql.NullInt64{Int64: int64(*e.FromVersion), Valid: true}
	}
	const q = `
INSERT INTO doctrine_rule_events (
  id, rule_id, from_version, to_version, action_type, actor_id, reason,
  prev_snapshot, new_snapshot, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err = tx.ExecContext(ctx, q,
		e.ID, e.RuleID, from, e.ToVersion, e.ActionType, e.ActorID, e.Reason,
		prev, next, e.CreatedAt,
	)
	return err
}

func marshalPattern(p Pattern) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func marshalSnapshot(r *Rule) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
