package doctrine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests and local development.
// It is not intended for production use.
type MemoryRepo struct {
	mu        sync.Mutex
	rules     map[string]Rule
	approvals map[string][]Approval
	events    map[string][]VersionEvent
	metrics   map[string]ImpactMetrics
	// impacted tracks the distinct client-id set per rule.
	impacted map[string]map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		rules:     make(map[string]Rule),
		approvals: make(map[string][]Approval),
		events:    make(map[string][]VersionEvent),
		metrics:   make(map[string]ImpactMetrics),
		impacted:  make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRepo) CreateRule(ctx context.Context, rule Rule, event VersionEvent, metrics ImpactMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: rule %s already exists", ErrConflict, rule.ID)
	}
	r.rules[rule.ID] = rule
	r.events[rule.ID] = append(r.events[rule.ID], event)
	r.metrics[rule.ID] = metrics
	r.impacted[rule.ID] = make(map[string]struct{})
	return nil
}

func (r *MemoryRepo) UpdateRule(ctx context.Context, rule Rule, expectedVersion int, event VersionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, exists := r.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: rule %s", ErrNotFound, rule.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: rule %s expected version %d, found %d", ErrConflict, rule.ID, expectedVersion, cur.Version)
	}
	r.rules[rule.ID] = rule
	r.events[rule.ID] = append(r.events[rule.ID], event)
	return nil
}

func (r *MemoryRepo) AddApproval(ctx context.Context, approval Approval, expectedVersion int, statusTo Status, event *VersionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, exists := r.rules[approval.RuleID]
	if !exists {
		return fmt.Errorf("%w: rule %s", ErrNotFound, approval.RuleID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: rule %s expected version %d, found %d", ErrConflict, approval.RuleID, expectedVersion, cur.Version)
	}
	r.approvals[approval.RuleID] = append(r.approvals[approval.RuleID], approval)
	if statusTo != "" {
		cur.Status = statusTo
		cur.UpdatedAt = approval.CreatedAt
		r.rules[approval.RuleID] = cur
		if event != nil {
			r.events[approval.RuleID] = append(r.events[approval.RuleID], *event)
		}
	}
	return nil
}

func (r *MemoryRepo) GetRule(ctx context.Context, orgID, ruleID string) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, exists := r.rules[ruleID]
	if !exists || rule.OrgID != orgID {
		return Rule{}, fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
	}
	return rule, nil
}

func (r *MemoryRepo) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := filter.normalized()

	var out []Rule
	for _, rule := range r.rules {
		if f.matches(rule) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListApprovals(ctx context.Context, ruleID string) ([]Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Approval, len(r.approvals[ruleID]))
	copy(out, r.approvals[ruleID])
	return out, nil
}

func (r *MemoryRepo) ListEvents(ctx context.Context, ruleID string) ([]VersionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[ruleID]
	out := make([]VersionEvent, len(evs))
	copy(out, evs)
	// newest-first
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ToVersion > out[j].ToVersion
	})
	return out, nil
}

func (r *MemoryRepo) GetMetrics(ctx context.Context, ruleID string) (ImpactMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.metrics[ruleID]
	if !exists {
		return ImpactMetrics{}, fmt.Errorf("%w: metrics for rule %s", ErrNotFound, ruleID)
	}
	return m, nil
}

func (r *MemoryRepo) AccrueImpact(ctx context.Context, ruleID string, clientIDs []string, revenue int64, at time.Time) (ImpactMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.metrics[ruleID]
	if !exists {
		return ImpactMetrics{}, fmt.Errorf("%w: metrics for rule %s", ErrNotFound, ruleID)
	}
	seen := r.impacted[ruleID]
	if seen == nil {
		seen = make(map[string]struct{})
		r.impacted[ruleID] = seen
	}

	for _, id := range clientIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		m.RevenueCovered += revenue
	}
	m.ClientsAffected = len(seen)
	m.MemosGenerated++
	t := at
	m.LastAppliedAt = &t
	r.metrics[ruleID] = m
	return m, nil
}
