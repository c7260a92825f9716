package ledger

import (
	"context"
	"errors"
	"fmt"

	"compliance-platform/internal/doctrine"
)

// Service reads the append-only version ledger.
//
// IMPORTANT:
// - Events are written only through the doctrine repository's combined
//   mutation methods, so a rule change and its event commit together.
// - No component may change rule fields without producing an event;
//   this service therefore never exposes a write primitive of its own.
type Service struct {
	repo doctrine.Repository
}

func NewService(repo doctrine.Repository) *Service { return &Service{repo: repo} }

// History returns the rule's version events newest-first.
func (s *Service) History(ctx context.Context, orgID, ruleID string) ([]doctrine.VersionEvent, error) {
	if s.repo == nil {
		return nil, errors.New("ledger: repository not configured")
	}
	// Tenancy check before exposing history.
	if _, err := s.repo.GetRule(ctx, orgID, ruleID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, ruleID)
}

// Reconstruct returns the rule exactly as it was at the given version: the
// NewSnapshot of the event whose ToVersion matches. Disable events share the
// version they left unchanged and are skipped so content versions win.
func (s *Service) Reconstruct(ctx context.Context, orgID, ruleID string, version int) (doctrine.Rule, error) {
	events, err := s.History(ctx, orgID, ruleID)
	if err != nil {
		return doctrine.Rule{}, err
	}
	for _, e := range events {
		if e.ToVersion != version || e.NewSnapshot == nil {
			continue
		}
		if e.ActionType == doctrine.ActionTypeDisable {
			continue
		}
		return *e.NewSnapshot, nil
	}
	return doctrine.Rule{}, fmt.Errorf("%w: rule %s has no version %d", doctrine.ErrNotFound, ruleID, version)
}
