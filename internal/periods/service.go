package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Service manages period status and range checks.
type Service struct {
	repo   Repository
	audit  shared.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the period service. audit may be nil.
func NewService(repo Repository, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, year int) ([]Period, error) {
	return s.repo.List(ctx, year)
}

// Close marks a period closed. Closing a closed period is a no-op.
func (s *Service) Close(ctx context.Context, id int64) (Period, error) {
	return s.transition(ctx, id, StatusClosed, "PERIOD_CLOSE")
}

// Reopen marks a closed period open again.
func (s *Service) Reopen(ctx context.Context, id int64) (Period, error) {
	return s.transition(ctx, id, StatusOpen, "PERIOD_REOPEN")
}

func (s *Service) transition(ctx context.Context, id int64, target Status, action string) (Period, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if err := shared.ValidatePeriodTransition(string(current.Status), string(target)); err != nil {
		return Period{}, fmt.Errorf("%w: %s to %s", shared.ErrConflict, current.Status, target)
	}
	if current.Status == target {
		return current, nil
	}
	actor := shared.ActorID(ctx)
	updated, err := s.repo.UpdateStatus(ctx, id, target, actor, s.now())
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, action, updated)
	return updated, nil
}

// CheckRange loads the range bounds and candidates by id and validates them.
func (s *Service) CheckRange(ctx context.Context, fromID, toID int64, candidateIDs []int64) error {
	ids := append([]int64{fromID, toID}, candidateIDs...)
	loaded, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	rng := Range{From: loaded[fromID].YearMonth(), To: loaded[toID].YearMonth()}
	candidates := make([]shared.YearMonth, len(candidateIDs))
	for i, id := range candidateIDs {
		candidates[i] = loaded[id].YearMonth()
	}
	return ValidatePeriodRange(rng, candidates)
}

func (s *Service) recordAudit(ctx context.Context, action string, p Period) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   "period",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     map[string]any{"label": p.Label()},
		At:       s.now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("period audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
