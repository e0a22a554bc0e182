package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// Service manages budget versions and allocation batches.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the budget service. audit may be nil.
func NewService(repo RepositoryPort, audit shared.AuditPort, logger *slog.Logger) *Service {
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

func (s *Service) ListVersions(ctx context.Context) ([]Version, error) {
	return s.repo.ListVersions(ctx)
}

// CreateVersion adds a version, optionally making it the active one.
func (s *Service) CreateVersion(ctx context.Context, name string, activate bool) (Version, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Version{}, shared.NewValidationError("name", "is required")
	}
	var created Version
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.CreateVersion(ctx, name, VersionArchived)
		if err != nil {
			return err
		}
		if activate {
			if err := tx.ArchiveActiveExcept(ctx, v.ID); err != nil {
				return err
			}
			if err := tx.SetVersionStatus(ctx, v.ID, VersionActive); err != nil {
				return err
			}
			v.Status = VersionActive
		}
		created = v
		return nil
	})
	if err != nil {
		return Version{}, err
	}
	s.recordAudit(ctx, "BUDGET_VERSION_CREATE", "budget_version", created.ID, map[string]any{"name": created.Name, "status": created.Status})
	return created, nil
}

// ActivateVersion makes id the only ACTIVE version. The previous active version is archived in the same transaction.
func (s *Service) ActivateVersion(ctx context.Context, id int64) (Version, error) {
	var activated Version
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVersion(ctx, id, true)
		if err != nil {
			return err
		}
		if v.Status == VersionActive {
			activated = v
			return nil
		}
		if err := tx.ArchiveActiveExcept(ctx, id); err != nil {
			return err
		}
		if err := tx.SetVersionStatus(ctx, id, VersionActive); err != nil {
			return err
		}
		v.Status = VersionActive
		activated = v
		return nil
	})
	if err != nil {
		return Version{}, err
	}
	s.recordAudit(ctx, "BUDGET_VERSION_ACTIVATE", "budget_version", id, map[string]any{"name": activated.Name})
	return activated, nil
}

// ListAllocations returns the rows of one (version, period). A nil version means the active one.
func (s *Service) ListAllocations(ctx context.Context, versionID *int64, periodID int64) ([]Allocation, error) {
	vid, err := s.versionOrActive(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, vid, periodID)
}

func (s *Service) versionOrActive(ctx context.Context, versionID *int64) (int64, error) {
	if versionID != nil {
		return *versionID, nil
	}
	v, ok, err := s.repo.ActiveVersion(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, shared.NewValidationError("versionId", "no active budget version")
	}
	return v.ID, nil
}

type itemKey struct {
	support    int64
	costCenter int64
}

// validateBatchShape checks what can be checked without storage: amounts,
// a single shape for the whole batch, and no repeated keys.
func validateBatchShape(in BatchInput) error {
	if in.PeriodID <= 0 {
		return shared.NewValidationError("periodId", "is required")
	}
	if len(in.Items) == 0 {
		return shared.NewValidationError("items", "at least one item is required")
	}
	detailed := in.Items[0].CostCenterID != nil
	seen := make(map[itemKey]int, len(in.Items))
	for i, item := range in.Items {
		if item.SupportID <= 0 {
			return shared.NewValidationError(fmt.Sprintf("items[%d].supportId", i), "is required")
		}
		if item.CostCenterID != nil && *item.CostCenterID <= 0 {
			return shared.NewValidationError(fmt.Sprintf("items[%d].costCenterId", i), "must be a positive id")
		}
		if (item.CostCenterID != nil) != detailed {
			return shared.NewValidationError(fmt.Sprintf("items[%d].costCenterId", i),
				"simple and per-cost-center allocations cannot be mixed in one batch")
		}
		if item.AmountLocal.IsNegative() {
			return shared.NewValidationError(fmt.Sprintf("items[%d].amountLocal", i), "must not be negative")
		}
		if !money.Local.Fits(item.AmountLocal) {
			return shared.NewValidationError(fmt.Sprintf("items[%d].amountLocal", i), "at most %d decimals allowed", money.Local.Fraction())
		}
		key := itemKey{support: item.SupportID}
		if item.CostCenterID != nil {
			key.costCenter = *item.CostCenterID
		}
		if first, dup := seen[key]; dup {
			return shared.NewValidationError(fmt.Sprintf("items[%d]", i), "duplicates items[%d]", first)
		}
		seen[key] = i
	}
	return nil
}

// UpsertBudgetBatch writes every item of the batch or none. Re-sending the same
// batch leaves storage unchanged.
func (s *Service) UpsertBudgetBatch(ctx context.Context, in BatchInput) ([]Allocation, error) {
	if err := validateBatchShape(in); err != nil {
		return nil, err
	}

	var saved []Allocation
	var version Version
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		version, err = s.resolveVersion(ctx, tx, in.VersionID)
		if err != nil {
			return err
		}

		period, err := tx.LockPeriod(ctx, in.PeriodID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NewValidationError("periodId", "period %d does not exist", in.PeriodID)
			}
			return err
		}
		if err := period.EnsureOpen(); err != nil {
			return err
		}

		if err := checkReferences(ctx, tx, in.Items); err != nil {
			return err
		}

		saved = make([]Allocation, 0, len(in.Items))
		for _, item := range in.Items {
			a, err := tx.UpsertAllocation(ctx, Allocation{
				VersionID:    version.ID,
				PeriodID:     in.PeriodID,
				SupportID:    item.SupportID,
				CostCenterID: item.CostCenterID,
				AmountLocal:  item.AmountLocal,
			})
			if err != nil {
				return err
			}
			saved = append(saved, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "BUDGET_BATCH_UPSERT", "budget_allocation", in.PeriodID, map[string]any{
		"versionId": version.ID,
		"periodId":  in.PeriodID,
		"items":     len(saved),
	})
	return saved, nil
}

func (s *Service) resolveVersion(ctx context.Context, tx TxRepository, id *int64) (Version, error) {
	if id == nil {
		v, ok, err := tx.ActiveVersion(ctx)
		if err != nil {
			return Version{}, err
		}
		if !ok {
			return Version{}, shared.NewValidationError("versionId", "no active budget version")
		}
		return v, nil
	}
	v, err := tx.GetVersion(ctx, *id, false)
	if errors.Is(err, shared.ErrNotFound) {
		return Version{}, shared.NewValidationError("versionId", "budget version %d does not exist", *id)
	}
	return v, err
}

func checkReferences(ctx context.Context, tx TxRepository, items []BatchItem) error {
	supportIDs := make([]int64, 0, len(items))
	var costCenterIDs []int64
	for _, item := range items {
		supportIDs = append(supportIDs, item.SupportID)
		if item.CostCenterID != nil {
			costCenterIDs = append(costCenterIDs, *item.CostCenterID)
		}
	}
	supports, err := tx.ExistingSupports(ctx, supportIDs)
	if err != nil {
		return err
	}
	costCenters, err := tx.ExistingCostCenters(ctx, costCenterIDs)
	if err != nil {
		return err
	}
	for i, item := range items {
		if !supports[item.SupportID] {
			return shared.NewValidationError(fmt.Sprintf("items[%d].supportId", i), "support %d does not exist", item.SupportID)
		}
		if item.CostCenterID != nil && !costCenters[*item.CostCenterID] {
			return shared.NewValidationError(fmt.Sprintf("items[%d].costCenterId", i), "cost center %d does not exist", *item.CostCenterID)
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("budget audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
