package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// ErrIdempotencyConflict means the key was already claimed for the module.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore tracks Idempotency-Key headers per module in idempotency_keys.
type IdempotencyStore struct {
	db  Execer
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db Execer) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

// Claim records key for module. A second claim of the same pair fails with
// ErrIdempotencyConflict until the first is released or purged.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency: store not initialised")
	}
	if key == "" {
		return NewValidationError("Idempotency-Key", "required")
	}
	if module == "" {
		return errors.New("idempotency: module required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now().UTC())
	if IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	if err != nil {
		return fmt.Errorf("idempotency: claim %s/%s: %w", module, key, err)
	}
	return nil
}

// Release drops a claim so the client can retry after the guarded write failed.
func (s *IdempotencyStore) Release(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}

// Purge deletes claims older than retention and reports how many went.
func (s *IdempotencyStore) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if retention <= 0 {
		return 0, NewValidationError("retention", "must be positive")
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
