package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.err
}

func TestAuditRecordFillsActorAndTime(t *testing.T) {
	db := &fakeExecer{}
	logger := NewAuditLogger(db)
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return at }

	ctx := ContextWithPrincipal(context.Background(), Principal{ActorID: 77})
	err := logger.Record(ctx, AuditLog{Action: "close", Entity: "accounting_period", EntityID: "12"})
	require.NoError(t, err)

	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	assert.Equal(t, int64(77), args[0])
	assert.Equal(t, "close", args[1])
	assert.JSONEq(t, `{}`, string(args[4].([]byte)))
	assert.Equal(t, at, args[5])
}

func TestAuditRecordKeepsExplicitActor(t *testing.T) {
	db := &fakeExecer{}
	ctx := ContextWithPrincipal(context.Background(), Principal{ActorID: 77})
	err := NewAuditLogger(db).Record(ctx, AuditLog{
		ActorID: 5, Action: "create", Entity: "ledger_entry", EntityID: "9",
		Meta: map[string]any{"support_id": 3},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), db.calls[0].args[0])
	var meta map[string]any
	require.NoError(t, json.Unmarshal(db.calls[0].args[4].([]byte), &meta))
	assert.Equal(t, 3.0, meta["support_id"])
}

func TestAuditRecordRejectsIncompleteEntries(t *testing.T) {
	db := &fakeExecer{}
	logger := NewAuditLogger(db)

	err := logger.Record(context.Background(), AuditLog{Entity: "invoice", EntityID: "1"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "action", verr.Field)

	err = logger.Record(context.Background(), AuditLog{Action: "create", Entity: "invoice"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, db.calls)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}

func TestAuditRecordWrapsDatabaseError(t *testing.T) {
	boom := errors.New("connection reset")
	err := NewAuditLogger(&fakeExecer{err: boom}).Record(context.Background(),
		AuditLog{Action: "approve", Entity: "purchase_order", EntityID: "4"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "purchase_order 4")
}
