// Package cli implements the budgetctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/fx"
	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
	"github.com/odyssey-erp/budgetguard/jobs"
)

// RateWriter stores annual rates. *fx.CachedRates satisfies it.
type RateWriter interface {
	UpsertAnnualRate(ctx context.Context, year int, rate decimal.Decimal, actorID int64) (fx.AnnualRate, error)
}

// RateResolver is satisfied by *fx.Resolver.
type RateResolver interface {
	ResolveEffectiveRate(ctx context.Context, currency money.Currency, periods []shared.YearMonth, override *decimal.Decimal) (fx.Resolution, error)
}

// ConsumptionReader is satisfied by *procurement.ConsumptionTracker.
type ConsumptionReader interface {
	CalcOrderConsumption(ctx context.Context, orderID int64, excludeDocumentID *int64) (decimal.Decimal, error)
}

// Reconciler is satisfied by *jobs.ReconcileJob.
type Reconciler interface {
	Run(ctx context.Context, kinds ...string) (jobs.ReconcileReport, error)
}

// ReconcileEnqueuer is satisfied by *jobs.Client.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, kinds ...string) (*asynq.TaskInfo, error)
}

// Services are the connected dependencies of the data commands.
type Services struct {
	Rates       RateWriter
	Resolver    RateResolver
	Consumption ConsumptionReader
	Reconciler  Reconciler
	Enqueuer    ReconcileEnqueuer
	Close       func() error
}

// Env carries what every command needs. Connect is only called by commands
// that touch storage, so migrate works against an empty database.
type Env struct {
	Stdout  io.Writer
	Stderr  io.Writer
	DSN     string
	Migrate func(dsn string) error
	Connect func(ctx context.Context) (*Services, error)
}

// Commands lists the registered budgetctl commands.
func Commands(env *Env) []subcommands.Command {
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	return []subcommands.Command{
		&migrateCmd{env: env},
		&setRateCmd{env: env},
		&resolveRateCmd{env: env},
		&consumptionCmd{env: env},
		&reconcileCmd{env: env},
	}
}

func (e *Env) connect(ctx context.Context, name string) (*Services, func(), bool) {
	svc, err := e.Connect(ctx)
	if err != nil {
		e.fail(name, err)
		return nil, nil, false
	}
	release := func() {
		if svc.Close == nil {
			return
		}
		if err := svc.Close(); err != nil {
			e.fail(name, fmt.Errorf("close: %w", err))
		}
	}
	return svc, release, true
}

func (e *Env) fail(name string, err error) subcommands.ExitStatus {
	_, _ = fmt.Fprintf(e.Stderr, "%s: %v\n", name, err)
	return subcommands.ExitFailure
}

func (e *Env) printJSON(name string, v any) subcommands.ExitStatus {
	enc := json.NewEncoder(e.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return e.fail(name, fmt.Errorf("encode json: %w", err))
	}
	return subcommands.ExitSuccess
}
