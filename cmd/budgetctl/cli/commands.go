package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/fx"
	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/shared"
	"github.com/odyssey-erp/budgetguard/jobs"
)

type migrateCmd struct {
	env *Env
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending database migrations" }
func (*migrateCmd) Usage() string {
	return `budgetctl migrate

  Applies the embedded schema migrations to PG_DSN.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.env.Migrate(c.env.DSN); err != nil {
		return c.env.fail(c.Name(), err)
	}
	_, _ = fmt.Fprintln(c.env.Stdout, "migrations applied")
	return subcommands.ExitSuccess
}

type setRateCmd struct {
	env   *Env
	year  int
	rate  string
	actor int64
}

func (*setRateCmd) Name() string     { return "set-rate" }
func (*setRateCmd) Synopsis() string { return "configure the annual PEN per USD fallback rate" }
func (*setRateCmd) Usage() string {
	return `budgetctl set-rate -year <yyyy> -rate <decimal> [-actor <id>]

  Stores the annual rate and invalidates cached lookups.
`
}

func (c *setRateCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.year, "year", 0, "calendar year the rate applies to")
	f.StringVar(&c.rate, "rate", "", "PEN per USD, e.g. 3.75")
	f.Int64Var(&c.actor, "actor", 0, "user id recorded as the author")
}

func (c *setRateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.year < 1900 || c.year > 9999 {
		return c.env.fail(c.Name(), errors.New("-year is required"))
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.rate))
	if err != nil || !rate.IsPositive() {
		return c.env.fail(c.Name(), fmt.Errorf("-rate must be a positive decimal, got %q", c.rate))
	}
	svc, release, ok := c.env.connect(ctx, c.Name())
	if !ok {
		return subcommands.ExitFailure
	}
	defer release()

	stored, err := svc.Rates.UpsertAnnualRate(ctx, c.year, rate, c.actor)
	if err != nil {
		return c.env.fail(c.Name(), err)
	}
	return c.env.printJSON(c.Name(), stored)
}

type resolveRateCmd struct {
	env      *Env
	currency string
	months   string
	override string
}

func (*resolveRateCmd) Name() string     { return "resolve-rate" }
func (*resolveRateCmd) Synopsis() string { return "show the effective rate for a currency and periods" }
func (*resolveRateCmd) Usage() string {
	return `budgetctl resolve-rate -currency <code> -months <yyyy-mm[,yyyy-mm...]> [-override <decimal>]

  The first month is the reference period for the annual rate.
`
}

func (c *resolveRateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "currency", money.Local.String(), "ISO 4217 currency code")
	f.StringVar(&c.months, "months", "", "comma separated YYYY-MM list")
	f.StringVar(&c.override, "override", "", "manual rate")
}

func (c *resolveRateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	currency, err := money.ParseCurrency(c.currency)
	if err != nil {
		return c.env.fail(c.Name(), err)
	}
	periods, err := parseMonths(c.months)
	if err != nil {
		return c.env.fail(c.Name(), err)
	}
	var override *decimal.Decimal
	if c.override != "" {
		v, err := decimal.NewFromString(c.override)
		if err != nil {
			return c.env.fail(c.Name(), fmt.Errorf("invalid -override %q", c.override))
		}
		override = &v
	}
	svc, release, ok := c.env.connect(ctx, c.Name())
	if !ok {
		return subcommands.ExitFailure
	}
	defer release()

	res, err := svc.Resolver.ResolveEffectiveRate(ctx, currency, periods, override)
	if err != nil {
		return c.env.fail(c.Name(), err)
	}
	status := c.env.printJSON(c.Name(), res)
	if res.Source == fx.SourceError {
		return subcommands.ExitFailure
	}
	return status
}

func parseMonths(raw string) ([]shared.YearMonth, error) {
	var out []shared.YearMonth
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ym, err := shared.ParseYearMonth(part)
		if err != nil {
			return nil, err
		}
		out = append(out, ym)
	}
	if len(out) == 0 {
		return nil, errors.New("-months is required")
	}
	return out, nil
}

type consumptionCmd struct {
	env     *Env
	orderID int64
	exclude int64
}

func (*consumptionCmd) Name() string     { return "consumption" }
func (*consumptionCmd) Synopsis() string { return "recompute the consumption of a purchase order" }
func (*consumptionCmd) Usage() string {
	return `budgetctl consumption -order <id> [-exclude <invoice id>]
`
}

func (c *consumptionCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.orderID, "order", 0, "purchase order id")
	f.Int64Var(&c.exclude, "exclude", 0, "invoice id left out of the sum")
}

func (c *consumptionCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.orderID <= 0 {
		return c.env.fail(c.Name(), errors.New("-order is required"))
	}
	var exclude *int64
	if c.exclude > 0 {
		exclude = &c.exclude
	}
	svc, release, ok := c.env.connect(ctx, c.Name())
	if !ok {
		return subcommands.ExitFailure
	}
	defer release()

	consumed, err := svc.Consumption.CalcOrderConsumption(ctx, c.orderID, exclude)
	if err != nil {
		return c.env.fail(c.Name(), err)
	}
	return c.env.printJSON(c.Name(), map[string]any{"orderId": c.orderID, "consumed": consumed})
}

type reconcileCmd struct {
	env     *Env
	kinds   string
	enqueue bool
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "check every budget scope and order against its ceiling" }
func (*reconcileCmd) Usage() string {
	return `budgetctl reconcile [-kinds execution,consumption] [-enqueue]

  Runs the check inline and exits 10 when breaches are found, or hands it to
  the worker with -enqueue.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kinds, "kinds", "", "comma separated subset of execution,consumption")
	f.BoolVar(&c.enqueue, "enqueue", false, "enqueue for the worker instead of running inline")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var kinds []string
	for _, k := range strings.Split(c.kinds, ",") {
		k = strings.TrimSpace(k)
		switch k {
		case "":
		case jobs.KindExecution, jobs.KindConsumption:
			kinds = append(kinds, k)
		default:
			return c.env.fail(c.Name(), fmt.Errorf("unknown kind %q", k))
		}
	}
	svc, release, ok := c.env.connect(ctx, c.Name())
	if !ok {
		return subcommands.ExitFailure
	}
	defer release()

	if c.enqueue {
		info, err := svc.Enqueuer.EnqueueReconcile(ctx, kinds...)
		if err != nil {
			return c.env.fail(c.Name(), err)
		}
		_, _ = fmt.Fprintf(c.env.Stdout, "enqueued %s on %s\n", info.ID, info.Queue)
		return subcommands.ExitSuccess
	}
	report, err := svc.Reconciler.Run(ctx, kinds...)
	if err != nil {
		return c.env.fail(c.Name(), err)
	}
	if status := c.env.printJSON(c.Name(), report); status != subcommands.ExitSuccess {
		return status
	}
	if report.Breaches() > 0 {
		return subcommands.ExitStatus(10)
	}
	return subcommands.ExitSuccess
}
