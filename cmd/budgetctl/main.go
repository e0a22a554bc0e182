package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/budgetguard/cmd/budgetctl/cli"
	"github.com/odyssey-erp/budgetguard/internal/app"
	"github.com/odyssey-erp/budgetguard/internal/platform/db"
	"github.com/odyssey-erp/budgetguard/jobs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := &cli.Env{
		DSN:     cfg.PGDSN,
		Migrate: db.Migrate,
		Connect: func(ctx context.Context) (*cli.Services, error) {
			return connect(ctx, cfg, logger)
		},
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range cli.Commands(env) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(ctx)))
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*cli.Services, error) {
	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	reconciler := jobs.NewReconcileJob(jobs.NewPgReconcileStore(rt.Pool), rt.Notifier, logger, rt.Metrics.Jobs())
	return &cli.Services{
		Rates:       rt.Rates,
		Resolver:    rt.Resolver,
		Consumption: rt.Tracker,
		Reconciler:  reconciler,
		Enqueuer:    rt.Jobs,
		Close:       rt.Close,
	}, nil
}
