package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// Route binds a task type to its handler.
type Route struct {
	Type    string
	Handler asynq.HandlerFunc
}

// Schedule enqueues Task on a cron Spec evaluated in UTC.
type Schedule struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerOptions configures NewWorker.
type WorkerOptions struct {
	Redis     asynq.RedisClientOpt
	Logger    *slog.Logger
	Routes    []Route
	Schedules []Schedule
	// Concurrency defaults to 5.
	Concurrency int
}

// Worker drains the notify and default queues and fires scheduled tasks.
type Worker struct {
	srv   *asynq.Server
	mux   *asynq.ServeMux
	cron  *asynq.Scheduler
	log   *slog.Logger
	types []string
}

// NewWorker builds a worker. Notification delivery is weighted above reconcile
// and cleanup so events are not held behind a long scan. Duplicate routes are rejected.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	w := &Worker{mux: asynq.NewServeMux(), log: log}
	seen := make(map[string]bool, len(opts.Routes))
	for _, rt := range opts.Routes {
		if rt.Type == "" || rt.Handler == nil {
			return nil, fmt.Errorf("worker: incomplete route %q", rt.Type)
		}
		if seen[rt.Type] {
			return nil, fmt.Errorf("worker: duplicate route %q", rt.Type)
		}
		seen[rt.Type] = true
		w.mux.HandleFunc(rt.Type, rt.Handler)
		w.types = append(w.types, rt.Type)
	}

	if len(opts.Schedules) > 0 {
		w.cron = asynq.NewScheduler(opts.Redis, &asynq.SchedulerOpts{Location: time.UTC})
		for _, sc := range opts.Schedules {
			if sc.Spec == "" || sc.Task == nil {
				continue
			}
			if _, err := w.cron.Register(sc.Spec, sc.Task, sc.Options...); err != nil {
				return nil, fmt.Errorf("worker: schedule %s at %q: %w", sc.Task.Type(), sc.Spec, err)
			}
		}
	}

	w.srv = asynq.NewServer(opts.Redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueNotify:  3,
			QueueDefault: 1,
		},
		Logger:       newAsynqLogger(log),
		ErrorHandler: taskFailureLogger(log),
	})
	return w, nil
}

// TaskTypes lists the routed task types in registration order.
func (w *Worker) TaskTypes() []string {
	return append([]string(nil), w.types...)
}

func taskFailureLogger(logger *slog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn("task failed",
			slog.String("type", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err))
	})
}

// Run processes tasks and fires schedules until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.srv == nil {
		return errors.New("worker: not configured")
	}
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("worker: start server: %w", err)
	}
	if w.cron != nil {
		if err := w.cron.Start(); err != nil {
			w.srv.Shutdown()
			return fmt.Errorf("worker: start scheduler: %w", err)
		}
	}
	w.log.Info("worker ready", slog.Any("tasks", w.types))

	<-ctx.Done()
	w.log.Info("worker draining")
	if w.cron != nil {
		w.cron.Shutdown()
	}
	w.srv.Shutdown()
	return ctx.Err()
}

// Client enqueues reconcile runs and backs the asynq notifier.
type Client struct {
	aq *asynq.Client
}

// NewClient connects lazily; the first enqueue surfaces Redis errors.
func NewClient(redis asynq.RedisClientOpt) *Client {
	return &Client{aq: asynq.NewClient(redis)}
}

// EnqueueReconcile queues an on-demand reconcile of the given kinds, all when empty.
func (c *Client) EnqueueReconcile(ctx context.Context, kinds ...string) (*asynq.TaskInfo, error) {
	task, err := NewReconcileTask(kinds...)
	if err != nil {
		return nil, err
	}
	info, err := c.aq.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue reconcile: %w", err)
	}
	return info, nil
}

// Asynq exposes the underlying client, which satisfies notify.Enqueuer.
func (c *Client) Asynq() *asynq.Client { return c.aq }

// Close releases the Redis connection.
func (c *Client) Close() error { return c.aq.Close() }

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) asynqLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return asynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
