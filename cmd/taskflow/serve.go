package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc/pool"

	server "github.com/kazz187/taskflow/internal"
	"github.com/kazz187/taskflow/internal/actionlog"
	actionlogrepo "github.com/kazz187/taskflow/internal/actionlog/repositoryimpl"
	"github.com/kazz187/taskflow/internal/automation"
	"github.com/kazz187/taskflow/internal/config"
	"github.com/kazz187/taskflow/internal/event"
	"github.com/kazz187/taskflow/internal/eventbus"
	"github.com/kazz187/taskflow/internal/jobqueue"
	"github.com/kazz187/taskflow/internal/task"
	taskrepo "github.com/kazz187/taskflow/internal/task/repositoryimpl"
	"github.com/kazz187/taskflow/internal/workflow"
	workflowrepo "github.com/kazz187/taskflow/internal/workflow/repositoryimpl"
	"github.com/kazz187/taskflow/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

func serve(env *config.Env, store storage.Storage) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := eventbus.New()

	// Repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	workflowRepo := workflowrepo.NewYAMLRepository(store)
	actionLogRepo := actionlogrepo.NewYAMLRepository(store)

	// Automation
	queue := jobqueue.New(store,
		jobqueue.WithMetrics(jobqueue.NewMetrics(reg)),
		jobqueue.WithPollInterval(env.WorkerEnv.PollInterval),
	)
	matcher := workflow.NewMatcher(workflowRepo, nil)
	dispatcher := automation.NewDispatcher(matcher, queue, bus, automation.WithPolicy(jobqueue.Policy{
		MaxAttempts:    env.WorkerEnv.JobMaxAttempts,
		InitialBackoff: env.WorkerEnv.JobInitialBackoff,
	}))
	actionLogger := actionlog.NewLogger(actionLogRepo)
	executor := automation.NewExecutor(&http.Client{}, env.WorkerEnv.ActionTimeout)
	worker := automation.NewWorker(queue, actionLogger, executor, bus, automation.WorkerConfig{
		Concurrency: env.WorkerEnv.Concurrency,
		Metrics:     automation.NewMetrics(reg),
	})

	// Services
	taskService := task.NewService(taskRepo, bus, dispatcher)
	ruleService := workflow.NewService(workflowRepo, matcher)

	srv := server.NewServer(
		env,
		reg,
		task.NewServer(taskService),
		workflow.NewServer(ruleService),
		actionlog.NewServer(actionLogger),
		jobqueue.NewServer(queue),
		automation.NewServer(dispatcher),
		event.NewServer(bus),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(worker.Run)
	if locator, ok := store.(storage.Locator); ok && env.WatchEnv.Rules {
		watcher := workflow.NewWatcher(locator.LocalPath(workflowrepo.RulesPrefix), matcher)
		p.Go(watcher.Run)
	}
	p.Go(func(ctx context.Context) error {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return p.Wait()
}
