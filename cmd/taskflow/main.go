package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/kazz187/taskflow/internal/config"
	"github.com/kazz187/taskflow/pkg/clog"
	"github.com/kazz187/taskflow/pkg/storage"
)

var (
	app = kingpin.New("taskflow", "Task lifecycle and workflow automation server")

	serveCmd = app.Command("serve", "Run the HTTP API and the automation worker").Default()

	jobsCmd          = app.Command("jobs", "Inspect the automation job queue")
	jobsFailedCmd    = jobsCmd.Command("failed", "List jobs that exhausted their retries")
	jobsRequeueCmd   = jobsCmd.Command("requeue", "Give a failed job a fresh set of attempts")
	jobsRequeueJobID = jobsRequeueCmd.Arg("id", "Job ID").Required().String()

	logsCmd        = app.Command("logs", "Show recent action logs")
	logsLimit      = logsCmd.Flag("limit", "Maximum number of entries").Default("20").Int()
	logsWorkflowID = logsCmd.Flag("workflow", "Only show entries of this workflow rule").String()
	logsJobID      = logsCmd.Flag("job", "Only show entries of this job").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	setupLogger(env)

	ctx := context.Background()
	store, err := newStorage(ctx, env)
	if err != nil {
		slog.Error("failed to create storage", "type", env.StorageEnv.Type, "error", err)
		os.Exit(1)
	}

	switch command {
	case serveCmd.FullCommand():
		err = serve(env, store)
	case jobsFailedCmd.FullCommand():
		err = listFailedJobs(ctx, store)
	case jobsRequeueCmd.FullCommand():
		err = requeueJob(ctx, store, *jobsRequeueJobID)
	case logsCmd.FullCommand():
		err = listActionLogs(ctx, store, *logsWorkflowID, *logsJobID, *logsLimit)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level), clog.WithColor(!color.NoColor))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func newStorage(ctx context.Context, env *config.Env) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		return storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
	default:
		return storage.NewLocalStorage(env.StorageEnv.BaseDir)
	}
}
