package automation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/taskflow/internal/actionlog"
	"github.com/kazz187/taskflow/internal/eventbus"
	"github.com/kazz187/taskflow/internal/jobqueue"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/clog"
	"github.com/kazz187/taskflow/pkg/panicerr"
)

const (
	dequeueErrorBackoff = time.Second

	settleAttempts = 3
	settleBackoff  = 200 * time.Millisecond
)

type Queue interface {
	Recover(ctx context.Context) (int, error)
	Dequeue(ctx context.Context) (*jobqueue.Job, error)
	Ack(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, cause error) (bool, error)
}

type Recorder interface {
	Record(ctx context.Context, entry actionlog.ActionLog) (*actionlog.ActionLog, error)
}

// Worker drains the job queue with a fixed number of goroutines. Jobs are
// independent: two jobs of the same rule may run at the same time.
type Worker struct {
	queue       Queue
	recorder    Recorder
	executor    *Executor
	eventBus    *eventbus.Bus
	metrics     *Metrics
	concurrency int

	settleAttempts int
	settleBackoff  time.Duration
}

type WorkerConfig struct {
	Concurrency int
	Metrics     *Metrics
}

func NewWorker(queue Queue, recorder Recorder, executor *Executor, eventBus *eventbus.Bus, cfg WorkerConfig) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Worker{
		queue:       queue,
		recorder:    recorder,
		executor:    executor,
		eventBus:    eventBus,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,

		settleAttempts: settleAttempts,
		settleBackoff:  settleBackoff,
	}
}

// Run recovers jobs orphaned by a previous process and then processes jobs
// until ctx is done. A job in flight at shutdown is finished first.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		slog.InfoContext(ctx, "recovered interrupted jobs", "count", recovered)
	}
	slog.InfoContext(ctx, "automation worker started", "concurrency", w.concurrency)

	p := pool.New().WithContext(ctx)
	for range w.concurrency {
		p.Go(w.loop)
	}
	return p.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.ErrorContext(ctx, "failed to dequeue job", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}
		// Let the attempt settle even if shutdown starts mid-job.
		w.Process(context.WithoutCancel(ctx), job)
	}
}

// Process runs one attempt of a job: its actions in order, stopping at the
// first failure, with one action log row per action tried. The job is then
// acked or failed back to the queue.
func (w *Worker) Process(ctx context.Context, job *jobqueue.Job) {
	ctx = clog.WithAttributes(ctx, map[string]any{
		"job_id":      job.ID,
		"workflow_id": job.Payload.WorkflowID,
		"attempt":     job.Attempts,
	})

	failure := w.runActions(ctx, job)
	if failure == nil {
		err := w.settle(ctx, "ack", func() error {
			if err := w.queue.Ack(ctx, job.ID); err != nil && !cerr.IsCode(err, cerr.NotFound) {
				return err
			}
			return nil
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to ack job, it stays running until recovered", "error", err)
			return
		}
		slog.InfoContext(ctx, "job succeeded")
		w.publish(eventbus.EventJobSucceeded, job, nil)
		return
	}

	var retained bool
	err := w.settle(ctx, "fail", func() error {
		var err error
		retained, err = w.queue.Fail(ctx, job.ID, failure)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record job failure, it stays running until recovered", "error", err, "cause", failure)
		return
	}
	if retained {
		slog.ErrorContext(ctx, "job failed permanently", "error", failure)
		w.publish(eventbus.EventJobFailed, job, failure)
		return
	}
	slog.WarnContext(ctx, "job attempt failed, retrying", "error", failure)
	w.publish(eventbus.EventJobRetrying, job, failure)
}

// settle retries the queue write that records an attempt's outcome. Without
// it the job would stay RUNNING on disk and never be dequeued again by this
// process.
func (w *Worker) settle(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := range w.settleAttempts {
		if i > 0 {
			time.Sleep(w.settleBackoff * time.Duration(i))
		}
		if err = fn(); err == nil {
			return nil
		}
		if !cerr.IsRetryable(err) {
			return err
		}
		slog.WarnContext(ctx, "failed to settle job", "op", op, "try", i+1, "error", err)
	}
	return err
}

func (w *Worker) runActions(ctx context.Context, job *jobqueue.Job) error {
	for _, cfg := range job.Payload.Actions {
		action := w.executor.ActionFromConfig(cfg)
		result, err := panicerr.Call(ctx, func(ctx context.Context) (*Result, error) {
			return action.Execute(ctx, job.Payload.Context)
		})

		entry := actionlog.ActionLog{
			JobID:      job.ID,
			WorkflowID: job.Payload.WorkflowID,
			ActionID:   cfg.ID,
			Attempt:    job.Attempts,
		}
		if err != nil {
			entry.Status = actionlog.StatusFailed
			entry.Details = failureDetails(err)
		} else {
			entry.Status = actionlog.StatusSuccess
			if result != nil {
				entry.Details = result.Details
			}
		}
		if _, logErr := w.recorder.Record(ctx, entry); logErr != nil {
			slog.ErrorContext(ctx, "failed to write action log", "action_id", cfg.ID, "error", logErr)
		}
		w.metrics.actions.WithLabelValues(string(entry.Status)).Inc()

		if err != nil {
			return &ActionError{ActionID: cfg.ID, Err: err}
		}
	}
	return nil
}

func failureDetails(err error) map[string]string {
	details := map[string]string{"error": err.Error()}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		details["status_code"] = strconv.Itoa(statusErr.StatusCode)
		details["body"] = statusErr.Body
	}
	return details
}

func (w *Worker) publish(eventType eventbus.EventType, job *jobqueue.Job, cause error) {
	if w.eventBus == nil {
		return
	}
	metadata := map[string]string{
		"workflow_id": job.Payload.WorkflowID,
		"attempt":     strconv.Itoa(job.Attempts),
	}
	if cause != nil {
		metadata["error"] = cause.Error()
	}
	w.eventBus.PublishNew(eventType, job.ID, metadata)
}
