package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/storage"
)

const (
	jobsPrefix = "jobs"

	DefaultPollInterval = 500 * time.Millisecond
)

// Queue is a durable job queue. Storage holds the authoritative job
// documents; the in-memory ready index only orders PENDING jobs by RunAt.
// Delivery is at-least-once: a job claimed by a process that dies stays
// RUNNING on disk until Recover turns it back into PENDING.
type Queue struct {
	storage      storage.Storage
	metrics      *Metrics
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	ready    map[string]time.Time // PENDING job id -> RunAt
	inflight map[string]struct{}  // claimed by this process, not yet acked/failed
	lastScan time.Time
	wake     chan struct{}
}

type Option func(*Queue)

func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithPollInterval bounds how long an idle Dequeue waits before rescanning
// storage for jobs written by other processes.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func New(s storage.Storage, opts ...Option) *Queue {
	q := &Queue{
		storage:      s,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		ready:        make(map[string]time.Time),
		inflight:     make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = NewMetrics(nil)
	}
	return q
}

func jobPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", jobsPrefix, id)
}

// Enqueue persists a new PENDING job that is ready immediately.
func (q *Queue) Enqueue(ctx context.Context, payload Payload, policy Policy) (string, error) {
	if policy.MaxAttempts < 1 {
		return "", cerr.NewError(cerr.InvalidArgument, "max attempts must be positive", nil)
	}
	now := q.now()
	job := &Job{
		ID:        ulid.Make().String(),
		Payload:   payload,
		Policy:    policy,
		State:     StatePending,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.write(ctx, job); err != nil {
		return "", err
	}
	q.markReady(job.ID, job.RunAt)
	q.metrics.enqueued.Inc()
	return job.ID, nil
}

// Dequeue claims the PENDING job with the earliest RunAt that is due,
// blocking until one is or ctx is done. The claimed job is RUNNING with its
// attempt counter already incremented.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		id, wait := q.next()
		if id != "" {
			job, err := q.claim(ctx, id)
			if err != nil {
				return nil, err
			}
			if job != nil {
				return job, nil
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			if err := q.scan(ctx); err != nil {
				slog.WarnContext(ctx, "failed to rescan job queue", "error", err)
			}
		}
	}
}

// next pops the earliest due job id, or reports how long to wait.
func (q *Queue) next() (string, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var (
		bestID string
		bestAt time.Time
	)
	for id, at := range q.ready {
		if bestID == "" || at.Before(bestAt) || (at.Equal(bestAt) && id < bestID) {
			bestID, bestAt = id, at
		}
	}
	if bestID == "" {
		return "", q.pollInterval
	}
	if wait := bestAt.Sub(now); wait > 0 {
		return "", min(wait, q.pollInterval)
	}
	delete(q.ready, bestID)
	q.inflight[bestID] = struct{}{}
	return bestID, 0
}

// claim moves a popped job to RUNNING. A job that vanished or is no longer
// PENDING is dropped and (nil, nil) returned.
func (q *Queue) claim(ctx context.Context, id string) (*Job, error) {
	job, err := q.read(ctx, id)
	if err != nil {
		q.release(id)
		if cerr.IsCode(err, cerr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	if job.State != StatePending {
		q.release(id)
		return nil, nil
	}
	job.State = StateRunning
	job.Attempts++
	job.UpdatedAt = q.now()
	if err := q.write(ctx, job); err != nil {
		q.release(id)
		q.markReady(id, job.RunAt)
		return nil, err
	}
	return job, nil
}

// Ack removes a job that completed successfully.
func (q *Queue) Ack(ctx context.Context, id string) error {
	defer q.release(id)
	if err := q.storage.Delete(ctx, jobPath(id)); err != nil {
		return cerr.StorageDeleteError(cerr.DocJob, id, err)
	}
	q.metrics.completed.WithLabelValues(resultSucceeded).Inc()
	return nil
}

// Fail records a failed attempt. The job is rescheduled with exponential
// backoff while attempts remain, otherwise it is retained as FAILED and
// retained is true.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (retained bool, err error) {
	defer q.release(id)
	job, err := q.read(ctx, id)
	if err != nil {
		return false, err
	}
	now := q.now()
	job.UpdatedAt = now
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempts >= job.Policy.MaxAttempts {
		job.State = StateFailed
		job.FailedAt = &now
		if err := q.write(ctx, job); err != nil {
			return false, err
		}
		q.metrics.completed.WithLabelValues(resultFailed).Inc()
		q.metrics.failedRetained.Inc()
		return true, nil
	}

	job.State = StatePending
	job.RunAt = now.Add(job.Policy.Backoff(job.Attempts))
	if err := q.write(ctx, job); err != nil {
		return false, err
	}
	q.markReady(job.ID, job.RunAt)
	q.metrics.completed.WithLabelValues(resultRetried).Inc()
	return false, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.read(ctx, id)
}

// ListFailed returns the retained FAILED jobs, oldest first.
func (q *Queue) ListFailed(ctx context.Context) ([]*Job, error) {
	jobs, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	var failed []*Job
	for _, j := range jobs {
		if j.State == StateFailed {
			failed = append(failed, j)
		}
	}
	return failed, nil
}

// Requeue gives a FAILED job a fresh attempt budget and makes it ready now.
func (q *Queue) Requeue(ctx context.Context, id string) (*Job, error) {
	job, err := q.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != StateFailed {
		return nil, cerr.NewError(cerr.FailedPrecondition, "only failed jobs can be requeued", nil).
			AddDetailMessage(fmt.Sprintf("job %s is %s", id, job.State))
	}
	now := q.now()
	job.State = StatePending
	job.Attempts = 0
	job.RunAt = now
	job.UpdatedAt = now
	job.FailedAt = nil
	if err := q.write(ctx, job); err != nil {
		return nil, err
	}
	q.markReady(job.ID, job.RunAt)
	q.metrics.failedRetained.Dec()
	return job, nil
}

// Recover rebuilds the ready index from storage and turns RUNNING jobs left
// behind by a previous process into PENDING. It must run before any worker
// of this process dequeues.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	jobs, err := q.list(ctx)
	if err != nil {
		return 0, err
	}
	recovered, failed := 0, 0
	for _, job := range jobs {
		switch job.State {
		case StateRunning:
			job.State = StatePending
			job.RunAt = q.now()
			job.UpdatedAt = job.RunAt
			if err := q.write(ctx, job); err != nil {
				return recovered, err
			}
			recovered++
			q.markReady(job.ID, job.RunAt)
		case StatePending:
			q.markReady(job.ID, job.RunAt)
		case StateFailed:
			failed++
		}
	}
	q.metrics.failedRetained.Set(float64(failed))
	return recovered, nil
}

// scan picks up PENDING jobs written by other processes, such as a requeue
// from the CLI. Idle workers share one scan per poll interval.
func (q *Queue) scan(ctx context.Context) error {
	q.mu.Lock()
	if q.now().Sub(q.lastScan) < q.pollInterval {
		q.mu.Unlock()
		return nil
	}
	q.lastScan = q.now()
	q.mu.Unlock()

	jobs, err := q.list(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if job.State != StatePending {
			continue
		}
		if _, ok := q.inflight[job.ID]; ok {
			continue
		}
		if _, ok := q.ready[job.ID]; !ok {
			q.ready[job.ID] = job.RunAt
		}
	}
	return nil
}

func (q *Queue) markReady(id string, at time.Time) {
	q.mu.Lock()
	q.ready[id] = at
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

func (q *Queue) read(ctx context.Context, id string) (*Job, error) {
	data, err := q.storage.Read(ctx, jobPath(id))
	if err != nil {
		return nil, cerr.StorageReadError(cerr.DocJob, id, err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal job: %w", err))
	}
	return &job, nil
}

func (q *Queue) write(ctx context.Context, job *Job) error {
	data, err := yaml.Marshal(job)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal job: %w", err))
	}
	if err := q.storage.Write(ctx, jobPath(job.ID), data); err != nil {
		return cerr.StorageWriteError(cerr.DocJob, job.ID, err)
	}
	return nil
}

func (q *Queue) list(ctx context.Context) ([]*Job, error) {
	paths, err := q.storage.List(ctx, jobsPrefix)
	if err != nil {
		return nil, cerr.StorageListError(cerr.DocJob, err)
	}
	sort.Strings(paths)
	jobs := make([]*Job, 0, len(paths))
	for _, p := range paths {
		data, err := q.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var job Job
		if err := yaml.Unmarshal(data, &job); err != nil {
			slog.WarnContext(ctx, "skipping unreadable job document", "path", p, "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}
