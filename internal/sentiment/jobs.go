package sentiment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/pkg/utils"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job kinds.
const (
	KindTrain = "train"
	KindTune  = "tune"
)

// ErrJobNotFound is returned for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// maxFinishedJobs bounds how many finished jobs are kept for status queries.
const maxFinishedJobs = 256

// Job is a snapshot of a background job.
type Job struct {
	ID         string
	Kind       string
	Status     JobStatus
	CreatedAt  time.Time
	FinishedAt time.Time
	Err        error
	Result     any
}

// Finished reports whether the job has reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed || j.Status == JobCancelled
}

type jobEntry struct {
	Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Jobs runs training and tuning off the request path with bounded concurrency.
type Jobs struct {
	ctx    context.Context
	sem    chan struct{}
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobEntry
	wg   sync.WaitGroup
}

// NewJobs creates a job runner. Jobs are cancelled when ctx is.
func NewJobs(ctx context.Context, maxConcurrent int, logger *zap.Logger) *Jobs {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Jobs{
		ctx:    ctx,
		sem:    make(chan struct{}, maxConcurrent),
		logger: utils.OrNop(logger),
		jobs:   make(map[string]*jobEntry),
	}
}

// Submit queues fn and returns the new job.
func (j *Jobs) Submit(kind string, fn func(ctx context.Context) (any, error)) Job {
	ctx, cancel := context.WithCancel(j.ctx)
	e := &jobEntry{
		Job:    Job{ID: uuid.NewString(), Kind: kind, Status: JobQueued, CreatedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.mu.Lock()
	j.jobs[e.ID] = e
	j.pruneLocked()
	snapshot := e.Job
	j.mu.Unlock()

	j.wg.Add(1)
	go j.run(ctx, e, fn)
	j.logger.Info("job submitted", zap.String("job", e.ID), zap.String("kind", kind))
	return snapshot
}

func (j *Jobs) run(ctx context.Context, e *jobEntry, fn func(ctx context.Context) (any, error)) {
	defer j.wg.Done()
	defer close(e.done)
	defer e.cancel()

	select {
	case j.sem <- struct{}{}:
		defer func() { <-j.sem }()
	case <-ctx.Done():
		j.finish(e, nil, ctx.Err())
		return
	}

	j.mu.Lock()
	e.Status = JobRunning
	j.mu.Unlock()

	start := time.Now()
	result, err := fn(ctx)
	j.finish(e, result, err)
	j.logger.Info("job finished",
		zap.String("job", e.ID),
		zap.String("kind", e.Kind),
		zap.String("status", string(e.snapshot(&j.mu).Status)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
}

func (j *Jobs) finish(e *jobEntry, result any, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		e.Status = JobSucceeded
		e.Result = result
	case errors.Is(err, context.Canceled):
		e.Status = JobCancelled
		e.Err = err
	default:
		e.Status = JobFailed
		e.Err = err
	}
}

func (e *jobEntry) snapshot(mu *sync.Mutex) Job {
	mu.Lock()
	defer mu.Unlock()
	return e.Job
}

// Get returns a snapshot of job id.
func (j *Jobs) Get(id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return e.Job, nil
}

// Cancel requests cancellation of job id. Finished jobs are unaffected.
func (j *Jobs) Cancel(id string) (Job, error) {
	j.mu.Lock()
	e, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	e.cancel()
	return e.snapshot(&j.mu), nil
}

// Wait blocks until job id finishes or ctx is done.
func (j *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	j.mu.Lock()
	e, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-e.done:
		return e.snapshot(&j.mu), nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Shutdown cancels all jobs and waits for them to stop.
func (j *Jobs) Shutdown() {
	j.mu.Lock()
	for _, e := range j.jobs {
		e.cancel()
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Jobs) pruneLocked() {
	var finished []*jobEntry
	for _, e := range j.jobs {
		if e.Finished() {
			finished = append(finished, e)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(a, b int) bool { return finished[a].FinishedAt.Before(finished[b].FinishedAt) })
	for _, e := range finished[:len(finished)-maxFinishedJobs] {
		delete(j.jobs, e.ID)
	}
}
