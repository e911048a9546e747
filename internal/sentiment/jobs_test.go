package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/sentiment/sentimenttest"
)

func waitJob(t *testing.T, jobs *Jobs, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err := jobs.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestJobs_lifecycle(t *testing.T) {
	jobs := NewJobs(context.Background(), 1, zap.NewNop())
	defer jobs.Shutdown()

	ok := jobs.Submit(KindTune, func(context.Context) (any, error) { return "done", nil })
	if ok.Status != JobQueued || ok.ID == "" {
		t.Errorf("submitted job = %+v", ok)
	}
	if job := waitJob(t, jobs, ok.ID); job.Status != JobSucceeded || job.Result != "done" {
		t.Errorf("job = %+v", job)
	}

	failed := jobs.Submit(KindTrain, func(context.Context) (any, error) { return nil, errors.New("boom") })
	if job := waitJob(t, jobs, failed.ID); job.Status != JobFailed || job.Err == nil {
		t.Errorf("job = %+v", job)
	}

	if _, err := jobs.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobs_cancel(t *testing.T) {
	jobs := NewJobs(context.Background(), 1, zap.NewNop())
	defer jobs.Shutdown()

	started := make(chan struct{})
	running := jobs.Submit(KindTrain, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	// Queued behind the running job; cancelled before it starts.
	queued := jobs.Submit(KindTrain, func(context.Context) (any, error) {
		t.Error("cancelled queued job must not run")
		return nil, nil
	})
	if _, err := jobs.Cancel(queued.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.Cancel(running.ID); err != nil {
		t.Fatal(err)
	}
	if job := waitJob(t, jobs, running.ID); job.Status != JobCancelled {
		t.Errorf("running job = %+v", job)
	}
	if job := waitJob(t, jobs, queued.ID); job.Status != JobCancelled {
		t.Errorf("queued job = %+v", job)
	}
}

func TestJobs_cancelledTrainingNeverSaves(t *testing.T) {
	svc, reg := newTestService(t)
	jobs := NewJobs(context.Background(), 1, zap.NewNop())
	defer jobs.Shutdown()
	texts, labels := sentimenttest.Ternary()

	gate := make(chan struct{})
	job := jobs.Submit(KindTrain, func(ctx context.Context) (any, error) {
		<-gate
		return svc.TrainAndRegister(ctx, texts, labels, TrainParams{})
	})
	if _, err := jobs.Cancel(job.ID); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if got := waitJob(t, jobs, job.ID); got.Status != JobCancelled {
		t.Errorf("job = %+v", got)
	}
	if reg.saves.Load() != 0 {
		t.Error("cancelled job saved a version")
	}
	if _, err := reg.Current(); err == nil {
		t.Error("cancelled job promoted a version")
	}
}
