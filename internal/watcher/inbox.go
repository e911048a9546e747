package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/dataset"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
	"github.com/hyperjump/bazaar/pkg/utils"
)

// SourcePrefix marks versions trained from inbox files. The dataset
// fingerprint follows it.
const SourcePrefix = "inbox:"

// Trainer trains and registers a new version without promoting it.
type Trainer interface {
	TrainAndRegister(ctx context.Context, texts, labels []string, p sentiment.TrainParams) (registry.Metadata, error)
}

// Submitter runs work as a background job.
type Submitter interface {
	Submit(kind string, fn func(ctx context.Context) (any, error)) sentiment.Job
	Wait(ctx context.Context, id string) (sentiment.Job, error)
}

// Versions lists registered versions, used to skip datasets already trained.
type Versions interface {
	List(ctx context.Context) ([]registry.Metadata, error)
}

// Inbox trains a new model version for every new dataset dropped into its
// directories. It never promotes.
type Inbox struct {
	watcher   *Watcher
	trainer   Trainer
	jobs      Submitter
	versions  Versions
	algorithm string
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]bool
	seen    map[string]bool
}

// NewInbox creates an inbox over dirs. algorithm may be empty for the configured default.
func NewInbox(dirs, extensions []string, trainer Trainer, jobs Submitter, versions Versions, algorithm string, logger *zap.Logger, opts ...WatcherOption) *Inbox {
	in := &Inbox{
		trainer:   trainer,
		jobs:      jobs,
		versions:  versions,
		algorithm: algorithm,
		logger:    utils.OrNop(logger),
		pending:   make(map[string]bool),
		seen:      make(map[string]bool),
	}
	opts = append([]WatcherOption{WithLogger(in.logger)}, opts...)
	in.watcher = NewWatcher(dirs, extensions, in.handle, opts...)
	return in
}

// Start loads the fingerprints of already trained datasets, starts watching,
// and queues files that are already present.
func (in *Inbox) Start(ctx context.Context) error {
	list, err := in.versions.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}
	in.mu.Lock()
	for _, meta := range list {
		if strings.HasPrefix(meta.Source, SourcePrefix) {
			in.seen[strings.TrimPrefix(meta.Source, SourcePrefix)] = true
		}
	}
	in.mu.Unlock()

	if err := in.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	in.logger.Info("dataset inbox watching", zap.Strings("dirs", in.watcher.Directories()))
	in.watcher.SyncExistingFiles()
	return nil
}

// Stop stops watching. Jobs already submitted keep running.
func (in *Inbox) Stop() { in.watcher.Stop() }

func (in *Inbox) handle(path string) {
	d, err := dataset.Load(path)
	if err != nil {
		in.logger.Warn("skipping dataset", zap.String("path", path), zap.Error(err))
		return
	}
	fp := d.Fingerprint()

	in.mu.Lock()
	if in.seen[fp] || in.pending[fp] {
		in.mu.Unlock()
		in.logger.Debug("dataset already trained", zap.String("path", path), zap.String("fingerprint", fp))
		return
	}
	in.pending[fp] = true
	in.mu.Unlock()

	params := sentiment.TrainParams{Algorithm: in.algorithm, Source: SourcePrefix + fp}
	job := in.jobs.Submit(sentiment.KindTrain, func(ctx context.Context) (any, error) {
		meta, err := in.trainer.TrainAndRegister(ctx, d.Texts, d.Labels, params)
		if err == nil {
			in.mu.Lock()
			in.seen[fp] = true
			in.mu.Unlock()
		}
		if err != nil {
			in.logger.Warn("inbox training failed", zap.String("path", path), zap.Error(err))
			return nil, err
		}
		in.logger.Info("inbox dataset trained",
			zap.String("path", filepath.Base(path)),
			zap.String("version", meta.ID),
			zap.Int("examples", meta.Examples))
		return meta, nil
	})
	in.logger.Info("inbox training queued",
		zap.String("path", path),
		zap.Int("examples", d.Len()),
		zap.String("job_id", job.ID))
	go in.release(job.ID, fp)
}

// release clears the pending mark once the job ends, including when it is
// cancelled before it starts running.
func (in *Inbox) release(jobID, fp string) {
	if _, err := in.jobs.Wait(context.Background(), jobID); err != nil {
		in.logger.Debug("inbox job vanished", zap.String("job_id", jobID), zap.Error(err))
	}
	in.mu.Lock()
	delete(in.pending, fp)
	in.mu.Unlock()
}
