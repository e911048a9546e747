// Package registry stores immutable model versions and the current-version pointer.
//
// Layout under the models directory:
//
//	versions/<id>/model.json     trained state and normalizer options
//	versions/<id>/metadata.json  Metadata
//	.staging/<id>/               versions being written
//	CURRENT                      Pointer, replaced atomically by rename
//
// A version becomes visible only when its catalog row is inserted, after its
// directory has been moved out of staging.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/normalize"
	"github.com/hyperjump/bazaar/internal/storage"
	"github.com/hyperjump/bazaar/pkg/utils"
)

const (
	versionsDir    = "versions"
	stagingDir     = ".staging"
	currentFile    = "CURRENT"
	modelFile      = "model.json"
	metadataFile   = "metadata.json"
	staleStaging   = time.Hour
	defaultBackoff = 100 * time.Millisecond
)

// Registry persists model versions and tracks the current one.
type Registry struct {
	dir     string
	store   storage.Storage
	logger  *zap.Logger
	now     func() time.Time
	retries int
	backoff time.Duration

	mu      sync.Mutex // serializes SetCurrent
	current atomic.Pointer[Pointer]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRetries sets how many times transient I/O failures are retried and the
// initial backoff, which doubles on each attempt.
func WithRetries(n int, backoff time.Duration) Option {
	return func(r *Registry) {
		r.retries = n
		r.backoff = backoff
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Open prepares dir, sweeps stale staging directories, and loads the current pointer.
func Open(store storage.Storage, dir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:     dir,
		store:   store,
		now:     time.Now,
		retries: 3,
		backoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)

	for _, sub := range []string{versionsDir, stagingDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, &PersistenceError{Op: "create models directory", Err: err}
		}
	}
	r.sweepStaging()
	ctx := context.Background()
	if err := r.reloadCurrent(ctx); err != nil {
		return nil, err
	}
	if r.current.Load() == nil {
		r.restoreCurrent(ctx)
	}
	return r, nil
}

// restoreCurrent rewrites a missing CURRENT from the last recorded promotion,
// for example after the models directory was restored from a backup.
func (r *Registry) restoreCurrent(ctx context.Context) {
	last, err := r.store.LastPromotion(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn("failed to read promotion history", zap.Error(err))
		return
	}
	if _, err := r.Get(ctx, last.VersionID); err != nil {
		r.logger.Warn("last promoted version is gone", zap.String("version", last.VersionID), zap.Error(err))
		return
	}
	p := Pointer{Version: last.VersionID, PromotedAt: last.PromotedAt.UTC()}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := writeAtomic(filepath.Join(r.dir, currentFile), data); err != nil {
		r.logger.Warn("failed to restore current pointer", zap.Error(err))
		return
	}
	r.current.Store(&p)
	r.logger.Info("current pointer restored from promotion history", zap.String("version", p.Version))
}

// Dir returns the models directory.
func (r *Registry) Dir() string { return r.dir }

// sweepStaging removes staging directories left by crashed writers. Recent ones
// may belong to a concurrent writer in another process and are kept.
func (r *Registry) sweepStaging() {
	entries, err := os.ReadDir(filepath.Join(r.dir, stagingDir))
	if err != nil {
		return
	}
	cutoff := r.now().Add(-staleStaging)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.dir, stagingDir, e.Name())
		if err := os.RemoveAll(path); err == nil {
			r.logger.Info("removed stale staging directory", zap.String("path", path))
		}
	}
}

// Save persists a as a new version and returns its metadata. The version is
// not promoted.
func (r *Registry) Save(ctx context.Context, a Artifact) (Metadata, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to generate version id: %w", err)
	}
	clsState, err := classifier.Marshal(a.Classifier, a.Scheme.NumClasses())
	if err != nil {
		return Metadata{}, err
	}
	meta := Metadata{
		ID:              id.String(),
		CreatedAt:       r.now().UTC(),
		Algorithm:       a.Classifier.Algorithm(),
		Scheme:          a.Scheme.Name,
		Classes:         a.Scheme.Classes(),
		Hyperparameters: a.Classifier.Params(),
		Metrics:         a.Metrics,
		Examples:        a.Examples,
		Features:        a.Extractor.Dim(),
		Source:          a.Source,
	}
	modelJSON, err := json.Marshal(state{Normalizer: &a.Normalizer, Extractor: a.Extractor, Classifier: clsState})
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to marshal model: %w", err)
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	staging := filepath.Join(r.dir, stagingDir, meta.ID)
	final := filepath.Join(r.dir, versionsDir, meta.ID)
	defer os.RemoveAll(staging)

	err = r.retry(ctx, "write model version", func() error {
		if err := os.MkdirAll(staging, 0755); err != nil {
			return err
		}
		if err := writeFileSync(filepath.Join(staging, modelFile), modelJSON); err != nil {
			return err
		}
		if err := writeFileSync(filepath.Join(staging, metadataFile), metaJSON); err != nil {
			return err
		}
		return syncDir(staging)
	})
	if err != nil {
		return Metadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	if err := r.retry(ctx, "commit model version", func() error {
		return os.Rename(staging, final)
	}); err != nil {
		return Metadata{}, err
	}

	rec := &storage.VersionRecord{
		ID:        meta.ID,
		Algorithm: meta.Algorithm,
		Scheme:    meta.Scheme,
		CreatedAt: meta.CreatedAt,
		Metadata:  string(metaJSON),
	}
	if err := r.retry(ctx, "register model version", func() error {
		return r.store.InsertVersion(ctx, rec)
	}); err != nil {
		_ = os.RemoveAll(final)
		return Metadata{}, err
	}

	r.logger.Info("model version saved",
		zap.String("version", meta.ID),
		zap.String("algorithm", meta.Algorithm),
		zap.Int("examples", meta.Examples),
		zap.Float64("test_f1", meta.Metrics.Test.F1))
	return meta, nil
}

// Get returns the metadata of version id.
func (r *Registry) Get(ctx context.Context, id string) (Metadata, error) {
	rec, err := r.store.GetVersion(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, &PersistenceError{Op: "read catalog", Err: err}
	}
	return decodeMetadata(rec)
}

// List returns all versions ordered by creation time, oldest first, with
// SizeBytes measured on disk.
func (r *Registry) List(ctx context.Context) ([]Metadata, error) {
	recs, err := r.store.ListVersions(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list versions", Err: err}
	}
	sizes, err := r.VersionSizes()
	if err != nil {
		r.logger.Warn("failed to measure model versions", zap.Error(err))
	}
	out := make([]Metadata, 0, len(recs))
	for _, rec := range recs {
		meta, err := decodeMetadata(rec)
		if err != nil {
			return nil, err
		}
		meta.SizeBytes = sizes[meta.ID]
		out = append(out, meta)
	}
	return out, nil
}

func decodeMetadata(rec *storage.VersionRecord) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal([]byte(rec.Metadata), &meta); err != nil {
		return Metadata{}, &PersistenceError{Op: "decode metadata of " + rec.ID, Err: err}
	}
	return meta, nil
}

// Load reads and decodes version id.
func (r *Registry) Load(ctx context.Context, id string) (*Model, error) {
	meta, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = r.retry(ctx, "read model version "+id, func() error {
		var err error
		data, err = os.ReadFile(filepath.Join(r.dir, versionsDir, id, modelFile))
		return err
	})
	if err != nil {
		return nil, err
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &PersistenceError{Op: "decode model version " + id, Err: err}
	}
	if st.Normalizer == nil || st.Extractor == nil || st.Classifier == nil {
		return nil, &PersistenceError{Op: "decode model version " + id, Err: errors.New("incomplete model state")}
	}
	scheme, err := classifier.ParseScheme(meta.Scheme)
	if err != nil {
		return nil, &PersistenceError{Op: "decode model version " + id, Err: err}
	}
	c, err := classifier.Unmarshal(st.Classifier)
	if err != nil {
		return nil, &PersistenceError{Op: "decode model version " + id, Err: err}
	}
	n, err := normalize.New(*st.Normalizer)
	if err != nil {
		return nil, &PersistenceError{Op: "decode model version " + id, Err: err}
	}
	return &Model{Meta: meta, Scheme: scheme, Normalizer: n, Extractor: st.Extractor, Classifier: c}, nil
}

// Resolve returns version if it exists, or the current version when version is empty.
func (r *Registry) Resolve(ctx context.Context, version string) (string, error) {
	if version == "" {
		p, err := r.Current()
		if err != nil {
			return "", err
		}
		return p.Version, nil
	}
	if _, err := r.Get(ctx, version); err != nil {
		return "", err
	}
	return version, nil
}

// Current returns the current pointer or ErrNoCurrent. It never blocks.
func (r *Registry) Current() (Pointer, error) {
	p := r.current.Load()
	if p == nil {
		return Pointer{}, ErrNoCurrent
	}
	return *p, nil
}

// SetCurrent promotes version id. Readers see either the old or the new pointer.
func (r *Registry) SetCurrent(ctx context.Context, id string) (Pointer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.Get(ctx, id); err != nil {
		return Pointer{}, err
	}
	p := Pointer{Version: id, PromotedAt: r.now().UTC()}
	data, err := json.Marshal(p)
	if err != nil {
		return Pointer{}, fmt.Errorf("failed to marshal pointer: %w", err)
	}
	if err := r.retry(ctx, "write current pointer", func() error {
		return writeAtomic(filepath.Join(r.dir, currentFile), data)
	}); err != nil {
		return Pointer{}, err
	}
	r.current.Store(&p)

	if err := r.store.RecordPromotion(ctx, storage.Promotion{VersionID: id, PromotedAt: p.PromotedAt}); err != nil {
		r.logger.Warn("failed to record promotion history", zap.String("version", id), zap.Error(err))
	}
	r.logger.Info("model version promoted", zap.String("version", id))
	return p, nil
}

// reloadCurrent reads CURRENT from disk. A pointer to an unknown version is ignored.
func (r *Registry) reloadCurrent(ctx context.Context) error {
	data, err := os.ReadFile(filepath.Join(r.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "read current pointer", Err: err}
	}
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		r.logger.Warn("ignoring malformed current pointer", zap.Error(err))
		return nil
	}
	if _, err := r.Get(ctx, p.Version); err != nil {
		r.logger.Warn("ignoring current pointer", zap.String("version", p.Version), zap.Error(err))
		return nil
	}
	if old := r.current.Load(); old == nil || old.Version != p.Version || !old.PromotedAt.Equal(p.PromotedAt) {
		r.current.Store(&p)
		r.logger.Info("current model version loaded", zap.String("version", p.Version))
	}
	return nil
}

// VersionSizes returns the on-disk size of each version directory, keyed by id.
func (r *Registry) VersionSizes() (map[string]int64, error) {
	return storage.DirSizes(filepath.Join(r.dir, versionsDir))
}

// DiskUsageBytes returns the size of all persisted versions.
func (r *Registry) DiskUsageBytes() (int64, error) {
	sizes, err := r.VersionSizes()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

func (r *Registry) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := r.backoff
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !transient(err) || attempt >= r.retries {
			break
		}
		r.logger.Warn("retrying registry operation",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return &PersistenceError{Op: op, Err: err}
}
