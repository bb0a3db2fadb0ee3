package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/workbench/log"
)

// DefaultParallelism bounds concurrent Put calls during an export.
const DefaultParallelism = 8

// DefaultRetries is how many times a transient Put failure is retried.
const DefaultRetries = 2

// DefaultBackoff is the delay before the first retry; it doubles per attempt.
const DefaultBackoff = 200 * time.Millisecond

// SnapshotIDFormat is the UTC timestamp layout naming a snapshot directory.
const SnapshotIDFormat = "20060102T150405Z"

// ManifestName is the file written next to files/ in every snapshot.
const ManifestName = "manifest.json"

// ErrMissingWorkspace is returned when an exporter is built without a workspace.
var ErrMissingWorkspace = errors.New("export rejected: missing workspace")

// ManifestFile describes one exported file.
type ManifestFile struct {
	Path string `json:"path"`
	Key  string `json:"key"`
	Size int    `json:"size"`
}

// Manifest describes a completed snapshot export.
type Manifest struct {
	Workspace  string         `json:"workspace"`
	SnapshotID string         `json:"snapshot_id"`
	ExportedAt string         `json:"exported_at"`
	Prefix     string         `json:"prefix"`
	Files      []ManifestFile `json:"files"`
}

// Exporter writes file store snapshots to a lode Store.
// Layout: workspaces/<workspace>/snapshots/<snapshot_id>/files/<path>
// with manifest.json at the snapshot root.
type Exporter struct {
	workspace   string
	parallelism int
	retries     int
	backoff     time.Duration
	logger      *log.Logger

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithParallelism bounds concurrent writes. Values below 1 are ignored.
func WithParallelism(n int) ExporterOption {
	return func(e *Exporter) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithRetries sets how many times transient Put failures are retried.
// Negative values are ignored.
func WithRetries(n int, backoff time.Duration) ExporterOption {
	return func(e *Exporter) {
		if n >= 0 {
			e.retries = n
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *log.Logger) ExporterOption {
	return func(e *Exporter) { e.logger = l }
}

// NewFSExporter creates an exporter backed by the local filesystem under root.
func NewFSExporter(workspace, root string, opts ...ExporterOption) (*Exporter, error) {
	return NewExporterWithFactory(workspace, lode.NewFSFactory(root), opts...)
}

// NewExporterWithFactory creates an exporter with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewExporterWithFactory(workspace string, factory lode.StoreFactory, opts ...ExporterOption) (*Exporter, error) {
	if workspace == "" {
		return nil, ErrMissingWorkspace
	}
	e := &Exporter{
		workspace:    workspace,
		parallelism:  DefaultParallelism,
		retries:      DefaultRetries,
		backoff:      DefaultBackoff,
		storeFactory: factory,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workspace returns the workspace name stamped on every snapshot.
func (e *Exporter) Workspace() string { return e.workspace }

// SnapshotPrefix returns the storage prefix of the snapshot taken at t.
func (e *Exporter) SnapshotPrefix(at time.Time) string {
	return fmt.Sprintf("workspaces/%s/snapshots/%s", e.workspace, at.UTC().Format(SnapshotIDFormat))
}

// Export writes every file and then the manifest. The manifest is only
// written once all files succeeded, so its presence marks a complete snapshot.
func (e *Exporter) Export(ctx context.Context, files map[string]string, at time.Time) (Manifest, error) {
	store, err := e.getOrCreateStore()
	if err != nil {
		return Manifest{}, WrapInitError(err, e.workspace)
	}

	prefix := e.SnapshotPrefix(at)
	manifest := Manifest{
		Workspace:  e.workspace,
		SnapshotID: at.UTC().Format(SnapshotIDFormat),
		ExportedAt: at.UTC().Format(time.RFC3339),
		Prefix:     prefix,
		Files:      make([]ManifestFile, 0, len(files)),
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for _, p := range paths {
		key := prefix + "/files/" + strings.TrimPrefix(p, "/")
		content := files[p]
		manifest.Files = append(manifest.Files, ManifestFile{Path: p, Key: key, Size: len(content)})
		g.Go(func() error {
			return e.put(gctx, store, key, content)
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("snapshot export failed", map[string]any{
			"prefix": prefix,
			"error":  err.Error(),
		})
		return Manifest{}, err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := e.put(ctx, store, prefix+"/"+ManifestName, string(data)); err != nil {
		return Manifest{}, err
	}

	e.logger.Info("snapshot exported", map[string]any{
		"prefix": prefix,
		"files":  len(manifest.Files),
	})
	return manifest, nil
}

// put writes one object, retrying transient failures with doubling backoff.
func (e *Exporter) put(ctx context.Context, store lode.Store, key, content string) error {
	backoff := e.backoff
	for attempt := 0; ; attempt++ {
		err := WrapWriteError(store.Put(ctx, key, strings.NewReader(content)), key)
		if err == nil || attempt >= e.retries || !Retriable(err) {
			return err
		}
		e.logger.Warn("snapshot put failed, retrying", map[string]any{
			"key":     key,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// getOrCreateStore lazily initializes the Store from the factory.
func (e *Exporter) getOrCreateStore() (lode.Store, error) {
	e.storeOnce.Do(func() {
		e.store, e.storeErr = e.storeFactory()
	})
	return e.store, e.storeErr
}
