package lode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/justapithecus/lode/lode"
)

// failingStore is a lode.Store whose Put returns putErr. With transient > 0
// only the first transient calls fail.
type failingStore struct {
	mu        sync.Mutex
	putErr    error
	transient int
	putPaths  []string
}

func (s *failingStore) Put(_ context.Context, path string, _ io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putPaths = append(s.putPaths, path)
	if s.putErr == nil || (s.transient > 0 && len(s.putPaths) > s.transient) {
		return nil
	}
	return s.putErr
}

func (s *failingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *failingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (s *failingStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (s *failingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

// sharedFactory returns a StoreFactory that always returns the given store.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func readKey(t *testing.T, store lode.Store, key string) string {
	t.Helper()
	rc, err := store.Get(t.Context(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll(%q): %v", key, err)
	}
	return string(data)
}

var exportTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestExporter_WritesFilesAndManifest(t *testing.T) {
	store := lode.NewMemory()
	e, err := NewExporterWithFactory("demo", sharedFactory(store), WithParallelism(2))
	if err != nil {
		t.Fatalf("NewExporterWithFactory: %v", err)
	}

	files := map[string]string{
		"/src/main.go": "package main\n",
		"/README.md":   "# demo",
		"/empty.txt":   "",
	}
	m, err := e.Export(t.Context(), files, exportTime)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	prefix := "workspaces/demo/snapshots/20260304T050607Z"
	if m.Prefix != prefix || m.SnapshotID != "20260304T050607Z" {
		t.Errorf("manifest prefix = %q id = %q", m.Prefix, m.SnapshotID)
	}

	wantFiles := []ManifestFile{
		{Path: "/README.md", Key: prefix + "/files/README.md", Size: 6},
		{Path: "/empty.txt", Key: prefix + "/files/empty.txt", Size: 0},
		{Path: "/src/main.go", Key: prefix + "/files/src/main.go", Size: 13},
	}
	if diff := cmp.Diff(wantFiles, m.Files); diff != "" {
		t.Errorf("manifest files mismatch (-want +got):\n%s", diff)
	}

	if got := readKey(t, store, prefix+"/files/src/main.go"); got != "package main\n" {
		t.Errorf("main.go = %q", got)
	}

	var stored Manifest
	if err := json.Unmarshal([]byte(readKey(t, store, prefix+"/manifest.json")), &stored); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if diff := cmp.Diff(m, stored); diff != "" {
		t.Errorf("stored manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestExporter_EmptySnapshotStillWritesManifest(t *testing.T) {
	store := lode.NewMemory()
	e, err := NewExporterWithFactory("demo", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewExporterWithFactory: %v", err)
	}
	m, err := e.Export(t.Context(), nil, exportTime)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(m.Files) != 0 {
		t.Errorf("files = %v", m.Files)
	}
	ok, err := store.Exists(t.Context(), m.Prefix+"/manifest.json")
	if err != nil || !ok {
		t.Errorf("manifest exists = %v, err = %v", ok, err)
	}
}

func TestExporter_PutFailureSkipsManifest(t *testing.T) {
	store := &failingStore{putErr: errors.New("write /data: permission denied")}
	e, err := NewExporterWithFactory("demo", sharedFactory(store), WithParallelism(1))
	if err != nil {
		t.Fatalf("NewExporterWithFactory: %v", err)
	}

	_, err = e.Export(t.Context(), map[string]string{"/a.txt": "a"}, exportTime)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	for _, p := range store.putPaths {
		if p == "workspaces/demo/snapshots/20260304T050607Z/manifest.json" {
			t.Error("manifest written after failed file put")
		}
	}
	if len(store.putPaths) != 1 {
		t.Errorf("permanent failure was retried: %v", store.putPaths)
	}
}

func TestExporter_RetriesTransientPut(t *testing.T) {
	store := &failingStore{putErr: errors.New("SlowDown: reduce your request rate"), transient: 2}
	e, err := NewExporterWithFactory("demo", sharedFactory(store),
		WithParallelism(1), WithRetries(2, time.Millisecond))
	if err != nil {
		t.Fatalf("NewExporterWithFactory: %v", err)
	}

	if _, err := e.Export(t.Context(), map[string]string{"/a.txt": "a"}, exportTime); err != nil {
		t.Fatalf("Export: %v", err)
	}
	// Two failed attempts, the successful file put, then the manifest.
	if len(store.putPaths) != 4 {
		t.Errorf("puts = %v", store.putPaths)
	}
}

func TestExporter_RetriesExhausted(t *testing.T) {
	store := &failingStore{putErr: errors.New("dial tcp: connection reset by peer")}
	e, err := NewExporterWithFactory("demo", sharedFactory(store),
		WithParallelism(1), WithRetries(1, time.Millisecond))
	if err != nil {
		t.Fatalf("NewExporterWithFactory: %v", err)
	}

	_, err = e.Export(t.Context(), map[string]string{"/a.txt": "a"}, exportTime)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if len(store.putPaths) != 2 {
		t.Errorf("puts = %v, want one retry", store.putPaths)
	}
}

func TestExporter_FactoryFailure(t *testing.T) {
	factory := func() (lode.Store, error) {
		return nil, errors.New("dial tcp 10.0.0.1:443: connection refused")
	}
	e, err := NewExporterWithFactory("demo", factory)
	if err != nil {
		t.Fatalf("NewExporterWithFactory: %v", err)
	}
	_, err = e.Export(t.Context(), map[string]string{"/a": "a"}, exportTime)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestNewExporter_RequiresWorkspace(t *testing.T) {
	if _, err := NewExporterWithFactory("", lode.NewMemoryFactory()); !errors.Is(err, ErrMissingWorkspace) {
		t.Errorf("err = %v, want ErrMissingWorkspace", err)
	}
}

func TestNewFSExporter(t *testing.T) {
	e, err := NewFSExporter("demo", t.TempDir())
	if err != nil {
		t.Fatalf("NewFSExporter: %v", err)
	}
	m, err := e.Export(t.Context(), map[string]string{"/dir/a.txt": "hello"}, exportTime)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(m.Files) != 1 || m.Files[0].Size != 5 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
		{"s3://bucket/snaps", "bucket", "snaps"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	var c S3Config
	if err := c.Validate(); err == nil {
		t.Error("empty bucket should fail")
	}
	c.Bucket = "b"
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	c.Endpoint = "http://localhost:9000"
	c.UsePathStyle = true
	if n := len(c.clientOptions()); n != 2 {
		t.Errorf("clientOptions = %d, want 2", n)
	}
}
