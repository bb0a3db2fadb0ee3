// Package filestore holds the in-memory workspace tree that file units write
// into.
//
// The Store is the single write path for file content. It tracks which files
// were modified after creation and which carry user edits not yet saved,
// enforces path locks against unit-origin writes, and reports changes to a
// Notifier. Changes made inside Batch are coalesced into one notification.
package filestore

import (
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/types"
)

// DirentType distinguishes files from folders.
type DirentType string

// Dirent types.
const (
	DirentFile   DirentType = "file"
	DirentFolder DirentType = "folder"
)

// Dirent is one entry of the tree.
type Dirent struct {
	Type    DirentType `json:"type"`
	Content string     `json:"content,omitempty"`
	Binary  bool       `json:"binary,omitempty"`
	// Locked is true when the entry or one of its ancestors is locked.
	Locked bool `json:"locked,omitempty"`
}

// Notifier receives coalesced change notifications.
// Implementations must not block and must not call back into the Store.
type Notifier interface {
	NotifyFileChange(change types.FileChange)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(change types.FileChange)

// NotifyFileChange calls f(change).
func (f NotifierFunc) NotifyFileChange(change types.FileChange) { f(change) }

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Store) { s.collector = c }
}

// WithClock overrides the notification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocked locks the given paths at construction.
func WithLocked(paths ...string) Option {
	return func(s *Store) {
		for _, p := range paths {
			if np, err := normalize(p); err == nil {
				s.locks[np] = struct{}{}
			}
		}
	}
}

// WriteOption qualifies a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	binary   bool
	fromUnit bool
}

// Binary marks the content as binary.
func Binary() WriteOption {
	return func(o *writeOptions) { o.binary = true }
}

// FromUnit marks the write as coming from a parsed unit rather than a user
// edit. Unit-origin writes respect locks and never mark a file unsaved.
func FromUnit() WriteOption {
	return func(o *writeOptions) { o.fromUnit = true }
}

// Store is the workspace tree. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*Dirent
	locks    map[string]struct{}
	modified map[string]struct{}
	unsaved  map[string]struct{}

	// pending collects changed paths until the next flush.
	pending    []string
	pendingSet map[string]struct{}
	batchDepth int
	seq        int64

	notifier  Notifier
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*Dirent),
		locks:      make(map[string]struct{}),
		modified:   make(map[string]struct{}),
		unsaved:    make(map[string]struct{}),
		pendingSet: make(map[string]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write sets the content of a file, creating missing parent folders.
// Writing identical content is a no-op.
func (s *Store) Write(p, content string, opts ...WriteOption) error {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	np, err := normalize(p)
	if err != nil {
		return &PathError{Op: "write", Path: p, Err: err}
	}

	s.mu.Lock()
	err = s.writeLocked(np, content, o)
	change, ok := s.takeLocked()
	s.mu.Unlock()

	if ok {
		s.notify(change)
	}
	return err
}

func (s *Store) writeLocked(p, content string, o writeOptions) error {
	if o.fromUnit {
		if lock, locked := s.lockFor(p); locked {
			return &LockedError{Path: p, Lock: lock}
		}
	}

	existing, exists := s.entries[p]
	if exists && existing.Type == DirentFolder {
		return &PathError{Op: "write", Path: p, Err: ErrIsFolder}
	}
	if exists && existing.Content == content && existing.Binary == o.binary {
		return nil
	}

	if err := s.mkdirAllLocked(path.Dir(p)); err != nil {
		return err
	}

	if !exists {
		s.entries[p] = &Dirent{Type: DirentFile, Content: content, Binary: o.binary}
	} else {
		existing.Content = content
		existing.Binary = o.binary
		s.modified[p] = struct{}{}
		if !o.fromUnit {
			s.unsaved[p] = struct{}{}
		}
	}
	s.markLocked(p)
	return nil
}

// Mkdir creates a folder and any missing parents.
func (s *Store) Mkdir(p string) error {
	np, err := normalize(p)
	if err != nil {
		return &PathError{Op: "mkdir", Path: p, Err: err}
	}

	s.mu.Lock()
	err = s.mkdirAllLocked(np)
	change, ok := s.takeLocked()
	s.mu.Unlock()

	if ok {
		s.notify(change)
	}
	return err
}

func (s *Store) mkdirAllLocked(p string) error {
	if p == "/" {
		return nil
	}
	if e, ok := s.entries[p]; ok {
		if e.Type != DirentFolder {
			return &PathError{Op: "mkdir", Path: p, Err: ErrIsFile}
		}
		return nil
	}
	if err := s.mkdirAllLocked(path.Dir(p)); err != nil {
		return err
	}
	s.entries[p] = &Dirent{Type: DirentFolder}
	s.markLocked(p)
	return nil
}

// Remove deletes a file, or a folder with everything below it.
// Removed paths are no longer reported as modified or unsaved.
func (s *Store) Remove(p string) error {
	np, err := normalize(p)
	if err != nil {
		return &PathError{Op: "remove", Path: p, Err: err}
	}

	s.mu.Lock()
	if _, ok := s.entries[np]; !ok {
		s.mu.Unlock()
		return &PathError{Op: "remove", Path: np, Err: ErrNotFound}
	}
	prefix := np + "/"
	for k := range s.entries {
		if k == np || strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			delete(s.modified, k)
			delete(s.unsaved, k)
		}
	}
	s.markLocked(np)
	change, ok := s.takeLocked()
	s.mu.Unlock()

	if ok {
		s.notify(change)
	}
	return nil
}

// Lock protects a path, and everything below it, from unit-origin writes.
// The path need not exist yet.
func (s *Store) Lock(p string) error {
	np, err := normalize(p)
	if err != nil {
		return &PathError{Op: "lock", Path: p, Err: err}
	}
	s.mu.Lock()
	s.locks[np] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Unlock removes a lock set on exactly this path.
func (s *Store) Unlock(p string) error {
	np, err := normalize(p)
	if err != nil {
		return &PathError{Op: "unlock", Path: p, Err: err}
	}
	s.mu.Lock()
	delete(s.locks, np)
	s.mu.Unlock()
	return nil
}

// IsLocked reports whether the path or one of its ancestors is locked.
func (s *Store) IsLocked(p string) bool {
	np, err := normalize(p)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, locked := s.lockFor(np)
	return locked
}

// lockFor returns the nearest locked path covering p.
func (s *Store) lockFor(p string) (string, bool) {
	for cur := p; ; cur = path.Dir(cur) {
		if _, ok := s.locks[cur]; ok {
			return cur, true
		}
		if cur == "/" {
			return "", false
		}
	}
}

// Read returns a copy of the entry at p.
func (s *Store) Read(p string) (Dirent, bool) {
	np, err := normalize(p)
	if err != nil {
		return Dirent{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[np]
	if !ok {
		return Dirent{}, false
	}
	d := *e
	_, d.Locked = s.lockFor(np)
	return d, true
}

// Save clears the unsaved flag of a file.
func (s *Store) Save(p string) error {
	np, err := normalize(p)
	if err != nil {
		return &PathError{Op: "save", Path: p, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[np]
	if !ok {
		return &PathError{Op: "save", Path: np, Err: ErrNotFound}
	}
	if e.Type == DirentFolder {
		return &PathError{Op: "save", Path: np, Err: ErrIsFolder}
	}
	delete(s.unsaved, np)
	return nil
}

// SaveAll clears every unsaved flag and returns the saved paths.
func (s *Store) SaveAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := sortedKeys(s.unsaved)
	clear(s.unsaved)
	return saved
}

// ListModified returns files changed since creation or since the last
// ResetModifications, sorted.
func (s *Store) ListModified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.modified)
}

// ListUnsaved returns files with unsaved user edits, sorted.
func (s *Store) ListUnsaved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.unsaved)
}

// ResetModifications forgets which files were modified.
func (s *Store) ResetModifications() {
	s.mu.Lock()
	clear(s.modified)
	s.mu.Unlock()
}

// Files returns a read-only copy of every file's content keyed by path.
func (s *Store) Files() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for p, e := range s.entries {
		if e.Type == DirentFile {
			out[p] = e.Content
		}
	}
	return out
}

// Dirents returns a copy of every entry keyed by path.
func (s *Store) Dirents() map[string]Dirent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Dirent, len(s.entries))
	for p, e := range s.entries {
		d := *e
		_, d.Locked = s.lockFor(p)
		out[p] = d
	}
	return out
}

// Batch runs fn and emits at most one notification covering every change
// fn made. Batches nest; only the outermost one notifies.
func (s *Store) Batch(fn func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.batchDepth--
		change, ok := s.takeLocked()
		s.mu.Unlock()
		if ok {
			s.notify(change)
		}
	}()

	fn()
}

func (s *Store) markLocked(p string) {
	if _, ok := s.pendingSet[p]; ok {
		return
	}
	s.pendingSet[p] = struct{}{}
	s.pending = append(s.pending, p)
}

// takeLocked drains pending changes unless a batch is open.
func (s *Store) takeLocked() (types.FileChange, bool) {
	if s.batchDepth > 0 || len(s.pending) == 0 {
		return types.FileChange{}, false
	}
	s.seq++
	change := types.FileChange{
		Seq:   s.seq,
		Paths: s.pending,
		At:    s.now().UTC(),
	}
	s.pending = nil
	clear(s.pendingSet)
	return change, true
}

func (s *Store) notify(change types.FileChange) {
	s.collector.IncFileNotifications()
	s.logger.Debug("file change", map[string]any{
		"seq":   change.Seq,
		"paths": len(change.Paths),
	})
	if s.notifier != nil {
		s.notifier.NotifyFileChange(change)
	}
}

// normalize returns the cleaned absolute form of p.
func normalize(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrInvalidPath
	}
	np := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if np == "/" {
		return "", ErrInvalidPath
	}
	return np, nil
}

// Normalize returns the cleaned absolute form of p as used for Store keys.
func Normalize(p string) (string, error) {
	return normalize(p)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
