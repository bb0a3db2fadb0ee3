package filestore

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is for assertions.
var (
	// ErrLocked indicates a unit-origin write to a locked path.
	ErrLocked = errors.New("path is locked")

	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrInvalidPath indicates an empty path or the root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrIsFolder indicates a file operation on a folder.
	ErrIsFolder = errors.New("path is a folder")

	// ErrIsFile indicates a folder operation on a file, or a file where a
	// parent folder is required.
	ErrIsFile = errors.New("path is a file")
)

// LockedError reports which lock rejected a write.
type LockedError struct {
	// Path is the write target.
	Path string
	// Lock is the locked path that covers Path (Path itself or an ancestor).
	Lock string
}

func (e *LockedError) Error() string {
	if e.Lock != e.Path {
		return fmt.Sprintf("write %s: %v (via %s)", e.Path, ErrLocked, e.Lock)
	}
	return fmt.Sprintf("write %s: %v", e.Path, ErrLocked)
}

// Is reports whether target is ErrLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// PathError wraps a sentinel with the operation and path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the sentinel.
func (e *PathError) Unwrap() error {
	return e.Err
}
