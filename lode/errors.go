// Package lode exports file store snapshots to a lode Store (local
// filesystem, S3 or memory) and classifies storage failures.
//
// Storage failures are wrapped in StorageError carrying a sentinel kind so
// callers use errors.Is/errors.As rather than string matching.
package lode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Storage failure kinds. Match with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	// ErrAuth is a credentials failure; ErrAccessDenied is valid credentials
	// without permission.
	ErrAuth         = errors.New("authentication failed")
	ErrAccessDenied = errors.New("access denied")
	ErrNetwork      = errors.New("network error")
	// ErrUnclassified is the kind of every failure no rule recognizes.
	ErrUnclassified = errors.New("storage error")
)

// StorageError is a classified storage failure. The cause stays in the chain.
type StorageError struct {
	Kind error
	// Op is "write" for object puts and "init" for store construction.
	Op string
	// Path is the object key, or the workspace for init failures.
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the failure kind.
func (e *StorageError) Is(target error) bool { return e.Kind == target }

// WrapWriteError classifies a failed object put. Returns nil for nil.
func WrapWriteError(err error, key string) error {
	return wrap("write", key, err)
}

// WrapInitError classifies a failed store construction. Returns nil for nil.
func WrapInitError(err error, workspace string) error {
	return wrap("init", workspace, err)
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// Retriable reports whether err is a transient storage failure worth
// another attempt.
func Retriable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrThrottled) || errors.Is(err, ErrNetwork)
}

// classifyRule maps message fragments (case-insensitive) to a kind.
type classifyRule struct {
	kind      error
	fragments []string
}

// classifyRules are tried in order; the first match wins. AWS error codes
// embed "403" and "AccessDenied" in otherwise permission-looking messages,
// so access denial is checked before plain permission failures.
var classifyRules = []classifyRule{
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrAccessDenied, []string{"AccessDenied", "Forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "EACCES"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "ENOENT", "404", "NoSuchKey", "NoSuchBucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "ENOSPC", "quota exceeded"}},
	{ErrThrottled, []string{"SlowDown", "rate exceeded", "throttl", "429", "TooManyRequests"}},
	{ErrAuth, []string{"NoCredentialProviders", "credentials", "InvalidAccessKeyId",
		"SignatureDoesNotMatch", "ExpiredToken", "401", "Unauthorized"}},
	{ErrNetwork, []string{"connection refused", "connection reset", "no route to host",
		"network unreachable", "DNS", "dial tcp"}},
}

// classifyError returns the failure kind of err, or nil for nil.
// Typed errors are checked before message fragments.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeout) && timeout.Timeout():
		return ErrTimeout
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, f := range rule.fragments {
			if strings.Contains(msg, strings.ToLower(f)) {
				return rule.kind
			}
		}
	}
	return ErrUnclassified
}
