package lode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
	"testing"
)

func TestClassifyError_Messages(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"operation timed out after 30s", ErrTimeout},
		{"read tcp 10.0.0.1:5000: i/o timeout", ErrTimeout},
		{"AccessDenied: Access Denied", ErrAccessDenied},
		{"api error Forbidden", ErrAccessDenied},
		{"PutObject: StatusCode: 403", ErrAccessDenied},
		{"open /srv/snapshots/a.txt: permission denied", ErrPermissionDenied},
		{"mkdir /srv: EACCES", ErrPermissionDenied},
		{"NoSuchBucket: The specified bucket does not exist", ErrNotFound},
		{"write /data/x: no space left on device", ErrDiskFull},
		{"bucket quota exceeded", ErrDiskFull},
		{"SlowDown: Please reduce your request rate.", ErrThrottled},
		{"StatusCode: 429 TooManyRequests", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"ExpiredToken: The provided token has expired", ErrAuth},
		{"dial tcp 127.0.0.1:9000: connect: connection refused", ErrNetwork},
		{"lookup minio: DNS resolution failed", ErrNetwork},
		{"something completely unexpected happened", ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classifyError(errors.New(tt.msg)); got != tt.want {
				t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyError_Typed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("put: %w", context.DeadlineExceeded), ErrTimeout},
		{"net timeout", &net.DNSError{Err: "slow", IsTimeout: true}, ErrTimeout},
		{"fs permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, ErrPermissionDenied},
		{"fs not exist", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, ErrNotFound},
		{"enospc", &fs.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, ErrDiskFull},
		{"econnreset", fmt.Errorf("upload: %w", syscall.ECONNRESET), ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v, want nil", got)
	}
}

func TestRetriable(t *testing.T) {
	key := "workspaces/demo/snapshots/x/files/a.txt"
	tests := []struct {
		cause string
		want  bool
	}{
		{"SlowDown", true},
		{"i/o timeout", true},
		{"connection refused", true},
		{"permission denied", false},
		{"InvalidAccessKeyId", false},
		{"weird", false},
	}
	for _, tt := range tests {
		if got := Retriable(WrapWriteError(errors.New(tt.cause), key)); got != tt.want {
			t.Errorf("Retriable(%q) = %v, want %v", tt.cause, got, tt.want)
		}
	}
}

func TestWrapWriteError(t *testing.T) {
	if WrapWriteError(nil, "k") != nil {
		t.Error("WrapWriteError(nil) should be nil")
	}

	cause := errors.New("write /data/x: no space left on device")
	err := WrapWriteError(cause, "workspaces/demo/snapshots/x/files/a.txt")
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("err = %v, want ErrDiskFull", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("err should match only its own kind")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved in chain")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err is %T, want *StorageError", err)
	}
	if se.Op != "write" || se.Path != "workspaces/demo/snapshots/x/files/a.txt" {
		t.Errorf("StorageError = %+v", se)
	}
}

func TestWrapInitError(t *testing.T) {
	err := WrapInitError(errors.New("NoCredentialProviders: no valid providers in chain"), "demo")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
	want := "init demo: authentication failed: NoCredentialProviders: no valid providers in chain"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
