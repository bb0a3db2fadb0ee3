package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/workbench/types"
)

// rawFrame prefixes payload with its length, bypassing the encoder.
func rawFrame(payload []byte) []byte {
	return append(binary.BigEndian.AppendUint32(nil, uint32(len(payload))), payload...)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("msgpack.Marshal: %v", err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	frames := []any{
		types.NewDispatchFrame(types.DispatchRun, types.Dispatch{
			UnitID:     "a1#1",
			ArtifactID: "a1",
			Kind:       types.UnitKindShell,
			Content:    "npm install",
			Status:     types.UnitStatusRunning,
		}),
		&types.StatusFrame{Type: types.StatusFrameType, UnitID: "a1#1", Status: "running"},
		&types.StatusFrame{Type: types.StatusFrameType, UnitID: "a1#1", Status: "failed", Message: "exit status 1"},
		types.NewDispatchFrame(types.DispatchAbort, types.Dispatch{UnitID: "a1#2"}),
	}

	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)
	for _, f := range frames {
		if err := enc.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	dec := NewFrameDecoder(&buf)
	for i, want := range frames {
		payload, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame: %v", i, err)
		}
		got, err := DecodeFrame(payload)
		if err != nil {
			t.Fatalf("frame %d: DecodeFrame: %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}
}

func TestFrameEncoder_ConcurrentWritesStayFramed(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = enc.WriteFrame(&types.StatusFrame{
				Type:    types.StatusFrameType,
				UnitID:  string(rune('a' + i)),
				Status:  "complete",
				Message: strings.Repeat("x", 512*i),
			})
		}()
	}
	wg.Wait()

	dec := NewFrameDecoder(&buf)
	for i := range writers {
		payload, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if _, err := DecodeStatus(payload); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
}

func TestFrameDecoder_Errors(t *testing.T) {
	status := rawFrame(mustMarshal(t, &types.StatusFrame{Type: types.StatusFrameType, UnitID: "a#0", Status: "complete"}))

	tests := []struct {
		name  string
		input []byte
		opts  []DecoderOption
		kind  FrameErrorKind
	}{
		{"truncated header", []byte{0x00, 0x00}, nil, FrameErrorPartial},
		{"truncated payload", status[:len(status)-3], nil, FrameErrorPartial},
		{"header only", status[:LengthPrefixSize], nil, FrameErrorPartial},
		{"over default limit", binary.BigEndian.AppendUint32(nil, MaxPayloadSize+1), nil, FrameErrorTooLarge},
		{"over custom limit", status, []DecoderOption{WithMaxPayload(8)}, FrameErrorTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameDecoder(bytes.NewReader(tt.input), tt.opts...).ReadFrame()
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FrameError", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.kind)
			}
			if !IsFatalFrameError(err) {
				t.Error("expected fatal error")
			}
		})
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	if _, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestWithMaxPayload_IgnoresOutOfRange(t *testing.T) {
	for _, n := range []int{0, -1, MaxPayloadSize + 1} {
		if d := NewFrameDecoder(nil, WithMaxPayload(n)); d.limit != MaxPayloadSize {
			t.Errorf("WithMaxPayload(%d) limit = %d", n, d.limit)
		}
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		kind    FrameErrorKind
	}{
		{"garbage", []byte{0xFF, 0xFF, 0xFF}, FrameErrorDecode},
		{"unknown type", mustMarshal(t, map[string]any{"type": "run_result"}), FrameErrorUnknownType},
		{"missing type", mustMarshal(t, map[string]any{"unit_id": "a#0"}), FrameErrorUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.payload)
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FrameError", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.kind)
			}
			if fe.IsFatal() {
				t.Error("payload errors must not be fatal")
			}
		})
	}
}

func TestFrameError_Error(t *testing.T) {
	tests := []struct {
		err  *FrameError
		want string
	}{
		{
			&FrameError{Kind: FrameErrorPartial, Op: "read payload", Detail: "want 9 bytes", Err: io.ErrUnexpectedEOF},
			"ipc: read payload: partial frame (want 9 bytes): unexpected EOF",
		},
		{
			&FrameError{Kind: FrameErrorUnknownType, Op: "decode type", Detail: `"x"`},
			`ipc: decode type: unknown frame type ("x")`,
		},
		{
			&FrameError{Kind: FrameErrorKind(42), Op: "read header"},
			"ipc: read header: frame error 42",
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsFatalFrameError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &FrameError{Kind: FrameErrorTooLarge, Op: "read header"})
	if !IsFatalFrameError(wrapped) {
		t.Error("wrapped fatal frame error not detected")
	}
	for _, err := range []error{nil, io.EOF, errors.New("plain")} {
		if IsFatalFrameError(err) {
			t.Errorf("IsFatalFrameError(%v) = true", err)
		}
	}
	fe := &FrameError{Kind: FrameErrorPartial, Op: "read header", Err: io.ErrUnexpectedEOF}
	if !errors.Is(fe, io.ErrUnexpectedEOF) {
		t.Error("Unwrap does not expose the cause")
	}
}
