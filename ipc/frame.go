// Package ipc implements length-prefixed msgpack framing between the
// orchestrator and an external executor process.
//
// Each frame is a 4-byte big-endian payload length followed by a msgpack
// payload. Payloads carry a "type" field: "unit_dispatch" frames flow to the
// executor, "unit_status" frames flow back.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/workbench/types"
)

const (
	// LengthPrefixSize is the size of the big-endian length header.
	LengthPrefixSize = 4
	// MaxFrameSize bounds a whole frame, header included (16 MiB).
	MaxFrameSize = 16 << 20
	// MaxPayloadSize is the largest payload a default decoder accepts.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial is a stream that ended inside a frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge is a payload over the size limit.
	FrameErrorTooLarge
	// FrameErrorDecode is a payload that is not valid msgpack for its type.
	FrameErrorDecode
	// FrameErrorUnknownType is a payload whose type field is unrecognized.
	FrameErrorUnknownType
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial frame"
	case FrameErrorTooLarge:
		return "frame too large"
	case FrameErrorDecode:
		return "malformed payload"
	case FrameErrorUnknownType:
		return "unknown frame type"
	default:
		return fmt.Sprintf("frame error %d", int(k))
	}
}

// FrameError describes a failure to read, write or decode a frame.
// Detail is optional context such as the offending size or type.
type FrameError struct {
	Kind   FrameErrorKind
	Op     string
	Detail string
	Err    error
}

func (e *FrameError) Error() string {
	msg := "ipc: " + e.Op + ": " + e.Kind.String()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream is out of sync after this error.
// Decode and unknown-type errors leave the stream aligned on the next frame.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err wraps a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.IsFatal()
}

// FrameDecoder reads frames from a stream. It is not safe for concurrent use.
type FrameDecoder struct {
	r     io.Reader
	limit uint32
}

// DecoderOption configures a FrameDecoder.
type DecoderOption func(*FrameDecoder)

// WithMaxPayload lowers the accepted payload size. Values outside
// (0, MaxPayloadSize] are ignored.
func WithMaxPayload(n int) DecoderOption {
	return func(d *FrameDecoder) {
		if n > 0 && n <= MaxPayloadSize {
			d.limit = uint32(n)
		}
	}
}

// NewFrameDecoder returns a decoder reading from r.
func NewFrameDecoder(r io.Reader, opts ...DecoderOption) *FrameDecoder {
	d := &FrameDecoder{r: r, limit: MaxPayloadSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReadFrame returns the next raw payload. It returns io.EOF only when the
// stream ends exactly on a frame boundary; a stream that ends mid-frame
// yields a fatal *FrameError.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Op: "read header", Err: err}
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > d.limit {
		return nil, &FrameError{
			Kind:   FrameErrorTooLarge,
			Op:     "read header",
			Detail: fmt.Sprintf("%d > %d bytes", n, d.limit),
		}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, &FrameError{
			Kind:   FrameErrorPartial,
			Op:     "read payload",
			Detail: fmt.Sprintf("want %d bytes", n),
			Err:    err,
		}
	}
	return payload, nil
}

// FrameEncoder writes frames to a stream. WriteFrame may be called from
// several goroutines; frames never interleave.
type FrameEncoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameEncoder returns an encoder writing to w.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: w}
}

// WriteFrame msgpack-encodes v and writes it as one frame with a single
// Write call.
func (e *FrameEncoder) WriteFrame(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Op: "encode", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind:   FrameErrorTooLarge,
			Op:     "encode",
			Detail: fmt.Sprintf("%d > %d bytes", len(payload), MaxPayloadSize),
		}
	}

	frame := binary.BigEndian.AppendUint32(make([]byte, 0, LengthPrefixSize+len(payload)), uint32(len(payload)))
	frame = append(frame, payload...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

// DecodeFrame decodes payload into a *types.DispatchFrame or a
// *types.StatusFrame according to its type field.
func DecodeFrame(payload []byte) (any, error) {
	probe, err := decode[struct {
		Type string `msgpack:"type"`
	}](payload, "decode type")
	if err != nil {
		return nil, err
	}

	switch probe.Type {
	case types.DispatchFrameType:
		return DecodeDispatch(payload)
	case types.StatusFrameType:
		return DecodeStatus(payload)
	default:
		return nil, &FrameError{
			Kind:   FrameErrorUnknownType,
			Op:     "decode type",
			Detail: fmt.Sprintf("%q", probe.Type),
		}
	}
}

// DecodeDispatch decodes payload as a dispatch frame without checking its
// type field.
func DecodeDispatch(payload []byte) (*types.DispatchFrame, error) {
	return decode[types.DispatchFrame](payload, "decode "+types.DispatchFrameType)
}

// DecodeStatus decodes payload as a status frame without checking its type
// field.
func DecodeStatus(payload []byte) (*types.StatusFrame, error) {
	return decode[types.StatusFrame](payload, "decode "+types.StatusFrameType)
}

func decode[T any](payload []byte, op string) (*T, error) {
	var v T
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Op: op, Err: err}
	}
	return &v, nil
}
