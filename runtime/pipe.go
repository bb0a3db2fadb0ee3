package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/workbench/ipc"
	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/types"
)

// ErrExecutorClosed is returned when attaching a closed PipeExecutor.
var ErrExecutorClosed = errors.New("executor closed")

// PipeExecutor speaks the frame protocol over a reader/writer pair.
//
// Dispatch frames are queued without bound and written by a background
// goroutine, so Stream, Run and Abort never block. Status frames read back
// are reported to the bound StatusSink.
type PipeExecutor struct {
	logger *log.Logger

	mu      sync.Mutex
	sink    StatusSink
	pending []*types.DispatchFrame
	closed  bool
	wake    chan struct{}
	g       *errgroup.Group
}

// NewPipeExecutor creates a PipeExecutor. Frames queued before Attach are
// written once a transport is attached.
func NewPipeExecutor(logger *log.Logger) *PipeExecutor {
	return &PipeExecutor{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Bind sets the status sink.
func (p *PipeExecutor) Bind(sink StatusSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Attach starts the writer and reader goroutines. w is closed once the queue
// has been flushed after Close. r is read until EOF.
func (p *PipeExecutor) Attach(ctx context.Context, r io.Reader, w io.WriteCloser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrExecutorClosed
	}
	if p.g != nil {
		return errors.New("executor already attached")
	}

	g, gctx := errgroup.WithContext(ctx)
	p.g = g
	g.Go(func() error {
		defer w.Close()
		return p.writeLoop(gctx, ipc.NewFrameEncoder(w))
	})
	g.Go(func() error {
		return p.readLoop(ipc.NewFrameDecoder(r))
	})
	return nil
}

// Stream queues a stream frame.
func (p *PipeExecutor) Stream(d types.Dispatch) {
	p.enqueue(types.NewDispatchFrame(types.DispatchStream, d))
}

// Run queues a run frame.
func (p *PipeExecutor) Run(d types.Dispatch) {
	p.enqueue(types.NewDispatchFrame(types.DispatchRun, d))
}

// Abort queues an abort frame.
func (p *PipeExecutor) Abort(unitID string) {
	p.enqueue(types.NewDispatchFrame(types.DispatchAbort, types.Dispatch{UnitID: unitID}))
}

func (p *PipeExecutor) enqueue(f *types.DispatchFrame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("dispatch after close dropped", map[string]any{
			"unit_id": f.UnitID,
			"mode":    string(f.Mode),
		})
		return
	}
	p.pending = append(p.pending, f)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PipeExecutor) writeLoop(ctx context.Context, enc *ipc.FrameEncoder) error {
	for {
		p.mu.Lock()
		batch := p.pending
		p.pending = nil
		closed := p.closed
		p.mu.Unlock()

		for _, f := range batch {
			if err := enc.WriteFrame(f); err != nil {
				return fmt.Errorf("write %s frame for %s: %w", f.Mode, f.UnitID, err)
			}
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
	}
}

func (p *PipeExecutor) readLoop(dec *ipc.FrameDecoder) error {
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read status frame: %w", err)
		}

		frame, err := ipc.DecodeFrame(payload)
		if err != nil {
			p.logger.Warn("undecodable frame skipped", map[string]any{"error": err.Error()})
			continue
		}
		sf, ok := frame.(*types.StatusFrame)
		if !ok {
			p.logger.Warn("unexpected frame skipped", map[string]any{"type": fmt.Sprintf("%T", frame)})
			continue
		}
		status, err := types.ParseUnitStatus(sf.Status)
		if err != nil {
			p.logger.Warn("invalid status skipped", map[string]any{
				"unit_id": sf.UnitID,
				"error":   err.Error(),
			})
			continue
		}

		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if sink == nil {
			continue
		}
		if err := sink.ReportStatus(sf.UnitID, status, sf.Message); err != nil {
			p.logger.Warn("status report rejected", map[string]any{
				"unit_id": sf.UnitID,
				"error":   err.Error(),
			})
		}
	}
}

// Close flushes queued frames, closes the writer and waits for the peer to
// close its side. Further dispatches are dropped.
func (p *PipeExecutor) Close() error {
	p.mu.Lock()
	p.closed = true
	g := p.g
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	if g == nil {
		return nil
	}
	return g.Wait()
}
