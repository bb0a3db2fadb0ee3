// Package main provides workbench-exec, a reference executor process.
//
// workbench-exec speaks the unit frame protocol on stdin/stdout: it reads
// dispatch frames and answers run and abort requests with status frames.
// Units run concurrently; an abort stops a running unit.
// Without --exec every run completes immediately; with --exec shell units
// are executed with sh -c.
//
// Usage:
//
//	workbench --executor workbench-exec --executor-arg=--exec replay --input msg.txt
//
// Exit codes:
//   - 0: stdin closed cleanly
//   - 1: usage error or broken frame stream
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/ipc"
	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/types"
)

func main() {
	app := &cli.App{
		Name:    "workbench-exec",
		Usage:   "Reference unit executor speaking the workbench frame protocol",
		Version: types.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "exec",
				Usage: "Run shell units with sh -c instead of completing them immediately",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Working directory for executed units",
				Value: ".",
			},
			&cli.DurationFlag{
				Name:  "unit-timeout",
				Usage: "Fail a unit that runs longer than this (0 disables)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
		},
		Action: execAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execAction(c *cli.Context) error {
	// stdout carries frames, so logs go to stderr only.
	logger := log.NewLogger(log.SessionMeta{
		Workspace: os.Getenv("WORKBENCH_WORKSPACE"),
		SessionID: uuid.NewString(),
	}).WithOutput(os.Stderr).WithLevel(c.String("log-level"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := completeAll
	if c.Bool("exec") {
		run = shellRunner(c.String("dir"), c.Duration("unit-timeout"))
	}
	return serve(ctx, os.Stdin, os.Stdout, run, logger)
}

// runFunc executes one unit and returns its terminal status.
type runFunc func(ctx context.Context, f *types.DispatchFrame) (types.UnitStatus, string)

func completeAll(context.Context, *types.DispatchFrame) (types.UnitStatus, string) {
	return types.UnitStatusComplete, ""
}

// waitDelay bounds how long a killed unit's children may hold its output open.
const waitDelay = 500 * time.Millisecond

// shellRunner runs shell and start units in dir. Other kinds complete
// without running.
func shellRunner(dir string, timeout time.Duration) runFunc {
	return func(ctx context.Context, f *types.DispatchFrame) (types.UnitStatus, string) {
		if f.Kind != types.UnitKindShell && f.Kind != types.UnitKindStart {
			return types.UnitStatusComplete, ""
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", f.Content)
		cmd.Dir = dir
		cmd.WaitDelay = waitDelay
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return types.UnitStatusFailed, fmt.Sprintf("timed out: %v", ctx.Err())
			case ctx.Err() != nil:
				return types.UnitStatusAborted, ""
			}
			msg := strings.TrimSpace(out.String())
			if msg == "" {
				msg = err.Error()
			}
			return types.UnitStatusFailed, msg
		}
		return types.UnitStatusComplete, ""
	}
}

// serve answers dispatch frames read from r with status frames written to
// w until r reaches EOF, then waits for units still running. Each run
// executes in its own goroutine so aborts and later dispatches are read
// while it runs. Each unit gets at most one terminal status.
func serve(ctx context.Context, r io.Reader, w io.Writer, run runFunc, logger *log.Logger) error {
	s := &server{
		enc:     ipc.NewFrameEncoder(w),
		run:     run,
		logger:  logger,
		done:    make(map[string]bool),
		cancels: make(map[string]context.CancelFunc),
	}
	err := s.readLoop(ctx, ipc.NewFrameDecoder(r))
	s.wg.Wait()
	if err != nil {
		return err
	}
	return s.writeErr()
}

// server tracks in-flight units of one frame stream.
type server struct {
	enc    *ipc.FrameEncoder
	run    runFunc
	logger *log.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	done    map[string]bool
	cancels map[string]context.CancelFunc
	werr    error
}

func (s *server) readLoop(ctx context.Context, dec *ipc.FrameDecoder) error {
	for {
		if err := s.writeErr(); err != nil {
			return err
		}
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read dispatch frame: %w", err)
		}

		frame, err := ipc.DecodeDispatch(payload)
		if err != nil {
			s.logger.Warn("undecodable frame skipped", map[string]any{"error": err.Error()})
			continue
		}
		if frame.Type != types.DispatchFrameType {
			s.logger.Warn("unexpected frame skipped", map[string]any{"type": frame.Type})
			continue
		}

		switch frame.Mode {
		case types.DispatchStream:
			s.logger.Debug("unit streaming", map[string]any{
				"unit_id": frame.UnitID,
				"bytes":   len(frame.Content),
			})
		case types.DispatchRun:
			s.start(ctx, frame)
		case types.DispatchAbort:
			s.abort(frame.UnitID)
		default:
			s.logger.Warn("unknown dispatch mode", map[string]any{
				"unit_id": frame.UnitID,
				"mode":    string(frame.Mode),
			})
		}
	}
}

// start reports running and executes the unit in the background. Runs for
// a unit that is already running or terminal are ignored.
func (s *server) start(ctx context.Context, frame *types.DispatchFrame) {
	s.mu.Lock()
	if s.done[frame.UnitID] || s.cancels[frame.UnitID] != nil {
		s.mu.Unlock()
		return
	}
	unitCtx, cancel := context.WithCancel(ctx)
	s.cancels[frame.UnitID] = cancel
	s.mu.Unlock()

	s.report(frame.UnitID, types.UnitStatusRunning, "")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		status, message := s.run(unitCtx, frame)
		if !s.finish(frame.UnitID) {
			return
		}
		s.logger.Info("unit finished", map[string]any{
			"unit_id": frame.UnitID,
			"kind":    string(frame.Kind),
			"status":  string(status),
		})
		s.report(frame.UnitID, status, message)
	}()
}

// abort cancels a running unit and reports it aborted. A unit that is
// already terminal is left alone.
func (s *server) abort(unitID string) {
	s.mu.Lock()
	if s.done[unitID] {
		s.mu.Unlock()
		return
	}
	s.done[unitID] = true
	cancel := s.cancels[unitID]
	delete(s.cancels, unitID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("unit aborted", map[string]any{"unit_id": unitID})
	s.report(unitID, types.UnitStatusAborted, "")
}

// finish marks a unit terminal. It returns false when an abort got there
// first.
func (s *server) finish(unitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done[unitID] {
		return false
	}
	s.done[unitID] = true
	delete(s.cancels, unitID)
	return true
}

func (s *server) report(unitID string, status types.UnitStatus, message string) {
	err := s.enc.WriteFrame(&types.StatusFrame{
		Type:    types.StatusFrameType,
		UnitID:  unitID,
		Status:  string(status),
		Message: message,
	})
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.werr == nil {
		s.werr = fmt.Errorf("write status frame: %w", err)
	}
	s.mu.Unlock()
}

func (s *server) writeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.werr
}
