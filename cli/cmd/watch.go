package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/cli/render"
)

// WatchCommand returns the watch command.
// Watch tails a message file: every write reparses the cumulative content
// until interrupted.
func WatchCommand() *cli.Command {
	flags := append(SessionFlags(),
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Stop watching after this long (0 waits for SIGINT/SIGTERM)",
		},
		FormatFlag,
		NoColorFlag,
	)
	return &cli.Command{
		Name:   "watch",
		Usage:  "Tail a message file and parse it as it grows",
		Flags:  flags,
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	choice, err := resolveChoice(c, cfg)
	if err != nil {
		return err
	}
	path := c.String("input")
	if path == "-" {
		return cli.Exit("watch requires a file --input, not stdin", exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	s, err := newSession(ctx, choice, cfg, stderr(c), false)
	if err != nil {
		return err
	}
	defer s.close()

	t := &tailer{path: path, session: s, out: stdout(c)}
	if err := t.watch(ctx); err != nil {
		return err
	}

	s.orch.AbortAll()
	fmt.Fprintln(t.out)
	s.close()

	prefix, err := s.export(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	summary := s.summary(prefix)
	if err := r.Render(summary); err != nil {
		return err
	}
	return exitFor(summary)
}

// tailer reparses a file whenever it changes.
type tailer struct {
	path    string
	session *session
	out     io.Writer
	// last is the content parsed by the previous reload.
	last string
}

// watch reloads once, then on every change to path until ctx ends.
// The parent directory is watched so editors that replace the file by
// rename are followed.
func (t *tailer) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(t.path)); err != nil {
		return cli.Exit(fmt.Sprintf("cannot watch %q: %v", t.path, err), exitConfigError)
	}
	if err := t.reload(); err != nil {
		return err
	}

	target := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := t.reload(); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			t.session.logger.Warn("watch error", map[string]any{"error": err.Error()})
		}
	}
}

// reload parses the current file content. Content that no longer extends
// what was parsed before resets the stream so it is reparsed from the start;
// units already dispatched are not dispatched again.
func (t *tailer) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot read %q: %w", t.path, err)
	}
	text := string(data)
	if text == t.last {
		return nil
	}

	s := t.session
	if !strings.HasPrefix(text, t.last) {
		s.logger.Info("message rewritten, reparsing", map[string]any{
			"path":     t.path,
			"previous": len(t.last),
			"length":   len(text),
		})
		s.orch.Reset(s.choice.streamID)
	}
	t.last = text
	fmt.Fprint(t.out, s.orch.Parse(s.choice.streamID, text))
	return nil
}
