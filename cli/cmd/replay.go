package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/cli/render"
)

// DefaultChunkSize is how many bytes each replay step appends.
const DefaultChunkSize = 64

// ReplayCommand returns the replay command.
// Replay feeds a recorded message through the parser as a stream of
// cumulative prefixes, printing visible text as it is produced.
func ReplayCommand() *cli.Command {
	flags := append(SessionFlags(),
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Bytes appended per parse step (0 parses the whole message at once)",
			Value: DefaultChunkSize,
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress visible text output",
		},
		FormatFlag,
		NoColorFlag,
	)
	return &cli.Command{
		Name:   "replay",
		Usage:  "Replay a recorded message through the workbench",
		Flags:  flags,
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	choice, err := resolveChoice(c, cfg)
	if err != nil {
		return err
	}
	chunk := c.Int("chunk-size")
	if chunk < 0 {
		return cli.Exit(fmt.Sprintf("invalid --chunk-size %d (must be >= 0)", chunk), exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	text, err := readInput(c, c.String("input"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, choice, cfg, stderr(c), false)
	if err != nil {
		return err
	}
	defer s.close()

	var out io.Writer = io.Discard
	if !c.Bool("quiet") {
		out = stdout(c)
	}
	if interrupted := replay(ctx, s, text, chunk, out); interrupted {
		n := s.orch.AbortAll()
		s.logger.Warn("replay interrupted", map[string]any{"aborted": n})
	}
	if !c.Bool("quiet") {
		fmt.Fprintln(out)
	}
	s.close()

	prefix, err := s.export(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	summary := s.summary(prefix)
	if !c.Bool("quiet") {
		if err := r.Render(summary); err != nil {
			return err
		}
	}
	return exitFor(summary)
}

// replay parses growing prefixes of text and writes visible output. Prefix
// boundaries never split a UTF-8 sequence. It reports whether ctx ended
// before the whole text was fed.
func replay(ctx context.Context, s *session, text string, chunk int, out io.Writer) bool {
	if chunk == 0 {
		chunk = len(text)
	}
	end := 0
	for end < len(text) {
		if ctx.Err() != nil {
			return true
		}
		end += chunk
		if end > len(text) {
			end = len(text)
		}
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
		fmt.Fprint(out, s.orch.Parse(s.choice.streamID, text[:end]))
	}
	return false
}
