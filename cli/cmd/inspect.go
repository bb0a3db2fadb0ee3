package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/cli/render"
	"github.com/pithecene-io/workbench/cli/tui"
)

// InspectCommand returns the inspect command.
// Inspect parses a whole message in one call with the dry-run executor and
// renders the registry. It never runs the configured executor.
func InspectCommand() *cli.Command {
	flags := append(SessionFlags(),
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Show session counters instead of the registry (with --tui)",
		},
	)
	flags = append(flags, ReadOnlyFlags()...)
	return &cli.Command{
		Name:   "inspect",
		Usage:  "Parse a message and show its artifacts and units",
		Flags:  flags,
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	choice, err := resolveChoice(c, cfg)
	if err != nil {
		return err
	}
	// Inspect is read-only: no notifications, no export.
	choice.adapter = adapterChoice{}
	choice.export = exportChoice{}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	text, err := readInput(c, c.String("input"))
	if err != nil {
		return err
	}

	s, err := newSession(c.Context, choice, cfg, stderr(c), true)
	if err != nil {
		return err
	}
	s.orch.Parse(choice.streamID, text)
	s.close()

	summary := s.summary("")
	if c.Bool("tui") {
		if c.Bool("stats") {
			return r.RenderTUI(tui.ViewStatsSession, summary.Metrics)
		}
		return r.RenderTUI(tui.ViewInspectRegistry, summary.Registry)
	}
	return r.Render(summary)
}
