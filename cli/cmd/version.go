package cmd

import (
	"runtime"
	"runtime/debug"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/cli/render"
	"github.com/pithecene-io/workbench/types"
)

// VersionResponse is the payload of the version command.
type VersionResponse struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Fields implements render.Fielder.
func (v VersionResponse) Fields() []render.Field {
	return []render.Field{
		{Name: "version", Value: v.Version},
		{Name: "commit", Value: v.Commit},
		{Name: "go", Value: v.GoVersion},
		{Name: "platform", Value: v.Platform},
	}
}

// VersionCommand reports the contract version and build details.
// An empty or "unknown" commit falls back to the VCS revision embedded by
// the Go toolchain.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version command", exitConfigError)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitConfigError)
			}
			return r.Render(buildVersion(commit))
		},
	}
}

func buildVersion(commit string) VersionResponse {
	if commit == "" || commit == "unknown" {
		commit = "unknown"
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return VersionResponse{
		Version:   types.Version,
		Commit:    commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
