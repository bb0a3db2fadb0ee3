// Package main provides the workbench CLI entrypoint.
//
// Usage:
//
//	workbench <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: usage or configuration error
//   - 2: one or more units failed
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/cli/cmd"
	"github.com/pithecene-io/workbench/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "workbench",
		Usage:          "Streaming artifact parser and unit orchestrator",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ReplayCommand(),
			cmd.WatchCommand(),
			cmd.InspectCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if code, msg, ok := exitStatus(err); ok {
		if msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
}

// exitStatus maps an action error to a process exit code and the message
// worth printing. ok is false for a nil error.
func exitStatus(err error) (code int, msg string, ok bool) {
	if err == nil {
		return 0, "", false
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code = exitCoder.ExitCode()
		msg = exitCoder.Error()
		// cli.Exit("", N).Error() returns "exit status N"
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg, true
	}

	return 1, fmt.Sprintf("Error: %v", err), true
}
