// Package cmd provides CLI commands for the workbench binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitUnitFailures = 2
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect only)",
	}
)

// ReadOnlyFlags returns the shared flags for all rendering commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// SessionFlags returns the flags that build a parsing session. Every flag
// overrides the matching workbench.yaml value.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to workbench.yaml (default: ./workbench.yaml when present)",
		},
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "Path to the message text (- for stdin)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "workspace",
			Usage: "Workspace name",
			Value: "default",
		},
		&cli.StringFlag{
			Name:  "stream-id",
			Usage: "Stream (message) identifier",
			Value: "message-1",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "warn",
		},
		// Executor flags
		&cli.StringFlag{
			Name:  "executor",
			Usage: "Path to executor binary (default: dry-run)",
		},
		&cli.StringSliceFlag{
			Name:  "executor-arg",
			Usage: "Argument passed to the executor (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "lock",
			Usage: "Path unit writes must not touch (repeatable)",
		},
		// Export flags
		&cli.StringFlag{
			Name:  "export-backend",
			Usage: "Snapshot export backend: fs or s3",
			Value: "fs",
		},
		&cli.StringFlag{
			Name:  "export-path",
			Usage: "Export path (fs: directory, s3: bucket/prefix); empty disables export",
		},
		&cli.StringFlag{
			Name:  "export-region",
			Usage: "AWS region for S3 export (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "export-endpoint",
			Usage: "Custom S3 endpoint URL (R2, MinIO)",
		},
		&cli.BoolFlag{
			Name:  "export-s3-path-style",
			Usage: "Force S3 path-style addressing",
		},
		// Adapter flags
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "File change notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel template, {workspace} is substituted (redis adapter)",
		},
		&cli.StringFlag{
			Name:    "adapter-secret",
			Usage:   "HMAC-SHA256 key signing webhook bodies",
			EnvVars: []string{"WORKBENCH_ADAPTER_SECRET"},
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Retry attempts per publish",
			Value: 3,
		},
		&cli.IntFlag{
			Name:  "adapter-queue",
			Usage: "Pending notifications before changes are dropped",
			Value: 64,
		},
	}
}
