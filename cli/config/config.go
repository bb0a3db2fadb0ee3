package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pithecene-io/workbench/parser"
	"github.com/pithecene-io/workbench/types"
)

// Config represents a workbench.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Workspace string         `yaml:"workspace"`
	StreamID  string         `yaml:"stream_id"`
	Log       LogConfig      `yaml:"log"`
	Parser    ParserConfig   `yaml:"parser"`
	Executor  ExecutorConfig `yaml:"executor"`
	Store     StoreConfig    `yaml:"store"`
	Export    ExportConfig   `yaml:"export"`
	Adapter   AdapterConfig  `yaml:"adapter"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ParserConfig declares extra unit kinds and the artifact placeholder.
type ParserConfig struct {
	// Kinds maps a kind name to its options.
	// Name is derived from the map key, not stored in the struct.
	Kinds map[string]KindConfig `yaml:"kinds"`
	// Placeholder is inserted into visible text where an artifact opens.
	// {id}, {title}, {kind} and {stream} are substituted.
	Placeholder string `yaml:"placeholder"`
}

// KindConfig is an extra unit kind definition.
type KindConfig struct {
	SuppressOutput bool `yaml:"suppress_output"`
}

// ExecutorConfig selects the execution collaborator.
// An empty path selects the dry-run executor.
type ExecutorConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// StoreConfig holds file store defaults.
type StoreConfig struct {
	// Locked lists paths (files or folders) that unit writes must not touch.
	Locked []string `yaml:"locked"`
}

// ExportConfig holds snapshot export defaults.
type ExportConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds file change notification defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// Secret signs webhook bodies (HMAC-SHA256).
	Secret  string            `yaml:"secret,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Queue   int               `yaml:"queue,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Kinds converts the map-keyed kind config into a sorted slice of
// parser.KindSpec. Sorting by name ensures deterministic ordering.
func (c *Config) Kinds() []parser.KindSpec {
	if len(c.Parser.Kinds) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Parser.Kinds))
	for name := range c.Parser.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]parser.KindSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, parser.KindSpec{
			Kind:     types.UnitKind(name),
			Suppress: c.Parser.Kinds[name].SuppressOutput,
		})
	}
	return specs
}

// Placeholder returns the configured placeholder renderer, or nil when no
// placeholder template is set.
func (c *Config) Placeholder() parser.PlaceholderFunc {
	tmpl := c.Parser.Placeholder
	if tmpl == "" {
		return nil
	}
	return func(streamID string, a types.ArtifactHeader) string {
		return strings.NewReplacer(
			"{id}", a.ID,
			"{title}", a.Title,
			"{kind}", a.Kind,
			"{stream}", streamID,
		).Replace(tmpl)
	}
}
