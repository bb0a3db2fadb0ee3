package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/workbench/adapter"
	"github.com/pithecene-io/workbench/adapter/redis"
	"github.com/pithecene-io/workbench/adapter/webhook"
	wbconfig "github.com/pithecene-io/workbench/cli/config"
	"github.com/pithecene-io/workbench/cli/render"
	"github.com/pithecene-io/workbench/filestore"
	"github.com/pithecene-io/workbench/lode"
	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/parser"
	"github.com/pithecene-io/workbench/runtime"
	"github.com/pithecene-io/workbench/types"
)

// exportChoice holds resolved snapshot export configuration.
type exportChoice struct {
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	region    string
	endpoint  string
	pathStyle bool
}

// adapterChoice holds resolved notification adapter configuration.
type adapterChoice struct {
	typ     string // "webhook", "redis" or empty
	url     string
	channel string
	headers map[string]string
	secret  string
	timeout time.Duration
	retries int
	queue   int
}

// sessionChoice holds every resolved session setting.
type sessionChoice struct {
	workspace    string
	streamID     string
	logLevel     string
	executorPath string
	executorArgs []string
	locked       []string
	export       exportChoice
	adapter      adapterChoice
}

// loadConfig loads --config, or ./workbench.yaml when present.
func loadConfig(c *cli.Context) (*wbconfig.Config, error) {
	cfg, err := wbconfig.LoadOptional(c.String("config"), c.IsSet("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	return cfg, nil
}

// resolveChoice merges CLI flags over config values.
func resolveChoice(c *cli.Context, cfg *wbconfig.Config) (sessionChoice, error) {
	choice := sessionChoice{
		workspace:    resolveString(c, "workspace", cfg.Workspace),
		streamID:     resolveString(c, "stream-id", cfg.StreamID),
		logLevel:     resolveString(c, "log-level", cfg.Log.Level),
		executorPath: resolveString(c, "executor", cfg.Executor.Path),
		executorArgs: resolveStrings(c, "executor-arg", cfg.Executor.Args),
		locked:       resolveStrings(c, "lock", cfg.Store.Locked),
		export: exportChoice{
			backend:   resolveString(c, "export-backend", cfg.Export.Backend),
			path:      resolveString(c, "export-path", cfg.Export.Path),
			region:    resolveString(c, "export-region", cfg.Export.Region),
			endpoint:  resolveString(c, "export-endpoint", cfg.Export.Endpoint),
			pathStyle: resolveBool(c, "export-s3-path-style", cfg.Export.S3PathStyle),
		},
		adapter: adapterChoice{
			typ:     resolveString(c, "adapter", cfg.Adapter.Type),
			url:     resolveString(c, "adapter-url", cfg.Adapter.URL),
			channel: resolveString(c, "adapter-channel", cfg.Adapter.Channel),
			headers: cfg.Adapter.Headers,
			secret:  resolveString(c, "adapter-secret", cfg.Adapter.Secret),
			timeout: resolveDuration(c, "adapter-timeout", cfg.Adapter.Timeout.Duration),
			retries: c.Int("adapter-retries"),
			queue:   resolveInt(c, "adapter-queue", cfg.Adapter.Queue),
		},
	}
	if !c.IsSet("adapter-retries") && cfg.Adapter.Retries != nil {
		choice.adapter.retries = *cfg.Adapter.Retries
	}

	if err := validateChoice(choice); err != nil {
		return sessionChoice{}, cli.Exit(err.Error(), exitConfigError)
	}
	return choice, nil
}

func validateChoice(choice sessionChoice) error {
	if choice.workspace == "" {
		return fmt.Errorf("--workspace is required (flag or workspace: in config)")
	}
	if choice.streamID == "" {
		return fmt.Errorf("--stream-id is required (flag or stream_id: in config)")
	}
	switch choice.export.backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("invalid --export-backend %q (must be fs or s3)", choice.export.backend)
	}
	switch choice.adapter.typ {
	case "":
	case "webhook", "redis":
		if choice.adapter.url == "" {
			return fmt.Errorf("--adapter-url is required for the %s adapter", choice.adapter.typ)
		}
	default:
		return fmt.Errorf("invalid --adapter %q (must be webhook or redis)", choice.adapter.typ)
	}
	return nil
}

// resolveString returns the flag when explicitly set, the config value when
// non-empty, and the flag default otherwise.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if cfgVal != "" {
		return cfgVal
	}
	return c.String(name)
}

func resolveStrings(c *cli.Context, name string, cfgVal []string) []string {
	if c.IsSet(name) {
		return c.StringSlice(name)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	if cfgVal != 0 {
		return cfgVal
	}
	return c.Int(name)
}

func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	if cfgVal != 0 {
		return cfgVal
	}
	return c.Duration(name)
}

// alertDisplay collects alerts for the summary and logs lifecycle updates.
type alertDisplay struct {
	logger *log.Logger

	mu     sync.Mutex
	alerts []types.Alert
}

func (d *alertDisplay) OnArtifactOpen(a types.Artifact) {
	d.logger.Debug("artifact opened", map[string]any{"artifact_id": a.ID, "title": a.Title})
}

func (d *alertDisplay) OnArtifactClose(a types.Artifact) {
	d.logger.Debug("artifact closed", map[string]any{"artifact_id": a.ID, "units": len(a.UnitIDs)})
}

func (d *alertDisplay) OnUnit(u types.Unit) {
	d.logger.Debug("unit updated", map[string]any{"unit_id": u.ID, "status": string(u.Status)})
}

func (d *alertDisplay) OnAlert(a types.Alert) {
	d.mu.Lock()
	d.alerts = append(d.alerts, a)
	d.mu.Unlock()
	d.logger.Warn(a.Title, map[string]any{"unit_id": a.Source, "description": a.Description})
}

func (d *alertDisplay) snapshot() []types.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Alert(nil), d.alerts...)
}

// session wires parser, file store, orchestrator, executor and adapter for
// one command invocation.
type session struct {
	choice    sessionChoice
	logger    *log.Logger
	collector *metrics.Collector
	display   *alertDisplay
	orch      *runtime.Orchestrator

	process   *runtime.ProcessExecutor
	dryRun    *runtime.DryRunExecutor
	forwarder *adapter.Forwarder
	closed    bool
}

// newSession builds a session. When dryRun is set the configured executor
// is ignored.
func newSession(ctx context.Context, choice sessionChoice, cfg *wbconfig.Config, logOut io.Writer, dryRun bool) (*session, error) {
	logger := log.NewLogger(log.SessionMeta{
		Workspace: choice.workspace,
		SessionID: uuid.NewString(),
	}).WithOutput(logOut).WithLevel(choice.logLevel)
	collector := metrics.NewCollector()

	s := &session{
		choice:    choice,
		logger:    logger,
		collector: collector,
		display:   &alertDisplay{logger: logger},
	}

	storeOpts := []filestore.Option{
		filestore.WithLogger(logger),
		filestore.WithCollector(collector),
		filestore.WithLocked(choice.locked...),
	}
	if choice.adapter.typ != "" {
		a, err := buildAdapter(choice.adapter)
		if err != nil {
			return nil, cli.Exit(err.Error(), exitConfigError)
		}
		s.forwarder = adapter.NewForwarder(a, adapter.ForwarderConfig{
			Workspace: choice.workspace,
			QueueSize: choice.adapter.queue,
			Logger:    logger,
			Collector: collector,
		})
		storeOpts = append(storeOpts, filestore.WithNotifier(s.forwarder))
	}

	p := parser.New(
		parser.WithLogger(logger),
		parser.WithCollector(collector),
		parser.WithKinds(cfg.Kinds()...),
		parser.WithPlaceholder(cfg.Placeholder()),
	)

	var executor runtime.Executor
	if choice.executorPath == "" || dryRun {
		s.dryRun = runtime.NewDryRunExecutor(nil)
		executor = s.dryRun
	} else {
		s.process = runtime.NewProcessExecutor(runtime.ProcessConfig{
			Path:      choice.executorPath,
			Args:      choice.executorArgs,
			Workspace: choice.workspace,
		}, logger)
		executor = s.process
	}

	orch, err := runtime.New(runtime.Config{
		Executor:  executor,
		Display:   s.display,
		Store:     filestore.New(storeOpts...),
		Parser:    p,
		Logger:    logger,
		Collector: collector,
	})
	if err != nil {
		s.closeForwarder()
		return nil, err
	}
	s.orch = orch

	if s.process != nil {
		if err := s.process.Start(ctx); err != nil {
			s.closeForwarder()
			return nil, cli.Exit(fmt.Sprintf("failed to start executor: %v", err), exitConfigError)
		}
	}
	return s, nil
}

func buildAdapter(choice adapterChoice) (adapter.Adapter, error) {
	switch choice.typ {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Secret:  choice.secret,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     choice.url,
			Channel: choice.channel,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter: %s", choice.typ)
	}
}

// close waits for outstanding unit reports and drains notifications.
func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.dryRun != nil {
		s.dryRun.Wait()
	}
	if s.process != nil {
		result, err := s.process.Close()
		switch {
		case err != nil:
			s.logger.Error("executor close failed", map[string]any{"error": err.Error()})
		case result != nil && result.ExitCode != 0:
			s.logger.Warn("executor exited with non-zero status", map[string]any{
				"exit_code": result.ExitCode,
				"stderr":    result.Stderr,
			})
		}
	}
	s.closeForwarder()
	_ = s.logger.Sync()
}

func (s *session) closeForwarder() {
	if s.forwarder == nil {
		return
	}
	if err := s.forwarder.Close(); err != nil {
		s.logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
	}
}

// export writes the file store to the configured backend and returns the
// snapshot prefix, or "" when export is disabled.
func (s *session) export(ctx context.Context) (string, error) {
	ec := s.choice.export
	if ec.path == "" {
		return "", nil
	}

	var (
		exp *lode.Exporter
		err error
	)
	switch ec.backend {
	case "fs", "":
		exp, err = lode.NewFSExporter(s.choice.workspace, ec.path, lode.WithLogger(s.logger))
	case "s3":
		bucket, prefix := lode.ParseS3Path(ec.path)
		exp, err = lode.NewS3Exporter(ctx, s.choice.workspace, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       ec.region,
			Endpoint:     ec.endpoint,
			UsePathStyle: ec.pathStyle,
		}, lode.WithLogger(s.logger))
	default:
		return "", fmt.Errorf("unknown export backend: %s (must be fs or s3)", ec.backend)
	}
	if err != nil {
		return "", err
	}

	m, err := exp.Export(ctx, s.orch.Files(), time.Now())
	if err != nil {
		return "", err
	}
	return m.Prefix, nil
}

// summary builds the rendered end-of-session payload.
func (s *session) summary(exportPrefix string) *render.Summary {
	files := s.orch.Files()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return &render.Summary{
		Workspace:    s.choice.workspace,
		StreamID:     s.choice.streamID,
		Registry:     s.orch.Snapshot(),
		Files:        paths,
		Alerts:       s.display.snapshot(),
		Metrics:      s.collector.Snapshot(),
		ExportPrefix: exportPrefix,
	}
}

// readInput reads the message text from a file or stdin ("-").
func readInput(c *cli.Context, path string) (string, error) {
	if path == "-" {
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", cli.Exit(fmt.Sprintf("cannot read input %q: %v", path, err), exitConfigError)
	}
	return string(data), nil
}

// stdout returns the app writer, defaulting to os.Stdout.
func stdout(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// stderr returns the app error writer, defaulting to os.Stderr.
func stderr(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// exitFor maps a summary to the command exit error.
func exitFor(s *render.Summary) error {
	if s.HasFailures() {
		return cli.Exit("", exitUnitFailures)
	}
	return nil
}
