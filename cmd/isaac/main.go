// Command isaac operates an ISAAC terminology datastore: it imports
// change-set files, checks the taxonomy, searches descriptions and
// describes stamps.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"isaac/internal/blob"
	"isaac/internal/config"
	"isaac/internal/core"
	"isaac/internal/infra/notify/natsnotify"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "isaac"
)

var exitFunc = os.Exit

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			exitFunc(2)
		}
	}()
	exitFunc(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := rootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	traceFile  string
	stdout     io.Writer
	stderr     io.Writer
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "ISAAC terminology datastore",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.traceFile, "trace-file", "", "Append a JSON line per datastore operation to this file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	cmd.AddCommand(
		describeStampCmd(g),
		checkTaxonomyCmd(g),
		importCmd(g),
		queryCmd(g),
		watchCmd(g),
	)
	return cmd
}

// loadConfig reads the config file and applies the log level override.
func (g *globals) loadConfig() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openDatastore wires the configured state store, blob store and commit
// notifier into a datastore service, along with the expvar recorder and
// trace file when enabled. The returned close function releases all of
// them.
func (g *globals) openDatastore(ctx context.Context, reg prometheus.Registerer, extra ...core.Option) (*core.Service, func() error, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg, g.stderr)

	var closers []func() error
	release := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*core.Service, func() error, error) {
		_ = release()
		return nil, nil, err
	}

	state, err := core.OpenStateStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	closers = append(closers, state.Close)
	blobs, err := blob.Open(ctx, cfg.Blob.Config)
	if err != nil {
		return fail(fmt.Errorf("open blob store: %w", err))
	}
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithStateStore(state),
		core.WithBlobStore(blobs, cfg.Blob.Prefix),
		core.WithWorkers(cfg.Workers),
		core.WithRegisterer(reg),
	}
	if cfg.Metrics.Expvar {
		rec, err := core.NewExpvarMetricsRecorder(cfg.Metrics.ExpvarName)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	if g.traceFile != "" {
		f, err := os.OpenFile(g.traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fail(fmt.Errorf("open trace file: %w", err))
		}
		closers = append(closers, f.Close)
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	if cfg.NATS.URL != "" {
		notifier, err := natsnotify.Connect(cfg.NATS.URL,
			natsnotify.WithSubject(cfg.NATS.Subject),
			natsnotify.WithLogger(logger))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, notifier.Close)
		opts = append(opts, core.WithCommitListener(notifier))
	}
	svc, err := core.Open(ctx, append(opts, extra...)...)
	if err != nil {
		return fail(err)
	}
	closers = closers[1:] // svc.Close closes the state store
	closeFn := func() error {
		return errors.Join(svc.Close(context.WithoutCancel(ctx)), release())
	}
	return svc, closeFn, nil
}
