package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"isaac/internal/changeset"
	"isaac/internal/core"
	"isaac/pkg/domain"
)

// errTaxonomyProblems makes check-taxonomy exit non-zero when it finds
// cycles or orphans.
var errTaxonomyProblems = errors.New("taxonomy has cycles or orphans")

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// coordinateFlags selects a stamp coordinate on the command line.
type coordinateFlags struct {
	path     string
	inactive bool
}

func (f *coordinateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "path", "development", "Path to read: development, master or a path nid")
	cmd.Flags().BoolVar(&f.inactive, "include-inactive", false, "Also show inactive versions")
}

func (f *coordinateFlags) coordinate(svc *core.Service) (domain.StampCoordinate, error) {
	meta := svc.Metadata()
	var path int32
	switch f.path {
	case "", "development":
		path = meta.DevelopmentPath
	case "master":
		path = meta.MasterPath
	default:
		nid, err := strconv.ParseInt(f.path, 10, 32)
		if err != nil {
			return domain.StampCoordinate{}, fmt.Errorf("%w: path %q", domain.ErrInvalidArgument, f.path)
		}
		path = int32(nid)
	}
	statuses := domain.ActiveOnly()
	if f.inactive {
		statuses = domain.ActiveAndInactive()
	}
	return domain.LatestOn(path, statuses), nil
}

func describeStampCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "describe-stamp SEQUENCE...",
		Short: "Describe stamp sequences",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := g.openDatastore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			for _, arg := range args {
				seq, err := strconv.ParseInt(arg, 10, 32)
				if err != nil {
					return fmt.Errorf("%w: stamp sequence %q", domain.ErrInvalidArgument, arg)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), svc.DescribeStamp(int32(seq)))
			}
			return nil
		},
	}
}

func checkTaxonomyCmd(g *globals) *cobra.Command {
	var (
		premise string
		coord   coordinateFlags
	)
	cmd := &cobra.Command{
		Use:   "check-taxonomy",
		Short: "Report is-a cycles and orphan concepts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := domain.ParsePremise(premise)
			if err != nil {
				return err
			}
			svc, closeFn, err := g.openDatastore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			c, err := coord.coordinate(svc)
			if err != nil {
				return err
			}
			results, err := svc.CheckTaxonomy(cmd.Context(), c, p)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if results.HasProblems() {
				return errTaxonomyProblems
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&premise, "premise", "stated", "Logic graph premise: stated or inferred")
	coord.register(cmd)
	return cmd
}

func importCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "import [FILE...]",
		Short: "Import change-set files",
		Long: `Import change-set files. Without arguments every file under the
configured blob prefix that has not been imported yet is loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := g.openDatastore(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			var sum changeset.Summary
			if len(args) == 0 {
				sum, err = svc.ImportChangeSets(ctx)
			} else {
				sum, err = importFiles(ctx, svc, args)
			}
			if writeErr := writeJSON(cmd.OutOrStdout(), sum); writeErr != nil && err == nil {
				err = writeErr
			}
			return err
		},
	}
}

func importFiles(ctx context.Context, svc *core.Service, paths []string) (changeset.Summary, error) {
	var total changeset.Summary
	var errs []error
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sum, err := svc.ImportFile(ctx, filepath.Base(p), f)
		_ = f.Close()
		total.Add(sum)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return total, errors.Join(errs...)
}

func queryCmd(g *globals) *cobra.Command {
	var (
		limit int
		fqn   bool
		coord coordinateFlags
	)
	cmd := &cobra.Command{
		Use:   "query TEXT",
		Short: "Search latest descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := g.openDatastore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			c, err := coord.coordinate(svc)
			if err != nil {
				return err
			}
			filter := core.QueryFilter{Limit: limit}
			if fqn {
				filter.DescriptionTypeNids = []int32{svc.Metadata().FullyQualifiedName}
			}
			hits, err := svc.Query(cmd.Context(), c, args[0], filter)
			if err != nil {
				return err
			}
			if hits == nil {
				hits = []core.QueryHit{}
			}
			return writeJSON(cmd.OutOrStdout(), hits)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "Maximum number of hits, 0 for all")
	cmd.Flags().BoolVar(&fqn, "fqn", false, "Only match fully qualified names")
	coord.register(cmd)
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Import change-set files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.watch(ctx, args[0], metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (g *globals) watch(ctx context.Context, dir, metricsAddr string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, g.stderr)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	svc, closeFn, err := g.openDatastore(ctx, reg, core.WithMetricsRecorder(recorder))
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		if cfg.Metrics.Expvar {
			mux.Handle("/debug/vars", expvar.Handler())
		}
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				_, _ = fmt.Fprintf(g.stderr, "metrics server: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	w := changeset.NewWatcher(dir, svc.Loader(),
		changeset.WithWatcherLogger(logger),
		changeset.WithLoadCallback(func(name string, sum changeset.Summary, err error) {
			if err != nil {
				logger.Warn("change set import failed", "file", name, "error", err)
			}
			if sum.RecordsLoaded == 0 {
				return
			}
			if err := svc.Save(ctx); err != nil {
				logger.Error("save after import", "file", name, "error", err)
			}
		}),
	)
	return w.Run(ctx)
}
