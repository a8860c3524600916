// Command cloudpipe runs point-cloud pipelines described by YAML job files.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lidarkit/cloudpipe"
	"github.com/lidarkit/cloudpipe/codec"
	"github.com/lidarkit/cloudpipe/engine"
	"github.com/lidarkit/cloudpipe/metrics/prom"
	"github.com/lidarkit/cloudpipe/pipeline"
	"github.com/lidarkit/cloudpipe/query"
	"github.com/lidarkit/cloudpipe/spatial"
)

var version = "0.1.0"

type globalFlags struct {
	logLevel  string
	logFormat string
	root      string
}

func (g *globalFlags) logger() *cloudpipe.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	if g.logFormat == "json" {
		return cloudpipe.NewJSONLogger(level)
	}
	return cloudpipe.NewTextLogger(level)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "cloudpipe",
		Short:         "Out-of-core point-cloud pipelines",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&g.root, "root", ".", "Root directory of the local store for commands without a job file")

	root.AddCommand(
		newRunCmd(g),
		newIndexCmd(g),
		newInfoCmd(g),
		newQueryCmd(g),
		newStagesCmd(),
		newVersionCmd(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cloudpipe v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stage kinds accepted in a pipeline",
		Run: func(cmd *cobra.Command, _ []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tPROVIDES")
			for _, name := range cloudpipe.Stages() {
				k, _ := pipeline.ParseKind(name)
				fmt.Fprintf(w, "%s\t%s\n", name, k.Capabilities())
			}
			_ = w.Flush()
		},
	}
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		threads     int
		metricsAddr string
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "run JOB.yaml",
		Short: "Run the pipeline of a job file",
		Long: `Run the pipeline of a job file over its inputs.

Chunks that fail are reported and do not stop the job. Interrupting the
command (Ctrl-C) stops scheduling and keeps the outputs already written.

Example:
  cloudpipe run job.yaml --threads 8 --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := cloudpipe.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if threads > 0 {
				cfg.Threads = threads
			}
			logger := g.logger()

			in, err := openStore(ctx, cfg.Input)
			if err != nil {
				return err
			}
			out, err := openStore(ctx, cfg.OutputStore())
			if err != nil {
				return err
			}

			opts := append(cfg.Options(), cloudpipe.WithLogger(logger), cloudpipe.WithCodec(codec.Default))
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				opts = append(opts, cloudpipe.WithMetricsCollector(prom.New(reg)))
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer srv.Close()
			}

			p, err := cloudpipe.New(cfg.Pipeline, in, out, opts...)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), p.Graph().String())
				return nil
			}

			rep, runErr := p.Run(ctx, cfg.Inputs)
			if rep == nil {
				return runErr
			}
			printReport(cmd, rep)
			if cfg.Report != "" {
				if err := p.WriteReport(context.WithoutCancel(ctx), rep, cfg.Report); err != nil {
					return errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&threads, "threads", 0, "Chunks processed in parallel (overrides the job file)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the pipeline and print it without running")
	return cmd
}

func printReport(cmd *cobra.Command, rep *engine.Report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHUNK\tSTATUS\tPOINTS\tDURATION\tOUTPUTS")
	for _, c := range rep.Chunks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.Name, c.Status, c.Points, c.Duration.Round(1e6), strings.Join(c.Outputs, ","))
	}
	_ = w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d chunks, %d failed, %d points in %s\n",
		rep.RunID, len(rep.Chunks), rep.Count(engine.StatusFailed), rep.Points(), rep.Duration.Round(1e6))
}

// localProcessor builds a processor over the --root store for commands
// that take inputs on the command line.
func localProcessor(ctx context.Context, g *globalFlags, threads int) (*cloudpipe.Processor, error) {
	store, err := openStore(ctx, cloudpipe.StoreConfig{Type: "local", Root: g.root})
	if err != nil {
		return nil, err
	}
	return cloudpipe.New(pipeline.Config{Stages: []pipeline.StageConfig{pipeline.NewStageConfig("reader", "", nil)}},
		store, store, cloudpipe.WithLogger(g.logger()), cloudpipe.WithThreads(threads))
}

func newIndexCmd(g *globalFlags) *cobra.Command {
	var (
		overwrite bool
		threads   int
	)
	cmd := &cobra.Command{
		Use:   "index FILE|DIR/...",
		Short: "Write a spatial index next to point files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p, err := localProcessor(ctx, g, threads)
			if err != nil {
				return err
			}
			rep, err := p.Index(ctx, args, overwrite)
			if rep != nil {
				printReport(cmd, rep)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Rewrite existing indexes")
	cmd.Flags().IntVar(&threads, "threads", runtime.NumCPU(), "Files indexed in parallel")
	return cmd
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info FILE|DIR/...",
		Short: "Print the header summary of point files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p, err := localProcessor(ctx, g, runtime.NumCPU())
			if err != nil {
				return err
			}
			cat, err := p.Catalog(ctx, args)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := codec.Pretty(codec.Default, cat.Files())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tPOINTS\tMIN X\tMIN Y\tMAX X\tMAX Y\tMIN Z\tMAX Z")
			for _, f := range cat.Files() {
				e := f.Extent
				fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n", f.Name, f.Points, e.MinX, e.MinY, e.MaxX, e.MaxY, f.MinZ, f.MaxZ)
			}
			_ = w.Flush()
			e := cat.Extent()
			fmt.Fprintf(cmd.OutOrStdout(), "%d files, %d points, extent [%.3f %.3f, %.3f %.3f]\n",
				cat.Len(), cat.Points(), e.MinX, e.MinY, e.MaxX, e.MaxY)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		bbox   []float64
		circle []float64
		knn    []float64
		k      int
	)
	cmd := &cobra.Command{
		Use:   "query FILE|DIR/...",
		Short: "Print the points of a region or the nearest neighbours of a location as CSV",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			var shape spatial.Shape
			switch {
			case len(bbox) == 4:
				shape = spatial.NewRectangle(bbox[0], bbox[1], bbox[2], bbox[3])
			case len(circle) == 3:
				shape = spatial.Circle{X: circle[0], Y: circle[1], Radius: circle[2]}
			case len(knn) == 4:
				shape = spatial.Circle{X: knn[0], Y: knn[1], Radius: knn[3]}
			default:
				return fmt.Errorf("%w: one of --bbox x1,y1,x2,y2, --circle x,y,r or --knn x,y,z,r is required", cloudpipe.ErrConfig)
			}

			p, err := localProcessor(ctx, g, runtime.NumCPU())
			if err != nil {
				return err
			}
			cloud, err := p.Load(ctx, args, shape)
			if err != nil {
				return err
			}
			defer cloud.Close()

			var res query.Result
			if len(knn) == 4 {
				res, err = cloud.KNN(ctx, knn[0], knn[1], knn[2], k, knn[3])
			} else {
				res, err = cloud.Query(ctx, shape)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "id,x,y,z")
			for _, m := range res.Matches {
				fmt.Fprintf(out, "%d,%.3f,%.3f,%.3f\n", m.ID, m.Point.X(), m.Point.Y(), m.Point.Z())
			}
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&bbox, "bbox", nil, "Rectangle x1,y1,x2,y2")
	cmd.Flags().Float64SliceVar(&circle, "circle", nil, "Circle x,y,radius")
	cmd.Flags().Float64SliceVar(&knn, "knn", nil, "Nearest neighbours of x,y,z within radius")
	cmd.Flags().IntVar(&k, "k", 10, "Number of neighbours for --knn")
	return cmd
}
