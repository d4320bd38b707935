// hlscompose builds cloud-free HLS reflectance composites over a study
// area: search the NASA catalog, mask and mosaic the granule rasters,
// reduce them to a per-pixel median composite, and export or cluster
// the result.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/earthlab-education/hls-composite/internal/cache"
	"github.com/earthlab-education/hls-composite/internal/cluster"
	"github.com/earthlab-education/hls-composite/internal/cmr"
	"github.com/earthlab-education/hls-composite/internal/compose"
	"github.com/earthlab-education/hls-composite/internal/config"
	"github.com/earthlab-education/hls-composite/internal/gdalio"
	"github.com/earthlab-education/hls-composite/internal/links"
	"github.com/earthlab-education/hls-composite/internal/raster"
	"github.com/earthlab-education/hls-composite/pkg/geojson"
)

// Version is the release version of the tool.
const Version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the collaborators shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	boundary *geojson.Boundary
	client   *cmr.Client
	store    *cache.Store

	// flag overrides
	boundaryPath string
	runName      string
	override     bool
	progress     bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "hlscompose",
		Short:         "Cloud-free HLS reflectance composites",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.boundaryPath, "boundary", "", "GeoJSON study-area boundary (overrides SEARCH_BOUNDARY_PATH)")
	root.PersistentFlags().StringVar(&a.runName, "run-name", "", "cache discriminator for this study (overrides CACHE_RUN_NAME)")
	root.PersistentFlags().BoolVar(&a.override, "override", false, "recompute cached stages")
	root.PersistentFlags().BoolVar(&a.progress, "progress", true, "show a progress bar while loading rasters")

	root.AddCommand(newSearchCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newClusterCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// setup loads the environment, configuration, and shared collaborators.
func (a *app) setup() error {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(a.logger)

	if a.boundaryPath == "" {
		a.boundaryPath = cfg.Search.BoundaryPath
	}
	if a.runName == "" {
		a.runName = cfg.Cache.RunName
	}
	if cfg.Cache.Override {
		a.override = true
	}

	a.client = cmr.NewClient(cfg.CMR.BaseURL, cfg.CMR.Provider, cfg.CMR.Timeout).
		WithLogger(a.logger).
		WithToken(cfg.CMR.Token)
	a.store = cache.NewStore(cfg.Cache.Dir).WithLogger(a.logger)
	return nil
}

// loadBoundary reads the study-area boundary, required by every
// data-touching subcommand.
func (a *app) loadBoundary() error {
	if a.boundaryPath == "" {
		return fmt.Errorf("a study-area boundary is required: set --boundary or SEARCH_BOUNDARY_PATH")
	}
	boundary, err := geojson.LoadBoundary(a.boundaryPath)
	if err != nil {
		return err
	}
	a.boundary = boundary
	return nil
}

func (a *app) searchParams() *cmr.SearchParams {
	b := a.boundary.BBox
	return &cmr.SearchParams{
		ShortName:   a.cfg.Search.ShortName,
		BoundingBox: fmt.Sprintf("%g,%g,%g,%g", b[0], b[1], b[2], b[3]),
		Temporal:    a.cfg.Search.Temporal,
		CloudHosted: true,
		PageSize:    a.cfg.Search.PageSize,
	}
}

// composite runs the full cached pipeline and returns the reflectance
// stack.
func (a *app) composite(cmd *cobra.Command) (*raster.Stack, error) {
	if err := a.loadBoundary(); err != nil {
		return nil, err
	}

	gdalio.Register(gdalio.HTTPRetryConfig{
		MaxRetry:   a.cfg.GDAL.HTTPMaxRetry,
		RetryDelay: a.cfg.GDAL.HTTPRetryDelay,
	})

	ctx := cmd.Context()
	granules, err := a.client.SearchAll(ctx, a.searchParams())
	if err != nil {
		return nil, err
	}
	if len(granules) == 0 {
		return nil, fmt.Errorf("no granules match the search")
	}

	loader := gdalio.NewLoader(a.boundary).WithLogger(a.logger)
	compositor := compose.NewCompositor(loader).
		WithMaskBits(a.cfg.Mask.Bits).
		WithLogger(a.logger).
		WithProgress(a.progress)
	resolver := links.NewResolver(a.client).
		WithBoundary(a.boundary).
		WithLogger(a.logger)

	pipeline := compose.NewPipeline(resolver, compositor, a.store, a.runName).
		WithLogger(a.logger).
		WithOverride(a.override, a.override)

	return pipeline.Run(ctx, granules)
}

func newSearchCmd(a *app) *cobra.Command {
	var wkt bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "List the granules matching the configured search",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadBoundary(); err != nil {
				return err
			}

			granules, err := a.client.SearchAll(cmd.Context(), a.searchParams())
			if err != nil {
				return err
			}

			for i := range granules {
				meta, err := granules[i].Metadata()
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%s\t%s",
					meta.StartTime.Format("2006-01-02T15:04:05Z"), meta.ID)
				if wkt {
					footprint, err := geojson.NewPolygon(meta.FootprintRing)
					if err != nil {
						return err
					}
					fpWKT, err := geojson.ToWKT(footprint)
					if err != nil {
						return err
					}
					line += "\t" + fpWKT
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			a.logger.Info("search complete", slog.Int("granules", len(granules)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&wkt, "wkt", false, "append each granule's footprint as WKT")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Build the composite reflectance stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.composite(cmd)
			if err != nil {
				return err
			}

			a.logger.Info("composite built",
				slog.Any("bands", stack.BandNumbers()),
				slog.Int("width", stack.Layers[0].Grid.Width),
				slog.Int("height", stack.Layers[0].Grid.Height),
				slog.Int("samples", len(stack.Samples())),
			)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		out string
		rgb bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the composite sample table as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.composite(cmd)
			if err != nil {
				return err
			}

			if rgb {
				stack, err = stack.Select(4, 3, 2)
				if err != nil {
					return err
				}
			}

			if out == "" {
				return compose.WriteCSV(cmd.OutOrStdout(), stack)
			}
			if err := compose.ExportCSV(out, stack); err != nil {
				return err
			}
			a.logger.Info("sample table written", slog.String("path", out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output CSV path (default stdout)")
	cmd.Flags().BoolVar(&rgb, "rgb", false, "restrict the export to the RGB bands (4, 3, 2)")
	return cmd
}

func newClusterCmd(a *app) *cobra.Command {
	var (
		k      int
		sweepK int
		seed   int64
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster the composite samples into spectral classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.composite(cmd)
			if err != nil {
				return err
			}

			samples := stack.Samples()
			if len(samples) == 0 {
				return fmt.Errorf("composite has no fully valid cells to cluster")
			}
			features := make([][]float64, len(samples))
			for i, s := range samples {
				features[i] = s.Values
			}

			out := cmd.OutOrStdout()

			if sweepK > 0 {
				// Score a range of k so the caller can pick the cluster
				// count with the tightest separation.
				for kk := 2; kk <= sweepK; kk++ {
					result, err := cluster.KMeans(features, kk, cluster.Config{Seed: seed})
					if err != nil {
						return err
					}
					score, err := cluster.Silhouette(features, result.Labels)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "k=%d\tsilhouette %.4f\n", kk, score)
				}
				return nil
			}

			result, err := cluster.KMeans(features, k, cluster.Config{Seed: seed})
			if err != nil {
				return err
			}

			score, err := cluster.Silhouette(features, result.Labels)
			if err != nil {
				return err
			}

			counts := make([]int, k)
			for _, l := range result.Labels {
				counts[l]++
			}
			for c, n := range counts {
				fmt.Fprintf(out, "class %d\t%d cells\n", c, n)
			}
			fmt.Fprintf(out, "silhouette\t%.4f\n", score)

			if _, explained, err := cluster.PCA(features, min(2, len(features[0]))); err == nil {
				for i, v := range explained {
					fmt.Fprintf(out, "pc%d variance\t%.4f\n", i+1, v)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 6, "number of spectral classes")
	cmd.Flags().IntVar(&sweepK, "sweep-k", 0, "score every k from 2 to this value instead of clustering once")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed for reproducible clustering")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
