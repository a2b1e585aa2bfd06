package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"medrag/internal/app"
	"medrag/internal/config"
	"medrag/internal/ingest"
	"medrag/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "medrag",
		Short: "Medical journal ingestion and retrieval service",
		Long: `medrag crawls medical journal feeds into per-specialty tables, keeps a
vector index of titles, abstracts and authors in sync, and answers questions
over the indexed articles. Without a subcommand it runs the server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(logger.New(os.Stdout, level))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, NSQ consumers and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return run(ctx, cfg, slog.Default())
		},
	}
	root.RunE = serve.RunE

	var skipEmbed bool
	ingestCmd := &cobra.Command{
		Use:   "ingest [source...]",
		Short: "Run one crawl pass over the named sources, or all enabled sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				reports, err := a.IngestSources(ctx, args)
				printJSON(cmd.OutOrStdout(), reports)
				if err != nil {
					return err
				}
				if skipEmbed {
					return nil
				}
				results, err := a.SyncCategories(ctx, touchedCategories(reports))
				printJSON(cmd.OutOrStdout(), results)
				return err
			})
		},
	}
	ingestCmd.Flags().BoolVar(&skipEmbed, "skip-embed", false, "do not sync embeddings after the pass")

	embedCmd := &cobra.Command{
		Use:   "embed [category...]",
		Short: "Run one embedding sync over the named categories, or all categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				results, err := a.SyncCategories(ctx, args)
				printJSON(cmd.OutOrStdout(), results)
				return err
			})
		},
	}

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Print the source catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg.SourcesPath)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), catalog)
		},
	}

	root.AddCommand(serve, ingestCmd, embedCmd, sourcesCmd)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadCatalog(path string) (*config.Catalog, error) {
	if path == "" {
		return &config.Catalog{}, nil
	}
	return config.LoadCatalog(path)
}

// run bootstraps infrastructure and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	catalog, err := loadCatalog(cfg.SourcesPath)
	if err != nil {
		return err
	}

	deps, err := app.Bootstrap(ctx, cfg, catalog.Categories())
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, catalog, deps.DB, deps.Weaviate, deps.NSQProducer, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// withApp runs fn against a fully wired app for one-shot commands.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg.SourcesPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg, catalog.Categories())
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(cfg, catalog, deps.DB, deps.Weaviate, deps.NSQProducer, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func touchedCategories(reports []ingest.Report) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range reports {
		if r.Category == "" || seen[r.Category] {
			continue
		}
		seen[r.Category] = true
		out = append(out, r.Category)
	}
	return out
}

func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("failed to print result", "error", err)
	}
}

func printCatalog(w io.Writer, c *config.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tFETCHER\tEXTRACTOR\tENABLED\tFEED")
	for _, s := range c.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", s.Name, s.Category, s.Fetcher, s.Extractor, !s.Disabled, s.FeedURL)
	}
	return tw.Flush()
}
