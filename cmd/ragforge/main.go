// Command ragforge is the CLI entry point for the hybrid retrieval engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaelstrom/ragforge/internal/config"
	"github.com/kaelstrom/ragforge/internal/observe"
	"github.com/kaelstrom/ragforge/pkg/provider/embeddings"
	"github.com/kaelstrom/ragforge/pkg/provider/embeddings/openai"
	"github.com/kaelstrom/ragforge/pkg/retrieval"
	"github.com/kaelstrom/ragforge/pkg/retrieval/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ragforge: %v\n", err)
		return 1
	}
	return 0
}

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "ragforge",
	Short: "Hybrid retrieval engine CLI",
	Long:  "ragforge serves hybrid lexical+graph conversational context to LLMs from a PostgreSQL + pgvector store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON output")

	queryCmd.Flags().StringVar(&queryMode, "mode", "", "override the configured default mode (lexical_only, graph_only, hybrid)")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "override the configured default top-k")
	queryCmd.Flags().IntVar(&queryMaxTokens, "max-tokens", 0, "override the configured default token budget")
	queryCmd.Flags().BoolVar(&queryNoEdges, "no-edges", false, "omit the knowledge-graph edge set from the output")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

var (
	queryMode      string
	queryTopK      int
	queryMaxTokens int
	queryNoEdges   bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a single retrieval and print the assembled context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newLogger(cfg.Server.LogLevel)

		ctx := cmd.Context()
		store, _, err := buildStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		disp := buildDispatcher(store, cfg)

		req := retrieval.Request{
			Query:        args[0],
			Mode:         retrieval.Mode(cfg.Retrieval.DefaultMode),
			TopK:         queryTopK,
			MaxTokens:    queryMaxTokens,
			ExcludeEdges: queryNoEdges,
		}
		if queryMode != "" {
			req.Mode = retrieval.Mode(queryMode)
		}
		if req.TopK <= 0 {
			req.TopK = cfg.Retrieval.DefaultTopK
		}
		if req.MaxTokens <= 0 {
			req.MaxTokens = cfg.Retrieval.DefaultMaxTokens
		}

		resp, err := disp.Retrieve(ctx, req)
		if err != nil {
			return fmt.Errorf("retrieve: %w", err)
		}

		return printResponse(resp)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Initialise telemetry, watch the config file, and block until interrupted (for long-running deployments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newLogger(cfg.Server.LogLevel)

		ctx := cmd.Context()

		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "ragforge"})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Error("telemetry shutdown error", "err", err)
			}
		}()

		store, _, err := buildStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		// The dispatcher handle an embedding deployment calls Retrieve on.
		// Swapped atomically when the config file changes, so the
		// dispatcher's tuning (hop bound, cache TTL, deadline, embedding
		// concurrency) can be adjusted without a restart. Storage and embedding settings
		// still require one: the pool and provider are built once above.
		var disp atomic.Pointer[retrieval.Dispatcher]
		disp.Store(buildDispatcher(store, cfg))

		watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			if new.Storage != old.Storage || new.Embedding != old.Embedding {
				slog.Warn("storage/embedding config changed; restart required to apply")
			}
			disp.Store(buildDispatcher(store, new))
			slog.Info("retrieval settings reloaded",
				"default_mode", new.Retrieval.DefaultMode,
				"max_hops", new.Retrieval.MaxHops,
				"request_deadline", new.Retrieval.RequestDeadline,
				"cache_ttl", new.Retrieval.CacheTTL,
			)
		})
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer watcher.Stop()

		slog.Info("ragforge ready",
			"metrics_addr", cfg.Server.MetricsAddr,
			"embedding_provider", cfg.Embedding.Provider,
			"default_mode", cfg.Retrieval.DefaultMode,
		)

		<-ctx.Done()
		slog.Info("shutdown signal received, stopping")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the storage schema (messages, knowledge graph, edge embeddings, indices)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newLogger(cfg.Server.LogLevel)

		ctx := cmd.Context()
		store, _, err := buildStorage(ctx, cfg)
		if err != nil {
			return err
		}
		store.Close()

		fmt.Println("schema is up to date")
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found — copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	return cfg, nil
}

// buildStorage wires the embedding provider named in cfg.Embedding.Provider
// and opens the PostgreSQL + pgvector store against it, migrating the schema
// on first connect.
func buildStorage(ctx context.Context, cfg *config.Config) (*postgres.Store, embeddings.Provider, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding provider: %w", err)
	}

	store, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return store, embedder, nil
}

func buildEmbedder(cfg *config.Config) (embeddings.Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		var opts []openai.Option
		if cfg.Embedding.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Embedding.BaseURL))
		}
		if cfg.Embedding.Dimensions > 0 {
			opts = append(opts, openai.WithDimensions(cfg.Embedding.Dimensions))
		}
		return openai.New(cfg.Embedding.APIKey, cfg.Embedding.Model, opts...)
	default:
		return nil, fmt.Errorf("unrecognized embedding provider %q", cfg.Embedding.Provider)
	}
}

func buildDispatcher(store *postgres.Store, cfg *config.Config) *retrieval.Dispatcher {
	return retrieval.NewDispatcher(store,
		retrieval.WithRequestDeadline(cfg.Retrieval.RequestDeadline),
		retrieval.WithEmbeddingConcurrency(cfg.Retrieval.EmbeddingConcurrency),
		retrieval.WithCacheTTL(cfg.Retrieval.CacheTTL),
		retrieval.WithMaxHops(cfg.Retrieval.MaxHops),
	)
}

func printResponse(resp retrieval.Response) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Printf("mode=%s messages=%d tokens=%d/%d (%.1f%%) degraded=%v correlation_id=%s\n",
		resp.Stats.Mode, len(resp.Context.Messages), resp.Context.TotalTokens,
		resp.Context.BudgetTokens, resp.Context.PercentUsed, resp.Stats.Degraded, resp.Stats.CorrelationID)
	for _, m := range resp.Context.Messages {
		fmt.Printf("  [%s] %s: %s\n", m.ConversationID, m.Role, m.Content)
	}
	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
