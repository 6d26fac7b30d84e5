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
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/config"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/network"
	"github.com/ajitpratap0/microplan/internal/recommend"
	"github.com/ajitpratap0/microplan/internal/store"
	"github.com/ajitpratap0/microplan/internal/uin"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "microplan",
		Short: "Microplanning for key-population outreach programmes",
		Long:  "microplan records outreach visits, hotspot profiles, the KP registry and commodity stock, and turns them into supervisor dashboards and recommendations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		mcpCmd(),
		dashboardCmd(),
		uinCmd(),
		classifyCmd(),
		stockCmd(),
		networkCmd(),
		exportCmd(),
		healthCmd(),
		outboxCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("store: using the in-memory driver; records are lost on exit")
		return store.NewMemoryStore(logger), nil
	}
	return store.OpenSQL(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
}

// newGenerator returns nil when text generation is switched off.
func newGenerator(ctx context.Context, logger *slog.Logger) (recommend.Generator, error) {
	switch cfg.LLM.Provider {
	case config.ProviderClaude:
		if cfg.Claude.APIKey == "" {
			logger.Warn("recommend: no Claude API key configured; recommendations are disabled")
			return nil, nil
		}
		return recommend.NewClaudeGenerator(cfg.Claude.APIKey, cfg.Claude.Model, cfg.Claude.BaseURL, logger), nil
	case config.ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			logger.Warn("recommend: no Gemini API key configured; recommendations are disabled")
			return nil, nil
		}
		gen, err := recommend.NewGeminiGenerator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL, logger)
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, nil
	}
}

func newRecommender(ctx context.Context, logger *slog.Logger) (*recommend.Service, error) {
	gen, err := newGenerator(ctx, logger)
	if err != nil {
		return nil, err
	}
	return recommend.NewService(gen, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logger), nil
}

func newClassifier(logger *slog.Logger) *classifier.Classifier {
	return classifier.NewClassifier(cfg.Planning.Rules(), logger)
}

func newUINGenerator(logger *slog.Logger) *uin.Generator {
	return uin.NewGenerator(nil, cfg.Planning.UINMaxAttempts, logger)
}

// newNetworkRepository falls back to memory when no Neo4j URI is configured.
func newNetworkRepository(ctx context.Context, logger *slog.Logger) (network.Repository, error) {
	if cfg.Neo4j.URI == "" {
		return network.NewMemoryRepository(), nil
	}
	return network.NewNeo4jRepository(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
}

// openOutput returns stdout for "" or "-".
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openInput returns stdin for "" or "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// syncWrites flushes st and reports the first write it rejected. The CLI
// exits right after, so a rejected write is an error rather than an outbox entry.
func syncWrites(ctx context.Context, st store.Store) error {
	if err := st.Flush(ctx); err != nil {
		return fmt.Errorf("flushing store: %w", err)
	}
	select {
	case e, ok := <-st.Errors():
		if ok {
			return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, e)
		}
	default:
	}
	return nil
}
