package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/config"
	"github.com/ajitpratap0/microplan/internal/store"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to configured services",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			// Check the record store
			st, err := newStore(ctx, logger)
			if err != nil {
				fmt.Printf("Store (%s): FAIL (%v)\n", cfg.Store.Driver, err)
				allOK = false
			} else {
				defer func() { _ = st.Close() }()
				if _, err := store.Fetch(ctx, st, store.Query{Collection: store.CollectionStockItems}); err != nil {
					fmt.Printf("Store (%s): FAIL (%v)\n", cfg.Store.Driver, err)
					allOK = false
				} else {
					fmt.Printf("Store (%s): OK\n", cfg.Store.Driver)
				}
			}

			// Check Neo4j
			if cfg.Neo4j.URI == "" {
				fmt.Println("Neo4j: SKIP (no neo4j.uri; trust networks are kept in memory)")
			} else {
				repo, err := newNetworkRepository(ctx, logger)
				if err != nil {
					fmt.Printf("Neo4j: FAIL (%v)\n", err)
					allOK = false
				} else {
					_ = repo.Close(context.Background())
					fmt.Println("Neo4j: OK")
				}
			}

			// Check the text-generation API key
			switch cfg.LLM.Provider {
			case config.ProviderClaude:
				allOK = checkKey("Claude API", cfg.Claude.APIKey) && allOK
			case config.ProviderGemini:
				allOK = checkKey("Gemini API", cfg.Gemini.APIKey) && allOK
			default:
				fmt.Println("Recommendations: SKIP (llm.provider is none)")
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}

func checkKey(name, key string) bool {
	if key == "" {
		fmt.Printf("%s: FAIL (no API key configured)\n", name)
		return false
	}
	fmt.Printf("%s: OK\n", name)
	return true
}
