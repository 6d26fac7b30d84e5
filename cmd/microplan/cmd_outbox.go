package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/outbox"
)

func outboxCmd() *cobra.Command {
	var (
		rounds int
		output string
	)

	cmd := &cobra.Command{
		Use:   "outbox [entries.json]",
		Short: "Replay unsynced writes saved from a device or a server",
		Long: `Reads unsynced writes as JSON, either an array of entries or the body of
GET /v1/outbox, and resubmits them to the configured store. Each round retries
every pending entry once; entries that keep failing are dropped after
planning.outbox_attempts failures. Whatever is still pending at the end is
written to --output so it can be replayed later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			entries, err := readEntries(path)
			if err != nil {
				return fmt.Errorf("outbox: %w", err)
			}

			st, err := newStore(ctx, logger)
			if err != nil {
				return fmt.Errorf("outbox: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			ob := outbox.New(st, cfg.Planning.OutboxAttempts, nil, logger)
			fmt.Printf("Loaded %d unsynced write(s)\n", ob.Restore(entries))

			total := outbox.Report{}
			for round := 1; round <= rounds && ob.Len() > 0; round++ {
				report, runErr := ob.Run(ctx)
				if runErr != nil {
					return fmt.Errorf("outbox: round %d: %w", round, runErr)
				}
				failed := ob.Collect()
				total.Retried += report.Retried
				total.Dropped += report.Dropped
				fmt.Printf("  round %d: retried %d, dropped %d, failed again %d\n",
					round, report.Retried, report.Dropped, failed)
			}
			total.Remaining = ob.Len()

			fmt.Printf("Outbox report:\n")
			fmt.Printf("  Retried:    %d\n", total.Retried)
			fmt.Printf("  Dropped:    %d\n", total.Dropped)
			fmt.Printf("  Remaining:  %d\n", total.Remaining)

			if total.Remaining == 0 {
				return nil
			}
			if output == "" {
				return fmt.Errorf("outbox: %d write(s) still unsynced; pass --output to keep them", total.Remaining)
			}
			w, err := openOutput(output)
			if err != nil {
				return fmt.Errorf("outbox: creating output file: %w", err)
			}
			defer func() { _ = w.Close() }()
			if err := printJSON(w, ob.Pending()); err != nil {
				return fmt.Errorf("outbox: writing remaining entries: %w", err)
			}
			return fmt.Errorf("outbox: %d write(s) still unsynced", total.Remaining)
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 3, "maximum number of retry rounds")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file for entries that are still unsynced (- for stdout)")
	return cmd
}

// readEntries accepts a bare JSON array or an object with an "entries" array.
func readEntries(path string) ([]outbox.Entry, error) {
	r, err := openInput(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer func() { _ = r.Close() }()

	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding entries: %w", err)
	}
	var entries []outbox.Entry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Entries []outbox.Entry `json:"entries"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding entries: %w", err)
	}
	if wrapped.Entries == nil {
		fmt.Fprintln(os.Stderr, "warning: input has no entries")
	}
	return wrapped.Entries, nil
}
