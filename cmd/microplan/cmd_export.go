package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/store"
)

func exportCmd() *cobra.Command {
	var (
		format      string
		output      string
		collections []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored records to JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if len(collections) == 0 {
				collections = store.Collections
			}

			st, err := newStore(ctx, logger)
			if err != nil {
				return fmt.Errorf("export: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			all := make(map[string][]store.Document, len(collections))
			total := 0
			for _, c := range collections {
				docs, fetchErr := store.Fetch(ctx, st, store.Query{Collection: c})
				if fetchErr != nil {
					return fmt.Errorf("export: fetching %s: %w", c, fetchErr)
				}
				sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
				all[c] = docs
				total += len(docs)
			}

			w, err := openOutput(output)
			if err != nil {
				return fmt.Errorf("export: creating output file: %w", err)
			}
			defer func() { _ = w.Close() }()

			switch format {
			case "json":
				if encErr := printJSON(w, all); encErr != nil {
					return fmt.Errorf("export: encoding JSON: %w", encErr)
				}
			case "csv":
				cw := csv.NewWriter(w)
				if writeErr := cw.Write([]string{"collection", "id", "fields"}); writeErr != nil {
					return fmt.Errorf("export: writing CSV header: %w", writeErr)
				}
				for _, c := range collections {
					for _, doc := range all[c] {
						fields, marshalErr := json.Marshal(doc.Fields)
						if marshalErr != nil {
							return fmt.Errorf("export: encoding %s: %w", store.Path(c, doc.ID), marshalErr)
						}
						if writeErr := cw.Write([]string{c, doc.ID, string(fields)}); writeErr != nil {
							return fmt.Errorf("export: writing CSV row: %w", writeErr)
						}
					}
				}
				cw.Flush()
				if flushErr := cw.Error(); flushErr != nil {
					return fmt.Errorf("export: flushing CSV: %w", flushErr)
				}
			default:
				return fmt.Errorf("export: unsupported format %q (use json or csv)", format)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d records to %s\n", total, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	cmd.Flags().StringSliceVar(&collections, "collection", nil, "collections to export (default: all)")
	return cmd
}
