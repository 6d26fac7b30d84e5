package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/intake"
	"github.com/ajitpratap0/microplan/internal/models"
)

func classifyCmd() *cobra.Command {
	var (
		save      bool
		recommend bool
	)

	cmd := &cobra.Command{
		Use:   "classify [hotspot.json]",
		Short: "Assess a hotspot profile read from a file or stdin",
		Long: `Reads one hotspot profile as JSON and prints its service gaps, structural
flags, volume levels and suggested priority. With --save the profile is
validated and stored like a form submission; --recommend also asks the
configured text-generation backend for an analysis.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			r, err := openInput(path)
			if err != nil {
				return fmt.Errorf("classify: opening input: %w", err)
			}
			defer func() { _ = r.Close() }()

			var h models.HotspotProfile
			if err := json.NewDecoder(r).Decode(&h); err != nil {
				return fmt.Errorf("classify: decoding hotspot: %w", err)
			}
			h.ApplyDefaults()

			cls := newClassifier(logger)
			if !save && !recommend {
				pop, err := intake.NormalizePopulation(h.PopulationData)
				if err != nil {
					return fmt.Errorf("classify: %w", err)
				}
				h.PopulationData = pop
				return printJSON(os.Stdout, cls.AssessHotspot(h))
			}

			st, err := newStore(ctx, logger)
			if err != nil {
				return fmt.Errorf("classify: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			rec, err := newRecommender(ctx, logger)
			if err != nil {
				return fmt.Errorf("classify: configuring recommendations: %w", err)
			}
			if recommend && !rec.Enabled() {
				return fmt.Errorf("classify: --recommend needs llm.provider and an API key")
			}

			res, err := intake.New(st, cls, rec, logger).SubmitHotspot(ctx, h, recommend)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			if err := syncWrites(ctx, st); err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			return printJSON(os.Stdout, res)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "validate and store the profile")
	cmd.Flags().BoolVar(&recommend, "recommend", false, "request an analysis and store it with the profile (implies --save)")
	return cmd
}
