package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/registry"
)

func uinCmd() *cobra.Command {
	var (
		gender  string
		area    string
		count   int
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "uin",
		Short: "Generate Unique Identifier Numbers not yet in the registry",
		Long: `Prints --count fresh UINs of the form {V|M}-{area letter}-{NNNNN}.
Codes are checked against the registry and against each other, but nothing is
reserved: register a code promptly or it may be drawn again. --offline skips the
registry check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			gen := newUINGenerator(logger)

			if count <= 0 {
				return fmt.Errorf("uin: --count must be greater than 0")
			}

			seen := make(map[string]bool, count)
			exists := func(context.Context, string) (bool, error) { return false, nil }
			if !offline {
				st, err := newStore(ctx, logger)
				if err != nil {
					return fmt.Errorf("uin: connecting to store: %w", err)
				}
				defer func() { _ = st.Close() }()
				exists = registry.New(st, gen, logger).Exists
			}

			for range count {
				code, err := gen.GenerateUnique(ctx, gender, area, func(ctx context.Context, code string) (bool, error) {
					if seen[code] {
						return true, nil
					}
					return exists(ctx, code)
				})
				if err != nil {
					return fmt.Errorf("uin: %w", err)
				}
				seen[code] = true
				fmt.Println(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gender, "gender", "", "gender category (Female yields the V prefix)")
	cmd.Flags().StringVar(&area, "area", "", "area name; its first letter is the second segment")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of codes to print")
	cmd.Flags().BoolVar(&offline, "offline", false, "do not check the registry")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}
