package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/stock"
)

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect and move commodity stock",
	}
	cmd.AddCommand(
		stockListCmd(),
		stockAddCmd(),
		stockMoveCmd("dispense", "Hand out units of a stock item", (*stock.Ledger).Dispense),
		stockMoveCmd("receive", "Add received units to a stock item", (*stock.Ledger).Receive),
		stockReconcileCmd(),
	)
	return cmd
}

// withLedger opens the store, runs fn and syncs its writes.
func withLedger(cmd *cobra.Command, name string, fn func(ctx context.Context, l *stock.Ledger) error) error {
	logger := newLogger()
	ctx := cmd.Context()

	st, err := newStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("stock %s: connecting to store: %w", name, err)
	}
	defer func() { _ = st.Close() }()

	if err := fn(ctx, stock.NewLedger(st, cfg.Planning.StockLowRatio, logger)); err != nil {
		return fmt.Errorf("stock %s: %w", name, err)
	}
	if err := syncWrites(ctx, st); err != nil {
		return fmt.Errorf("stock %s: %w", name, err)
	}
	return nil
}

func printLine(l stock.Line) {
	fmt.Printf("%-36s  %-20s %-16s received %6d  dispensed %6d  current %6d  %s\n",
		l.ID, l.Name, l.Facility, l.TotalReceived, l.TotalDispensed, l.CurrentStock, l.Status)
}

func stockListCmd() *cobra.Command {
	var facility string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stock items with their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, "list", func(ctx context.Context, l *stock.Ledger) error {
				lines, err := l.Lines(ctx, facility)
				if err != nil {
					return err
				}
				if len(lines) == 0 {
					fmt.Println("No stock items.")
				}
				for _, line := range lines {
					printLine(line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&facility, "facility", "", "only items held at this facility")
	return cmd
}

func stockAddCmd() *cobra.Command {
	var (
		facility string
		opening  int
	)
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a stock item with an opening balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, "add", func(ctx context.Context, l *stock.Ledger) error {
				item, err := l.Create(ctx, args[0], facility, opening)
				if err != nil {
					return err
				}
				printLine(l.Line(*item))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&facility, "facility", "", "facility holding the item")
	cmd.Flags().IntVar(&opening, "opening", 0, "opening balance")
	return cmd
}

func stockMoveCmd(name, short string, move func(*stock.Ledger, context.Context, string, int) (*models.StockItem, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [item-id] [quantity]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("stock %s: quantity %q is not a number", name, args[1])
			}
			return withLedger(cmd, name, func(ctx context.Context, l *stock.Ledger) error {
				item, err := move(l, ctx, args[0], qty)
				if err != nil {
					return err
				}
				printLine(l.Line(*item))
				return nil
			})
		},
	}
}

func stockReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute current stock from received and dispensed totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, "reconcile", func(ctx context.Context, l *stock.Ledger) error {
				fixed, err := l.ReconcileAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Reconciled %d item(s)\n", len(fixed))
				for _, id := range fixed {
					fmt.Printf("  %s\n", id)
				}
				return nil
			})
		},
	}
}
