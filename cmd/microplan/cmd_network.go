package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/network"
)

func networkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Edit and rank a ward's trust network",
		Long: `Every subcommand takes the ward first. Networks are kept in Neo4j when
neo4j.uri is configured and in memory otherwise, which only lasts for one
command.`,
	}
	cmd.AddCommand(
		networkShowCmd(),
		networkRankCmd(),
		networkAddNodeCmd(),
		networkAddBridgeCmd(),
		networkApplyCmd("remove-node [ward] [node-id]", "Remove a node and its bridges", 2,
			func(args []string) (network.Action, error) { return network.RemoveNode{ID: args[1]}, nil }),
		networkApplyCmd("remove-bridge [ward] [from] [to]", "Remove the bridge between two nodes", 3,
			func(args []string) (network.Action, error) {
				return network.RemoveBridge{From: args[1], To: args[2]}, nil
			}),
		networkApplyCmd("move [ward] [node-id] [x] [y]", "Set the layout position of a node", 4, moveAction),
	)
	return cmd
}

// withNetwork opens the configured repository and runs fn.
func withNetwork(cmd *cobra.Command, fn func(ctx context.Context, svc *network.Service) error) error {
	logger := newLogger()
	ctx := cmd.Context()

	repo, err := newNetworkRepository(ctx, logger)
	if err != nil {
		return fmt.Errorf("network: connecting to neo4j: %w", err)
	}
	defer func() { _ = repo.Close(context.Background()) }()

	if err := fn(ctx, network.NewService(repo, logger)); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	return nil
}

func networkShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [ward]",
		Short: "Print the network of a ward as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(cmd, func(ctx context.Context, svc *network.Service) error {
				n, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, n.WithInfluence())
			})
		},
	}
}

func networkRankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank [ward]",
		Short: "List nodes by influence, highest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(cmd, func(ctx context.Context, svc *network.Service) error {
				n, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				for i, node := range n.Ranked() {
					fmt.Printf("%3d. %-24s %-12s %5.1f  (%d links)\n",
						i+1, node.Name, node.Type, *node.InfluenceScore, len(n.Neighbors(node.ID)))
				}
				return nil
			})
		},
	}
}

func networkAddNodeCmd() *cobra.Command {
	var node models.SocialNode
	cmd := &cobra.Command{
		Use:   "add-node [ward]",
		Short: "Add a person or place to the network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(cmd, func(ctx context.Context, svc *network.Service) error {
				n, err := svc.Apply(ctx, args[0], network.AddNode{Node: node})
				if err != nil {
					return err
				}
				added := n.Nodes[len(n.Nodes)-1]
				fmt.Printf("Added node %s (%s)\n", added.ID, added.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&node.ID, "id", "", "node ID (generated when empty)")
	cmd.Flags().StringVar(&node.Name, "name", "", "display name")
	cmd.Flags().StringVar(&node.Type, "type", "", "node type, e.g. Peer, Gatekeeper, Venue")
	return cmd
}

func networkAddBridgeCmd() *cobra.Command {
	var strength string
	cmd := &cobra.Command{
		Use:   "add-bridge [ward] [from] [to]",
		Short: "Link two nodes, replacing any bridge between them",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(cmd, func(ctx context.Context, svc *network.Service) error {
				b := models.TrustBridge{From: args[1], To: args[2], Strength: models.BridgeStrength(strength)}
				if _, err := svc.Apply(ctx, args[0], network.AddBridge{Bridge: b}); err != nil {
					return err
				}
				fmt.Printf("Linked %s and %s (%s)\n", b.From, b.To, b.Strength)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&strength, "strength", string(models.StrengthModerate), "Weak, Moderate, Strong or Critical")
	return cmd
}

func networkApplyCmd(use, short string, nargs int, action func(args []string) (network.Action, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := action(args)
			if err != nil {
				return fmt.Errorf("network: %w", err)
			}
			return withNetwork(cmd, func(ctx context.Context, svc *network.Service) error {
				n, err := svc.Apply(ctx, args[0], a)
				if err != nil {
					return err
				}
				fmt.Printf("Ward %s: %d nodes, %d bridges\n", args[0], len(n.Nodes), len(n.Bridges))
				return nil
			})
		},
	}
}

func moveAction(args []string) (network.Action, error) {
	x, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return nil, fmt.Errorf("x %q is not a number", args[2])
	}
	y, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return nil, fmt.Errorf("y %q is not a number", args[3])
	}
	return network.MoveNode{ID: args[1], X: x, Y: y}, nil
}
