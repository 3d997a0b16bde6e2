package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"grantledger/internal"
	"grantledger/internal/ledger"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Manage grants and their allocated costs",
}

// withLedger runs fn against a ledger service that is closed afterwards.
func withLedger(fn func(svc *ledger.Service) error) error {
	svc, _, cleanup, err := newLedger()
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(svc)
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ledger.ErrInvalidAmount, s)
	}
	return v, nil
}

func printGrant(g internal.Grant) {
	fmt.Printf("%s (%s): total=%.2f allocated=%.2f net=%.2f\n", g.Name, g.ID, g.TotalBalance, g.AllocatedCost, g.NetAmount)
	if len(g.AllowedItems) > 0 {
		fmt.Printf("  allowed: %s\n", strings.Join(g.AllowedItems, ", "))
	}
}

var grantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a grant",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		total, _ := cmd.Flags().GetFloat64("total")
		allowed, _ := cmd.Flags().GetStringSlice("allow")
		if id == "" {
			id = uuid.NewString()
		}
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			g, err := svc.CreateGrant(ctx, id, name, total, allowed)
			if err != nil {
				return err
			}
			printGrant(g)
			return nil
		})
	},
}

var grantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			grants, err := svc.Grants(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTOTAL\tALLOCATED\tNET")
			for _, g := range grants {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\n", g.ID, g.Name, g.TotalBalance, g.AllocatedCost, g.NetAmount)
			}
			return w.Flush()
		})
	},
}

var grantShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one grant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			g, err := svc.Grant(ctx, args[0])
			if err != nil {
				return err
			}
			printGrant(g)
			return nil
		})
	},
}

var grantDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a grant and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			ok, err := svc.DeleteGrant(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("no grant with id %s\n", args[0])
				return nil
			}
			fmt.Printf("deleted grant %s\n", args[0])
			return nil
		})
	},
}

// amountCommand builds the NAME AMOUNT subcommands that share one shape.
func amountCommand(use, short string, apply func(svc *ledger.Service, cmd *cobra.Command, name string, amount float64) (internal.Grant, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withLedger(func(svc *ledger.Service) error {
				g, err := apply(svc, cmd, args[0], amount)
				if err != nil {
					return err
				}
				printGrant(g)
				return nil
			})
		},
	}
}

var grantAllocateCmd = amountCommand("allocate", "Add an amount to the grant's allocated cost",
	func(svc *ledger.Service, cmd *cobra.Command, name string, amount float64) (internal.Grant, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		note, _ := cmd.Flags().GetString("note")
		return svc.AllocateWithNote(ctx, name, amount, note)
	})

var grantReleaseCmd = amountCommand("release", "Take an amount back off the allocated cost",
	func(svc *ledger.Service, cmd *cobra.Command, name string, amount float64) (internal.Grant, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return svc.Release(ctx, name, amount)
	})

var grantSetBalanceCmd = amountCommand("set-balance", "Change the grant's total balance",
	func(svc *ledger.Service, cmd *cobra.Command, name string, amount float64) (internal.Grant, error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return svc.SetTotalBalance(ctx, name, amount)
	})

var grantResetCmd = &cobra.Command{
	Use:   "reset NAME",
	Short: "Set the allocated cost back to zero",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			g, err := svc.ResetAllocation(ctx, args[0])
			if err != nil {
				return err
			}
			printGrant(g)
			return nil
		})
	},
}

var grantAllowCmd = &cobra.Command{
	Use:   "allow NAME ITEM",
	Short: "Add an allowed item or category to the grant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			g, err := svc.AllowItem(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printGrant(g)
			return nil
		})
	},
}

var grantDisallowCmd = &cobra.Command{
	Use:   "disallow NAME ITEM",
	Short: "Remove an allowed item from the grant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			g, err := svc.DisallowItem(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printGrant(g)
			return nil
		})
	},
}

var grantHistoryCmd = &cobra.Command{
	Use:   "history NAME",
	Short: "Show the allocation journal of a grant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(svc *ledger.Service) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			entries, err := svc.History(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tKIND\tAMOUNT\tALLOCATED\tNET\tNOTE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Amount, e.AllocatedAfter, e.NetAfter, e.Note)
			}
			return w.Flush()
		})
	},
}

func init() {
	grantCreateCmd.Flags().String("id", "", "grant id (default: random)")
	grantCreateCmd.Flags().String("name", "", "grant name")
	grantCreateCmd.Flags().Float64("total", 0, "total balance")
	grantCreateCmd.Flags().StringSlice("allow", nil, "allowed item or category (repeatable)")
	grantAllocateCmd.Flags().String("note", "", "free text stored with the journal entry")

	grantCmd.AddCommand(grantCreateCmd, grantListCmd, grantShowCmd, grantDeleteCmd,
		grantAllocateCmd, grantReleaseCmd, grantResetCmd, grantSetBalanceCmd,
		grantAllowCmd, grantDisallowCmd, grantHistoryCmd)
	rootCmd.AddCommand(grantCmd)
}
