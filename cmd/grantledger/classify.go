package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Print the category for an item name",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		supplier, _ := cmd.Flags().GetString("supplier")
		explain, _ := cmd.Flags().GetBool("explain")
		if strings.TrimSpace(name) == "" && len(args) > 0 {
			name = strings.Join(args, " ")
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("--name is required")
		}

		c, err := newClassifier()
		if err != nil {
			return err
		}
		res := c.Explain(name, supplier)
		if !explain {
			fmt.Println(res.Category)
			return nil
		}
		fmt.Printf("category=%s stage=%s rule=%q supplier=%q\n", res.Category, res.Stage, res.Rule, res.Supplier)
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("name", "", "item name")
	classifyCmd.Flags().String("supplier", "", "supplier as written on the invoice")
	classifyCmd.Flags().Bool("explain", false, "show which rule decided")
	rootCmd.AddCommand(classifyCmd)
}
