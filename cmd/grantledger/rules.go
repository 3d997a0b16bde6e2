package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grantledger/internal"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the classification rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetString("category")
		c, err := newClassifier()
		if err != nil {
			return err
		}
		rules := c.Rules()

		if only != "" {
			if !rules.Known(internal.Category(only)) {
				return fmt.Errorf("unknown category %q", only)
			}
			for _, cat := range rules.CategoryTable() {
				if string(cat.Name) == only {
					fmt.Println(strings.Join(cat.Keywords, ", "))
				}
			}
			return nil
		}

		fmt.Println("overrides:")
		for _, o := range rules.Overrides() {
			fmt.Printf("  %s -> %s\n", o.Keyword, o.Category)
		}
		fmt.Println("precedence:")
		for _, p := range rules.Precedence() {
			alts := make([]string, 0, len(p.When))
			for _, alt := range p.When {
				alts = append(alts, strings.Join(alt, "+"))
			}
			fmt.Printf("  %s -> %s\n", strings.Join(alts, " | "), p.Category)
		}
		fmt.Println("supplier aliases:")
		for _, a := range rules.SupplierAliases() {
			fmt.Printf("  %s <- %s\n", a.Canonical, strings.Join(a.Contains, ", "))
		}
		fmt.Println("supplier lists:")
		for _, l := range rules.SupplierLists() {
			fmt.Printf("  %s -> %s: %s\n", l.List, l.Category, strings.Join(l.Suppliers, ", "))
		}
		fmt.Println("categories:")
		for _, cat := range rules.CategoryTable() {
			fmt.Printf("  %s: %s\n", cat.Name, strings.Join(cat.Keywords, ", "))
		}
		fmt.Println("specific:")
		for _, s := range rules.Specific() {
			fmt.Printf("  %s -> %s\n", s.Keyword, s.Category)
		}
		fmt.Printf("fallback: %s\n", internal.CategoryOthers)
		return nil
	},
}

func init() {
	rulesCmd.Flags().String("category", "", "only print the keywords of this category")
	rootCmd.AddCommand(rulesCmd)
}
