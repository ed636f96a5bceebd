package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ca-srg/cravings/internal/keyword"
)

var matchCmd = &cobra.Command{
	Use:   "match <dish name>",
	Short: "Resolve a dish name to a menu item",
	Long: `
Resolve a loosely typed dish name to one menu item, trying an exact match,
then a prefix, then a substring, then the best word overlap.

Example:
  cravings match "paneer tikka"
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := strings.Join(args, " ")
	items, err := a.menu.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list menu items: %w", err)
	}

	item, ok := keyword.BestMatch(items, name)
	if !ok {
		return fmt.Errorf("no menu item matches %q", name)
	}
	fmt.Printf("[%d] %s (₹%.2f)\n", item.ID, item.Name, item.Price)
	if item.Description != "" {
		fmt.Printf("    %s\n", item.Description)
	}
	return nil
}
