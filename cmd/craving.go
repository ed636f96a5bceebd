package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/metrics"
)

var cravingJSON bool

var cravingCmd = &cobra.Command{
	Use:   "craving <text>",
	Short: "Find menu items matching a craving",
	Long: `
Run one craving search through the full pipeline and print up to three
matching menu items.

Examples:
  cravings craving "something cold and sweet"
  cravings craving "spicy veg starter under 200" --json
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCraving,
}

func init() {
	cravingCmd.Flags().BoolVar(&cravingJSON, "json", false, "Print the result as JSON")
}

func runCraving(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	stopTelemetry := a.startTelemetry()
	defer stopTelemetry()

	craving := strings.TrimSpace(strings.Join(args, " "))
	metrics.RecordInvocation(metrics.ModeCraving)

	matches, err := a.search.FindCraving(ctx, craving)
	if err != nil {
		return err
	}

	if cravingJSON {
		return printJSON(map[string]any{"craving": craving, "matches": matches})
	}
	printMatches(craving, matches)
	return nil
}

func printMatches(craving string, matches []menu.SearchMatch) {
	fmt.Printf("Craving: %s\n", craving)
	if len(matches) == 0 {
		fmt.Println("No matching items.")
		return
	}
	for i, m := range matches {
		fmt.Printf("%d. %s (₹%.2f)  score=%.3f\n", i+1, m.Name, m.Metadata.Price, m.FinalScore)
		if m.Description != "" {
			fmt.Printf("   %s\n", m.Description)
		}
		if len(m.Metadata.Tags) > 0 {
			fmt.Printf("   tags: %s\n", strings.Join(m.Metadata.Tags, ", "))
		}
	}
}

func printItems(title string, items []menu.MenuItem) {
	fmt.Println(title)
	if len(items) == 0 {
		fmt.Println("No items.")
		return
	}
	for i, item := range items {
		marker := ""
		if item.IsBestseller {
			marker = " *bestseller*"
		}
		fmt.Printf("%d. [%d] %s (₹%.2f)%s\n", i+1, item.ID, item.Name, item.Price, marker)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
