package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/metrics"
)

var (
	recommendTopN int
	recommendJSON bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Recommend menu items for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecommend,
}

func init() {
	recommendCmd.Flags().IntVarP(&recommendTopN, "top", "n", 0, "Number of items (default RECOMMENDATION_TOP_N)")
	recommendCmd.Flags().BoolVar(&recommendJSON, "json", false, "Print the result as JSON")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	stopTelemetry := a.startTelemetry()
	defer stopTelemetry()

	topN := a.cfg.RecommendationTopN
	if recommendTopN > 0 {
		topN = recommendTopN
	}
	metrics.RecordInvocation(metrics.ModeRecommend)

	items, err := a.recommender.Recommend(ctx, args[0], topN)
	if err != nil {
		return err
	}

	if recommendJSON {
		views := make([]menu.MenuItemView, 0, len(items))
		for _, item := range items {
			views = append(views, item.View())
		}
		return printJSON(map[string]any{"recommendations": views})
	}
	printItems(fmt.Sprintf("Recommendations for %s:", args[0]), items)
	return nil
}
