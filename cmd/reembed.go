package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	appcfg "github.com/ca-srg/cravings/internal/config"
	"github.com/ca-srg/cravings/internal/metrics"
	"github.com/ca-srg/cravings/internal/precompute"
)

var (
	reembedPrune       bool
	reembedCreateIndex bool
	reembedNoProgress  bool
	reembedJSON        bool
)

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Embed menu items into the vector index",
	Long: `
Embed every menu item whose content changed since the last run and upsert it
into the vector index. Items already present with unchanged content are
skipped, so running twice in a row makes no writes the second time.

Examples:
  cravings reembed                   # Embed new and edited items
  cravings reembed --prune           # Also delete vectors of removed items
  cravings reembed --create-index    # Create the OpenSearch knn index first
`,
	RunE: runReembed,
}

func init() {
	reembedCmd.Flags().BoolVar(&reembedPrune, "prune", false, "Delete index entries for items no longer on the menu (default REEMBED_PRUNE)")
	reembedCmd.Flags().BoolVar(&reembedCreateIndex, "create-index", false, "Create the OpenSearch vector index if it does not exist")
	reembedCmd.Flags().BoolVar(&reembedNoProgress, "no-progress", false, "Disable the progress bar")
	reembedCmd.Flags().BoolVar(&reembedJSON, "json", false, "Print the run report as JSON")
}

func runReembed(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	stopTelemetry := a.startTelemetry()
	defer stopTelemetry()

	if reembedCreateIndex {
		if a.cfg.VectorBackend != appcfg.VectorBackendOpenSearch || a.osClient == nil {
			return fmt.Errorf("--create-index requires VECTOR_BACKEND=opensearch")
		}
		if err := a.osClient.CreateVectorIndex(ctx, a.cfg.OpenSearchIndex, a.cfg.EmbeddingDimensions); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	prune := a.cfg.ReembedPrune
	if cmd.Flags().Changed("prune") {
		prune = reembedPrune
	}
	job, err := a.newReembedJob(prune)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !reembedNoProgress {
		bar = newProgressBar("Embedding menu items")
		var mu sync.Mutex
		job.SetProgressCallback(func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			bar.ChangeMax(total)
			_ = bar.Set(done)
		})
	}

	metrics.RecordInvocation(metrics.ModeReembed)
	report, err := job.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("re-embed failed: %w", err)
	}

	if reembedJSON {
		return printJSON(report)
	}
	printReport(report)
	return nil
}

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

func printReport(r *precompute.Report) {
	fmt.Println("Re-embed complete")
	fmt.Printf("  Items:    %d\n", r.Total)
	fmt.Printf("  Skipped:  %d\n", r.Skipped)
	fmt.Printf("  Embedded: %d\n", r.Embedded)
	fmt.Printf("  Upserted: %d\n", r.Upserted)
	if r.Pruned > 0 {
		fmt.Printf("  Pruned:   %d\n", r.Pruned)
	}
	if r.Failed > 0 {
		fmt.Printf("  Failed:   %d (%v)\n", r.Failed, r.FailedIDs)
	}
	fmt.Printf("  Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(1e6))
}
