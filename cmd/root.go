package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "cravings",
	Short: "Cravings - menu search and recommendations from free-text cravings",
	Long: `Cravings matches free-text cravings such as "something cold and sweet"
against a restaurant menu using vector search with rule-based re-ranking,
falling back to keyword search when the language model or vector index is
unavailable. It also recommends items from a user's order history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cravingCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(reembedCmd)
	rootCmd.AddCommand(matchCmd)
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
