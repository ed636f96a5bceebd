package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ca-srg/cravings/internal/mcpserver"
	"github.com/ca-srg/cravings/internal/precompute"
	"github.com/ca-srg/cravings/internal/server"
)

// Version is stamped at build time.
var Version = "dev"

var (
	serveHost       string
	servePort       int
	serveEnableMCP  bool
	serveDisableMCP bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `
Start the HTTP API serving craving search, recommendations, menu name
matching and the admin re-embed trigger. With MCP_ENABLED=true (or --mcp)
the same tools are exposed to MCP clients at /mcp.

Configuration is loaded from environment variables (see README for details).

Examples:
  cravings serve                  # Listen on HTTP_HOST:HTTP_PORT
  cravings serve --port 9000      # Use a custom port
  cravings serve --mcp            # Also mount the MCP endpoint
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (overrides HTTP_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides HTTP_PORT)")
	serveCmd.Flags().BoolVar(&serveEnableMCP, "mcp", false, "Mount the MCP endpoint at /mcp")
	serveCmd.Flags().BoolVar(&serveDisableMCP, "no-mcp", false, "Do not mount the MCP endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stopTelemetry := a.startTelemetry()
	defer stopTelemetry()

	cfg := a.cfg
	if cmd.Flags().Changed("host") {
		cfg.HTTPHost = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTPPort = servePort
	}
	mcpEnabled := (cfg.MCPEnabled || serveEnableMCP) && !serveDisableMCP

	if err := cfg.ResolveAdminSecret(ctx); err != nil {
		return fmt.Errorf("failed to resolve admin secret: %w", err)
	}

	deps := server.Deps{
		Searcher:    a.search,
		Recommender: a.recommender,
		Menu:        a.menu,
	}

	job, err := a.newReembedJob(false)
	if err != nil {
		a.logger.Warn().Err(err).Msg("admin re-embed endpoint disabled")
	} else {
		deps.Reembedder = precompute.NewRunner(job, a.logger)
	}

	if mcpEnabled {
		tools := mcpserver.NewTools(a.search, a.recommender, cfg.RecommendationTopN, a.logger)
		deps.MCP = mcpserver.NewHandler(mcpserver.NewServer(tools, Version))
		a.logger.Info().Msg("MCP endpoint mounted at /mcp")
	}

	srv, err := server.New(server.Config{
		Host:            cfg.HTTPHost,
		Port:            cfg.HTTPPort,
		ReadTimeout:     cfg.HTTPReadTimeout,
		WriteTimeout:    cfg.HTTPWriteTimeout,
		ShutdownTimeout: cfg.HTTPShutdownTimeout,
		RateLimit:       cfg.HTTPRateLimit,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		AdminSecret:     cfg.AdminReembedSecret,
		DefaultTopN:     cfg.RecommendationTopN,
	}, deps, a.logger)
	if err != nil {
		return err
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}

	// Let an in-flight re-embed finish writing before the stores close.
	if runner, ok := deps.Reembedder.(*precompute.Runner); ok {
		waitCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := runner.Wait(waitCtx); err != nil {
			a.logger.Warn().Err(err).Msg("re-embed still running at shutdown")
		}
	}
	return nil
}
