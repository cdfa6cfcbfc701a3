// Command harvester collects file-level metadata from OAI-PMH endpoints.
//
// Each run lists new dataset identifiers since the endpoint's watermark,
// resolves every pending identifier through the metadata resolution service
// and stores the dataset's raw document plus one row per file. The serve
// command exposes the same operations over an admin HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-filemeta-harvester/internal/config"
	"github.com/tbourn/go-filemeta-harvester/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

var (
	envFile       string
	endpointsFile string
	outputFlag    string

	// cfg is loaded once by the root command before any subcommand runs.
	cfg config.Config
)

func appVersion() string {
	return sysutil.FirstNonEmpty(version, os.Getenv("HARVESTER_VERSION"), "dev")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest file metadata from OAI-PMH repositories",
		Long: `harvester tracks dataset identifiers published by OAI-PMH endpoints,
resolves each dataset through the metadata resolution service and stores
normalized per-file metadata plus the raw dataset document.

Endpoints are declared in a YAML file (--endpoints or ENDPOINTS_FILE);
everything else is configured through environment variables, optionally
seeded from a .env file.`,
		Version:      appVersion(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := parseOutputFormat(outputFlag); err != nil {
				return err
			}
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			c, err := config.Load()
			if err != nil {
				return err
			}
			if endpointsFile != "" {
				c.EndpointsFile = endpointsFile
			}
			cfg = c
			sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
			gin.SetMode(cfg.GinMode)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to seed the environment from (missing file is ignored)")
	root.PersistentFlags().StringVar(&endpointsFile, "endpoints", "", "endpoints YAML file (overrides ENDPOINTS_FILE)")
	root.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "output format: table, json, yaml")

	root.AddCommand(
		newCheckCmd(),
		newMigrateCmd(),
		newFetchCmd(),
		newProcessCmd(),
		newRunCmd(),
		newStatsCmd(),
		newServeCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("harvester failed")
		stop()
		os.Exit(1)
	}
}
