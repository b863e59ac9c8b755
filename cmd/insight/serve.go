package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/panelworks/insight/internal/config"
	"github.com/panelworks/insight/internal/home"
	"github.com/panelworks/insight/internal/server"
	"github.com/panelworks/insight/internal/tasks"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the insight server",
	Long: `Start the insight HTTP server.

The server exposes the analysis task API, the result read endpoints, and an
SSE progress stream. With analysis.incremental_schedule configured it also
runs scheduled incremental analysis over the whole library.

Examples:
  insight serve                    # Start on default port 8080
  insight serve --port 3000        # Start on custom port
  insight serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		configMgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		configMgr.WatchConfig()

		history, err := tasks.OpenHistory(h.HistoryDBPath())
		if err != nil {
			return err
		}
		defer history.Close()

		runner := tasks.NewPipelineRunner(h, configMgr, logger)
		controller := tasks.NewController(runner, history, logger)

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			HomeDir:       h,
			ConfigManager: configMgr,
			Controller:    controller,
			History:       history,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
