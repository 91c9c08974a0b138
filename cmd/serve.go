package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vidfetch/internal"
	"vidfetch/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default command)",
	Long: `Run the HTTP API.

Endpoints:
  POST   /api/info            list renditions for {"url": ...}
  POST   /api/download        start a download {"url", "format", "title"}
  DELETE /api/download/{id}   cancel a running download
  GET    /api/progress/{id}   poll a download
  GET    /api/file/{id}       fetch the finished file
  GET    /api/health          liveness and active download count`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenAddr != "" {
			config.ListenAddr = listenAddr
		}
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(config)
	if err != nil {
		return err
	}
	defer a.close()

	internal.LogInfo("Storage directory: %s (retention %v)", a.orch.StorageDir(), config.Retention)
	a.reaper.Start(ctx)

	err = server.New(config, a.serverDeps()).Run(ctx)
	if ctx.Err() != nil {
		internal.LogInfo("Received shutdown signal, stopping downloads...")
	}
	return err
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (env: VIDFETCH_LISTEN, PORT)")
}
