package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexus-scanner/nexus/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and websocket event feed",
	Long: `Serve starts the HTTP server. Scans are submitted with
POST /api/v1/scans and observed live over the websocket at
/api/v1/events. SIGINT or SIGTERM drains in-flight requests and
cancels running scans before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(context.Background(), log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		color.Yellow("\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	color.Cyan("Nexus API listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	color.White("Submit scans:  POST /api/v1/scans\n")
	color.White("Event stream:  GET  /api/v1/events (websocket)\n\n")

	server := api.NewServer(rt.engine, rt.store, rt.bus, log, cfg)
	return server.Run(ctx)
}
