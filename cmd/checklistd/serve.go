package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vbonduro/checklistsync/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the checklist HTTP API",
	Long:  `Serves the checklist API, the stored media and the save-status event streams until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.cleanup()

	go a.hub.Run(ctx)

	addr := a.cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	server := web.NewServer(a.service, a.hub, a.objects, a.logger)
	if err := server.ListenAndServe(ctx, addr); err != nil {
		a.logger.Error("server error", "error", err)
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
