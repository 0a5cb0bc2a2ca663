package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/server"
)

const shutdownGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over A2A (JSON-RPC + SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg, nil)
			if err != nil {
				return err
			}
			defer p.Close()
			p.logger.Info("starting thorplan", append(cfg.Fields(), zap.String("version", version))...)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			card := server.Card(cfg.AdvertisedURL(), version, p.vocab)
			srv := server.New(p.exec, card, p.metrics, p.logger)
			if err := srv.ListenAndServe(ctx, cfg.Addr(), shutdownGrace); err != nil {
				p.logger.Error("server stopped", zap.Error(err))
				return err
			}
			p.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&o.host, "host", "", "listen host (overrides HOST)")
	cmd.Flags().IntVar(&o.port, "port", 0, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&o.model, "model", "", "model identifier (overrides OPENROUTER_MODEL)")
	return cmd
}
