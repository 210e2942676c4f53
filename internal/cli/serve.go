package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gallerio/internal/api"
	"gallerio/internal/httpserver"
	"gallerio/internal/order"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP server (health, metrics, receipts, payment webhook)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if addr != "" {
					a.cfg.HTTPListenAddr = addr
				}
				return runServe(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides httpListenAddr)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	handlers := httpserver.Handlers{}
	deps := httpserver.Dependencies{Session: a.session}

	switch {
	case a.ledger == nil:
		a.logger.Warn("ledger disabled, payment webhook not mounted")
	case a.cfg.WebhookUsername == "":
		a.logger.Warn("webhook credentials not set, payment webhook not mounted")
	default:
		processor := order.NewLedgerProcessor(a.ledger, a.logger)
		handlers.PaymentWebhook = api.NewPaymentWebhookHandler(a.logger, a.metrics, a.cfg.WebhookUsername, a.cfg.WebhookPassword, processor)
	}
	if a.ledger != nil {
		deps.Ledger = a.ledger
	}

	srv := httpserver.New(a.cfg.HTTPListenAddr, a.logger, a.metrics, handlers, a.cfg.PublicBasePath)
	srv.SetDependencies(deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
