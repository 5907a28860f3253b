package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/terraskye/cqrs/transport/httpapi"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var (
		addr  string
		audit bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the account HTTP API",
		Long: `Serves POST /account/:id and GET /account/:id, plus /healthz and, when
metrics are enabled, /metrics. Views are caught up with the event store
before the listener starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := appOptions{}
			if audit {
				opts.audit = cmd.OutOrStdout()
			}
			return c.serve(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. :8080")
	cmd.Flags().BoolVar(&audit, "audit", false, "print every committed event to stdout")
	return cmd
}

func (c *cli) serve(ctx context.Context, cmd *cobra.Command, opts appOptions) error {
	tel, err := setupTelemetry(c.cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			c.logger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()

	a, err := newApp(ctx, c.cfg, c.logger, c.slog, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.WithError(err).Warn("close failed")
		}
	}()

	position, err := a.CatchUpViews(ctx)
	if err != nil {
		return err
	}
	c.logger.Infof("Views caught up to position %d", position)

	routerOpts := []httpapi.Option{
		httpapi.WithLogger(a.log),
		httpapi.WithServiceName(serviceName),
	}
	if tel.metrics != nil {
		routerOpts = append(routerOpts, httpapi.WithMetricsHandler(tel.metrics))
	}

	srv := &http.Server{
		Addr:              c.cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(a.commands, a.queries, routerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
