package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/tendril/di"
	"github.com/jacentio/tendril/internal/runner"
)

type runFlags struct {
	once        bool
	metricsAddr string
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the chat listener, run the startup tasks and wait for a signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, f)
		},
	}

	cmd.Flags().BoolVar(&f.once, "once", false, "exit after the startup tasks instead of waiting for a signal")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func (a *app) run(ctx context.Context, f runFlags) error {
	reg := prometheus.NewRegistry()
	c, err := di.New(ctx, a.config, di.WithLogger(a.logger), di.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Subscribe before the runners publish so the greeting is not lost.
	if c.Listener != nil {
		sub, err := c.Listener.Subscribe(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error { return c.Listener.Serve(ctx, sub) })
	}
	if c.Expiry != nil {
		g.Go(func() error { return c.Expiry.Run(ctx) })
	}
	if f.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, f.metricsAddr, reg) })
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	g.Go(func() error {
		demo := runner.NewDemo(c)
		if err := runner.RunAll(ctx, a.logger, demo.Runners()...); err != nil {
			return err
		}
		if f.once {
			// Let the listener drain the greeting before shutting down.
			time.Sleep(100 * time.Millisecond)
			cancel()
			return nil
		}
		a.logger.InfoContext(ctx, "startup tasks done, waiting for signal")
		return nil
	})

	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
