package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"boardportal/httpapi"
	"boardportal/reststore"
)

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the lifecycle API and run the deadline sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, serve)
		},
	}
}

func serve(parent context.Context, rt *runtime) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{{
		Addr:              rt.cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(rt.service, rt.log.Named("http")).Routes(),
		ReadHeaderTimeout: rt.cfg.HTTP.ReadHeaderTimeout,
	}}
	if rt.cfg.Facade.Enabled {
		if rt.local == nil {
			return errors.New("facade enabled but no local storage tier is configured")
		}
		servers = append(servers, &http.Server{
			Addr:              rt.cfg.Facade.Addr,
			Handler:           reststore.NewHandler(rt.local, rt.tokens, rt.log.Named("facade")),
			ReadHeaderTimeout: rt.cfg.HTTP.ReadHeaderTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			rt.log.Info("http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		rt.evaluator.Run(gctx, rt.cfg.Deadline.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
