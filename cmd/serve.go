package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"olx-watcher/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic scraper and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		validator, err := api.NewHS256Validator(cfg.Server.JWTSecret)
		if err != nil {
			return eris.Wrap(err, "server.jwt_secret must be set to serve the API")
		}

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		history, closeHistory, err := openHistory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeHistory()

		m := newMetrics()
		if st, err := store.Stats(ctx); err == nil {
			m.ObserveStats(st)
			logger.Info("[serve] Store holds %d listings, %d unseen", st.Total, st.Unseen)
		}

		sched := newScheduler(cfg, store, history, m, logger)
		srv := api.NewServer(store, sched, validator, m, logger, cfg.Server.CORSOrigin).HTTPServer(cfg.Server.Addr)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("[serve] Listening on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "http server")
			}
			return nil
		})

		g.Go(func() error {
			if err := sched.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			sched.Stop()
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("[serve] Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}
