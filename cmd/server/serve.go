package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/gist/internal/config"
	"github.com/rpattn/gist/internal/gist"
	"github.com/rpattn/gist/internal/integrity"
	"github.com/rpattn/gist/internal/logging"
	"github.com/rpattn/gist/internal/middleware"
)

func newServeCommand(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

// newRouter wires the HTTP surface of a.
func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging(a.logger.Named("http")))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	}).Handler)

	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.HierarchyScope)
		r.Use(middleware.DataLoader(a.store, a.cfg.Store.LoaderWait))
		r.Mount("/integrity", integrity.NewHTTPHandler(a.integrity).Routes())
		r.Mount("/", gist.NewHTTPHandler(a.engine, a.logger.Named("http")).Routes())
	})
	return r
}

func serve(ctx context.Context, a *app) error {
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      newRouter(a),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting gist server", zap.String("addr", server.Addr), zap.String("store", a.cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("server exited")
	return nil
}
