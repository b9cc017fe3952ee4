package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/notify"
	"rollcall/internal/store"
	"rollcall/internal/web"
)

func main() {
	root := &cobra.Command{
		Use:           "api",
		Short:         "Serve the QR check-in attendance app",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHTTP(config.Load())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(config.Load())
		},
	})

	if err := root.Execute(); err != nil {
		log := logging.New("error", true)
		log.Fatal().Err(err).Msg("api failed")
	}
}

func runMigrate(cfg config.App) error {
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	dbc, err := config.ParseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if dbc.Driver == config.DriverMemory {
		log.Info().Msg("in-memory storage has no schema to migrate")
		return nil
	}
	if err := store.Migrate(dbc.Driver, dbc.DSN); err != nil {
		return err
	}
	log.Info().Str("driver", dbc.Driver).Msg("migrations applied")
	return nil
}

func runHTTP(cfg config.App) error {
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.SecretKey == "dev" || cfg.AdminCode == "letmein" {
			log.Warn().Msg("SECRET_KEY or ADMIN_CODE still has its development default")
		}
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// an in-memory queue is invisible to the worker process, so deliver here
	delivered := make(chan struct{})
	if a.InProcessDelivery() {
		go func() {
			defer close(delivered)
			if err := notify.RunDelivery(ctx, a.Queue, a.Mailer, log); err != nil {
				log.Error().Err(err).Msg("email delivery")
			}
		}()
	} else {
		close(delivered)
	}

	if cfg.SweepRunner == "api" {
		runner, err := a.SweepRunner()
		if err != nil {
			return err
		}
		runner.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			runner.Stop(stopCtx)
		}()
	} else {
		log.Info().Str("sweep_runner", cfg.SweepRunner).Msg("daily sweep not scheduled in api")
	}

	checks := map[string]web.HealthCheck{}
	for name, check := range a.Checks() {
		checks[name] = check
	}

	router, err := web.NewRouter(web.Deps{
		Service:       a.Service,
		Reports:       a.Reports,
		Gate:          auth.NewGate(cfg.AdminCode, cfg.SecretKey, cfg.JWTIssuer, cfg.AdminTokenTTL, cfg.Production()),
		Log:           log,
		PublicBaseURL: cfg.PublicBaseURL,
		SecretKey:     cfg.SecretKey,
		Production:    cfg.Production(),
		RateLimit:     cfg.RateLimitPerMin,
		Checks:        checks,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("public_base_url", cfg.PublicBaseURL).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	}

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced shutdown")
	}

	select {
	case <-delivered:
	case <-shutdownCtx.Done():
	}
	log.Info().Msg("server exited")
	return nil
}
