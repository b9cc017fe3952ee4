package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/notify"
)

// Worker delivers queued alert emails and, with SWEEP_RUNNER=worker, runs the daily sweep.
func main() {
	var sweepOnce bool
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Deliver queued alert emails and run the daily attendance sweep",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(config.Load(), sweepOnce)
		},
	}
	root.Flags().BoolVar(&sweepOnce, "sweep-once", false, "run today's sweep (unless already done) and exit")

	if err := root.Execute(); err != nil {
		log := logging.New("error", true)
		log.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.App, sweepOnce bool) error {
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("process", "worker").Logger()

	a, err := app.NewWorker(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sweepOnce {
		runner, err := a.SweepRunner()
		if err != nil {
			return err
		}
		ran, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info().Bool("ran", ran).Msg("sweep-once finished")
		return nil
	}

	var wg sync.WaitGroup
	jobs := 0

	if cfg.QueueBackend == app.QueueRedis {
		jobs++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := notify.RunDelivery(ctx, a.Queue, a.Mailer, log); err != nil {
				log.Error().Err(err).Msg("email delivery")
			}
		}()
	}

	if cfg.SweepRunner == "worker" {
		runner, err := a.SweepRunner()
		if err != nil {
			return err
		}
		jobs++
		runner.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			runner.Stop(stopCtx)
		}()
	}

	if jobs == 0 {
		return errors.New("nothing to do: set QUEUE_BACKEND=redis or SWEEP_RUNNER=worker")
	}

	log.Info().Int("jobs", jobs).Msg("worker started")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	wg.Wait()
	log.Info().Msg("worker stopped")
	return nil
}
