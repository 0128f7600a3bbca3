package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spesalog/spesalog/internal/commands"
	"github.com/spesalog/spesalog/internal/jobs"
	"github.com/spesalog/spesalog/internal/jobs/inmemory"
	"github.com/spesalog/spesalog/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "spesalog.yaml", "configuration file")
	workers := flag.Int("workers", 2, "concurrent job workers")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := commands.BuildApp(ctx, *cfgPath)
	if err != nil {
		bootLog := logger.New("spesalog-worker")
		bootLog.Fatal().Err(err).Msg("wiring failed")
	}
	defer app.Close()

	log := app.Log.With().Str("service", "worker").Logger()
	ctx = logger.WithContext(ctx, log)

	jobStore := inmemory.NewJobStore()
	queue := inmemory.NewQueue(100, *workers, jobStore)

	handler := func(ctx context.Context, job *jobs.ProcessUploadJob) error {
		log.Info().
			Str("job_id", job.JobID).
			Str("upload_id", job.UploadID).
			Bool("resume", job.Resume).
			Msg("processing upload")

		result, err := app.Processor.ProcessUpload(ctx, job.UploadID)
		if err != nil {
			log.Error().Err(err).Str("job_id", job.JobID).Str("upload_id", job.UploadID).
				Msg("upload processing failed")
			return err
		}
		log.Info().
			Str("job_id", job.JobID).
			Str("upload_id", job.UploadID).
			Int("categorized", result.CategorizedCount).
			Int("uncategorized", result.UncategorizedCount).
			Ints("failed_batches", result.FailedBatchIndices).
			Msg("upload processed")
		return nil
	}

	if err := queue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("start job consumer")
	}

	// The watchdog re-queues uploads whose owner died mid-run.
	watchdog := jobs.NewWatchdog(app.Store, queue, time.Minute, app.Cfg.StuckGracePeriod)
	go watchdog.Run(ctx)

	log.Info().Msg("worker started, waiting for jobs")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	log.Info().Msg("worker exited")
}
