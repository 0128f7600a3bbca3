package jobs

import (
	"context"
	"time"

	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/store"
)

// Watchdog periodically scans for uploads whose claim went stale, a
// worker died mid-run, and re-publishes them. The claim protocol makes
// the re-run safe: only rows not yet resolved are resubmitted.
type Watchdog struct {
	store     store.UploadStore
	publisher Publisher
	interval  time.Duration
	grace     time.Duration
}

// NewWatchdog builds a watchdog. grace must match the processor's claim
// grace period so the two sides agree on what "stuck" means.
func NewWatchdog(s store.UploadStore, publisher Publisher, interval, grace time.Duration) *Watchdog {
	return &Watchdog{store: s, publisher: publisher, interval: interval, grace: grace}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	stuck, err := w.store.ListStuckUploads(ctx, w.grace)
	if err != nil {
		log.Warn().Err(err).Msg("watchdog: list stuck uploads")
		return
	}
	for _, u := range stuck {
		job := &ProcessUploadJob{UploadID: u.ID, UserID: u.UserID, Resume: true}
		if err := w.publisher.PublishProcessUpload(ctx, job); err != nil {
			log.Warn().Err(err).Str("upload_id", u.ID).Msg("watchdog: republish")
			continue
		}
		log.Info().Str("upload_id", u.ID).Str("stale_owner", u.Owner).Msg("watchdog: resumed stuck upload")
	}
}
