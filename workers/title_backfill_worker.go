// workers/title_backfill_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/noelys215/arbiter-api/models"
	"github.com/noelys215/arbiter-api/services"
)

// titleDetailsFetcher is the slice of the TMDB client this worker needs.
type titleDetailsFetcher interface {
	TitleDetails(ctx context.Context, mediaType, tmdbID string) (*services.TitleDetails, error)
}

// TitleBackfillWorker fills in runtime and overview for TMDB titles that
// were mirrored without them. Runtime matters: the runtime moods and the
// max-runtime filter skip titles with unknown length.
type TitleBackfillWorker struct {
	db        *gorm.DB
	fetcher   titleDetailsFetcher
	interval  time.Duration
	batchSize int
}

func NewTitleBackfillWorker(db *gorm.DB, fetcher titleDetailsFetcher) *TitleBackfillWorker {
	return &TitleBackfillWorker{
		db:        db,
		fetcher:   fetcher,
		interval:  15 * time.Minute,
		batchSize: 25,
	}
}

func (w *TitleBackfillWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Title Backfill Worker (tmdb → titles)…")
	go w.run(ctx)
}

func (w *TitleBackfillWorker) run(ctx context.Context) {
	if err := w.backfillBatch(ctx); err != nil {
		log.Printf("⚠️ Initial backfill failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.backfillBatch(ctx); err != nil {
				log.Printf("❌ Backfill batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Title Backfill Worker stopped")
			return
		}
	}
}

// backfillBatch picks up a batch of TMDB titles missing runtime or overview
// and fetches the details one by one. Individual failures are logged and
// skipped so a dead TMDB row can't wedge the batch.
func (w *TitleBackfillWorker) backfillBatch(ctx context.Context) error {
	var titles []models.Title
	err := w.db.
		Where("source = ? AND source_id IS NOT NULL", "tmdb").
		Where("runtime_minutes IS NULL OR overview IS NULL").
		Limit(w.batchSize).
		Find(&titles).Error
	if err != nil {
		return err
	}
	if len(titles) == 0 {
		return nil
	}

	log.Printf("[BACKFILL] 📥 Processing %d title(s) missing details…", len(titles))

	var updated, failed int
	for _, title := range titles {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		details, err := w.fetcher.TitleDetails(ctx, title.MediaType, *title.SourceID)
		if err != nil {
			log.Printf("[BACKFILL] ⚠️ Details fetch failed for %s/%s: %v", title.MediaType, *title.SourceID, err)
			failed++
			continue
		}

		updates := map[string]interface{}{}
		if title.RuntimeMinutes == nil && details.RuntimeMinutes != nil {
			updates["runtime_minutes"] = *details.RuntimeMinutes
		}
		if title.Overview == nil && details.Overview != nil {
			updates["overview"] = *details.Overview
		}
		if len(updates) == 0 {
			continue
		}

		if err := w.db.Model(&models.Title{}).Where("id = ?", title.ID).Updates(updates).Error; err != nil {
			log.Printf("[BACKFILL] ❌ Update failed for title %s: %v", title.ID, err)
			failed++
			continue
		}
		updated++
	}

	log.Printf("[BACKFILL] ✅ Batch done: %d updated, %d failed", updated, failed)
	return nil
}
