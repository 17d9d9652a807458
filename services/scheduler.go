// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/noelys215/arbiter-api/models"
)

func (s *SessionService) StartSnoozeScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 10 minutes: wake items whose snooze window has passed
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			now := time.Now().UTC()
			result := s.DB.Model(&models.WatchlistItem{}).
				Where("snoozed_until IS NOT NULL AND snoozed_until <= ?", now).
				Update("snoozed_until", nil)
			if result.Error != nil {
				log.Printf("[Scheduler] DB error: %v", result.Error)
				return
			}
			if result.RowsAffected > 0 {
				log.Printf("✅ Woke %d snoozed watchlist item(s)", result.RowsAffected)
			}
		}),
	)
}
