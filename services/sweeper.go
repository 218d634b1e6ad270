// services/sweeper.go
package services

import (
	"context"
	"log"
	"time"

	"match-wager-system/models"

	"github.com/go-co-op/gocron/v2"
)

// DefaultSweepInterval is how often the lifecycle sweeper scans for deadline
// violations.
const DefaultSweepInterval = 15 * time.Second

// StartLifecycleSweeper schedules the recurring deadline sweep and returns
// the scheduler so the caller can shut it down.
func (s *MatchService) StartLifecycleSweeper(interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.SweepExpired(context.Background()); err != nil {
				log.Printf("[Sweeper] Pass failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Printf("🧹 Lifecycle sweeper running (every %s)", interval)
	return sched, nil
}

// SweepExpired voids READY matches whose start-by deadline has passed and
// penalizes the sides that never went live. REPORTED matches past their
// verification deadline and LIVE matches with lapsed stream health would be
// swept by the same scan once those policies land.
func (s *MatchService) SweepExpired(ctx context.Context) error {
	var expired []models.WagerMatch
	err := s.DB.Where("status = ? AND start_by <= ?", models.MatchStatusReady, time.Now()).
		Find(&expired).Error
	if err != nil {
		log.Printf("[Sweeper] DB error: %v", err)
		return err
	}

	for i := range expired {
		if err := s.sweepNoShow(ctx, expired[i].ID); err != nil {
			log.Printf("[Sweeper] Failed to void match %s: %v", expired[i].ID, err)
		}
	}
	return nil
}

func (s *MatchService) sweepNoShow(ctx context.Context, matchID string) error {
	won, err := s.casTransition(matchID, []string{models.MatchStatusReady}, map[string]interface{}{
		"status":      models.MatchStatusVoid,
		"void_reason": VoidReasonNoShow,
	})
	if err != nil {
		return err
	}
	if !won {
		// A direct call moved it first; nothing left to sweep.
		return nil
	}

	swept, err := s.GetMatch(matchID)
	if err != nil {
		return err
	}

	// Offenders come from the row as voided, not the scan snapshot: a stream
	// URL recorded while the sweep was scanning still counts as showing up.
	// Both sides are penalized when neither went live.
	for _, uid := range swept.NoShowOffenders() {
		if _, err := s.Trust.Adjust(uid, TrustPenaltyNoShow, TrustReasonNoShow, &swept.ID); err != nil {
			log.Printf("[Sweeper] Failed to penalize %s on match %s: %v", uid, swept.ID, err)
		}
	}

	if swept.EscrowLockID != nil {
		if err := s.Escrow.Refund(ctx, swept.ID); err != nil {
			log.Printf("[Sweeper] Escrow refund failed for match %s: %v", swept.ID, err)
		}
	}

	log.Printf("🧹 [Sweeper] Match %s VOID: start-by %s passed", swept.ID, swept.StartBy.Format(time.RFC3339))
	s.Events.Emit(EventMatchVoided, swept)
	s.archiveConcluded(swept)
	return nil
}
