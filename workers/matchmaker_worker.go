package workers

import (
	"context"
	"log"
	"time"

	"match-wager-system/services"
)

// DefaultMatchInterval is how often the matchmaker attempts a pairing pass.
const DefaultMatchInterval = 2 * time.Second

// RunMatchmaker drives the pairing pass on a fixed interval until ctx is
// canceled. A failed pass is abandoned and retried on the next tick; errors
// never surface to end users.
func RunMatchmaker(ctx context.Context, mm *services.Matchmaker, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMatchInterval
	}
	log.Printf("🔁 Starting matchmaker loop (every %s)...", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Matchmaker loop stopped")
			return
		case <-ticker.C:
			if err := mm.RunPass(ctx); err != nil {
				log.Printf("❌ Matchmaker pass failed: %v", err)
			}
		}
	}
}
