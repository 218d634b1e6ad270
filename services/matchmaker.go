package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"match-wager-system/models"

	"github.com/redis/go-redis/v9"
)

// Matchmaker converts waiting seek tickets into matches, lane by lane.
// Matching is strictly lane-equality plus oldest-first; no latency or skill
// tie-breaking happens beyond the lane partition itself.
type Matchmaker struct {
	Queue   *SeekQueue
	Matches *MatchService
	RDB     *redis.Client
}

func NewMatchmaker(queue *SeekQueue, matches *MatchService, rdb *redis.Client) *Matchmaker {
	return &Matchmaker{Queue: queue, Matches: matches, RDB: rdb}
}

// RunPass performs one matching pass over every active lane. A failing lane
// only logs; the remaining lanes still run, and the failed lane retries on
// the next tick.
func (mm *Matchmaker) RunPass(ctx context.Context) error {
	lanes, err := mm.Queue.ActiveLanes(ctx)
	if err != nil {
		return fmt.Errorf("list active lanes: %w", err)
	}
	for _, laneKey := range lanes {
		if err := mm.runLane(ctx, laneKey); err != nil {
			log.Printf("❌ [MATCHMAKER] Lane %s pass failed: %v", laneKey, err)
		}
	}
	return nil
}

func (mm *Matchmaker) runLane(ctx context.Context, laneKey string) error {
	ids, err := mm.Queue.ClaimOldest(ctx, laneKey)
	if err != nil {
		return err
	}
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return mm.handleSolo(ctx, ids[0])
	default:
		return mm.handlePair(ctx, ids[0], ids[1])
	}
}

// handleSolo deals with a lane that had a single waiting ticket: expired
// tickets are dropped, live ones go back with a bumped queue position so they
// stay discoverable. The payload keeps its original enqueue timestamp, so the
// bump never resets TTL or fairness accounting.
func (mm *Matchmaker) handleSolo(ctx context.Context, id string) error {
	t, ok, err := mm.Queue.Payload(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// Queue entry without a payload: partial failure leftover, drop it.
		log.Printf("⚠️ [MATCHMAKER] Dropping corrupt queue entry %s (no payload)", id)
		return nil
	}
	if mm.Queue.Expired(t) {
		log.Printf("⌛ [MATCHMAKER] Ticket %s expired after %s, dropping", id, t.Age(time.Now()).Round(time.Second))
		return mm.Queue.DeletePayload(ctx, id)
	}
	return mm.Queue.Reinsert(ctx, t)
}

func (mm *Matchmaker) handlePair(ctx context.Context, idA, idB string) error {
	ta, okA, err := mm.Queue.Payload(ctx, idA)
	if err != nil {
		return err
	}
	tb, okB, err := mm.Queue.Payload(ctx, idB)
	if err != nil {
		return err
	}

	// A claimed entry must still have a live payload; otherwise the pairing
	// is abandoned and the corrupt entry stays dropped.
	if !okA || !okB {
		log.Printf("⚠️ [MATCHMAKER] Abandoning pairing %s + %s: missing payload", idA, idB)
		if okA {
			return mm.Queue.Reinsert(ctx, ta)
		}
		if okB {
			return mm.Queue.Reinsert(ctx, tb)
		}
		return nil
	}

	// Lazy TTL: a claim is an inspection, expired tickets are discarded here.
	expiredA, expiredB := mm.Queue.Expired(ta), mm.Queue.Expired(tb)
	if expiredA || expiredB {
		var expired []string
		if expiredA {
			expired = append(expired, idA)
		}
		if expiredB {
			expired = append(expired, idB)
		}
		if err := mm.Queue.DeletePayload(ctx, expired...); err != nil {
			return err
		}
		log.Printf("⌛ [MATCHMAKER] Dropped %d expired ticket(s) during pairing", len(expired))
		if !expiredA {
			return mm.Queue.Reinsert(ctx, ta)
		}
		if !expiredB {
			return mm.Queue.Reinsert(ctx, tb)
		}
		return nil
	}

	// Guard against re-running a pairing whose match already exists (e.g. a
	// crash between match creation and payload deletion).
	claimed, err := mm.RDB.SetNX(ctx, pairingKey(ta.ID, tb.ID), 1, 5*time.Minute).Result()
	if err != nil {
		// Can't verify the guard; put both tickets back and retry next tick.
		_ = mm.Queue.Reinsert(ctx, ta)
		_ = mm.Queue.Reinsert(ctx, tb)
		return fmt.Errorf("pairing guard: %w", err)
	}
	if !claimed {
		log.Printf("♻️ [MATCHMAKER] Pairing %s + %s already executed, discarding tickets", ta.ID, tb.ID)
		return mm.Queue.DeletePayload(ctx, ta.ID, tb.ID)
	}

	m, err := mm.Matches.CreateFromPair(ctx, ta.ExternalUserID, tb.ExternalUserID, ta.Lane(), pairStake(ta, tb))
	if err != nil {
		// At-least-once: the tickets go back rather than being lost, and the
		// pairing guard is lifted so the retry can run.
		mm.RDB.Del(ctx, pairingKey(ta.ID, tb.ID))
		_ = mm.Queue.Reinsert(ctx, ta)
		_ = mm.Queue.Reinsert(ctx, tb)
		return fmt.Errorf("create match for %s + %s: %w", ta.ExternalUserID, tb.ExternalUserID, err)
	}

	if err := mm.Queue.DeletePayload(ctx, ta.ID, tb.ID); err != nil {
		log.Printf("⚠️ [MATCHMAKER] Match %s created but ticket cleanup failed: %v", m.ID, err)
	}
	log.Printf("✅ [MATCHMAKER] Paired %s vs %s → match %s", ta.ExternalUserID, tb.ExternalUserID, m.ID)
	return nil
}

// pairStake picks the wager both sides can cover. Tickets in one lane share a
// stake bucket but not necessarily an exact amount.
func pairStake(a, b models.SeekTicket) int64 {
	if a.StakeAmount < b.StakeAmount {
		return a.StakeAmount
	}
	return b.StakeAmount
}

func pairingKey(idA, idB string) string {
	if idB < idA {
		idA, idB = idB, idA
	}
	return "seek:pairing:" + idA + ":" + idB
}
