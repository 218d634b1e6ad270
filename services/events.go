package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"match-wager-system/models"

	"github.com/redis/go-redis/v9"
)

// Lifecycle event types published for downstream consumers (UI, analytics).
const (
	EventMatchCreated  = "match.created"
	EventMatchLive     = "match.live"
	EventMatchReported = "match.reported"
	EventMatchSettled  = "match.settled"
	EventMatchVoided   = "match.voided"

	matchEventChannel = "match.lifecycle"
)

// MatchEvent is the wire shape published on the lifecycle channel.
type MatchEvent struct {
	Type     string    `json:"type"`
	MatchID  string    `json:"match_id"`
	Status   string    `json:"status"`
	Players  []string  `json:"players"`
	WinnerID *string   `json:"winner_id,omitempty"`
	At       time.Time `json:"at"`
}

// MatchEventEmitter publishes lifecycle events over redis pub/sub. Emission
// is fire-and-forget: failures are logged and never surface to callers, and
// no acknowledgment is awaited.
type MatchEventEmitter struct {
	RDB *redis.Client
}

func NewMatchEventEmitter(rdb *redis.Client) *MatchEventEmitter {
	return &MatchEventEmitter{RDB: rdb}
}

func (e *MatchEventEmitter) Emit(eventType string, m *models.WagerMatch) {
	if e == nil || e.RDB == nil {
		return
	}
	payload, err := json.Marshal(MatchEvent{
		Type:     eventType,
		MatchID:  m.ID,
		Status:   m.Status,
		Players:  []string{m.PlayerAID, m.PlayerBID},
		WinnerID: m.WinnerID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		log.Printf("⚠️ Failed to encode %s event for match %s: %v", eventType, m.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.RDB.Publish(ctx, matchEventChannel, payload).Err(); err != nil {
		log.Printf("⚠️ Failed to publish %s event for match %s: %v", eventType, m.ID, err)
	}
}
