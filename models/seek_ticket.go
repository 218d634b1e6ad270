package models

import (
	"encoding/json"
	"time"
)

// SeekTicket is one player's pending request to be paired. Tickets live only
// in the queue store (they are never a DB row) and are destroyed on pairing,
// cancellation, or TTL expiry. Age is always computed from EnqueuedAt at read
// time, never maintained incrementally.
type SeekTicket struct {
	ID             string      `json:"id"`
	ExternalUserID string      `json:"external_user_id"`
	Game           string      `json:"game"`
	Mode           string      `json:"mode"`
	Region         string      `json:"region"`
	StakeAmount    int64       `json:"stake_amount"`
	StakeBucket    StakeBucket `json:"stake_bucket"`
	SkillBand      string      `json:"skill_band"`
	LatencyHintMs  *int        `json:"latency_hint_ms,omitempty"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
}

// Lane rebuilds the typed lane from the ticket's own fields. The queue-store
// key string is never parsed back.
func (t SeekTicket) Lane() Lane {
	return Lane{
		Game:        t.Game,
		Mode:        t.Mode,
		Region:      t.Region,
		StakeBucket: t.StakeBucket,
		SkillBand:   t.SkillBand,
	}
}

// Age reports how long the ticket has been waiting as of now.
func (t SeekTicket) Age(now time.Time) time.Duration {
	return now.Sub(t.EnqueuedAt)
}

func (t SeekTicket) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

func (t *SeekTicket) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}
