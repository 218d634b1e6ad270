package models

import "time"

// TrustProfile holds a user's bounded reputation score. Created lazily on the
// first adjustment; mutated only through TrustService.Adjust. The counters are
// denormalized for display and are not part of the adjustment contract.
type TrustProfile struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`

	Score int `gorm:"not null;default:100" json:"score"` // clamped to [0,200]

	// Activity counters (display only)
	CreditCount  int64 `gorm:"default:0" json:"credit_count"`
	PenaltyCount int64 `gorm:"default:0" json:"penalty_count"`

	LastAdjustedAt *time.Time `json:"last_adjusted_at,omitempty"`

	Timestamps
}

// TrustLedgerEntry is an immutable audit row: one per adjustment call, never
// mutated or deleted. Delta is the effective post-dampening, post-clamp value
// actually applied to the score, so entries for a user always sum to the net
// score change. The autoincrement ID doubles as the monotonic sequence.
type TrustLedgerEntry struct {
	ID             uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalUserID string  `gorm:"index;not null" json:"external_user_id"`
	Delta          int     `gorm:"not null" json:"delta"`
	RequestedDelta int     `gorm:"not null" json:"requested_delta"`
	Reason         string  `gorm:"type:varchar(64);not null" json:"reason"`
	ContextID      *string `gorm:"index" json:"context_id,omitempty"` // typically a match id

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
