package models

import (
	"time"

	"gorm.io/gorm"
)

// Match statuses. SETTLED and VOID are terminal — a concluded match is a
// permanent record and never transitions again.
const (
	MatchStatusReady    = "READY"
	MatchStatusLive     = "LIVE"
	MatchStatusReported = "REPORTED"
	MatchStatusSettled  = "SETTLED"
	MatchStatusVoid     = "VOID"
)

// NonTerminalMatchStatuses lists the statuses a transition may start from.
var NonTerminalMatchStatuses = []string{MatchStatusReady, MatchStatusLive, MatchStatusReported}

// IsTerminalMatchStatus reports whether a status permits no further transitions.
func IsTerminalMatchStatus(status string) bool {
	return status == MatchStatusSettled || status == MatchStatusVoid
}

// WagerMatch records a single 1v1 wagered match from pairing through
// settlement or void. Rows are never deleted.
type WagerMatch struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	Game   string `gorm:"index;not null" json:"game"`
	Mode   string `gorm:"not null" json:"mode"`
	Region string `json:"region"`

	StakeAmount int64  `gorm:"not null" json:"stake_amount"`
	SkillBand   string `json:"skill_band"`

	PlayerAID string `gorm:"index;not null" json:"player_a_id"`
	PlayerBID string `gorm:"index;not null" json:"player_b_id"`

	// Per-side live-stream acknowledgment. A nil URL after the ready window
	// identifies the no-show side.
	PlayerAStreamURL *string `json:"player_a_stream_url,omitempty"`
	PlayerBStreamURL *string `json:"player_b_stream_url,omitempty"`

	// Self-reported scores, kept for audit; the verdict comes from external
	// verification, not from these.
	PlayerAScore *int64 `json:"player_a_score,omitempty"`
	PlayerBScore *int64 `json:"player_b_score,omitempty"`

	Status   string     `gorm:"type:varchar(16);index;not null" json:"status"`
	StartBy  time.Time  `gorm:"not null" json:"start_by"`
	ReportBy *time.Time `json:"report_by,omitempty"`

	EscrowLockID *string `json:"escrow_lock_id,omitempty"`
	WinnerID     *string `gorm:"index" json:"winner_id,omitempty"`
	VoidReason   *string `gorm:"type:varchar(64)" json:"void_reason,omitempty"`

	SettledAt *time.Time `json:"settled_at,omitempty"`

	Timestamps
}

// IsParticipant reports whether userID is one of the two players.
func (m *WagerMatch) IsParticipant(userID string) bool {
	return userID == m.PlayerAID || userID == m.PlayerBID
}

// StreamURLFor returns the stream URL recorded for userID's side.
func (m *WagerMatch) StreamURLFor(userID string) *string {
	if userID == m.PlayerAID {
		return m.PlayerAStreamURL
	}
	if userID == m.PlayerBID {
		return m.PlayerBStreamURL
	}
	return nil
}

// NoShowOffenders returns the players that never acknowledged going live.
// When neither side posted a stream URL, both are offenders.
func (m *WagerMatch) NoShowOffenders() []string {
	var offenders []string
	if m.PlayerAStreamURL == nil {
		offenders = append(offenders, m.PlayerAID)
	}
	if m.PlayerBStreamURL == nil {
		offenders = append(offenders, m.PlayerBID)
	}
	return offenders
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
