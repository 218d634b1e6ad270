package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"match-wager-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trust score bounds and tuning.
const (
	TrustScoreDefault = 100
	TrustScoreMin     = 0
	TrustScoreMax     = 200

	// Positive deltas are halved (rounded up) once a score is above the high
	// wall, so already-trusted accounts stop inflating from routine behavior.
	TrustHighWall = 160

	TrustCreditStreamOnTime   = 2
	TrustCreditFastSettlement = 3
	TrustPenaltyNoShow        = -10
)

// Ledger reason codes.
const (
	TrustReasonStreamOnTime   = "stream_on_time"
	TrustReasonFastSettlement = "fast_settlement"
	TrustReasonNoShow         = "no_show"
)

const trustAdjustRetries = 5

var errTrustScoreConflict = errors.New("trust score changed concurrently")

// TrustService owns the reputation ledger. Every adjustment appends exactly
// one immutable ledger entry and updates the profile score in the same
// transaction — one never lands without the other.
type TrustService struct {
	DB *gorm.DB
}

func NewTrustService(db *gorm.DB) *TrustService {
	return &TrustService{DB: db}
}

// Adjust applies a signed delta to a user's trust score and returns the new
// score. The profile is created lazily at the default score. Lost races are
// retried with a compare-and-set on the stored score, so concurrent
// adjustments to one user never lose an update.
func (s *TrustService) Adjust(userID string, delta int, reason string, contextID *string) (int, error) {
	var newScore int
	for attempt := 0; attempt < trustAdjustRetries; attempt++ {
		score, err := s.adjustOnce(userID, delta, reason, contextID)
		if errors.Is(err, errTrustScoreConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		newScore = score
		return newScore, nil
	}
	return 0, fmt.Errorf("adjust trust for %s: retries exhausted", userID)
}

func (s *TrustService) adjustOnce(userID string, delta int, reason string, contextID *string) (int, error) {
	var newScore int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var prof models.TrustProfile
		err := tx.Where("external_user_id = ?", userID).First(&prof).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prof = models.TrustProfile{
				ID:             uuid.NewString(),
				ExternalUserID: userID,
				Score:          TrustScoreDefault,
			}
			if err := tx.Create(&prof).Error; err != nil {
				// Two first-ever adjustments can race the create; the loser
				// retries and finds the winner's row.
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errTrustScoreConflict
				}
				return fmt.Errorf("create trust profile: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("load trust profile: %w", err)
		}

		damped := delta
		if prof.Score > TrustHighWall && delta > 0 {
			damped = (delta + 1) / 2 // halve, rounded up
		}
		score := prof.Score + damped
		if score > TrustScoreMax {
			score = TrustScoreMax
		}
		if score < TrustScoreMin {
			score = TrustScoreMin
		}
		effective := score - prof.Score

		now := time.Now()
		updates := map[string]interface{}{
			"score":            score,
			"last_adjusted_at": &now,
		}
		if delta > 0 {
			updates["credit_count"] = gorm.Expr("credit_count + 1")
		} else if delta < 0 {
			updates["penalty_count"] = gorm.Expr("penalty_count + 1")
		}

		// Compare-and-set on the previously read score: a concurrent Adjust
		// that got in first forces a retry instead of a lost update.
		res := tx.Model(&models.TrustProfile{}).
			Where("external_user_id = ? AND score = ?", userID, prof.Score).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update trust profile: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errTrustScoreConflict
		}

		entry := models.TrustLedgerEntry{
			ExternalUserID: userID,
			Delta:          effective,
			RequestedDelta: delta,
			Reason:         reason,
			ContextID:      contextID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append trust ledger entry: %w", err)
		}

		newScore = score
		log.Printf("🛡️ Trust adjusted: %s %+d (requested %+d) → %d (reason: %s)",
			userID, effective, delta, score, reason)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newScore, nil
}

// GetScore returns the user's current trust score, or the default when no
// profile exists yet.
func (s *TrustService) GetScore(userID string) (int, error) {
	var prof models.TrustProfile
	err := s.DB.Where("external_user_id = ?", userID).First(&prof).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrustScoreDefault, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load trust profile: %w", err)
	}
	return prof.Score, nil
}

// History returns the user's most recent ledger entries, newest first.
func (s *TrustService) History(userID string, limit int) ([]models.TrustLedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []models.TrustLedgerEntry
	err := s.DB.Where("external_user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load trust history: %w", err)
	}
	return entries, nil
}
