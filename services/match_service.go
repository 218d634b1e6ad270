package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"match-wager-system/models"
	"match-wager-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Default lifecycle windows.
const (
	DefaultReadyWindow  = 10 * time.Minute // READY → must be LIVE by then
	DefaultReportWindow = 5 * time.Minute  // REPORTED → verification deadline
)

// Structured errors for direct lifecycle calls. The background loops never
// surface these to users; handlers map them onto HTTP statuses.
var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrNotParticipant    = errors.New("user is not a participant of this match")
	ErrMatchConcluded    = errors.New("match already settled or voided")
	ErrStateConflict     = errors.New("match is not in a valid state for this transition")
	ErrEscrowReservation = errors.New("escrow reservation failed")
)

// Void reasons stored on the row.
const (
	VoidReasonNoShow       = "no_show"
	VoidReasonEscrowFailed = "escrow_reservation_failed"
	VoidReasonAdmin        = "admin_override"
)

// MatchService owns the match state machine. Every transition is a
// compare-and-set on the stored status, so concurrent writers serialize:
// exactly one wins and the rest observe the already-new state. Escrow calls
// go out after the winning transition, never inside a transaction.
type MatchService struct {
	DB     *gorm.DB
	Escrow EscrowService
	Trust  *TrustService
	Events *MatchEventEmitter

	ReadyWindow  time.Duration
	ReportWindow time.Duration
}

func NewMatchService(db *gorm.DB, escrow EscrowService, trust *TrustService, events *MatchEventEmitter) *MatchService {
	return &MatchService{
		DB:           db,
		Escrow:       escrow,
		Trust:        trust,
		Events:       events,
		ReadyWindow:  DefaultReadyWindow,
		ReportWindow: DefaultReportWindow,
	}
}

// GetMatch loads a match row.
func (s *MatchService) GetMatch(matchID string) (*models.WagerMatch, error) {
	var m models.WagerMatch
	if err := s.DB.First(&m, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	return &m, nil
}

// casTransition flips a match's status only while the stored status is still
// one of from. Reports whether this caller won the transition.
func (s *MatchService) casTransition(matchID string, from []string, updates map[string]interface{}) (bool, error) {
	res := s.DB.Model(&models.WagerMatch{}).
		Where("id = ? AND status IN ?", matchID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transition match %s: %w", matchID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CreateFromPair creates a READY match for two paired players and reserves
// escrow for both stakes. On reservation failure the row is voided rather
// than left READY without funds, and the failure is reported to the caller.
func (s *MatchService) CreateFromPair(ctx context.Context, userA, userB string, lane models.Lane, stakeAmount int64) (*models.WagerMatch, error) {
	if userA == userB {
		return nil, fmt.Errorf("cannot pair user %s with themselves", userA)
	}

	m := &models.WagerMatch{
		ID:          uuid.NewString(),
		Game:        lane.Game,
		Mode:        lane.Mode,
		Region:      lane.Region,
		SkillBand:   lane.SkillBand,
		StakeAmount: stakeAmount,
		PlayerAID:   userA,
		PlayerBID:   userB,
		Status:      models.MatchStatusReady,
		StartBy:     time.Now().Add(s.ReadyWindow),
	}
	if err := s.DB.Create(m).Error; err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	// Escrow reservation happens outside any lock or transaction.
	lockID, err := s.Escrow.Reserve(ctx, m.ID, stakeAmount, []string{userA, userB})
	if err != nil {
		reason := VoidReasonEscrowFailed
		if _, casErr := s.casTransition(m.ID, models.NonTerminalMatchStatuses, map[string]interface{}{
			"status":      models.MatchStatusVoid,
			"void_reason": reason,
		}); casErr != nil {
			log.Printf("❌ Failed to void match %s after escrow failure: %v", m.ID, casErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrEscrowReservation, err)
	}

	if err := s.DB.Model(m).Update("escrow_lock_id", lockID).Error; err != nil {
		log.Printf("⚠️ Failed to record escrow lock %s on match %s: %v", lockID, m.ID, err)
	}
	m.EscrowLockID = &lockID

	log.Printf("🎮 Match %s created: %s vs %s (%s, stake %d)", m.ID, userA, userB, lane.Key(), stakeAmount)
	s.Events.Emit(EventMatchCreated, m)
	return m, nil
}

// ReportStreamReady records the stream URL for whichever side userID is.
// When both sides are live and the match is still READY it transitions to
// LIVE and credits both players for streaming on time.
func (s *MatchService) ReportStreamReady(ctx context.Context, matchID, userID, streamURL string) (*models.WagerMatch, error) {
	if strings.TrimSpace(streamURL) == "" {
		return nil, fmt.Errorf("stream url is required")
	}

	m, err := s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if models.IsTerminalMatchStatus(m.Status) {
		return nil, ErrMatchConcluded
	}

	column := "player_a_stream_url"
	if userID == m.PlayerBID {
		column = "player_b_stream_url"
	}
	res := s.DB.Model(&models.WagerMatch{}).
		Where("id = ? AND status = ?", matchID, models.MatchStatusReady).
		Update(column, streamURL)
	if res.Error != nil {
		return nil, fmt.Errorf("record stream url on match %s: %w", matchID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Left READY between the read above and this write.
		m, err = s.GetMatch(matchID)
		if err != nil {
			return nil, err
		}
		if models.IsTerminalMatchStatus(m.Status) {
			return nil, ErrMatchConcluded
		}
		return nil, ErrStateConflict
	}

	m, err = s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if m.PlayerAStreamURL == nil || m.PlayerBStreamURL == nil || m.Status != models.MatchStatusReady {
		return m, nil
	}

	won, err := s.casTransition(matchID, []string{models.MatchStatusReady}, map[string]interface{}{
		"status": models.MatchStatusLive,
	})
	if err != nil {
		return nil, err
	}
	if won {
		m.Status = models.MatchStatusLive
		log.Printf("📺 Match %s is LIVE: both streams reported", matchID)
		for _, uid := range []string{m.PlayerAID, m.PlayerBID} {
			if _, err := s.Trust.Adjust(uid, TrustCreditStreamOnTime, TrustReasonStreamOnTime, &m.ID); err != nil {
				log.Printf("⚠️ Failed to credit %s for on-time streaming: %v", uid, err)
			}
		}
		s.Events.Emit(EventMatchLive, m)
	}
	return s.GetMatch(matchID)
}

// ReportResult marks that result reporting has begun and starts the
// verification deadline. It does not decide a winner — reconciliation against
// independent evidence is the verification collaborator's job. Idempotent
// when the match is already REPORTED.
func (s *MatchService) ReportResult(ctx context.Context, matchID, userID string, score int64) (*models.WagerMatch, error) {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if models.IsTerminalMatchStatus(m.Status) {
		return nil, ErrMatchConcluded
	}

	scoreColumn := "player_a_score"
	if userID == m.PlayerBID {
		scoreColumn = "player_b_score"
	}

	if m.Status == models.MatchStatusReported {
		// Second side's report: record the score, no transition.
		if err := s.DB.Model(m).Update(scoreColumn, score).Error; err != nil {
			return nil, fmt.Errorf("record score on match %s: %w", matchID, err)
		}
		return s.GetMatch(matchID)
	}
	if m.Status != models.MatchStatusLive {
		return nil, ErrStateConflict
	}

	reportBy := time.Now().Add(s.ReportWindow)
	won, err := s.casTransition(matchID, []string{models.MatchStatusLive}, map[string]interface{}{
		"status":    models.MatchStatusReported,
		"report_by": &reportBy,
		scoreColumn: score,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		// A racing report won; fall back to the idempotent path.
		m, err = s.GetMatch(matchID)
		if err != nil {
			return nil, err
		}
		if m.Status == models.MatchStatusReported {
			if err := s.DB.Model(m).Update(scoreColumn, score).Error; err != nil {
				return nil, fmt.Errorf("record score on match %s: %w", matchID, err)
			}
			return s.GetMatch(matchID)
		}
		if models.IsTerminalMatchStatus(m.Status) {
			return nil, ErrMatchConcluded
		}
		return nil, ErrStateConflict
	}

	m, err = s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	log.Printf("📝 Match %s REPORTED by %s, verification due %s", matchID, userID, reportBy.Format(time.RFC3339))
	s.Events.Emit(EventMatchReported, m)
	return m, nil
}

// SettleFromExternalVerdict concludes a match with an externally verified
// winner: escrow is released to the winner, the row becomes SETTLED, and the
// winner gets a small fast-settlement credit.
func (s *MatchService) SettleFromExternalVerdict(ctx context.Context, matchID, winnerUserID string) (*models.WagerMatch, error) {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(winnerUserID) {
		return nil, ErrNotParticipant
	}
	if models.IsTerminalMatchStatus(m.Status) {
		return s.reconcileSettled(ctx, m, winnerUserID)
	}

	now := time.Now()
	won, err := s.casTransition(matchID, []string{models.MatchStatusLive, models.MatchStatusReported}, map[string]interface{}{
		"status":     models.MatchStatusSettled,
		"winner_id":  winnerUserID,
		"settled_at": &now,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		m, err = s.GetMatch(matchID)
		if err != nil {
			return nil, err
		}
		if models.IsTerminalMatchStatus(m.Status) {
			return s.reconcileSettled(ctx, m, winnerUserID)
		}
		return nil, ErrStateConflict
	}

	m, err = s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	log.Printf("🏁 Match %s SETTLED, winner %s", matchID, winnerUserID)
	if _, err := s.Trust.Adjust(winnerUserID, TrustCreditFastSettlement, TrustReasonFastSettlement, &matchID); err != nil {
		log.Printf("⚠️ Failed to credit %s for settlement: %v", winnerUserID, err)
	}
	s.Events.Emit(EventMatchSettled, m)
	s.archiveConcluded(m)

	released, err := s.Escrow.Release(ctx, matchID, winnerUserID)
	if err != nil {
		// The row stays SETTLED; a repeated settle call with the same winner
		// re-drives the idempotent release.
		log.Printf("❌ Escrow release failed for settled match %s: %v", matchID, err)
		return nil, fmt.Errorf("release escrow for match %s: %w", matchID, err)
	}
	if !released {
		log.Printf("⚠️ Wallet reported no-op release for match %s", matchID)
	}
	return m, nil
}

// reconcileSettled handles a settle call that repeats against an already
// settled row. With the same winner it re-drives the idempotent escrow
// release, so a payout stuck behind a transient wallet failure is recoverable
// by retrying the verdict. Any other terminal retry is rejected.
func (s *MatchService) reconcileSettled(ctx context.Context, m *models.WagerMatch, winnerUserID string) (*models.WagerMatch, error) {
	if m.Status != models.MatchStatusSettled || m.WinnerID == nil || *m.WinnerID != winnerUserID {
		return nil, ErrMatchConcluded
	}
	if _, err := s.Escrow.Release(ctx, m.ID, winnerUserID); err != nil {
		return nil, fmt.Errorf("release escrow for match %s: %w", m.ID, err)
	}
	log.Printf("♻️ Match %s settle repeated, escrow release re-driven for %s", m.ID, winnerUserID)
	return m, nil
}

// VoidForNoShow voids a non-terminal match and penalizes the offender.
func (s *MatchService) VoidForNoShow(ctx context.Context, matchID, offenderUserID string) (*models.WagerMatch, error) {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(offenderUserID) {
		return nil, ErrNotParticipant
	}

	m, won, err := s.void(ctx, matchID, VoidReasonNoShow)
	if err != nil {
		return nil, err
	}

	// Only the call that actually performed the void penalizes; a retried
	// void reconciles the refund without stacking penalties.
	if won {
		if _, err := s.Trust.Adjust(offenderUserID, TrustPenaltyNoShow, TrustReasonNoShow, &matchID); err != nil {
			log.Printf("⚠️ Failed to penalize %s for no-show: %v", offenderUserID, err)
		}
	}
	return m, nil
}

// VoidByAdmin is the administrative override: any non-terminal match can be
// forced to VOID. No trust penalty is applied.
func (s *MatchService) VoidByAdmin(ctx context.Context, matchID string) (*models.WagerMatch, error) {
	m, _, err := s.void(ctx, matchID, VoidReasonAdmin)
	return m, err
}

// void flips a non-terminal match to VOID and refunds escrow. When the row is
// already VOID, the call reconciles instead of failing: the idempotent refund
// is re-driven, so a refund lost to a transient wallet failure is recoverable
// by retrying the void. won reports whether this call performed the flip.
func (s *MatchService) void(ctx context.Context, matchID, reason string) (*models.WagerMatch, bool, error) {
	won, err := s.casTransition(matchID, models.NonTerminalMatchStatuses, map[string]interface{}{
		"status":      models.MatchStatusVoid,
		"void_reason": reason,
	})
	if err != nil {
		return nil, false, err
	}
	if !won {
		m, err := s.GetMatch(matchID)
		if err != nil {
			return nil, false, err
		}
		if m.Status == models.MatchStatusVoid {
			if m.EscrowLockID != nil {
				if err := s.Escrow.Refund(ctx, matchID); err != nil {
					return nil, false, fmt.Errorf("refund escrow for match %s: %w", matchID, err)
				}
				log.Printf("♻️ Match %s void repeated, escrow refund re-driven", matchID)
			}
			return m, false, nil
		}
		if models.IsTerminalMatchStatus(m.Status) {
			return nil, false, ErrMatchConcluded
		}
		return nil, false, ErrStateConflict
	}

	m, err := s.GetMatch(matchID)
	if err != nil {
		return nil, false, err
	}

	if m.EscrowLockID != nil {
		if err := s.Escrow.Refund(ctx, matchID); err != nil {
			log.Printf("❌ Escrow refund failed for voided match %s: %v", matchID, err)
		}
	}

	log.Printf("🚫 Match %s VOID (%s)", matchID, reason)
	s.Events.Emit(EventMatchVoided, m)
	s.archiveConcluded(m)
	return m, true, nil
}

// archiveConcluded exports a terminal match as an audit record. Fire and
// forget: archival failures never affect the lifecycle call.
func (s *MatchService) archiveConcluded(m *models.WagerMatch) {
	record, err := json.Marshal(m)
	if err != nil {
		log.Printf("⚠️ Failed to encode archive record for match %s: %v", m.ID, err)
		return
	}
	go func() {
		if err := utils.ArchiveSettlementRecord(m.ID, record); err != nil {
			log.Printf("⚠️ Failed to archive match %s: %v", m.ID, err)
		}
	}()
}
