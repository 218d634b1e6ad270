package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"match-wager-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEscrow is an in-memory stand-in for the wallet collaborator.
type fakeEscrow struct {
	mu          sync.Mutex
	reserveErr  error
	releaseErr  error
	refundErr   error
	reserved    map[string]int64
	released    map[string]string
	refunded    map[string]bool
	reserveCall int
}

func newFakeEscrow() *fakeEscrow {
	return &fakeEscrow{
		reserved: make(map[string]int64),
		released: make(map[string]string),
		refunded: make(map[string]bool),
	}
}

func (f *fakeEscrow) Reserve(ctx context.Context, matchID string, amount int64, userIDs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCall++
	if f.reserveErr != nil {
		return "", f.reserveErr
	}
	f.reserved[matchID] = amount
	return "lock-" + matchID, nil
}

func (f *fakeEscrow) Release(ctx context.Context, matchID, winnerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return false, f.releaseErr
	}
	f.released[matchID] = winnerID
	return true, nil
}

func (f *fakeEscrow) Refund(ctx context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunded[matchID] = true
	return nil
}

func testLane() models.Lane {
	return models.Lane{
		Game:        "X",
		Mode:        "CONSOLE_VERIFIED_STREAM",
		Region:      "us-east",
		StakeBucket: models.StakeBucketS5,
		SkillBand:   "B1",
	}
}

func newTestMatchService(t *testing.T) (*MatchService, *fakeEscrow) {
	t.Helper()
	db := newTestDB(t)
	escrow := newFakeEscrow()
	svc := NewMatchService(db, escrow, NewTrustService(db), NewMatchEventEmitter(nil))
	return svc, escrow
}

func createReadyMatch(t *testing.T, svc *MatchService) *models.WagerMatch {
	t.Helper()
	m, err := svc.CreateFromPair(context.Background(), "alice", "bob", testLane(), 300)
	require.NoError(t, err)
	return m
}

func goLive(t *testing.T, svc *MatchService, matchID string) *models.WagerMatch {
	t.Helper()
	_, err := svc.ReportStreamReady(context.Background(), matchID, "alice", "https://stream.example/alice")
	require.NoError(t, err)
	m, err := svc.ReportStreamReady(context.Background(), matchID, "bob", "https://stream.example/bob")
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusLive, m.Status)
	return m
}

func TestCreateFromPair(t *testing.T) {
	svc, escrow := newTestMatchService(t)

	before := time.Now()
	m := createReadyMatch(t, svc)

	assert.Equal(t, models.MatchStatusReady, m.Status)
	assert.Equal(t, "alice", m.PlayerAID)
	assert.Equal(t, "bob", m.PlayerBID)
	assert.Equal(t, int64(300), m.StakeAmount)
	require.NotNil(t, m.EscrowLockID)
	assert.Equal(t, "lock-"+m.ID, *m.EscrowLockID)
	assert.Equal(t, int64(300), escrow.reserved[m.ID])
	assert.WithinDuration(t, before.Add(DefaultReadyWindow), m.StartBy, 5*time.Second)
}

func TestCreateFromPairRejectsSelfPairing(t *testing.T) {
	svc, _ := newTestMatchService(t)

	_, err := svc.CreateFromPair(context.Background(), "alice", "alice", testLane(), 300)
	assert.Error(t, err)
}

func TestCreateFromPairEscrowFailureVoidsMatch(t *testing.T) {
	svc, escrow := newTestMatchService(t)
	escrow.reserveErr = errors.New("wallet unavailable")

	_, err := svc.CreateFromPair(context.Background(), "alice", "bob", testLane(), 300)
	require.ErrorIs(t, err, ErrEscrowReservation)

	// The row exists and surfaces the failure — never READY without funds.
	var m models.WagerMatch
	require.NoError(t, svc.DB.First(&m).Error)
	assert.Equal(t, models.MatchStatusVoid, m.Status)
	require.NotNil(t, m.VoidReason)
	assert.Equal(t, VoidReasonEscrowFailed, *m.VoidReason)
}

func TestReportStreamReadyBothSidesGoLive(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	one, err := svc.ReportStreamReady(context.Background(), m.ID, "alice", "https://stream.example/alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReady, one.Status, "one live side is not enough")

	both, err := svc.ReportStreamReady(context.Background(), m.ID, "bob", "https://stream.example/bob")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, both.Status)
	require.NotNil(t, both.PlayerAStreamURL)
	require.NotNil(t, both.PlayerBStreamURL)

	// Both players earn the on-time streaming credit.
	for _, uid := range []string{"alice", "bob"} {
		score, err := svc.Trust.GetScore(uid)
		require.NoError(t, err)
		assert.Equal(t, TrustScoreDefault+TrustCreditStreamOnTime, score, uid)
	}
}

func TestReportStreamReadyRejectsOutsiders(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	_, err := svc.ReportStreamReady(context.Background(), m.ID, "mallory", "https://stream.example/mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = svc.ReportStreamReady(context.Background(), "no-such-match", "alice", "https://stream.example/alice")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestReportResultTransitionsAndIsIdempotent(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)
	goLive(t, svc, m.ID)

	before := time.Now()
	reported, err := svc.ReportResult(context.Background(), m.ID, "alice", 11)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReported, reported.Status)
	require.NotNil(t, reported.ReportBy)
	assert.WithinDuration(t, before.Add(DefaultReportWindow), *reported.ReportBy, 5*time.Second)
	require.NotNil(t, reported.PlayerAScore)
	assert.Equal(t, int64(11), *reported.PlayerAScore)

	// Second report is idempotent: score recorded, no transition.
	again, err := svc.ReportResult(context.Background(), m.ID, "bob", 7)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReported, again.Status)
	require.NotNil(t, again.PlayerBScore)
	assert.Equal(t, int64(7), *again.PlayerBScore)
}

func TestReportResultRequiresLiveMatch(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	_, err := svc.ReportResult(context.Background(), m.ID, "alice", 11)
	assert.ErrorIs(t, err, ErrStateConflict, "cannot report results on a READY match")
}

func TestSettleFromExternalVerdict(t *testing.T) {
	svc, escrow := newTestMatchService(t)
	m := createReadyMatch(t, svc)
	goLive(t, svc, m.ID)
	_, err := svc.ReportResult(context.Background(), m.ID, "alice", 11)
	require.NoError(t, err)

	settled, err := svc.SettleFromExternalVerdict(context.Background(), m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusSettled, settled.Status)
	require.NotNil(t, settled.WinnerID)
	assert.Equal(t, "alice", *settled.WinnerID)
	assert.NotNil(t, settled.SettledAt)
	assert.Equal(t, "alice", escrow.released[m.ID])

	score, err := svc.Trust.GetScore("alice")
	require.NoError(t, err)
	assert.Equal(t, TrustScoreDefault+TrustCreditStreamOnTime+TrustCreditFastSettlement, score)
}

func TestSettleDirectlyFromLive(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)
	goLive(t, svc, m.ID)

	settled, err := svc.SettleFromExternalVerdict(context.Background(), m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusSettled, settled.Status)
}

func TestTerminalMatchesRejectAllTransitions(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)
	goLive(t, svc, m.ID)
	_, err := svc.SettleFromExternalVerdict(context.Background(), m.ID, "alice")
	require.NoError(t, err)

	_, err = svc.SettleFromExternalVerdict(context.Background(), m.ID, "bob")
	assert.ErrorIs(t, err, ErrMatchConcluded)
	_, err = svc.ReportStreamReady(context.Background(), m.ID, "alice", "https://stream.example/alice")
	assert.ErrorIs(t, err, ErrMatchConcluded)
	_, err = svc.ReportResult(context.Background(), m.ID, "alice", 11)
	assert.ErrorIs(t, err, ErrMatchConcluded)
	_, err = svc.VoidForNoShow(context.Background(), m.ID, "bob")
	assert.ErrorIs(t, err, ErrMatchConcluded)
	_, err = svc.VoidByAdmin(context.Background(), m.ID)
	assert.ErrorIs(t, err, ErrMatchConcluded)

	// Status stayed SETTLED throughout.
	final, err := svc.GetMatch(m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusSettled, final.Status)
	assert.Equal(t, "alice", *final.WinnerID)
}

func TestSettleRequiresLiveOrReported(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	_, err := svc.SettleFromExternalVerdict(context.Background(), m.ID, "alice")
	assert.ErrorIs(t, err, ErrStateConflict, "cannot settle a match that never went live")

	_, err = svc.SettleFromExternalVerdict(context.Background(), m.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSettleRetryRedrivesEscrowRelease(t *testing.T) {
	svc, escrow := newTestMatchService(t)
	m := createReadyMatch(t, svc)
	goLive(t, svc, m.ID)

	// Wallet is down at settle time: the row settles but the payout fails.
	escrow.releaseErr = errors.New("wallet unavailable")
	_, err := svc.SettleFromExternalVerdict(context.Background(), m.ID, "alice")
	require.Error(t, err)
	got, err := svc.GetMatch(m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusSettled, got.Status)
	assert.Empty(t, escrow.released)

	// Wallet recovers: retrying the same verdict re-drives the release.
	escrow.releaseErr = nil
	settled, err := svc.SettleFromExternalVerdict(context.Background(), m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusSettled, settled.Status)
	assert.Equal(t, "alice", escrow.released[m.ID])

	// A conflicting verdict is still rejected.
	_, err = svc.SettleFromExternalVerdict(context.Background(), m.ID, "bob")
	assert.ErrorIs(t, err, ErrMatchConcluded)

	// The fast-settlement credit lands exactly once across the retries.
	score, err := svc.Trust.GetScore("alice")
	require.NoError(t, err)
	assert.Equal(t, TrustScoreDefault+TrustCreditStreamOnTime+TrustCreditFastSettlement, score)
}

func TestVoidRetryRedrivesEscrowRefund(t *testing.T) {
	svc, escrow := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	escrow.refundErr = errors.New("wallet unavailable")
	voided, err := svc.VoidByAdmin(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusVoid, voided.Status)
	assert.Empty(t, escrow.refunded)

	escrow.refundErr = nil
	again, err := svc.VoidByAdmin(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusVoid, again.Status)
	assert.True(t, escrow.refunded[m.ID])
}

func TestVoidForNoShowRetryDoesNotStackPenalties(t *testing.T) {
	svc, _ := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	_, err := svc.VoidForNoShow(context.Background(), m.ID, "bob")
	require.NoError(t, err)
	_, err = svc.VoidForNoShow(context.Background(), m.ID, "bob")
	require.NoError(t, err)

	score, err := svc.Trust.GetScore("bob")
	require.NoError(t, err)
	assert.Equal(t, TrustScoreDefault+TrustPenaltyNoShow, score, "retried void penalizes once")
}

func TestVoidForNoShow(t *testing.T) {
	svc, escrow := newTestMatchService(t)
	m := createReadyMatch(t, svc)

	voided, err := svc.VoidForNoShow(context.Background(), m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusVoid, voided.Status)
	require.NotNil(t, voided.VoidReason)
	assert.Equal(t, VoidReasonNoShow, *voided.VoidReason)
	assert.True(t, escrow.refunded[m.ID])

	// Only the offender is penalized.
	bobScore, err := svc.Trust.GetScore("bob")
	require.NoError(t, err)
	assert.Equal(t, TrustScoreDefault+TrustPenaltyNoShow, bobScore)
	aliceScore, err := svc.Trust.GetScore("alice")
	require.NoError(t, err)
	assert.Equal(t, TrustScoreDefault, aliceScore)
}

func TestVoidByAdminFromLive(t *testing.T) {
	svc, escrow := newTestMatchService(t)
	m := createReadyMatch(t, svc)
	goLive(t, svc, m.ID)

	voided, err := svc.VoidByAdmin(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusVoid, voided.Status)
	require.NotNil(t, voided.VoidReason)
	assert.Equal(t, VoidReasonAdmin, *voided.VoidReason)
	assert.True(t, escrow.refunded[m.ID])

	// No penalty on an administrative override.
	for _, uid := range []string{"alice", "bob"} {
		score, err := svc.Trust.GetScore(uid)
		require.NoError(t, err)
		assert.Equal(t, TrustScoreDefault+TrustCreditStreamOnTime, score, uid)
	}
}
