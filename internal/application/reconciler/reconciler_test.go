package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	escrowMocks "github.com/escrow-hub/escrow-hub/internal/domain/escrow/mocks"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/memory"
)

const (
	vendorWallet   = "0x1111111111111111111111111111111111111111"
	customerWallet = "0x2222222222222222222222222222222222222222"
	operator       = "0x9999999999999999999999999999999999999999"
	token          = "0x3333333333333333333333333333333333333333"
)

type harness struct {
	svc  *appTrade.Service
	repo *memory.TradeRepository
	rec  *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithEscrow(t, nil)
}

func newHarnessWithEscrow(t *testing.T, client escrow.Client) *harness {
	t.Helper()
	repo := memory.NewTradeRepository()
	svc := appTrade.NewService(repo, client, nil, nil, zerolog.Nop())
	rec := New(svc, repo, Config{OperatorAddress: operator, ParkTTL: time.Hour, MaxParked: 8}, nil, zerolog.Nop())
	return &harness{svc: svc, repo: repo, rec: rec}
}

type parties struct {
	session  uuid.UUID
	vendor   uuid.UUID
	customer uuid.UUID
}

func (h *harness) awaitingLock(t *testing.T, customerAddr string) parties {
	t.Helper()
	ctx := context.Background()
	p := parties{vendor: uuid.New(), customer: uuid.New()}
	s, err := h.svc.CreateSession(ctx, appTrade.CreateSessionInput{
		ListingID:  uuid.New(),
		VendorID:   p.vendor,
		CustomerID: p.customer,
		OnChain:    true,
	})
	require.NoError(t, err)
	p.session = s.SessionID
	_, err = h.svc.SetConfirmation(ctx, p.session, p.vendor, domainTrade.RoleVendor)
	require.NoError(t, err)
	_, err = h.svc.SetConfirmation(ctx, p.session, p.customer, domainTrade.RoleCustomer)
	require.NoError(t, err)
	if customerAddr != "" {
		_, err = h.svc.SetWallet(ctx, p.session, p.customer, domainTrade.RoleCustomer, customerAddr)
		require.NoError(t, err)
	}
	v, err := h.svc.SetWallet(ctx, p.session, p.vendor, domainTrade.RoleVendor, vendorWallet)
	require.NoError(t, err)
	require.Equal(t, domainTrade.StageLockFunds, v.Stage)
	return p
}

func (h *harness) stage(t *testing.T, id uuid.UUID) domainTrade.Stage {
	t.Helper()
	s, err := h.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s.Stage
}

func locked(tradeID, txHash string) escrow.Event {
	return escrow.Event{
		Kind:     escrow.KindFundsLocked,
		TradeID:  tradeID,
		Seller:   vendorWallet,
		Buyer:    customerWallet,
		Token:    token,
		Amount:   uint256.NewInt(500),
		TxHash:   txHash,
		LogIndex: 0,
	}
}

func released(tradeID, txHash string) escrow.Event {
	return escrow.Event{
		Kind:    escrow.KindFundsReleased,
		TradeID: tradeID,
		Seller:  vendorWallet,
		TxHash:  txHash,
	}
}

func TestReconciler_LockedReplayAdvancesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, customerWallet)

	ev := locked("0xt1", "0xaa")
	out, err := h.rec.OnEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = h.rec.OnEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	s, err := h.repo.GetByID(ctx, p.session)
	require.NoError(t, err)
	assert.Equal(t, domainTrade.StageFiatSent, s.Stage)
	require.NotNil(t, s.Escrow)
	assert.Equal(t, "0xt1", s.Escrow.TradeID)

	events, err := h.repo.ListEvents(ctx, p.session, 0, 0)
	require.NoError(t, err)
	n := 0
	for _, e := range events {
		if e.ToStage != nil && *e.ToStage == domainTrade.StageFiatSent {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestReconciler_LockWaitsForCustomerWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, "")

	stranger := locked("0xt2x", "0xa9")
	stranger.Buyer = "0x7777777777777777777777777777777777777777"
	out, err := h.rec.OnEvent(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)

	out, err = h.rec.OnEvent(ctx, locked("0xt2", "0xab"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)
	assert.Equal(t, domainTrade.StageLockFunds, h.stage(t, p.session))
	assert.Equal(t, 2, h.rec.Parked())

	_, err = h.svc.SetWallet(ctx, p.session, p.customer, domainTrade.RoleCustomer, customerWallet)
	require.NoError(t, err)

	assert.Equal(t, 1, h.rec.Flush(ctx))
	assert.Equal(t, 1, h.rec.Parked())
	s, err := h.repo.GetByID(ctx, p.session)
	require.NoError(t, err)
	assert.Equal(t, domainTrade.StageFiatSent, s.Stage)
	require.NotNil(t, s.Escrow)
	assert.Equal(t, "0xt2", s.Escrow.TradeID)
}

func TestReconciler_PrematureReleaseIsParked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, customerWallet)

	_, err := h.rec.OnEvent(ctx, locked("0xt3", "0xac"))
	require.NoError(t, err)

	out, err := h.rec.OnEvent(ctx, released("0xt3", "0xad"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeParked, out)
	assert.Equal(t, 1, h.rec.Parked())
	assert.Equal(t, domainTrade.StageFiatSent, h.stage(t, p.session))

	assert.Equal(t, 0, h.rec.Flush(ctx))

	_, err = h.svc.SetStage(ctx, appTrade.SetStageInput{SessionID: p.session, CallerID: p.customer, Target: domainTrade.StageReleaseFunds})
	require.NoError(t, err)

	assert.Equal(t, 1, h.rec.Flush(ctx))
	assert.Equal(t, 0, h.rec.Parked())
	assert.Equal(t, domainTrade.StageCompleted, h.stage(t, p.session))
}

func TestReconciler_ReleaseBeforeLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, customerWallet)

	out, err := h.rec.OnEvent(ctx, released("0xt4", "0xb1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeParked, out)

	out, err = h.rec.OnEvent(ctx, locked("0xt4", "0xb0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	_, err = h.svc.SetStage(ctx, appTrade.SetStageInput{SessionID: p.session, CallerID: p.customer, Target: domainTrade.StageReleaseFunds})
	require.NoError(t, err)
	h.rec.Flush(ctx)
	assert.Equal(t, domainTrade.StageCompleted, h.stage(t, p.session))
}

func TestReconciler_CancelledSessionNeverRolledBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, customerWallet)

	_, err := h.rec.OnEvent(ctx, locked("0xt5", "0xc0"))
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, p.session, p.vendor, "buyer unresponsive")
	require.NoError(t, err)

	out, err := h.rec.OnEvent(ctx, released("0xt5", "0xc1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)
	assert.Equal(t, 0, h.rec.Parked())
	assert.Equal(t, domainTrade.StageCancelled, h.stage(t, p.session))
}

func TestReconciler_UnknownAndAmbiguous(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.rec.OnEvent(ctx, locked("0xt6", "0xd0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)
	assert.Equal(t, 1, h.rec.Parked())

	a := h.awaitingLock(t, customerWallet)
	b := h.awaitingLock(t, customerWallet)
	out, err = h.rec.OnEvent(ctx, locked("0xt6", "0xd0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmbiguous, out)
	assert.Equal(t, 1, h.rec.Parked())
	assert.Equal(t, domainTrade.StageLockFunds, h.stage(t, a.session))
	assert.Equal(t, domainTrade.StageLockFunds, h.stage(t, b.session))

	// once b is gone the parked lock has a single owner
	_, err = h.svc.Cancel(ctx, b.session, b.vendor, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, 1, h.rec.Flush(ctx))
	assert.Equal(t, 0, h.rec.Parked())
	assert.Equal(t, domainTrade.StageFiatSent, h.stage(t, a.session))
}

func TestReconciler_RelayedLockMatchesSubmittedTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := escrowMocks.NewMockClient(ctrl)
	h := newHarnessWithEscrow(t, client)
	ctx := context.Background()
	a := h.awaitingLock(t, customerWallet)
	b := h.awaitingLock(t, customerWallet)

	client.EXPECT().
		LockFunds(gomock.Any(), customerWallet, token, gomock.Any()).
		Return(escrow.TxHandle{Hash: "0xTX1"}, nil)
	_, err := h.svc.LockFunds(ctx, appTrade.LockFundsInput{
		SessionID: a.session,
		CallerID:  a.vendor,
		Token:     token,
		Amount:    uint256.NewInt(500),
	})
	require.NoError(t, err)

	// a relayed lock nobody recorded cannot pick between a and b
	other := locked("0xt10", "0xtx2")
	other.Seller = operator
	out, err := h.rec.OnEvent(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmbiguous, out)

	ev := locked("0xt11", "0xtx1")
	ev.Seller = operator
	out, err = h.rec.OnEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, domainTrade.StageFiatSent, h.stage(t, a.session))
	assert.Equal(t, domainTrade.StageLockFunds, h.stage(t, b.session))
}

func TestReconciler_RelayedLockMatchesBuyer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, customerWallet)
	h.awaitingLock(t, "0x4444444444444444444444444444444444444444")

	ev := locked("0xt7", "0xe0")
	ev.Seller = operator
	out, err := h.rec.OnEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, domainTrade.StageFiatSent, h.stage(t, p.session))
}

func TestReconciler_UnknownKindRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.awaitingLock(t, customerWallet)
	_, err := h.rec.OnEvent(ctx, locked("0xt8", "0xf0"))
	require.NoError(t, err)

	out, err := h.rec.OnEvent(ctx, escrow.Event{Kind: "Unknown", TradeID: "0xt8"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out)
	assert.Equal(t, domainTrade.StageFiatSent, h.stage(t, p.session))
}

func TestReconciler_ParkedEventsExpire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	h.rec.now = func() time.Time { return now }

	_, err := h.rec.OnEvent(ctx, released("0xdead", "0x01"))
	require.NoError(t, err)
	require.Equal(t, 1, h.rec.Parked())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, h.rec.Flush(ctx))
	assert.Equal(t, 0, h.rec.Parked())
}

func TestReconciler_ParkedSetIsBounded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Now().UTC()
	i := 0
	h.rec.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	for n := 0; n < 12; n++ {
		_, err := h.rec.OnEvent(ctx, released(uuid.NewString(), uuid.NewString()))
		require.NoError(t, err)
	}
	assert.Equal(t, 8, h.rec.Parked())
}

func TestReconciler_Run(t *testing.T) {
	h := newHarness(t)
	p := h.awaitingLock(t, customerWallet)

	events := make(chan escrow.Event, 2)
	events <- locked("0xt9", "0x10")
	events <- locked("0xt9", "0x10")
	close(events)

	require.NoError(t, h.rec.Run(context.Background(), events, time.Minute))
	assert.Equal(t, domainTrade.StageFiatSent, h.stage(t, p.session))
}
