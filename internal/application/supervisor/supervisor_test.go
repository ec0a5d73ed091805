package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
	tradeMocks "github.com/escrow-hub/escrow-hub/internal/domain/trade/mocks"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/memory"
)

func fiatSentSession(t *testing.T, svc *appTrade.Service) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	vendor, customer := uuid.New(), uuid.New()
	s, err := svc.CreateSession(ctx, appTrade.CreateSessionInput{ListingID: uuid.New(), VendorID: vendor, CustomerID: customer})
	require.NoError(t, err)
	_, err = svc.SetConfirmation(ctx, s.SessionID, vendor, domainTrade.RoleVendor)
	require.NoError(t, err)
	_, err = svc.SetConfirmation(ctx, s.SessionID, customer, domainTrade.RoleCustomer)
	require.NoError(t, err)
	_, err = svc.SetWallet(ctx, s.SessionID, vendor, domainTrade.RoleVendor, "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	_, err = svc.SetStage(ctx, appTrade.SetStageInput{SessionID: s.SessionID, CallerID: vendor, Target: domainTrade.StageFiatSent})
	require.NoError(t, err)
	return s.SessionID, customer
}

func TestNew_RejectsBadDeadlines(t *testing.T) {
	_, err := New(nil, nil, map[domainTrade.Stage]time.Duration{domainTrade.StageCompleted: time.Hour}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, domainTrade.ErrInvalidInput)

	_, err = New(nil, nil, map[domainTrade.Stage]time.Duration{domainTrade.StageFiatSent: 0}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, domainTrade.ErrInvalidInput)
}

func TestSupervisor_CancelsExpired(t *testing.T) {
	repo := memory.NewTradeRepository()
	svc := appTrade.NewService(repo, nil, nil, nil, zerolog.Nop())
	sup, err := New(svc, repo, map[domainTrade.Stage]time.Duration{domainTrade.StageFiatSent: time.Hour}, nil, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	id, customer := fiatSentSession(t, svc)

	res, err := sup.ProcessDeadlines(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Cancelled)

	sup.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	res, err = sup.ProcessDeadlines(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domainTrade.StageCancelled, got.Stage)

	_, err = svc.SetStage(ctx, appTrade.SetStageInput{SessionID: id, CallerID: customer, Target: domainTrade.StageReleaseFunds})
	assert.ErrorIs(t, err, domainTrade.ErrInvalidTransition)

	events, err := repo.ListEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, "supervisor", last.Actor)
	assert.Contains(t, string(last.Payload), "stage deadline exceeded")
}

func TestSupervisor_DropsSessionThatMovedOn(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := tradeMocks.NewMockRepository(ctrl)
	svc := appTrade.NewService(repo, nil, nil, nil, zerolog.Nop())
	sup, err := New(svc, repo, map[domainTrade.Stage]time.Duration{domainTrade.StageFiatSent: time.Hour}, nil, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	id := uuid.New()
	repo.EXPECT().
		ListStageExpired(ctx, domainTrade.StageFiatSent, gomock.Any(), 5).
		Return([]*domainTrade.Session{{SessionID: id, Stage: domainTrade.StageFiatSent}}, nil)
	// the customer claimed the payment between listing and cancelling
	repo.EXPECT().GetByID(ctx, id).Return(&domainTrade.Session{SessionID: id, Stage: domainTrade.StageReleaseFunds}, nil)

	res, err := sup.ProcessDeadlines(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Result{Stale: 1}, res)
}

func TestSupervisor_LosesCompareAndSet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := tradeMocks.NewMockRepository(ctrl)
	svc := appTrade.NewService(repo, nil, nil, nil, zerolog.Nop())
	sup, err := New(svc, repo, map[domainTrade.Stage]time.Duration{domainTrade.StageFiatSent: time.Hour}, nil, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	id := uuid.New()
	s := &domainTrade.Session{SessionID: id, Stage: domainTrade.StageFiatSent}
	repo.EXPECT().ListStageExpired(ctx, domainTrade.StageFiatSent, gomock.Any(), 100).Return([]*domainTrade.Session{s}, nil)
	repo.EXPECT().GetByID(ctx, id).Return(s, nil)
	repo.EXPECT().
		CompareAndSetStage(ctx, id, domainTrade.StageFiatSent, domainTrade.StageCancelled, gomock.Any()).
		Return(nil, domainTrade.ErrStaleState)

	res, err := sup.ProcessDeadlines(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)
	assert.Equal(t, 0, res.Cancelled)
}

func TestSupervisor_RunStopsOnCancel(t *testing.T) {
	repo := memory.NewTradeRepository()
	svc := appTrade.NewService(repo, nil, nil, nil, zerolog.Nop())
	sup, err := New(svc, repo, map[domainTrade.Stage]time.Duration{domainTrade.StageFiatSent: time.Millisecond}, nil, zerolog.Nop())
	require.NoError(t, err)

	id, _ := fiatSentSession(t, svc)
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, 5*time.Millisecond, 10) }()

	require.Eventually(t, func() bool {
		s, err := repo.GetByID(context.Background(), id)
		return err == nil && s.Stage == domainTrade.StageCancelled
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSupervisor_RunDefaultsNonPositiveInterval(t *testing.T) {
	repo := memory.NewTradeRepository()
	svc := appTrade.NewService(repo, nil, nil, nil, zerolog.Nop())
	sup, err := New(svc, repo, map[domainTrade.Stage]time.Duration{domainTrade.StageFiatSent: time.Hour}, nil, zerolog.Nop())
	require.NoError(t, err)

	for _, interval := range []time.Duration{0, -time.Second} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NotPanics(t, func() {
			assert.ErrorIs(t, sup.Run(ctx, interval, 10), context.Canceled)
		})
	}
}
