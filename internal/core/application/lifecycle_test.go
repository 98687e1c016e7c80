package application

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/test/fakeledger"
	"github.com/arkade-os/moneypot/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	creator = testSigner{"0xc4ea70"}
	hunter  = testSigner{"0x4047e4"}
	oracle  = testSigner{"0x04ac1e"}

	oneFaAddress = "0x1fa"
)

func newTestLifecycle(t *testing.T) (LifecycleService, *fakeledger.Ledger) {
	t.Helper()

	ledger := fakeledger.New(testContract)
	ledger.SetNextIds(1, 1)
	svc, err := NewLifecycleService(
		ledger, ledger, newRecordingLocker(), testContract, fakeledger.ModuleName, time.Second,
	)
	require.NoError(t, err)
	return svc, ledger
}

func defaultPotParams() CreatePotParams {
	return CreatePotParams{
		Amount:          1_000_000,
		DurationSeconds: 3600,
		Fee:             1_000,
		OneFaAddress:    oneFaAddress,
	}
}

func TestPotLifecycle(t *testing.T) {
	svc, ledger := newTestLifecycle(t)
	ledger.SetNextIds(7, 3)
	ctx := t.Context()

	potId, err := svc.CreatePot(ctx, creator, defaultPotParams())
	require.Nil(t, err)
	require.Equal(t, uint64(7), potId)

	active, err := svc.GetActivePots(ctx)
	require.Nil(t, err)
	require.Contains(t, active, potId)

	firstAttempt, err := svc.AttemptPot(ctx, hunter, potId)
	require.Nil(t, err)
	require.Equal(t, uint64(3), firstAttempt)

	err = svc.ResolveAttempt(ctx, oracle, firstAttempt, false)
	require.Nil(t, err)

	attempt, err := svc.GetAttempt(ctx, firstAttempt)
	require.Nil(t, err)
	require.Equal(t, domain.AttemptFailed, attempt.Status)
	require.Equal(t, potId, attempt.PotId)

	pot, err := svc.GetPot(ctx, potId)
	require.Nil(t, err)
	require.True(t, pot.IsActive)

	secondAttempt, err := svc.AttemptPot(ctx, hunter, potId)
	require.Nil(t, err)
	require.Equal(t, uint64(4), secondAttempt)

	err = svc.ResolveAttempt(ctx, oracle, secondAttempt, true)
	require.Nil(t, err)

	attempt, err = svc.GetAttempt(ctx, secondAttempt)
	require.Nil(t, err)
	require.Equal(t, domain.AttemptSucceeded, attempt.Status)

	pot, err = svc.GetPot(ctx, potId)
	require.Nil(t, err)
	require.False(t, pot.IsActive)
	require.Equal(t, uint64(2), pot.AttemptsCount)

	active, err = svc.GetActivePots(ctx)
	require.Nil(t, err)
	require.NotContains(t, active, potId)

	all, err := svc.GetPots(ctx)
	require.Nil(t, err)
	require.Contains(t, all, potId)

	// A resolved attempt can't be resolved again.
	err = svc.ResolveAttempt(ctx, oracle, secondAttempt, false)
	require.NotNil(t, err)
	require.True(t, errors.TX_ABORTED.Is(err))

	require.Len(t, ledger.SubmissionsOf("create_pot_entry"), 1)
	require.Len(t, ledger.SubmissionsOf("attempt_pot_entry"), 2)
	require.Len(t, ledger.SubmissionsOf("attempt_completed"), 3)
}

func TestReadsAreIdempotent(t *testing.T) {
	svc, ledger := newTestLifecycle(t)
	ctx := t.Context()

	potId, err := svc.CreatePot(ctx, creator, defaultPotParams())
	require.Nil(t, err)
	submissions := len(ledger.Submissions())

	first, err := svc.GetPot(ctx, potId)
	require.Nil(t, err)
	for range 3 {
		pot, err := svc.GetPot(ctx, potId)
		require.Nil(t, err)
		require.Equal(t, first, pot)
	}
	require.Len(t, ledger.Submissions(), submissions)

	require.Equal(t, uint64(1_000_000), first.TotalAmount)
	require.Equal(t, uint64(1_000), first.Fee)
	require.True(t, domain.SameAddress(oneFaAddress, first.OneFaAddress))
	require.True(t, domain.SameAddress(creator.Address(), first.Creator))
}

func TestCreatePotValidation(t *testing.T) {
	fixtures := []struct {
		name   string
		mutate func(*CreatePotParams)
	}{
		{"zero amount", func(p *CreatePotParams) { p.Amount = 0 }},
		{"zero duration", func(p *CreatePotParams) { p.DurationSeconds = 0 }},
		{"fee above amount", func(p *CreatePotParams) { p.Fee = p.Amount + 1 }},
		{"invalid 1fa address", func(p *CreatePotParams) { p.OneFaAddress = "0xzz" }},
		{"missing 1fa address", func(p *CreatePotParams) { p.OneFaAddress = "" }},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			svc, ledger := newTestLifecycle(t)
			params := defaultPotParams()
			f.mutate(&params)

			_, err := svc.CreatePot(t.Context(), creator, params)
			require.NotNil(t, err)
			require.Equal(t, errors.INVALID_ARGUMENT.Code, err.Code())
			require.Empty(t, ledger.Submissions())
		})
	}
}

func TestCorrelationFailure(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		svc, ledger := newTestLifecycle(t)
		ledger.DropEvents(true)

		_, err := svc.CreatePot(t.Context(), creator, defaultPotParams())
		require.NotNil(t, err)
		require.True(t, errors.CORRELATION_FAILED.Is(err))
		require.Equal(t, string(domain.EventPotCreated), err.Metadata()["wanted_kind"])
		require.NotEmpty(t, err.Metadata()["tx_hash"])
	})

	t.Run("attempt reports the pot", func(t *testing.T) {
		svc, ledger := newTestLifecycle(t)
		ledger.SetNextIds(7, 3)

		potId, err := svc.CreatePot(t.Context(), creator, defaultPotParams())
		require.Nil(t, err)

		ledger.DropEvents(true)
		ledger.AddEvents(fakeledger.ForeignEvent())

		_, err = svc.AttemptPot(t.Context(), hunter, potId)
		require.NotNil(t, err)

		typed, ok := err.(errors.TypedError[errors.CorrelationMetadata])
		require.True(t, ok)
		require.Equal(t, uint64(7), typed.TypedMetadata().PotId)
		require.Equal(t, string(domain.EventPotAttempted), typed.TypedMetadata().WantedKind)

		// The attempt went through on chain even if it could not be correlated.
		pot, _ := ledger.Pot(potId)
		require.Equal(t, uint64(1), pot.AttemptsCount)
	})

	t.Run("resolve tolerates a missing event", func(t *testing.T) {
		svc, ledger := newTestLifecycle(t)
		potId, err := svc.CreatePot(t.Context(), creator, defaultPotParams())
		require.Nil(t, err)
		attemptId, err := svc.AttemptPot(t.Context(), hunter, potId)
		require.Nil(t, err)

		ledger.DropEvents(true)
		err = svc.ResolveAttempt(t.Context(), oracle, attemptId, false)
		require.Nil(t, err)
	})
}

func TestRunDemo(t *testing.T) {
	params := DemoParams{
		Creator: creator,
		Hunter:  hunter,
		Oracle:  oracle,
		Pot:     defaultPotParams(),
	}

	t.Run("complete", func(t *testing.T) {
		svc, ledger := newTestLifecycle(t)
		ledger.SetNextIds(7, 3)

		report, err := svc.RunDemo(t.Context(), params)
		require.Nil(t, err)
		require.True(t, report.Completed)
		require.Equal(t, uint64(7), report.PotId)
		require.Equal(t, uint64(3), report.FailedAttemptId)
		require.Equal(t, uint64(4), report.SucceededAttemptId)
		require.Len(t, report.Steps, 5)
		require.NotNil(t, report.FinalPot)
		require.False(t, report.FinalPot.IsActive)
	})

	t.Run("reports partial progress", func(t *testing.T) {
		svc, ledger := newTestLifecycle(t)
		ledger.SetNextIds(7, 3)
		ledger.AbortFunction("attempt_completed", "Move abort in money_pot_manager: 0x5")

		report, err := svc.RunDemo(t.Context(), params)
		require.NotNil(t, err)
		require.True(t, errors.TX_ABORTED.Is(err))
		require.False(t, report.Completed)
		require.True(t, report.HasPot())
		require.Equal(t, uint64(7), report.PotId)
		require.Equal(t, uint64(3), report.FailedAttemptId)
		require.Zero(t, report.SucceededAttemptId)
		require.Equal(t, []DemoStep{
			{Name: string(domain.OperationCreatePot), Id: 7},
			{Name: string(domain.OperationAttemptPot), Id: 3},
		}, report.Steps)
	})

	t.Run("nothing created", func(t *testing.T) {
		svc, ledger := newTestLifecycle(t)
		ledger.RejectSubmissions(fmt.Errorf("connection refused"))

		report, err := svc.RunDemo(t.Context(), params)
		require.NotNil(t, err)
		require.True(t, errors.NETWORK_ERROR.Is(err))
		require.NotNil(t, report)
		require.False(t, report.HasPot())
	})

	t.Run("missing signers", func(t *testing.T) {
		svc, _ := newTestLifecycle(t)
		report, err := svc.RunDemo(t.Context(), DemoParams{Pot: defaultPotParams()})
		require.NotNil(t, err)
		require.Equal(t, errors.INVALID_ARGUMENT.Code, err.Code())
		require.NotNil(t, report)
	})
}

func TestViews(t *testing.T) {
	fixtures := []struct {
		name     string
		values   []json.RawMessage
		callErr  error
		wantCode uint16
	}{
		{
			name:     "no return value",
			values:   []json.RawMessage{},
			wantCode: errors.INVALID_VIEW_RESPONSE.Code,
		},
		{
			name:     "too many return values",
			values:   []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{}`)},
			wantCode: errors.INVALID_VIEW_RESPONSE.Code,
		},
		{
			name:     "malformed value",
			values:   []json.RawMessage{json.RawMessage(`{"id":"x"}`)},
			wantCode: errors.INVALID_VIEW_RESPONSE.Code,
		},
		{
			name: "unknown status",
			values: []json.RawMessage{
				json.RawMessage(`{"id":"1","pot_id":"1","hunter":"0x1","status":7}`),
			},
			wantCode: errors.INVALID_VIEW_RESPONSE.Code,
		},
		{
			name:     "transport failure",
			callErr:  fmt.Errorf("connection refused"),
			wantCode: errors.NETWORK_ERROR.Code,
		},
		{
			name: "module abort is kept",
			callErr: errors.VIEW_FAILED.New("Move abort: 4").
				WithMetadata(errors.ViewMetadata{Function: "get_attempt"}),
			wantCode: errors.VIEW_FAILED.Code,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			viewSvc := new(mockViewService)
			viewSvc.On(
				"Call", mock.Anything, testModuleId+"::"+domain.ViewGetAttempt,
				mock.Anything, []domain.Arg{domain.U64(1)},
			).Return(f.values, f.callErr)

			v := &views{viewSvc, testModuleId}
			attempt, err := v.getAttempt(t.Context(), 1)
			require.Nil(t, attempt)
			require.NotNil(t, err)
			require.Equal(t, f.wantCode, err.Code(), err.Error())
		})
	}

	t.Run("ids accept bare and quoted numbers", func(t *testing.T) {
		viewSvc := new(mockViewService)
		viewSvc.On("Call", mock.Anything, testModuleId+"::"+domain.ViewGetActivePots,
			mock.Anything, mock.Anything).
			Return([]json.RawMessage{json.RawMessage(`["1", 2, "3", "2"]`)}, nil)

		v := &views{viewSvc, testModuleId}
		ids, err := v.getActivePots(t.Context())
		require.Nil(t, err)
		require.Equal(t, []uint64{1, 2, 3}, ids)
	})

	t.Run("pot without attempts count", func(t *testing.T) {
		viewSvc := new(mockViewService)
		viewSvc.On("Call", mock.Anything, testModuleId+"::"+domain.ViewGetPot,
			mock.Anything, mock.Anything).
			Return([]json.RawMessage{json.RawMessage(`{
				"id":"5","creator":"0x1","total_amount":"100","fee":"1",
				"one_fa_address":"0x2","expires_at":"1700000000","is_active":true
			}`)}, nil)

		v := &views{viewSvc, testModuleId}
		pot, err := v.getPot(t.Context(), 5)
		require.Nil(t, err)
		require.Equal(t, uint64(5), pot.Id)
		require.Equal(t, uint64(1_700_000_000), pot.ExpiresAt)
		require.Zero(t, pot.AttemptsCount)
	})

	t.Run("pot without id keeps the queried one", func(t *testing.T) {
		viewSvc := new(mockViewService)
		viewSvc.On("Call", mock.Anything, testModuleId+"::"+domain.ViewGetPot,
			mock.Anything, []domain.Arg{domain.U64(5)}).
			Return([]json.RawMessage{json.RawMessage(
				`{"expires_at":"1","is_active":true}`,
			)}, nil)

		v := &views{viewSvc, testModuleId}
		pot, err := v.getPot(t.Context(), 5)
		require.Nil(t, err)
		require.Equal(t, uint64(5), pot.Id)
	})

	t.Run("pot with another id", func(t *testing.T) {
		viewSvc := new(mockViewService)
		viewSvc.On("Call", mock.Anything, testModuleId+"::"+domain.ViewGetPot,
			mock.Anything, []domain.Arg{domain.U64(5)}).
			Return([]json.RawMessage{json.RawMessage(
				`{"id":"6","expires_at":"1","is_active":true}`,
			)}, nil)

		v := &views{viewSvc, testModuleId}
		pot, err := v.getPot(t.Context(), 5)
		require.Nil(t, pot)
		require.NotNil(t, err)
		require.Equal(t, errors.INVALID_VIEW_RESPONSE.Code, err.Code())
	})
}
