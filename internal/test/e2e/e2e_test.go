package e2e_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkade-os/moneypot/internal/config"
	"github.com/arkade-os/moneypot/internal/core/application"
	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/test/fakeledger"
	"github.com/arkade-os/moneypot/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	contract   = "0x2a"
	creatorKey = "0x9bf49a6a0755f953811fce125f2683d50429c3bb49e074147e0089a52eae155f"
	hunterKey  = "0x2222222222222222222222222222222222222222222222222222222222222222"
	oracleKey  = "0x3333333333333333333333333333333333333333333333333333333333333333"
	oneFa      = "0x1fa"
)

type testEnv struct {
	cfg    *config.Config
	ledger *fakeledger.Ledger
	server *fakeledger.Server
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger := fakeledger.New(contract)
	ledger.SetNextIds(1, 1)
	server := fakeledger.NewServer(ledger)
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	cfg := &config.Config{
		LogLevel:         4,
		RpcUrl:           httpServer.URL,
		ContractAddress:  contract,
		ModuleName:       fakeledger.ModuleName,
		PrivateKey:       creatorKey,
		HunterPrivateKey: hunterKey,
		OraclePrivateKey: oracleKey,
		OneFaAddress:     oneFa,
		PotAmount:        1_000_000,
		PotDuration:      3600,
		PotFee:           1_000,
		SweepChunkSize:   application.DefaultSweepChunkSize,
		SweepBatchSize:   application.DefaultSweepBatchSize,
		SweepInterval:    time.Minute,
		SubmitTimeout:    10 * time.Second,
		PollInterval:     5 * time.Millisecond,
		MaxGasAmount:     200_000,
		GasUnitPrice:     100,
		TxExpiration:     time.Minute,
		LockerType:       "inmemory",
		SchedulerType:    "ledger",
	}
	require.NoError(t, cfg.Validate())
	t.Cleanup(cfg.Close)

	return &testEnv{cfg, ledger, server}
}

func (e *testEnv) lifecycle(t *testing.T) application.LifecycleService {
	t.Helper()
	svc, err := e.cfg.LifecycleService()
	require.NoError(t, err)
	return svc
}

func (e *testEnv) demoParams(t *testing.T) application.DemoParams {
	t.Helper()
	creator, err := e.cfg.CreatorAccount()
	require.NoError(t, err)
	hunter, err := e.cfg.HunterAccount()
	require.NoError(t, err)
	oracle, err := e.cfg.OracleAccount()
	require.NoError(t, err)

	return application.DemoParams{
		Creator: creator,
		Hunter:  hunter,
		Oracle:  oracle,
		Pot:     e.cfg.PotParams(),
	}
}

func TestDemo(t *testing.T) {
	env := setupEnv(t)
	env.ledger.SetNextIds(7, 3)
	params := env.demoParams(t)

	report, err := env.lifecycle(t).RunDemo(t.Context(), params)
	require.Nil(t, err)
	require.True(t, report.Completed)
	require.Equal(t, uint64(7), report.PotId)
	require.Equal(t, uint64(3), report.FailedAttemptId)
	require.Equal(t, uint64(4), report.SucceededAttemptId)
	require.NotNil(t, report.FinalPot)
	require.False(t, report.FinalPot.IsActive)
	require.Equal(t, uint64(2), report.FinalPot.AttemptsCount)

	failed, ok := env.ledger.Attempt(3)
	require.True(t, ok)
	require.Equal(t, domain.AttemptFailed, failed.Status)
	succeeded, ok := env.ledger.Attempt(4)
	require.True(t, ok)
	require.Equal(t, domain.AttemptSucceeded, succeeded.Status)

	require.Equal(t, uint64(1), env.ledger.SequenceNumber(params.Creator.Address()))
	require.Equal(t, uint64(2), env.ledger.SequenceNumber(params.Hunter.Address()))
	require.Equal(t, uint64(2), env.ledger.SequenceNumber(params.Oracle.Address()))
}

func TestDemoPartialProgress(t *testing.T) {
	env := setupEnv(t)
	env.ledger.AbortFunction("attempt_completed", "Move abort in money_pot_manager: 0x5")

	report, err := env.lifecycle(t).RunDemo(t.Context(), env.demoParams(t))
	require.NotNil(t, err)
	require.True(t, errors.TX_ABORTED.Is(err))
	require.False(t, report.Completed)
	require.True(t, report.HasPot())
	require.NotZero(t, report.FailedAttemptId)

	pot, ok := env.ledger.Pot(report.PotId)
	require.True(t, ok)
	require.True(t, pot.IsActive)
}

func TestSubmissionNetworkFailure(t *testing.T) {
	env := setupEnv(t)
	params := env.demoParams(t)
	svc := env.lifecycle(t)

	env.server.FailRequests(1, http.StatusServiceUnavailable)

	_, err := svc.CreatePot(t.Context(), params.Creator, params.Pot)
	require.NotNil(t, err)
	require.True(t, errors.NETWORK_ERROR.Is(err))
	require.Empty(t, env.ledger.Submissions())

	// The failure is reported once and the next call goes through.
	potId, err := svc.CreatePot(t.Context(), params.Creator, params.Pot)
	require.Nil(t, err)
	require.NotZero(t, potId)
	require.Len(t, env.ledger.Submissions(), 1)
}

func TestSweep(t *testing.T) {
	env := setupEnv(t)
	params := env.demoParams(t)
	svc := env.lifecycle(t)

	shortLived := params.Pot
	shortLived.DurationSeconds = 5

	expiring := make([]uint64, 0, 7)
	for range 7 {
		potId, err := svc.CreatePot(t.Context(), params.Creator, shortLived)
		require.Nil(t, err)
		expiring = append(expiring, potId)
	}
	live := make([]uint64, 0, 2)
	for range 2 {
		potId, err := svc.CreatePot(t.Context(), params.Creator, params.Pot)
		require.Nil(t, err)
		live = append(live, potId)
	}

	sweeper, err := env.cfg.SweeperService()
	require.NoError(t, err)

	// Nothing is due yet.
	report, sweepErr := sweeper.Sweep(t.Context())
	require.Nil(t, sweepErr)
	require.Equal(t, 9, report.Checked)
	require.Empty(t, report.Attempted)

	// The sweeper reads the time from the ledger, not from the local clock.
	env.ledger.SetNow(time.Now().Add(10 * time.Second))
	env.ledger.AbortExpire(expiring[1])

	report, sweepErr = sweeper.Sweep(t.Context())
	require.Nil(t, sweepErr)
	require.Equal(t, 9, report.Checked)
	require.Equal(t, 2, report.StillActive)
	require.Equal(t, expiring, report.Attempted)
	require.Equal(t, 3, report.BatchesSubmitted)
	require.Equal(t, 1, report.BatchesFailed)
	require.Equal(t, []uint64{expiring[1]}, report.Failed)
	require.Len(t, report.Succeeded, 6)

	require.Len(t, env.ledger.SubmissionsOf("expire_pots_batch"), 3)
	require.Len(t, env.ledger.SubmissionsOf("expire_pot"), 3)

	active, err2 := svc.GetActivePots(t.Context())
	require.Nil(t, err2)
	require.ElementsMatch(t, append(live, expiring[1]), active)
}
