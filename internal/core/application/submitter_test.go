package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testModuleId = "0x2::money_pot_manager"

var (
	alice = testSigner{"0xa11ce"}
	bob   = testSigner{"0xb0b"}
)

func TestSubmit(t *testing.T) {
	payload := &ports.Payload{Function: testModuleId + "::expire_pot"}
	committed := &ports.TransactionResult{Hash: "0x01", Success: true, Version: 10}
	aborted := &ports.TransactionResult{
		Hash: "0x02", Success: false, VmStatus: "Move abort in money_pot_manager: 0x3",
	}

	fixtures := []struct {
		name     string
		setup    func(m *mockTransactionService)
		op       domain.Operation
		wantCode uint16
		wantRes  *ports.TransactionResult
	}{
		{
			name: "committed",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, testModuleId+"::expire_pot", mock.Anything, mock.Anything).
					Return(payload, nil)
				m.On("SignAndSubmit", mock.Anything, alice, payload).Return("0x01", nil)
				m.On("AwaitFinality", mock.Anything, "0x01").Return(committed, nil)
			},
			op:      domain.OperationExpirePot,
			wantRes: committed,
		},
		{
			name: "transport failure is a network error",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(payload, nil)
				m.On("SignAndSubmit", mock.Anything, alice, payload).
					Return("", fmt.Errorf("connection reset by peer"))
			},
			op:       domain.OperationExpirePot,
			wantCode: errors.NETWORK_ERROR.Code,
		},
		{
			name: "rejection is kept",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(payload, nil)
				m.On("SignAndSubmit", mock.Anything, alice, payload).Return(
					"", errors.TX_REJECTED.New("SEQUENCE_NUMBER_TOO_OLD").
						WithMetadata(errors.RejectionMetadata{Status: 400}),
				)
			},
			op:       domain.OperationExpirePot,
			wantCode: errors.TX_REJECTED.Code,
		},
		{
			name: "aborted transaction",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(payload, nil)
				m.On("SignAndSubmit", mock.Anything, alice, payload).Return("0x02", nil)
				m.On("AwaitFinality", mock.Anything, "0x02").Return(aborted, nil)
			},
			op:       domain.OperationExpirePot,
			wantCode: errors.TX_ABORTED.Code,
			wantRes:  aborted,
		},
		{
			name: "deadline while awaiting finality",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(payload, nil)
				m.On("SignAndSubmit", mock.Anything, alice, payload).Return("0x03", nil)
				m.On("AwaitFinality", mock.Anything, "0x03").
					Run(func(args mock.Arguments) {
						<-args.Get(0).(context.Context).Done()
					}).
					Return(nil, context.DeadlineExceeded)
			},
			op:       domain.OperationExpirePot,
			wantCode: errors.TX_TIMEOUT.Code,
		},
		{
			name: "network error after deadline is a timeout",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(payload, nil)
				m.On("SignAndSubmit", mock.Anything, alice, payload).
					Run(func(args mock.Arguments) {
						<-args.Get(0).(context.Context).Done()
					}).
					Return("", errors.NETWORK_ERROR.New("context deadline exceeded"))
			},
			op:       domain.OperationExpirePot,
			wantCode: errors.TX_TIMEOUT.Code,
		},
		{
			name: "invalid arguments",
			setup: func(m *mockTransactionService) {
				m.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("invalid address"))
			},
			op:       domain.OperationExpirePot,
			wantCode: errors.INVALID_ARGUMENT.Code,
		},
		{
			name:     "unknown operation",
			setup:    func(m *mockTransactionService) {},
			op:       domain.Operation("withdraw"),
			wantCode: errors.INVALID_ARGUMENT.Code,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			txs := new(mockTransactionService)
			f.setup(txs)
			s := newSubmitter(txs, newRecordingLocker(), testModuleId, 100*time.Millisecond)

			res, err := s.submit(t.Context(), ports.TransactionRequest{
				Operation: f.op,
				Args:      []domain.Arg{domain.U64(1)},
				Signer:    alice,
			})

			if f.wantCode == 0 {
				require.Nil(t, err)
			} else {
				require.NotNil(t, err)
				require.Equal(t, f.wantCode, err.Code(), err.Error())
			}
			require.Equal(t, f.wantRes, res)
			txs.AssertExpectations(t)
		})
	}
}

func TestSubmitNeverRetries(t *testing.T) {
	payload := &ports.Payload{}
	txs := new(mockTransactionService)
	txs.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(payload, nil)
	txs.On("SignAndSubmit", mock.Anything, alice, payload).
		Return("", fmt.Errorf("503 service unavailable"))

	s := newSubmitter(txs, newRecordingLocker(), testModuleId, time.Second)
	_, err := s.submit(t.Context(), ports.TransactionRequest{
		Operation: domain.OperationCreatePot, Signer: alice,
	})
	require.True(t, errors.NETWORK_ERROR.Is(err))
	txs.AssertNumberOfCalls(t, "SignAndSubmit", 1)
	txs.AssertNotCalled(t, "AwaitFinality", mock.Anything, mock.Anything)
}

func TestSubmitSerializesPerIdentity(t *testing.T) {
	var lock sync.Mutex
	inFlight := map[string]int{}
	overlaps := 0

	payload := &ports.Payload{}
	txs := new(mockTransactionService)
	txs.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(payload, nil)
	txs.On("SignAndSubmit", mock.Anything, mock.Anything, payload).
		Run(func(args mock.Arguments) {
			sender := args.Get(1).(ports.Signer).Address()
			lock.Lock()
			defer lock.Unlock()
			inFlight[sender]++
			if inFlight[sender] > 1 {
				overlaps++
			}
		}).
		Return("0xaa", nil)
	// The sender is done only once finality is reached.
	txs.On("AwaitFinality", mock.Anything, "0xaa").
		Run(func(args mock.Arguments) {
			time.Sleep(5 * time.Millisecond)
			lock.Lock()
			defer lock.Unlock()
			for sender := range inFlight {
				if inFlight[sender] > 0 {
					inFlight[sender]--
					break
				}
			}
		}).
		Return(&ports.TransactionResult{Hash: "0xaa", Success: true}, nil)

	locker := newRecordingLocker()
	s := newSubmitter(txs, locker, testModuleId, time.Second)

	var failures atomic.Int32
	wg := sync.WaitGroup{}
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.submit(t.Context(), ports.TransactionRequest{
				Operation: domain.OperationExpirePot,
				Args:      []domain.Arg{domain.U64(1)},
				Signer:    alice,
			})
			if err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	require.Zero(t, overlaps)
	require.Len(t, locker.Identities(), 10)
	for _, identity := range locker.Identities() {
		require.Equal(t, alice.Address(), identity)
	}
}

func TestSubmitLockTimeout(t *testing.T) {
	txs := new(mockTransactionService)
	locker := newRecordingLocker()
	unlock, err := locker.Lock(t.Context(), bob.Address())
	require.NoError(t, err)
	defer unlock()

	s := newSubmitter(txs, locker, testModuleId, 50*time.Millisecond)
	_, submitErr := s.submit(t.Context(), ports.TransactionRequest{
		Operation: domain.OperationExpirePot,
		Args:      []domain.Arg{domain.U64(1)},
		Signer:    bob,
	})
	require.NotNil(t, submitErr)
	require.True(t, errors.TX_TIMEOUT.Is(submitErr))
	txs.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCanceled(t *testing.T) {
	payload := &ports.Payload{Function: testModuleId + "::expire_pot"}
	ctx, cancel := context.WithCancel(t.Context())

	txs := new(mockTransactionService)
	txs.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(payload, nil)
	txs.On("SignAndSubmit", mock.Anything, alice, payload).Return("0x04", nil)
	txs.On("AwaitFinality", mock.Anything, "0x04").
		Run(func(args mock.Arguments) {
			cancel()
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	s := newSubmitter(txs, newRecordingLocker(), testModuleId, time.Minute)
	res, err := s.submit(ctx, ports.TransactionRequest{
		Operation: domain.OperationExpirePot,
		Args:      []domain.Arg{domain.U64(1)},
		Signer:    alice,
	})
	require.Nil(t, res)
	require.NotNil(t, err)
	require.True(t, errors.TX_CANCELED.Is(err))
	require.False(t, errors.TX_TIMEOUT.Is(err))

	typed, ok := err.(errors.TypedError[errors.TxMetadata])
	require.True(t, ok)
	require.Equal(t, "0x04", typed.TypedMetadata().TxHash)
	txs.AssertNumberOfCalls(t, "SignAndSubmit", 1)
}
