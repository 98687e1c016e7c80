package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

type mockTransactionService struct {
	mock.Mock
}

func (m *mockTransactionService) Build(
	ctx context.Context, function string, typeArgs []string, args []domain.Arg,
) (*ports.Payload, error) {
	res := m.Called(ctx, function, typeArgs, args)
	var payload *ports.Payload
	if p := res.Get(0); p != nil {
		payload = p.(*ports.Payload)
	}
	return payload, res.Error(1)
}

func (m *mockTransactionService) SignAndSubmit(
	ctx context.Context, signer ports.Signer, payload *ports.Payload,
) (string, error) {
	res := m.Called(ctx, signer, payload)
	return res.String(0), res.Error(1)
}

func (m *mockTransactionService) AwaitFinality(
	ctx context.Context, txHash string,
) (*ports.TransactionResult, error) {
	res := m.Called(ctx, txHash)
	var result *ports.TransactionResult
	if r := res.Get(0); r != nil {
		result = r.(*ports.TransactionResult)
	}
	return result, res.Error(1)
}

type mockViewService struct {
	mock.Mock
}

func (m *mockViewService) Call(
	ctx context.Context, function string, typeArgs []string, args []domain.Arg,
) ([]json.RawMessage, error) {
	res := m.Called(ctx, function, typeArgs, args)
	var values []json.RawMessage
	if v := res.Get(0); v != nil {
		values = v.([]json.RawMessage)
	}
	return values, res.Error(1)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Start() { m.Called() }
func (m *mockScheduler) Stop()  { m.Called() }

func (m *mockScheduler) Now(ctx context.Context) (time.Time, error) {
	res := m.Called(ctx)
	return res.Get(0).(time.Time), res.Error(1)
}

func (m *mockScheduler) ScheduleTaskOnce(at time.Time, task func()) error {
	return m.Called(at, task).Error(0)
}

func (m *mockScheduler) ScheduleEvery(interval time.Duration, task func()) error {
	return m.Called(interval, task).Error(0)
}

// fixedClock is a scheduler that never runs tasks and always returns the
// same time.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Start() {}

func (c fixedClock) Stop() {}

func (c fixedClock) Now(context.Context) (time.Time, error) {
	return c.now, nil
}

func (c fixedClock) ScheduleTaskOnce(time.Time, func()) error {
	return nil
}

func (c fixedClock) ScheduleEvery(time.Duration, func()) error {
	return nil
}

type testSigner struct {
	address string
}

func (s testSigner) Address() string {
	return s.address
}

func (s testSigner) PublicKey() []byte {
	return nil
}

func (s testSigner) Sign(msg []byte) ([]byte, error) {
	return msg, nil
}

// recordingLocker is an in-process IdentityLocker that records the
// identities it was asked to lock.
type recordingLocker struct {
	lock       sync.Mutex
	slots      map[string]chan struct{}
	identities []string
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{slots: make(map[string]chan struct{})}
}

func (l *recordingLocker) Lock(ctx context.Context, identity string) (func(), error) {
	l.lock.Lock()
	slot, ok := l.slots[identity]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[identity] = slot
	}
	l.identities = append(l.identities, identity)
	l.lock.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *recordingLocker) Close() {}

func (l *recordingLocker) Identities() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.identities...)
}

type mockAlerts struct {
	mock.Mock
}

func (m *mockAlerts) Publish(ctx context.Context, topic ports.Topic, message any) error {
	return m.Called(ctx, topic, message).Error(0)
}
