package application

import (
	"context"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
)

type LifecycleService interface {
	CreatePot(
		ctx context.Context, creator ports.Signer, params CreatePotParams,
	) (uint64, errors.Error)
	AttemptPot(ctx context.Context, hunter ports.Signer, potId uint64) (uint64, errors.Error)
	ResolveAttempt(
		ctx context.Context, oracle ports.Signer, attemptId uint64, succeeded bool,
	) errors.Error
	GetPot(ctx context.Context, potId uint64) (*domain.Pot, errors.Error)
	GetAttempt(ctx context.Context, attemptId uint64) (*domain.Attempt, errors.Error)
	GetActivePots(ctx context.Context) ([]uint64, errors.Error)
	GetPots(ctx context.Context) ([]uint64, errors.Error)
	// RunDemo drives a full pot lifecycle. The returned report is never nil
	// and holds whatever progress was made before an error.
	RunDemo(ctx context.Context, params DemoParams) (*DemoReport, errors.Error)
}

type SweeperService interface {
	Sweep(ctx context.Context) (*SweepReport, errors.Error)
	// Start runs a sweep every interval until Stop is called. Each report is
	// handed to onReport if not nil.
	Start(interval time.Duration, onReport func(*SweepReport, errors.Error)) errors.Error
	Stop()
}

type CreatePotParams struct {
	Amount          uint64
	DurationSeconds uint64
	Fee             uint64
	OneFaAddress    string
}

type DemoParams struct {
	Creator ports.Signer
	Hunter  ports.Signer
	Oracle  ports.Signer
	Pot     CreatePotParams
}

type DemoReport struct {
	PotId              uint64
	OneFaAddress       string
	FailedAttemptId    uint64
	SucceededAttemptId uint64
	// Steps lists the completed steps in order, e.g. "create_pot".
	Steps     []DemoStep
	FinalPot  *domain.Pot
	Completed bool
}

type DemoStep struct {
	Name string
	Id   uint64
}

func (r *DemoReport) HasPot() bool {
	return r.stepDone(string(domain.OperationCreatePot))
}

func (r *DemoReport) stepDone(name string) bool {
	for _, s := range r.Steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

type ExpiredPot struct {
	PotId  uint64
	TxHash string
}

type SweepReport struct {
	RunId            string
	StartedAt        time.Time
	Duration         time.Duration
	Now              time.Time
	Checked          int
	StillActive      int
	Attempted        []uint64
	Succeeded        []ExpiredPot
	Failed           []uint64
	// Unconfirmed pots were in a committed transaction that emitted no
	// expiration event for them.
	Unconfirmed      []uint64
	BatchesSubmitted int
	BatchesFailed    int
}

func (r *SweepReport) SucceededIds() []uint64 {
	ids := make([]uint64, 0, len(r.Succeeded))
	for _, s := range r.Succeeded {
		ids = append(ids, s.PotId)
	}
	return ids
}
