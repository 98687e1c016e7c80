package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type lifecycleService struct {
	submitter *submitter
	views     *views
	events    eventSource
}

func NewLifecycleService(
	txs ports.TransactionService, viewSvc ports.ViewService, locker ports.IdentityLocker,
	contract, module string, submitTimeout time.Duration,
) (LifecycleService, error) {
	if txs == nil {
		return nil, fmt.Errorf("missing transaction service")
	}
	if viewSvc == nil {
		return nil, fmt.Errorf("missing view service")
	}
	if locker == nil {
		return nil, fmt.Errorf("missing identity locker")
	}
	if submitTimeout <= 0 {
		return nil, fmt.Errorf("submit timeout must be positive")
	}
	events, err := newEventSource(contract, module)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}
	moduleId := fmt.Sprintf("%s::%s", events.contract, module)

	return &lifecycleService{
		submitter: newSubmitter(txs, locker, moduleId, submitTimeout),
		views:     &views{viewSvc, moduleId},
		events:    events,
	}, nil
}

func (s *lifecycleService) CreatePot(
	ctx context.Context, creator ports.Signer, params CreatePotParams,
) (uint64, errors.Error) {
	if err := validateCreatePotParams(params); err != nil {
		return 0, err
	}

	res, err := s.submitter.submit(ctx, ports.TransactionRequest{
		Operation: domain.OperationCreatePot,
		Args: []domain.Arg{
			domain.U64(params.Amount),
			domain.U64(params.DurationSeconds),
			domain.U64(params.Fee),
			domain.Address(params.OneFaAddress),
		},
		Signer: creator,
	})
	if err != nil {
		return 0, err
	}

	potId, ok := s.events.extractId(res, domain.EventPotCreated)
	if !ok {
		return 0, errors.CORRELATION_FAILED.New(
			"no %s event in tx %s", domain.EventPotCreated, res.Hash,
		).WithMetadata(errors.CorrelationMetadata{
			Operation:  string(domain.OperationCreatePot),
			TxHash:     res.Hash,
			WantedKind: string(domain.EventPotCreated),
		})
	}

	log.WithFields(log.Fields{"pot": potId, "tx": res.Hash}).Info("pot created")
	return potId, nil
}

func (s *lifecycleService) AttemptPot(
	ctx context.Context, hunter ports.Signer, potId uint64,
) (uint64, errors.Error) {
	res, err := s.submitter.submit(ctx, ports.TransactionRequest{
		Operation: domain.OperationAttemptPot,
		Args:      []domain.Arg{domain.U64(potId)},
		Signer:    hunter,
	})
	if err != nil {
		return 0, err
	}

	attemptId, ok := s.events.extractId(res, domain.EventPotAttempted)
	if !ok {
		return 0, errors.CORRELATION_FAILED.New(
			"no %s event in tx %s", domain.EventPotAttempted, res.Hash,
		).WithMetadata(errors.CorrelationMetadata{
			Operation:  string(domain.OperationAttemptPot),
			TxHash:     res.Hash,
			WantedKind: string(domain.EventPotAttempted),
			PotId:      potId,
		})
	}

	log.WithFields(log.Fields{
		"pot":     potId,
		"attempt": attemptId,
		"tx":      res.Hash,
	}).Info("pot attempted")
	return attemptId, nil
}

func (s *lifecycleService) ResolveAttempt(
	ctx context.Context, oracle ports.Signer, attemptId uint64, succeeded bool,
) errors.Error {
	res, err := s.submitter.submit(ctx, ports.TransactionRequest{
		Operation: domain.OperationResolveAttempt,
		Args:      []domain.Arg{domain.U64(attemptId), domain.Bool(succeeded)},
		Signer:    oracle,
	})
	if err != nil {
		return err
	}

	if _, ok := s.events.extractId(res, domain.EventAttemptResolved); !ok {
		log.WithFields(log.Fields{
			"attempt": attemptId,
			"tx":      res.Hash,
		}).Warn("attempt resolved without a resolution event")
	}

	log.WithFields(log.Fields{
		"attempt":   attemptId,
		"succeeded": succeeded,
		"tx":        res.Hash,
	}).Info("attempt resolved")
	return nil
}

func (s *lifecycleService) GetPot(ctx context.Context, potId uint64) (*domain.Pot, errors.Error) {
	return s.views.getPot(ctx, potId)
}

func (s *lifecycleService) GetAttempt(
	ctx context.Context, attemptId uint64,
) (*domain.Attempt, errors.Error) {
	return s.views.getAttempt(ctx, attemptId)
}

func (s *lifecycleService) GetActivePots(ctx context.Context) ([]uint64, errors.Error) {
	return s.views.getActivePots(ctx)
}

func (s *lifecycleService) GetPots(ctx context.Context) ([]uint64, errors.Error) {
	return s.views.getPots(ctx)
}

// RunDemo creates a pot, makes a first attempt that is resolved as failed
// and a second one that is resolved as succeeded.
func (s *lifecycleService) RunDemo(
	ctx context.Context, params DemoParams,
) (*DemoReport, errors.Error) {
	report := &DemoReport{OneFaAddress: params.Pot.OneFaAddress}

	if params.Creator == nil || params.Hunter == nil || params.Oracle == nil {
		return report, errors.INVALID_ARGUMENT.New("creator, hunter and oracle are required").
			WithMetadata(map[string]any{"step": "demo"})
	}

	potId, err := s.CreatePot(ctx, params.Creator, params.Pot)
	if err != nil {
		return report, err
	}
	report.PotId = potId
	report.addStep(domain.OperationCreatePot, potId)

	firstAttemptId, err := s.AttemptPot(ctx, params.Hunter, potId)
	if err != nil {
		return report, err
	}
	report.FailedAttemptId = firstAttemptId
	report.addStep(domain.OperationAttemptPot, firstAttemptId)

	if err := s.ResolveAttempt(ctx, params.Oracle, firstAttemptId, false); err != nil {
		return report, err
	}
	report.addStep(domain.OperationResolveAttempt, firstAttemptId)

	secondAttemptId, err := s.AttemptPot(ctx, params.Hunter, potId)
	if err != nil {
		return report, err
	}
	report.SucceededAttemptId = secondAttemptId
	report.addStep(domain.OperationAttemptPot, secondAttemptId)

	if err := s.ResolveAttempt(ctx, params.Oracle, secondAttemptId, true); err != nil {
		return report, err
	}
	report.addStep(domain.OperationResolveAttempt, secondAttemptId)
	report.Completed = true

	pot, err := s.GetPot(ctx, potId)
	if err != nil {
		// The lifecycle itself went through, only the final read failed.
		log.WithError(err).WithField("pot", potId).Warn("failed to fetch final pot state")
		return report, nil
	}
	report.FinalPot = pot

	return report, nil
}

func (r *DemoReport) addStep(op domain.Operation, id uint64) {
	r.Steps = append(r.Steps, DemoStep{Name: string(op), Id: id})
}

func validateCreatePotParams(params CreatePotParams) errors.Error {
	md := map[string]any{
		"amount":   params.Amount,
		"duration": params.DurationSeconds,
		"fee":      params.Fee,
	}
	if params.Amount == 0 {
		return errors.INVALID_ARGUMENT.New("amount must be positive").WithMetadata(md)
	}
	if params.DurationSeconds == 0 {
		return errors.INVALID_ARGUMENT.New("duration must be positive").WithMetadata(md)
	}
	if params.Fee > params.Amount {
		return errors.INVALID_ARGUMENT.New(
			"fee %d exceeds amount %d", params.Fee, params.Amount,
		).WithMetadata(md)
	}
	if _, err := domain.NormalizeAddress(params.OneFaAddress); err != nil {
		md["one_fa_address"] = params.OneFaAddress
		return errors.INVALID_ARGUMENT.Wrap(err).WithMetadata(md)
	}
	return nil
}
