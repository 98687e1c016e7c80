package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/arkade-os/moneypot/internal/core/application"

// submitter drives a single call through build, sign, submit and finality.
// It never retries: a failed submission is reported to the caller as is.
type submitter struct {
	txs      ports.TransactionService
	locker   ports.IdentityLocker
	moduleId string
	timeout  time.Duration

	submissions metric.Int64Counter
}

func newSubmitter(
	txs ports.TransactionService, locker ports.IdentityLocker,
	moduleId string, timeout time.Duration,
) *submitter {
	submissions, err := otel.Meter(instrumentationName).Int64Counter(
		"moneypot.tx.submissions",
		metric.WithDescription("Transactions submitted, by operation and outcome"),
	)
	if err != nil {
		log.WithError(err).Warn("failed to create submissions counter")
	}
	return &submitter{txs, locker, moduleId, timeout, submissions}
}

func (s *submitter) submit(
	ctx context.Context, req ports.TransactionRequest,
) (result *ports.TransactionResult, err errors.Error) {
	op := string(req.Operation)
	sender := req.Signer.Address()

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "submit "+op)
	span.SetAttributes(
		attribute.String("operation", op),
		attribute.String("sender", sender),
	)
	defer func() {
		outcome := "committed"
		if err != nil {
			outcome = err.CodeName()
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		if result != nil {
			span.SetAttributes(attribute.String("tx_hash", result.Hash))
		}
		if s.submissions != nil {
			s.submissions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("operation", op),
				attribute.String("outcome", outcome),
			))
		}
		span.End()
	}()

	function, ok := domain.EntryFunctions[req.Operation]
	if !ok {
		return nil, errors.INVALID_ARGUMENT.New("unknown operation %s", op).
			WithMetadata(map[string]any{"operation": op})
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	txMetadata := errors.TxMetadata{Operation: op, Sender: sender}

	unlock, lockErr := s.locker.Lock(ctx, sender)
	if lockErr != nil {
		return nil, s.classify(ctx, lockErr, txMetadata)
	}
	defer unlock()

	payload, buildErr := s.txs.Build(
		ctx, fmt.Sprintf("%s::%s", s.moduleId, function), nil, req.Args,
	)
	if buildErr != nil {
		if e, ok := errors.As(buildErr); ok {
			return nil, e
		}
		return nil, errors.INVALID_ARGUMENT.Wrap(buildErr).
			WithMetadata(map[string]any{"operation": op, "function": function})
	}

	log.WithFields(log.Fields{
		"op":     op,
		"sender": sender,
		"args":   req.Args,
	}).Debug("submitting transaction")

	txHash, submitErr := s.txs.SignAndSubmit(ctx, req.Signer, payload)
	if submitErr != nil {
		return nil, s.classify(ctx, submitErr, txMetadata)
	}
	txMetadata.TxHash = txHash

	log.WithFields(log.Fields{"op": op, "tx": txHash}).Debug("waiting for finality")

	res, awaitErr := s.txs.AwaitFinality(ctx, txHash)
	if awaitErr != nil {
		return nil, s.classify(ctx, awaitErr, txMetadata)
	}

	if !res.Success {
		txMetadata.VmStatus = res.VmStatus
		log.WithFields(log.Fields{
			"op":        op,
			"tx":        txHash,
			"vm_status": res.VmStatus,
		}).Warn("transaction aborted")
		return res, errors.TX_ABORTED.New("%s aborted: %s", op, res.VmStatus).
			WithMetadata(txMetadata)
	}

	log.WithFields(log.Fields{
		"op":      op,
		"tx":      txHash,
		"version": res.Version,
		"events":  len(res.Events),
	}).Info("transaction committed")

	return res, nil
}

// classify maps an adapter error onto the submission error taxonomy. Typed
// errors raised by the adapter are kept and everything else is treated as a
// network failure. Once the deadline is gone, any failure is a timeout, and
// once the caller has canceled, any failure is a cancellation.
func (s *submitter) classify(
	ctx context.Context, err error, md errors.TxMetadata,
) errors.Error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.TX_TIMEOUT.Wrap(err).WithMetadata(md)
	case context.Canceled:
		return errors.TX_CANCELED.Wrap(err).WithMetadata(md)
	}
	if e, ok := errors.As(err); ok {
		return e
	}
	return errors.NETWORK_ERROR.Wrap(err).
		WithMetadata(errors.EndpointMetadata{Operation: md.Operation})
}
