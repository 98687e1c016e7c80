package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepChunkSize = 50
	DefaultSweepBatchSize = 3
)

// sweeper finds the active pots that reached their deadline and expires
// them, in batches first and one by one for the members of a failed batch.
type sweeper struct {
	submitter *submitter
	views     *views
	events    eventSource
	scheduler ports.SchedulerService
	signer    ports.Signer
	alerts    ports.Alerts

	chunkSize int
	batchSize int

	expiredCounter metric.Int64Counter
	failedCounter  metric.Int64Counter

	lock    sync.Mutex
	started bool
}

type SweeperOption func(*sweeper)

func WithChunkSize(size int) SweeperOption {
	return func(s *sweeper) {
		s.chunkSize = size
	}
}

func WithBatchSize(size int) SweeperOption {
	return func(s *sweeper) {
		s.batchSize = size
	}
}

// WithAlerts publishes a summary of every sweep that expired pots or failed.
func WithAlerts(alerts ports.Alerts) SweeperOption {
	return func(s *sweeper) {
		s.alerts = alerts
	}
}

func NewSweeperService(
	txs ports.TransactionService, viewSvc ports.ViewService, locker ports.IdentityLocker,
	scheduler ports.SchedulerService, signer ports.Signer,
	contract, module string, submitTimeout time.Duration, opts ...SweeperOption,
) (SweeperService, error) {
	if txs == nil || viewSvc == nil || locker == nil {
		return nil, fmt.Errorf("missing ledger services")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("missing scheduler")
	}
	if signer == nil {
		return nil, fmt.Errorf("missing sweeper signer")
	}
	if submitTimeout <= 0 {
		return nil, fmt.Errorf("submit timeout must be positive")
	}
	events, err := newEventSource(contract, module)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}
	moduleId := fmt.Sprintf("%s::%s", events.contract, module)

	meter := otel.Meter(instrumentationName)
	expiredCounter, err := meter.Int64Counter(
		"moneypot.sweep.expired", metric.WithDescription("Pots expired by the sweeper"),
	)
	if err != nil {
		return nil, err
	}
	failedCounter, err := meter.Int64Counter(
		"moneypot.sweep.failed", metric.WithDescription("Pots the sweeper failed to expire"),
	)
	if err != nil {
		return nil, err
	}

	svc := &sweeper{
		submitter:      newSubmitter(txs, locker, moduleId, submitTimeout),
		views:          &views{viewSvc, moduleId},
		events:         events,
		scheduler:      scheduler,
		signer:         signer,
		chunkSize:      DefaultSweepChunkSize,
		batchSize:      DefaultSweepBatchSize,
		expiredCounter: expiredCounter,
		failedCounter:  failedCounter,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if svc.batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}

	return svc, nil
}

func (s *sweeper) Start(
	interval time.Duration, onReport func(*SweepReport, errors.Error),
) errors.Error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return errors.INTERNAL_ERROR.New("sweeper already started").
			WithMetadata(map[string]any{"interval": interval.String()})
	}
	if interval <= 0 {
		return errors.INVALID_ARGUMENT.New("sweep interval must be positive").
			WithMetadata(map[string]any{"interval": interval.String()})
	}

	task := func() {
		report, err := s.Sweep(context.Background())
		if err != nil {
			err.Log().WithError(err).Error("sweep failed")
		}
		if onReport != nil {
			onReport(report, err)
		}
	}

	if err := s.scheduler.ScheduleEvery(interval, task); err != nil {
		return errors.INTERNAL_ERROR.Wrap(err).
			WithMetadata(map[string]any{"interval": interval.String()})
	}
	s.scheduler.Start()
	s.started = true

	log.Infof("sweeper: started, running every %s", interval)
	return nil
}

func (s *sweeper) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.started = false
	log.Info("sweeper: stopped")
}

func (s *sweeper) Sweep(ctx context.Context) (*SweepReport, errors.Error) {
	report := &SweepReport{
		RunId:     uuid.New().String(),
		StartedAt: time.Now(),
		Attempted: make([]uint64, 0),
		Succeeded: make([]ExpiredPot, 0),
		Failed:    make([]uint64, 0),
	}
	logger := log.WithField("run", report.RunId)

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "sweep")
	span.SetAttributes(attribute.String("run_id", report.RunId))
	defer span.End()

	finish := func(err errors.Error) (*SweepReport, errors.Error) {
		report.Duration = time.Since(report.StartedAt)
		span.SetAttributes(
			attribute.Int("checked", report.Checked),
			attribute.Int("attempted", len(report.Attempted)),
			attribute.Int("succeeded", len(report.Succeeded)),
			attribute.Int("failed", len(report.Failed)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		s.sendSweepAlert(report, err)
		return report, err
	}

	now, nowErr := s.scheduler.Now(ctx)
	if nowErr != nil {
		return finish(errors.NETWORK_ERROR.Wrap(nowErr).
			WithMetadata(errors.EndpointMetadata{Operation: "now"}))
	}
	report.Now = now

	activeIds, err := s.views.getActivePots(ctx)
	if err != nil {
		return finish(err)
	}
	report.Checked = len(activeIds)
	logger.Infof("sweeper: found %d active pots", len(activeIds))

	expired, err := s.findExpired(ctx, report.RunId, activeIds, now)
	if err != nil {
		return finish(err)
	}
	report.StillActive = len(activeIds) - len(expired)
	report.Attempted = expired

	if len(expired) <= 0 {
		logger.Info("sweeper: no expired pots")
		return finish(nil)
	}
	logger.Infof("sweeper: %d expired pots to sweep", len(expired))

	s.expire(ctx, logger, report, expired)

	s.expiredCounter.Add(ctx, int64(len(report.Succeeded)))
	s.failedCounter.Add(ctx, int64(len(report.Failed)))

	logger.WithFields(log.Fields{
		"attempted":   len(report.Attempted),
		"succeeded":   len(report.Succeeded),
		"failed":      len(report.Failed),
		"unconfirmed": len(report.Unconfirmed),
		"batches":     report.BatchesSubmitted,
	}).Info("sweeper: sweep completed")

	return finish(nil)
}

// findExpired fetches the details of the given pots, chunk by chunk. The
// queries of a chunk run concurrently and the chunk is fully joined before
// the next one starts. Any failed query aborts the scan.
func (s *sweeper) findExpired(
	ctx context.Context, runId string, potIds []uint64, now time.Time,
) ([]uint64, errors.Error) {
	chunks := chunk(potIds, s.chunkSize)
	expired := make([]uint64, 0)

	for i, ids := range chunks {
		pots := make([]*domain.Pot, len(ids))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.chunkSize)
		for j, id := range ids {
			g.Go(func() error {
				pot, err := s.views.getPot(gctx, id)
				if err != nil {
					return err
				}
				pots[j] = pot
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.SWEEP_SCAN_FAILED.Wrap(err).WithMetadata(errors.SweepScanMetadata{
				RunId:      runId,
				Chunk:      i,
				ChunkCount: len(chunks),
			})
		}

		for j, pot := range pots {
			if pot.IsExpired(now) {
				expired = append(expired, ids[j])
			}
		}

		log.WithField("run", runId).Debugf(
			"sweeper: scanned chunk %d/%d (%d pots)", i+1, len(chunks), len(ids),
		)
	}

	return expired, nil
}

// expire submits the batches of expired pots. Members of a failed batch are
// retried one at a time. The sentinel id can't be told apart from padding in
// a batch, so a pot with that id always takes the single path.
func (s *sweeper) expire(
	ctx context.Context, logger *log.Entry, report *SweepReport, expired []uint64,
) {
	succeeded := make(map[uint64]struct{})
	markSucceeded := func(potId uint64, txHash string) {
		succeeded[potId] = struct{}{}
		report.Succeeded = append(report.Succeeded, ExpiredPot{potId, txHash})
	}

	batchable := make([]uint64, 0, len(expired))
	single := make([]uint64, 0)
	for _, id := range expired {
		if id == domain.BatchSentinelPotId {
			single = append(single, id)
			continue
		}
		batchable = append(batchable, id)
	}

	for _, group := range chunk(batchable, s.batchSize) {
		report.BatchesSubmitted++

		res, err := s.submitter.submit(ctx, ports.TransactionRequest{
			Operation: domain.OperationExpireBatch,
			Args:      batchArgs(group, s.batchSize),
			Signer:    s.signer,
		})
		if err == nil {
			report.Unconfirmed = append(
				report.Unconfirmed, s.checkExpiredEvents(logger, res, group)...,
			)
			for _, id := range group {
				markSucceeded(id, res.Hash)
			}
			continue
		}

		report.BatchesFailed++
		err.Log().WithError(err).WithField("pots", group).
			Warn("sweeper: batch expiration failed, falling back to single expirations")
		single = append(single, group...)
	}

	for _, id := range single {
		if _, ok := succeeded[id]; ok {
			continue
		}

		res, err := s.submitter.submit(ctx, ports.TransactionRequest{
			Operation: domain.OperationExpirePot,
			Args:      []domain.Arg{domain.U64(id)},
			Signer:    s.signer,
		})
		if err != nil {
			err.Log().WithError(err).WithField("pot", id).Error("sweeper: failed to expire pot")
			report.Failed = append(report.Failed, id)
			continue
		}
		report.Unconfirmed = append(
			report.Unconfirmed, s.checkExpiredEvents(logger, res, []uint64{id})...,
		)
		markSucceeded(id, res.Hash)
	}
}

// checkExpiredEvents returns the pots of a committed transaction for which
// the contract did not report an expiration.
func (s *sweeper) checkExpiredEvents(
	logger *log.Entry, res *ports.TransactionResult, group []uint64,
) []uint64 {
	seen := make(map[uint64]struct{})
	for _, event := range s.events.decodeAll(res) {
		if event.Kind() == domain.EventPotExpired {
			seen[event.Id()] = struct{}{}
		}
	}
	missing := make([]uint64, 0)
	for _, id := range group {
		if _, ok := seen[id]; !ok {
			logger.WithFields(log.Fields{"pot": id, "tx": res.Hash}).
				Warn("sweeper: no expiration event for pot in committed transaction")
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *sweeper) sendSweepAlert(report *SweepReport, sweepErr errors.Error) {
	if s.alerts == nil {
		return
	}
	if sweepErr == nil && len(report.Attempted) <= 0 {
		return
	}

	topic := ports.SweepCompleted
	alert := ports.SweepAlert{
		RunId:            report.RunId,
		Checked:          report.Checked,
		StillActive:      report.StillActive,
		Expired:          report.SucceededIds(),
		Failed:           report.Failed,
		Unconfirmed:      report.Unconfirmed,
		TxHashes:         make([]string, 0, len(report.Succeeded)),
		BatchesSubmitted: report.BatchesSubmitted,
		BatchesFailed:    report.BatchesFailed,
		Duration:         report.Duration.String(),
	}
	if sweepErr != nil {
		topic = ports.SweepFailed
		alert.Error = sweepErr.Error()
	}
	seen := make(map[string]struct{})
	for _, pot := range report.Succeeded {
		if _, ok := seen[pot.TxHash]; ok {
			continue
		}
		seen[pot.TxHash] = struct{}{}
		alert.TxHashes = append(alert.TxHashes, pot.TxHash)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.alerts.Publish(ctx, topic, alert); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("failed to publish alert")
	}
}

func batchArgs(group []uint64, size int) []domain.Arg {
	args := make([]domain.Arg, 0, size)
	for _, id := range group {
		args = append(args, domain.U64(id))
	}
	for len(args) < size {
		args = append(args, domain.U64(domain.BatchSentinelPotId))
	}
	return args
}

func chunk[T any](items []T, size int) [][]T {
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
