package ledgerscheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkade-os/moneypot/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Clock returns the chain's current time, eg. the ledger timestamp of the
// latest committed block.
type Clock func(ctx context.Context) (time.Time, error)

type Option func(*service)

func WithTickerInterval(interval time.Duration) Option {
	return func(s *service) {
		s.tickerInterval = interval
	}
}

type recurringTask struct {
	next     time.Time
	interval time.Duration
	running  atomic.Bool
	task     func()
}

type service struct {
	clock          Clock
	lock           sync.Locker
	tasks          map[int64][]func()
	recurring      []*recurringTask
	stopCh         chan struct{}
	stopOnce       sync.Once
	tickerInterval time.Duration
}

// NewScheduler returns a scheduler whose notion of time is the ledger's,
// so that pot expiry is judged against the same clock the contract uses.
func NewScheduler(clock Clock, opts ...Option) (ports.SchedulerService, error) {
	if clock == nil {
		return nil, fmt.Errorf("ledger clock is required")
	}

	svc := &service{
		clock:          clock,
		lock:           &sync.Mutex{},
		tasks:          make(map[int64][]func()),
		stopCh:         make(chan struct{}),
		tickerInterval: time.Second * 5,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

func (s *service) Start() {
	go func() {
		ticker := time.NewTicker(s.tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				tasks, err := s.popTasks()
				if err != nil {
					log.Errorf("error fetching tasks: %s", err)
					continue
				}

				log.Debugf("fetched %d tasks", len(tasks))
				for _, task := range tasks {
					go task()
				}
			}
		}
	}()
}

func (s *service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *service) Now(ctx context.Context) (time.Time, error) {
	return s.clock(ctx)
}

func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := at.Unix()
	s.tasks[key] = append(s.tasks[key], task)

	return nil
}

// ScheduleEvery runs task every interval of ledger time. The first run
// happens at the first tick. A run still in progress when the next one is
// due makes that one be skipped.
func (s *service) ScheduleEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.recurring = append(s.recurring, &recurringTask{
		interval: interval,
		task:     task,
	})

	return nil
}

func (s *service) popTasks() ([]func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickerInterval)
	defer cancel()

	now, err := s.clock(ctx)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	tasks := make([]func(), 0)

	for at, pending := range s.tasks {
		if at > now.Unix() {
			continue
		}

		tasks = append(tasks, pending...)
		delete(s.tasks, at)
	}

	for _, r := range s.recurring {
		if now.Before(r.next) {
			continue
		}
		r.next = now.Add(r.interval)
		if !r.running.CompareAndSwap(false, true) {
			log.Debug("skipping recurring task, previous run still in progress")
			continue
		}
		tasks = append(tasks, func() {
			defer r.running.Store(false)
			r.task()
		})
	}

	return tasks, nil
}
