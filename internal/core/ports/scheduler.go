package ports

import (
	"context"
	"time"
)

type SchedulerService interface {
	Start()
	Stop()
	// Now returns the scheduler's current time, the reference used to
	// decide whether a pot is past its deadline.
	Now(ctx context.Context) (time.Time, error)
	ScheduleTaskOnce(at time.Time, task func()) error
	// ScheduleEvery runs task periodically. Runs never overlap.
	ScheduleEvery(interval time.Duration, task func()) error
}
