package ports

import "context"

const (
	SweepCompleted Topic = "Sweep Completed"
	SweepFailed    Topic = "Sweep Failed"
)

type Topic string

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message any) error
}

// SweepAlert summarizes a sweep run that expired pots or failed.
type SweepAlert struct {
	RunId            string
	Checked          int
	StillActive      int
	Expired          []uint64
	Failed           []uint64
	Unconfirmed      []uint64
	TxHashes         []string
	BatchesSubmitted int
	BatchesFailed    int
	Duration         string
	Error            string
}
