package domain

type AttemptStatus uint8

const (
	AttemptPending AttemptStatus = iota
	AttemptSucceeded
	AttemptFailed
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptPending:
		return "pending"
	case AttemptSucceeded:
		return "succeeded"
	case AttemptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s AttemptStatus) IsResolved() bool {
	return s == AttemptSucceeded || s == AttemptFailed
}

type Attempt struct {
	Id     uint64
	PotId  uint64
	Hunter string
	Status AttemptStatus
}
