package domain

import (
	"fmt"
	"time"
)

type Pot struct {
	Id            uint64
	Creator       string
	TotalAmount   uint64
	Fee           uint64
	OneFaAddress  string
	ExpiresAt     uint64
	IsActive      bool
	AttemptsCount uint64
}

// IsExpired reports whether the pot can be expired on-chain at the given
// ledger time. A zero deadline means the pot never expires.
func (p Pot) IsExpired(now time.Time) bool {
	if !p.IsActive || p.ExpiresAt == 0 {
		return false
	}
	ts := now.Unix()
	return ts >= 0 && uint64(ts) >= p.ExpiresAt
}

func (p Pot) ExpiresAtTime() time.Time {
	if p.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(int64(p.ExpiresAt), 0)
}

func (p Pot) String() string {
	status := "inactive"
	if p.IsActive {
		status = "active"
	}
	return fmt.Sprintf(
		"pot %d (%s) amount=%d fee=%d expires_at=%d creator=%s",
		p.Id, status, p.TotalAmount, p.Fee, p.ExpiresAt, p.Creator,
	)
}
