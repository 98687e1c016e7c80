package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
)

// u64 accepts both quoted and bare integers, ledgers render 64-bit values as
// strings to stay JSON safe.
type u64 uint64

func (v *u64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %s", string(data))
	}
	*v = u64(n)
	return nil
}

type potView struct {
	Id            *u64   `json:"id,omitempty"`
	Creator       string `json:"creator"`
	TotalAmount   u64    `json:"total_amount"`
	Fee           u64    `json:"fee"`
	OneFaAddress  string `json:"one_fa_address"`
	ExpiresAt     u64    `json:"expires_at"`
	IsActive      bool   `json:"is_active"`
	AttemptsCount *u64   `json:"attempts_count,omitempty"`
}

func (v potView) toDomain(potId uint64) *domain.Pot {
	pot := &domain.Pot{
		Id:           potId,
		Creator:      v.Creator,
		TotalAmount:  uint64(v.TotalAmount),
		Fee:          uint64(v.Fee),
		OneFaAddress: v.OneFaAddress,
		ExpiresAt:    uint64(v.ExpiresAt),
		IsActive:     v.IsActive,
	}
	if v.AttemptsCount != nil {
		pot.AttemptsCount = uint64(*v.AttemptsCount)
	}
	return pot
}

type attemptView struct {
	Id     u64    `json:"id"`
	PotId  u64    `json:"pot_id"`
	Hunter string `json:"hunter"`
	Status u64    `json:"status"`
}

// views wraps the read-only calls of the contract.
type views struct {
	svc      ports.ViewService
	moduleId string
}

func (v *views) function(name string) string {
	return fmt.Sprintf("%s::%s", v.moduleId, name)
}

func (v *views) call(
	ctx context.Context, name string, args ...domain.Arg,
) (json.RawMessage, errors.Error) {
	function := v.function(name)
	res, err := v.svc.Call(ctx, function, nil, args)
	if err != nil {
		if e, ok := errors.As(err); ok {
			return nil, e
		}
		return nil, errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.EndpointMetadata{Operation: name})
	}
	if len(res) != 1 {
		return nil, errors.INVALID_VIEW_RESPONSE.New(
			"expected 1 return value, got %d", len(res),
		).WithMetadata(errors.ViewMetadata{Function: function})
	}
	return res[0], nil
}

func (v *views) getIds(ctx context.Context, name string) ([]uint64, errors.Error) {
	raw, err := v.call(ctx, name)
	if err != nil {
		return nil, err
	}

	var ids []u64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errors.INVALID_VIEW_RESPONSE.Wrap(err).
			WithMetadata(errors.ViewMetadata{Function: v.function(name), Response: string(raw)})
	}

	seen := make(map[uint64]struct{}, len(ids))
	list := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[uint64(id)]; ok {
			continue
		}
		seen[uint64(id)] = struct{}{}
		list = append(list, uint64(id))
	}
	return list, nil
}

func (v *views) getActivePots(ctx context.Context) ([]uint64, errors.Error) {
	return v.getIds(ctx, domain.ViewGetActivePots)
}

func (v *views) getPots(ctx context.Context) ([]uint64, errors.Error) {
	return v.getIds(ctx, domain.ViewGetPots)
}

func (v *views) getPot(ctx context.Context, potId uint64) (*domain.Pot, errors.Error) {
	raw, err := v.call(ctx, domain.ViewGetPot, domain.U64(potId))
	if err != nil {
		return nil, err
	}

	var pot potView
	if err := json.Unmarshal(raw, &pot); err != nil {
		return nil, errors.INVALID_VIEW_RESPONSE.Wrap(err).WithMetadata(errors.ViewMetadata{
			Function: v.function(domain.ViewGetPot), Response: string(raw),
		})
	}
	// The id is optional in the response, the queried one is authoritative.
	if pot.Id != nil && uint64(*pot.Id) != potId {
		return nil, errors.INVALID_VIEW_RESPONSE.New(
			"requested pot %d, got pot %d", potId, *pot.Id,
		).WithMetadata(errors.ViewMetadata{
			Function: v.function(domain.ViewGetPot), Response: string(raw),
		})
	}
	return pot.toDomain(potId), nil
}

func (v *views) getAttempt(ctx context.Context, attemptId uint64) (*domain.Attempt, errors.Error) {
	raw, err := v.call(ctx, domain.ViewGetAttempt, domain.U64(attemptId))
	if err != nil {
		return nil, err
	}

	var attempt attemptView
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return nil, errors.INVALID_VIEW_RESPONSE.Wrap(err).WithMetadata(errors.ViewMetadata{
			Function: v.function(domain.ViewGetAttempt), Response: string(raw),
		})
	}
	if attempt.Status > u64(domain.AttemptFailed) {
		return nil, errors.INVALID_VIEW_RESPONSE.New(
			"unknown attempt status %d", attempt.Status,
		).WithMetadata(errors.ViewMetadata{
			Function: v.function(domain.ViewGetAttempt), Response: string(raw),
		})
	}

	return &domain.Attempt{
		Id:     uint64(attempt.Id),
		PotId:  uint64(attempt.PotId),
		Hunter: attempt.Hunter,
		Status: domain.AttemptStatus(attempt.Status),
	}, nil
}
