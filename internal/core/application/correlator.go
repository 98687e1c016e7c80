package application

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// eventSource identifies the events emitted by the pot contract.
type eventSource struct {
	contract string
	module   string
}

func newEventSource(contract, module string) (eventSource, error) {
	addr, err := domain.NormalizeAddress(contract)
	if err != nil {
		return eventSource{}, err
	}
	return eventSource{addr, module}, nil
}

// owns reports whether the event type was emitted by the contract module,
// e.g. 0x2a::money_pot_manager::PotEvent.
func (s eventSource) owns(eventType string) bool {
	parts := strings.SplitN(eventType, "::", 3)
	if len(parts) != 3 {
		return false
	}
	if parts[1] != s.module {
		return false
	}
	return domain.SameAddress(parts[0], s.contract)
}

type potEventData struct {
	Id        *json.Number `json:"id"`
	EventType string       `json:"event_type"`
}

// decode turns a ledger event emitted by the contract into a domain event.
func (s eventSource) decode(event ports.LedgerEvent) (domain.Event, error) {
	var data potEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid event data: %w", err)
	}

	tag, err := hex.DecodeString(strings.TrimPrefix(data.EventType, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid event tag %q: %w", data.EventType, err)
	}
	kind, ok := domain.EventKindFromTag(string(tag))
	if !ok {
		return nil, fmt.Errorf("unknown event tag %q", string(tag))
	}

	if data.Id == nil {
		return nil, fmt.Errorf("missing id for %s event", kind)
	}
	id, err := strconv.ParseUint(data.Id.String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q for %s event", data.Id.String(), kind)
	}

	decoded, _ := domain.NewEvent(kind, id)
	return decoded, nil
}

// DecodeEvents returns the contract events of result in ledger order.
// Events of other modules are ignored and events that can't be decoded are
// logged and skipped.
func DecodeEvents(contract, module string, result *ports.TransactionResult) []domain.Event {
	source, err := newEventSource(contract, module)
	if err != nil {
		log.WithError(err).Warn("invalid contract address, no event can match")
		return nil
	}
	return source.decodeAll(result)
}

func (s eventSource) decodeAll(result *ports.TransactionResult) []domain.Event {
	if result == nil {
		return nil
	}

	events := make([]domain.Event, 0, len(result.Events))
	for _, raw := range result.Events {
		if !s.owns(raw.Type) {
			continue
		}
		event, err := s.decode(raw)
		if err != nil {
			errors.EVENT_DECODE_FAILED.Wrap(err).
				WithMetadata(errors.EventDecodeMetadata{
					TxHash:         result.Hash,
					EventType:      raw.Type,
					SequenceNumber: raw.SequenceNumber,
				}).
				Log().WithError(err).Warn("skipping undecodable event")
			continue
		}
		events = append(events, event)
	}
	return events
}

// ExtractId returns the id carried by the first contract event of the wanted
// kind. Undecodable events never match and never stop the scan.
func ExtractId(
	contract, module string, result *ports.TransactionResult, wanted domain.EventKind,
) (uint64, bool) {
	source, err := newEventSource(contract, module)
	if err != nil {
		return 0, false
	}
	return source.extractId(result, wanted)
}

func (s eventSource) extractId(
	result *ports.TransactionResult, wanted domain.EventKind,
) (uint64, bool) {
	for _, event := range s.decodeAll(result) {
		if event.Kind() == wanted {
			return event.Id(), true
		}
	}
	return 0, false
}
