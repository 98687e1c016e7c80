package domain

type EventKind string

const (
	EventPotCreated      EventKind = "created"
	EventPotAttempted    EventKind = "attempted"
	EventAttemptResolved EventKind = "resolved"
	EventPotExpired      EventKind = "expired"
)

// Tags carried on-chain by the contract's PotEvent, mapped to their kind.
var eventTags = map[string]EventKind{
	"create":   EventPotCreated,
	"attempt":  EventPotAttempted,
	"complete": EventAttemptResolved,
	"expire":   EventPotExpired,
}

// EventKindFromTag returns the kind for the given on-chain tag.
func EventKindFromTag(tag string) (EventKind, bool) {
	kind, ok := eventTags[tag]
	return kind, ok
}

// EventTag is the inverse of EventKindFromTag.
func EventTag(kind EventKind) string {
	for tag, k := range eventTags {
		if k == kind {
			return tag
		}
	}
	return ""
}

// Event is a decoded contract event. Implementations are PotCreated,
// PotAttempted, AttemptResolved and PotExpired.
type Event interface {
	Kind() EventKind
	// Id returns the identifier the event refers to: a pot id for created
	// and expired events, an attempt id otherwise.
	Id() uint64
}

type PotCreated struct {
	PotId uint64
}

func (e PotCreated) Kind() EventKind { return EventPotCreated }
func (e PotCreated) Id() uint64      { return e.PotId }

type PotAttempted struct {
	AttemptId uint64
}

func (e PotAttempted) Kind() EventKind { return EventPotAttempted }
func (e PotAttempted) Id() uint64      { return e.AttemptId }

type AttemptResolved struct {
	AttemptId uint64
}

func (e AttemptResolved) Kind() EventKind { return EventAttemptResolved }
func (e AttemptResolved) Id() uint64      { return e.AttemptId }

type PotExpired struct {
	PotId uint64
}

func (e PotExpired) Kind() EventKind { return EventPotExpired }
func (e PotExpired) Id() uint64      { return e.PotId }

// NewEvent builds the concrete event for the given kind.
func NewEvent(kind EventKind, id uint64) (Event, bool) {
	switch kind {
	case EventPotCreated:
		return PotCreated{id}, true
	case EventPotAttempted:
		return PotAttempted{id}, true
	case EventAttemptResolved:
		return AttemptResolved{id}, true
	case EventPotExpired:
		return PotExpired{id}, true
	default:
		return nil, false
	}
}
