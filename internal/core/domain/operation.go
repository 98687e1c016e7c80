package domain

import (
	"fmt"
	"strconv"
)

// BatchSentinelPotId fills the unused slots of a batch expiration call. The
// contract treats it as a no-op, so it is never a real target of a batch.
const BatchSentinelPotId uint64 = 0

type Operation string

const (
	OperationCreatePot      Operation = "create_pot"
	OperationAttemptPot     Operation = "attempt_pot"
	OperationResolveAttempt Operation = "resolve_attempt"
	OperationExpirePot      Operation = "expire_pot"
	OperationExpireBatch    Operation = "expire_batch"
)

// EntryFunctions maps each operation to the contract entry function name.
var EntryFunctions = map[Operation]string{
	OperationCreatePot:      "create_pot_entry",
	OperationAttemptPot:     "attempt_pot_entry",
	OperationResolveAttempt: "attempt_completed",
	OperationExpirePot:      "expire_pot",
	OperationExpireBatch:    "expire_pots_batch",
}

// View functions exposed by the contract.
const (
	ViewGetActivePots = "get_active_pots"
	ViewGetPots       = "get_pots"
	ViewGetPot        = "get_pot"
	ViewGetAttempt    = "get_attempt"
)

type ArgType uint8

const (
	ArgU64 ArgType = iota
	ArgBool
	ArgAddress
)

func (t ArgType) String() string {
	switch t {
	case ArgU64:
		return "u64"
	case ArgBool:
		return "bool"
	case ArgAddress:
		return "address"
	default:
		return "unknown"
	}
}

// Arg is a typed call argument.
type Arg struct {
	Type    ArgType
	U64     uint64
	Bool    bool
	Address string
}

func U64(v uint64) Arg     { return Arg{Type: ArgU64, U64: v} }
func Bool(v bool) Arg      { return Arg{Type: ArgBool, Bool: v} }
func Address(v string) Arg { return Arg{Type: ArgAddress, Address: v} }

// JSONValue renders the argument the way ledger nodes expect it in JSON
// payloads: u64 as decimal strings, addresses as 0x-prefixed hex.
func (a Arg) JSONValue() (any, error) {
	switch a.Type {
	case ArgU64:
		return strconv.FormatUint(a.U64, 10), nil
	case ArgBool:
		return a.Bool, nil
	case ArgAddress:
		return NormalizeAddress(a.Address)
	default:
		return nil, fmt.Errorf("unknown arg type %d", a.Type)
	}
}

func (a Arg) String() string {
	switch a.Type {
	case ArgU64:
		return strconv.FormatUint(a.U64, 10)
	case ArgBool:
		return strconv.FormatBool(a.Bool)
	default:
		return a.Address
	}
}
