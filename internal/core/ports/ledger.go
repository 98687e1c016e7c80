package ports

import (
	"context"
	"encoding/json"

	"github.com/arkade-os/moneypot/internal/core/domain"
)

// Signer is a pre-loaded signing identity. It never leaves the process.
type Signer interface {
	Address() string
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

// Payload is an entry function call ready to be signed. Its content is
// opaque to the core and only meaningful to the TransactionService that
// built it.
type Payload struct {
	Function      string
	TypeArguments []string
	Arguments     []any
}

type TransactionRequest struct {
	Operation domain.Operation
	Args      []domain.Arg
	Signer    Signer
}

// LedgerEvent is an event as returned by the ledger, before decoding.
type LedgerEvent struct {
	Type           string
	SequenceNumber string
	Data           json.RawMessage
}

type TransactionResult struct {
	Hash     string
	Success  bool
	VmStatus string
	Version  uint64
	GasUsed  uint64
	Events   []LedgerEvent
}

type TransactionService interface {
	Build(
		ctx context.Context, function string, typeArgs []string, args []domain.Arg,
	) (*Payload, error)
	SignAndSubmit(ctx context.Context, signer Signer, payload *Payload) (string, error)
	// AwaitFinality blocks until the transaction is committed or ctx is done.
	AwaitFinality(ctx context.Context, txHash string) (*TransactionResult, error)
}

type ViewService interface {
	Call(
		ctx context.Context, function string, typeArgs []string, args []domain.Arg,
	) ([]json.RawMessage, error)
}
