package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

// Is reports whether any error in err's chain carries this code.
func (c Code[MT]) Is(err error) bool {
	for err != nil {
		var e Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code() == c.Code {
			return true
		}
		err = e.Unwrap()
	}
	return false
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
	Unwrap() error
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
	TypedMetadata() MT
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) TypedMetadata() MT {
	return e.metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

// As returns the outermost typed error in err's chain, if any.
func As(err error) (Error, bool) {
	var e Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type EndpointMetadata struct {
	Endpoint  string `json:"endpoint"`
	Operation string `json:"operation,omitempty"`
}

type RejectionMetadata struct {
	Operation string `json:"operation"`
	Sender    string `json:"sender"`
	Status    int    `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	VmStatus  string `json:"vm_status,omitempty"`
}

type TxMetadata struct {
	Operation string `json:"operation"`
	Sender    string `json:"sender"`
	TxHash    string `json:"tx_hash,omitempty"`
	VmStatus  string `json:"vm_status,omitempty"`
}

type CorrelationMetadata struct {
	Operation  string `json:"operation"`
	TxHash     string `json:"tx_hash"`
	WantedKind string `json:"wanted_kind"`
	PotId      uint64 `json:"pot_id,omitempty"`
	AttemptId  uint64 `json:"attempt_id,omitempty"`
}

type EventDecodeMetadata struct {
	TxHash         string `json:"tx_hash"`
	EventType      string `json:"event_type"`
	SequenceNumber string `json:"sequence_number"`
}

type ViewMetadata struct {
	Function string `json:"function"`
	Response string `json:"response,omitempty"`
}

type SweepScanMetadata struct {
	RunId      string `json:"run_id"`
	Chunk      int    `json:"chunk"`
	ChunkCount int    `json:"chunk_count"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
var NETWORK_ERROR = Code[EndpointMetadata]{1, "NETWORK_ERROR", grpccodes.Unavailable}
var TX_REJECTED = Code[RejectionMetadata]{2, "TX_REJECTED", grpccodes.InvalidArgument}
var TX_ABORTED = Code[TxMetadata]{3, "TX_ABORTED", grpccodes.Aborted}
var TX_TIMEOUT = Code[TxMetadata]{4, "TX_TIMEOUT", grpccodes.DeadlineExceeded}

var CORRELATION_FAILED = Code[CorrelationMetadata]{
	5,
	"CORRELATION_FAILED",
	grpccodes.NotFound,
}

var EVENT_DECODE_FAILED = Code[EventDecodeMetadata]{
	6,
	"EVENT_DECODE_FAILED",
	grpccodes.DataLoss,
}
var INVALID_ARGUMENT = Code[map[string]any]{7, "INVALID_ARGUMENT", grpccodes.InvalidArgument}

var INVALID_VIEW_RESPONSE = Code[ViewMetadata]{
	8,
	"INVALID_VIEW_RESPONSE",
	grpccodes.Internal,
}

var SWEEP_SCAN_FAILED = Code[SweepScanMetadata]{
	9,
	"SWEEP_SCAN_FAILED",
	grpccodes.Unavailable,
}

var VIEW_FAILED = Code[ViewMetadata]{10, "VIEW_FAILED", grpccodes.FailedPrecondition}
var TX_CANCELED = Code[TxMetadata]{11, "TX_CANCELED", grpccodes.Canceled}
