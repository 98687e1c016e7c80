package fakeledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/sha3"
)

const ChainId = 4

type entryFunctionPayload struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

type rawTransaction struct {
	Sender                  string               `json:"sender"`
	SequenceNumber          string               `json:"sequence_number"`
	MaxGasAmount            string               `json:"max_gas_amount"`
	GasUnitPrice            string               `json:"gas_unit_price"`
	ExpirationTimestampSecs string               `json:"expiration_timestamp_secs"`
	Payload                 entryFunctionPayload `json:"payload"`
}

type signature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type signedTransaction struct {
	rawTransaction
	Signature *signature `json:"signature"`
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

type apiError struct {
	Message     string  `json:"message"`
	ErrorCode   string  `json:"error_code"`
	VmErrorCode *uint64 `json:"vm_error_code"`
}

// Server exposes a Ledger through the node REST api.
type Server struct {
	ledger *Ledger
	router chi.Router

	lock           sync.Mutex
	failures       int
	failureStatus  int
	requestCounter map[string]int
}

func NewServer(ledger *Ledger) *Server {
	s := &Server{
		ledger:         ledger,
		requestCounter: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.countRequests)
	r.Use(s.injectFailures)
	r.Get("/v1", s.getLedgerInfo)
	r.Get("/v1/accounts/{address}", s.getAccount)
	r.Post("/v1/transactions/encode_submission", s.encodeSubmission)
	r.Post("/v1/transactions", s.submitTransaction)
	r.Get("/v1/transactions/by_hash/{hash}", s.getTransaction)
	r.Post("/v1/view", s.view)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FailRequests makes the next n requests fail with the given status.
func (s *Server) FailRequests(n, status int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failures = n
	s.failureStatus = status
}

// Requests returns how many requests hit the given route pattern.
func (s *Server) Requests(pattern string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.requestCounter[pattern]
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		s.lock.Lock()
		s.requestCounter[pattern]++
		s.lock.Unlock()
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		fail := s.failures > 0
		status := s.failureStatus
		if fail {
			s.failures--
		}
		s.lock.Unlock()

		if fail {
			writeError(w, status, "internal_error", "injected failure", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getLedgerInfo(w http.ResponseWriter, _ *http.Request) {
	now := s.ledger.Now()
	s.ledger.lock.Lock()
	version := s.ledger.version
	s.ledger.lock.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"chain_id":         ChainId,
		"epoch":            "1",
		"ledger_version":   strconv.FormatUint(version, 10),
		"ledger_timestamp": strconv.FormatInt(now.UnixMicro(), 10),
		"node_role":        "full_node",
	})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.NormalizeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sequence_number":    strconv.FormatUint(s.ledger.SequenceNumber(addr), 10),
		"authentication_key": addr,
	})
}

func (s *Server) encodeSubmission(w http.ResponseWriter, r *http.Request) {
	var tx rawTransaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if err := validateRawTransaction(tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	msg, err := signingMessage(tx)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, "0x"+hex.EncodeToString(msg))
}

func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx signedTransaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if err := validateRawTransaction(tx.rawTransaction); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if err := verifySignature(tx); err != nil {
		writeError(w, http.StatusBadRequest, "vm_error", err.Error(), vmCode(1))
		return
	}

	sender, _ := domain.NormalizeAddress(tx.Sender)
	seq, _ := strconv.ParseUint(tx.SequenceNumber, 10, 64)
	expected := s.ledger.SequenceNumber(sender)
	if seq < expected {
		writeError(w, http.StatusBadRequest, "vm_error", "SEQUENCE_NUMBER_TOO_OLD", vmCode(3))
		return
	}
	if seq > expected {
		writeError(w, http.StatusBadRequest, "vm_error", "SEQUENCE_NUMBER_TOO_NEW", vmCode(4))
		return
	}
	expiration, _ := strconv.ParseInt(tx.ExpirationTimestampSecs, 10, 64)
	if expiration <= s.ledger.Now().Unix() {
		writeError(w, http.StatusBadRequest, "vm_error", "TRANSACTION_EXPIRED", vmCode(6))
		return
	}

	hash, err := s.ledger.Submit(sender, &ports.Payload{
		Function:      tx.Payload.Function,
		TypeArguments: tx.Payload.TypeArguments,
		Arguments:     tx.Payload.Arguments,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_transaction_update", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"type":            "pending_transaction",
		"hash":            hash,
		"sender":          sender,
		"sequence_number": tx.SequenceNumber,
	})
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	res, pending, err := s.ledger.Transaction(hash)
	if err != nil {
		writeError(w, http.StatusNotFound, "transaction_not_found", err.Error(), nil)
		return
	}
	if pending {
		writeJSON(w, http.StatusOK, map[string]any{
			"type": "pending_transaction",
			"hash": hash,
		})
		return
	}

	events := make([]map[string]any, 0, len(res.Events))
	for _, e := range res.Events {
		events = append(events, map[string]any{
			"guid": map[string]string{
				"creation_number": "0",
				"account_address": "0x0",
			},
			"sequence_number": e.SequenceNumber,
			"type":            e.Type,
			"data":            e.Data,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":      "user_transaction",
		"hash":      res.Hash,
		"version":   strconv.FormatUint(res.Version, 10),
		"success":   res.Success,
		"vm_status": res.VmStatus,
		"gas_used":  strconv.FormatUint(res.GasUsed, 10),
		"events":    events,
	})
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	res, err := s.ledger.View(r.Context(), req.Function, req.Arguments)
	if err != nil {
		var abortErr *AbortError
		if errors.As(err, &abortErr) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), vmCode(4016))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validateRawTransaction(tx rawTransaction) error {
	if _, err := domain.NormalizeAddress(tx.Sender); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"sequence_number":           tx.SequenceNumber,
		"max_gas_amount":            tx.MaxGasAmount,
		"gas_unit_price":            tx.GasUnitPrice,
		"expiration_timestamp_secs": tx.ExpirationTimestampSecs,
	} {
		if _, err := strconv.ParseUint(v, 10, 64); err != nil {
			return fmt.Errorf("invalid %s: %q", name, v)
		}
	}
	if tx.Payload.Type != "entry_function_payload" {
		return fmt.Errorf("unsupported payload type %q", tx.Payload.Type)
	}
	if len(strings.Split(tx.Payload.Function, "::")) != 3 {
		return fmt.Errorf("invalid function id %q", tx.Payload.Function)
	}
	return nil
}

func signingMessage(tx rawTransaction) ([]byte, error) {
	buf, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	prefix := sha3.Sum256([]byte("APTOS::RawTransaction"))
	return append(prefix[:], buf...), nil
}

func verifySignature(tx signedTransaction) error {
	if tx.Signature == nil || tx.Signature.Type != "ed25519_signature" {
		return fmt.Errorf("INVALID_SIGNATURE")
	}
	pubkey, err := hex.DecodeString(strings.TrimPrefix(tx.Signature.PublicKey, "0x"))
	if err != nil || len(pubkey) != ed25519.PublicKeySize {
		return fmt.Errorf("INVALID_PUBLIC_KEY")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(tx.Signature.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("INVALID_SIGNATURE")
	}
	if !domain.SameAddress(AuthenticationKey(pubkey), tx.Sender) {
		return fmt.Errorf("INVALID_AUTH_KEY")
	}
	msg, err := signingMessage(tx.rawTransaction)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pubkey, msg, sig) {
		return fmt.Errorf("INVALID_SIGNATURE")
	}
	return nil
}

// AuthenticationKey returns the address owned by a single ed25519 key.
func AuthenticationKey(pubkey []byte) string {
	digest := sha3.Sum256(append(append([]byte{}, pubkey...), 0x00))
	return "0x" + hex.EncodeToString(digest[:])
}

func vmCode(code uint64) *uint64 {
	return &code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nolint:errcheck
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, vmErrorCode *uint64) {
	writeJSON(w, status, apiError{Message: msg, ErrorCode: code, VmErrorCode: vmErrorCode})
}
