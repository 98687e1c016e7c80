// Package fakeledger is an in-memory ledger hosting the money pot module. It
// can be used in-process through the ledger ports or served over HTTP with
// the same REST surface as a real node.
package fakeledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	ModuleName = "money_pot_manager"
	eventName  = "PotEvent"

	foreignEventType = "0x1::fungible_asset::Withdraw"
)

// Abort codes raised by the module.
const (
	EPotNotFound      = 1
	EPotNotActive     = 2
	EPotNotExpired    = 3
	EAttemptNotFound  = 4
	EAttemptResolved  = 5
	EPotExpired       = 6
	EInvalidArguments = 7
)

type Submission struct {
	Sender    string
	Function  string
	Arguments []any
	Hash      string
}

type Ledger struct {
	lock sync.Mutex

	contract string
	now      func() time.Time

	nextPotId     uint64
	nextAttemptId uint64
	pots          map[uint64]*domain.Pot
	attempts      map[uint64]*domain.Attempt
	txs           map[string]*ports.TransactionResult
	sequences     map[string]uint64
	version       uint64

	submissions      []Submission
	abortFunctions   map[string]string
	abortExpire      map[uint64]struct{}
	viewErrors       map[uint64]error
	rejectErr        error
	dropEvents       bool
	extraEvents      []ports.LedgerEvent
	viewDelay        time.Duration
	viewsInFlight    int
	maxViewsInFlight int
	pendingPolls     int
}

func New(contract string) *Ledger {
	addr, err := domain.NormalizeAddress(contract)
	if err != nil {
		panic(err)
	}
	return &Ledger{
		contract:       addr,
		now:            time.Now,
		pots:           make(map[uint64]*domain.Pot),
		attempts:       make(map[uint64]*domain.Attempt),
		txs:            make(map[string]*ports.TransactionResult),
		sequences:      make(map[string]uint64),
		abortFunctions: make(map[string]string),
		abortExpire:    make(map[uint64]struct{}),
		viewErrors:     make(map[uint64]error),
	}
}

func (l *Ledger) Contract() string {
	return l.contract
}

func (l *Ledger) EventType() string {
	return fmt.Sprintf("%s::%s::%s", l.contract, ModuleName, eventName)
}

func (l *Ledger) SetNow(now time.Time) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.now = func() time.Time { return now }
}

func (l *Ledger) Now() time.Time {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.now()
}

// SetNextIds sets the ids the next created pot and attempt will get.
func (l *Ledger) SetNextIds(potId, attemptId uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.nextPotId = potId
	l.nextAttemptId = attemptId
}

// AddPot stores the given pot as is.
func (l *Ledger) AddPot(pot domain.Pot) {
	l.lock.Lock()
	defer l.lock.Unlock()
	p := pot
	l.pots[pot.Id] = &p
	if pot.Id >= l.nextPotId {
		l.nextPotId = pot.Id + 1
	}
}

// AbortFunction makes every call to the entry function abort.
func (l *Ledger) AbortFunction(function, vmStatus string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.abortFunctions[function] = vmStatus
}

// AbortExpire makes any expiration touching the pot abort.
func (l *Ledger) AbortExpire(potIds ...uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, id := range potIds {
		l.abortExpire[id] = struct{}{}
	}
}

// FailView makes get_pot fail for the pot.
func (l *Ledger) FailView(potId uint64, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.viewErrors[potId] = err
}

// RejectSubmissions makes every submission fail before execution.
func (l *Ledger) RejectSubmissions(err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.rejectErr = err
}

// DropEvents strips contract events from transaction results.
func (l *Ledger) DropEvents(drop bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.dropEvents = drop
}

// AddEvents appends the given events, before the contract ones, to every
// following transaction result.
func (l *Ledger) AddEvents(events ...ports.LedgerEvent) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.extraEvents = append(l.extraEvents, events...)
}

func (l *Ledger) SetViewDelay(delay time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.viewDelay = delay
}

// SetPendingPolls makes transactions look pending for the given number of
// lookups before being reported as committed.
func (l *Ledger) SetPendingPolls(n int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.pendingPolls = n
}

func (l *Ledger) MaxViewsInFlight() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.maxViewsInFlight
}

func (l *Ledger) Submissions() []Submission {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]Submission(nil), l.submissions...)
}

// SubmissionsOf returns the submissions calling the given entry function.
func (l *Ledger) SubmissionsOf(function string) []Submission {
	list := make([]Submission, 0)
	for _, s := range l.Submissions() {
		if s.Function == function {
			list = append(list, s)
		}
	}
	return list
}

func (l *Ledger) Pot(id uint64) (domain.Pot, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	pot, ok := l.pots[id]
	if !ok {
		return domain.Pot{}, false
	}
	return *pot, true
}

func (l *Ledger) Attempt(id uint64) (domain.Attempt, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	attempt, ok := l.attempts[id]
	if !ok {
		return domain.Attempt{}, false
	}
	return *attempt, true
}

func (l *Ledger) SequenceNumber(addr string) uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.sequences[normalize(addr)]
}

func (l *Ledger) Build(
	_ context.Context, function string, typeArgs []string, args []domain.Arg,
) (*ports.Payload, error) {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		v, err := arg.JSONValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &ports.Payload{Function: function, TypeArguments: typeArgs, Arguments: values}, nil
}

func (l *Ledger) SignAndSubmit(
	_ context.Context, signer ports.Signer, payload *ports.Payload,
) (string, error) {
	return l.Submit(signer.Address(), payload)
}

func (l *Ledger) AwaitFinality(ctx context.Context, txHash string) (*ports.TransactionResult, error) {
	for {
		res, pending, err := l.Transaction(txHash)
		if err != nil {
			return nil, err
		}
		if !pending {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (l *Ledger) Call(
	ctx context.Context, function string, _ []string, args []domain.Arg,
) ([]json.RawMessage, error) {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		v, err := arg.JSONValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return l.View(ctx, function, values)
}

// Submit executes the payload on behalf of sender and returns the hash of
// the resulting transaction.
func (l *Ledger) Submit(sender string, payload *ports.Payload) (string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.rejectErr != nil {
		return "", l.rejectErr
	}

	sender = normalize(sender)
	l.sequences[sender]++
	l.version++

	hash := txHash(sender, l.sequences[sender], payload)
	l.submissions = append(l.submissions, Submission{
		Sender:    sender,
		Function:  shortName(payload.Function),
		Arguments: payload.Arguments,
		Hash:      hash,
	})

	events, vmStatus := l.execute(sender, payload)
	res := &ports.TransactionResult{
		Hash:     hash,
		Success:  len(vmStatus) == 0,
		VmStatus: "Executed successfully",
		Version:  l.version,
		GasUsed:  uint64(10 + len(events)),
		Events:   append(append([]ports.LedgerEvent{}, l.extraEvents...), events...),
	}
	if !res.Success {
		res.VmStatus = vmStatus
		res.Events = nil
	}
	if l.dropEvents {
		res.Events = append([]ports.LedgerEvent{}, l.extraEvents...)
	}
	l.txs[hash] = res
	return hash, nil
}

// Transaction returns the committed transaction with the given hash.
func (l *Ledger) Transaction(hash string) (*ports.TransactionResult, bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	res, ok := l.txs[hash]
	if !ok {
		return nil, false, errors.TX_ABORTED.New("transaction %s not found", hash).
			WithMetadata(errors.TxMetadata{TxHash: hash})
	}
	if l.pendingPolls > 0 {
		l.pendingPolls--
		return nil, true, nil
	}
	return res, false, nil
}

// View runs a view function with JSON encoded arguments.
func (l *Ledger) View(
	ctx context.Context, function string, args []any,
) ([]json.RawMessage, error) {
	l.lock.Lock()
	l.viewsInFlight++
	if l.viewsInFlight > l.maxViewsInFlight {
		l.maxViewsInFlight = l.viewsInFlight
	}
	delay := l.viewDelay
	l.lock.Unlock()

	defer func() {
		l.lock.Lock()
		l.viewsInFlight--
		l.lock.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if !l.ownsFunction(function) {
		return nil, &AbortError{Code: EInvalidArguments, Reason: "unknown module"}
	}

	var value any
	switch shortName(function) {
	case domain.ViewGetActivePots:
		ids := make([]string, 0)
		for _, id := range l.sortedPotIds() {
			if l.pots[id].IsActive {
				ids = append(ids, strconv.FormatUint(id, 10))
			}
		}
		value = ids
	case domain.ViewGetPots:
		ids := make([]string, 0)
		for _, id := range l.sortedPotIds() {
			ids = append(ids, strconv.FormatUint(id, 10))
		}
		value = ids
	case domain.ViewGetPot:
		id, err := u64Arg(args, 0)
		if err != nil {
			return nil, err
		}
		if err, ok := l.viewErrors[id]; ok {
			return nil, err
		}
		pot, ok := l.pots[id]
		if !ok {
			return nil, &AbortError{Code: EPotNotFound, Reason: "pot not found"}
		}
		value = potJSON(pot)
	case domain.ViewGetAttempt:
		id, err := u64Arg(args, 0)
		if err != nil {
			return nil, err
		}
		attempt, ok := l.attempts[id]
		if !ok {
			return nil, &AbortError{Code: EAttemptNotFound, Reason: "attempt not found"}
		}
		value = map[string]any{
			"id":     strconv.FormatUint(attempt.Id, 10),
			"pot_id": strconv.FormatUint(attempt.PotId, 10),
			"hunter": attempt.Hunter,
			"status": uint8(attempt.Status),
		}
	default:
		return nil, &AbortError{Code: EInvalidArguments, Reason: "unknown view " + function}
	}

	buf, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{buf}, nil
}

// AbortError is returned by views when the module aborts.
type AbortError struct {
	Code   uint64
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("Move abort in %s: %d (%s)", ModuleName, e.Code, e.Reason)
}

func (l *Ledger) execute(sender string, payload *ports.Payload) ([]ports.LedgerEvent, string) {
	if !l.ownsFunction(payload.Function) {
		return nil, "FUNCTION_RESOLUTION_FAILURE"
	}
	function := shortName(payload.Function)
	if status, ok := l.abortFunctions[function]; ok {
		return nil, status
	}

	args := payload.Arguments
	now := uint64(l.now().Unix())

	switch function {
	case "create_pot_entry":
		amount, err1 := u64Arg(args, 0)
		duration, err2 := u64Arg(args, 1)
		fee, err3 := u64Arg(args, 2)
		oneFa, err4 := addressArg(args, 3)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, abortStatus(EInvalidArguments)
		}
		id := l.nextPotId
		l.nextPotId++
		l.pots[id] = &domain.Pot{
			Id:           id,
			Creator:      sender,
			TotalAmount:  amount,
			Fee:          fee,
			OneFaAddress: oneFa,
			ExpiresAt:    now + duration,
			IsActive:     true,
		}
		return []ports.LedgerEvent{l.event("create", id)}, ""

	case "attempt_pot_entry":
		potId, err := u64Arg(args, 0)
		if err != nil {
			return nil, abortStatus(EInvalidArguments)
		}
		pot, ok := l.pots[potId]
		if !ok {
			return nil, abortStatus(EPotNotFound)
		}
		if !pot.IsActive {
			return nil, abortStatus(EPotNotActive)
		}
		if pot.IsExpired(l.now()) {
			return nil, abortStatus(EPotExpired)
		}
		id := l.nextAttemptId
		l.nextAttemptId++
		l.attempts[id] = &domain.Attempt{
			Id:     id,
			PotId:  potId,
			Hunter: sender,
			Status: domain.AttemptPending,
		}
		pot.AttemptsCount++
		return []ports.LedgerEvent{l.event("attempt", id)}, ""

	case "attempt_completed":
		attemptId, err1 := u64Arg(args, 0)
		status, err2 := boolArg(args, 1)
		if err := firstErr(err1, err2); err != nil {
			return nil, abortStatus(EInvalidArguments)
		}
		attempt, ok := l.attempts[attemptId]
		if !ok {
			return nil, abortStatus(EAttemptNotFound)
		}
		if attempt.Status.IsResolved() {
			return nil, abortStatus(EAttemptResolved)
		}
		pot := l.pots[attempt.PotId]
		if !pot.IsActive {
			return nil, abortStatus(EPotNotActive)
		}
		if status {
			attempt.Status = domain.AttemptSucceeded
			pot.IsActive = false
		} else {
			attempt.Status = domain.AttemptFailed
		}
		return []ports.LedgerEvent{l.event("complete", attemptId)}, ""

	case "expire_pot":
		potId, err := u64Arg(args, 0)
		if err != nil {
			return nil, abortStatus(EInvalidArguments)
		}
		if code := l.checkExpirable(potId); code != 0 {
			return nil, abortStatus(code)
		}
		l.pots[potId].IsActive = false
		return []ports.LedgerEvent{l.event("expire", potId)}, ""

	case "expire_pots_batch":
		ids := make([]uint64, 0, len(args))
		for i := range args {
			id, err := u64Arg(args, i)
			if err != nil {
				return nil, abortStatus(EInvalidArguments)
			}
			if id == domain.BatchSentinelPotId {
				continue
			}
			if code := l.checkExpirable(id); code != 0 {
				return nil, abortStatus(code)
			}
			ids = append(ids, id)
		}
		events := make([]ports.LedgerEvent, 0, len(ids))
		for _, id := range ids {
			l.pots[id].IsActive = false
			events = append(events, l.event("expire", id))
		}
		return events, ""

	default:
		return nil, "FUNCTION_RESOLUTION_FAILURE"
	}
}

func (l *Ledger) checkExpirable(potId uint64) int {
	if _, ok := l.abortExpire[potId]; ok {
		return EPotNotExpired
	}
	pot, ok := l.pots[potId]
	if !ok {
		return EPotNotFound
	}
	if !pot.IsActive {
		return EPotNotActive
	}
	if !pot.IsExpired(l.now()) {
		return EPotNotExpired
	}
	return 0
}

func (l *Ledger) event(tag string, id uint64) ports.LedgerEvent {
	data, _ := json.Marshal(map[string]string{
		"id":         strconv.FormatUint(id, 10),
		"event_type": "0x" + hex.EncodeToString([]byte(tag)),
	})
	return ports.LedgerEvent{
		Type:           l.EventType(),
		SequenceNumber: "0",
		Data:           data,
	}
}

// ForeignEvent returns an event emitted by another module.
func ForeignEvent() ports.LedgerEvent {
	return ports.LedgerEvent{
		Type:           foreignEventType,
		SequenceNumber: "0",
		Data:           json.RawMessage(`{"store":"0xa","amount":"100"}`),
	}
}

func (l *Ledger) ownsFunction(function string) bool {
	parts := strings.SplitN(function, "::", 3)
	return len(parts) == 3 && parts[1] == ModuleName && domain.SameAddress(parts[0], l.contract)
}

func (l *Ledger) sortedPotIds() []uint64 {
	ids := make([]uint64, 0, len(l.pots))
	for id := range l.pots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func potJSON(pot *domain.Pot) map[string]any {
	return map[string]any{
		"id":             strconv.FormatUint(pot.Id, 10),
		"creator":        pot.Creator,
		"total_amount":   strconv.FormatUint(pot.TotalAmount, 10),
		"fee":            strconv.FormatUint(pot.Fee, 10),
		"one_fa_address": pot.OneFaAddress,
		"expires_at":     strconv.FormatUint(pot.ExpiresAt, 10),
		"is_active":      pot.IsActive,
		"attempts_count": strconv.FormatUint(pot.AttemptsCount, 10),
	}
}

func abortStatus(code int) string {
	return fmt.Sprintf("Move abort in %s: 0x%x", ModuleName, code)
}

func txHash(sender string, seq uint64, payload *ports.Payload) string {
	buf, _ := json.Marshal(payload)
	h := sha3.New256()
	h.Write([]byte(sender))
	h.Write([]byte(strconv.FormatUint(seq, 10)))
	h.Write(buf)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func shortName(function string) string {
	if i := strings.LastIndex(function, "::"); i >= 0 {
		return function[i+2:]
	}
	return function
}

func normalize(addr string) string {
	if n, err := domain.NormalizeAddress(addr); err == nil {
		return n
	}
	return addr
}

func u64Arg(args []any, i int) (uint64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case string:
		return strconv.ParseUint(v, 10, 64)
	case float64:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("argument %d is not a u64", i)
	}
}

func boolArg(args []any, i int) (bool, error) {
	if i >= len(args) {
		return false, fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("argument %d is not a bool", i)
	}
	return v, nil
}

func addressArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is not an address", i)
	}
	return domain.NormalizeAddress(v)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
