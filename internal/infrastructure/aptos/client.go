package aptos

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
	"github.com/arkade-os/moneypot/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	apiVersionPath = "/v1"

	defaultMaxGasAmount = 200_000
	defaultGasUnitPrice = 100
	defaultTxExpiration = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond

	payloadType   = "entry_function_payload"
	signatureType = "ed25519_signature"
	pendingTxType = "pending_transaction"
)

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxGasAmount(amount uint64) Option {
	return func(c *Client) {
		c.maxGasAmount = amount
	}
}

func WithGasUnitPrice(price uint64) Option {
	return func(c *Client) {
		c.gasUnitPrice = price
	}
}

func WithTxExpiration(expiration time.Duration) Option {
	return func(c *Client) {
		c.txExpiration = expiration
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
	}
}

// Client talks to a ledger node through its REST api. It implements both
// ports.TransactionService and ports.ViewService.
type Client struct {
	baseUrl    string
	httpClient *http.Client

	maxGasAmount uint64
	gasUnitPrice uint64
	txExpiration time.Duration
	pollInterval time.Duration
}

func NewClient(nodeURL string, opts ...Option) (*Client, error) {
	if len(nodeURL) == 0 {
		return nil, fmt.Errorf("missing node url")
	}
	u, err := url.Parse(nodeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid node url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid node url scheme %q", u.Scheme)
	}

	baseUrl := strings.TrimSuffix(u.String(), "/")
	if !strings.HasSuffix(baseUrl, apiVersionPath) {
		baseUrl += apiVersionPath
	}

	c := &Client{
		baseUrl: baseUrl,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxGasAmount: defaultMaxGasAmount,
		gasUnitPrice: defaultGasUnitPrice,
		txExpiration: defaultTxExpiration,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LedgerTime returns the timestamp of the latest committed ledger version.
func (c *Client) LedgerTime(ctx context.Context) (time.Time, error) {
	var info ledgerInfo
	if err := c.do(ctx, http.MethodGet, "", nil, &info); err != nil {
		return time.Time{}, err
	}
	micros, err := strconv.ParseInt(info.LedgerTimestamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ledger timestamp %q", info.LedgerTimestamp)
	}
	return time.UnixMicro(micros), nil
}

// ChainId returns the id of the chain the node belongs to.
func (c *Client) ChainId(ctx context.Context) (uint8, error) {
	var info ledgerInfo
	if err := c.do(ctx, http.MethodGet, "", nil, &info); err != nil {
		return 0, err
	}
	return info.ChainId, nil
}

func (c *Client) SequenceNumber(ctx context.Context, address string) (uint64, error) {
	addr, err := domain.NormalizeAddress(address)
	if err != nil {
		return 0, err
	}
	var account accountInfo
	if err := c.do(ctx, http.MethodGet, "/accounts/"+addr, nil, &account); err != nil {
		return 0, err
	}
	return strconv.ParseUint(account.SequenceNumber, 10, 64)
}

func (c *Client) Build(
	_ context.Context, function string, typeArgs []string, args []domain.Arg,
) (*ports.Payload, error) {
	if len(strings.Split(function, "::")) != 3 {
		return nil, fmt.Errorf("invalid function id %q", function)
	}
	values, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	if typeArgs == nil {
		typeArgs = []string{}
	}
	return &ports.Payload{
		Function:      function,
		TypeArguments: typeArgs,
		Arguments:     values,
	}, nil
}

func (c *Client) SignAndSubmit(
	ctx context.Context, signer ports.Signer, payload *ports.Payload,
) (string, error) {
	sender, err := domain.NormalizeAddress(signer.Address())
	if err != nil {
		return "", err
	}
	operation := operationName(payload.Function)

	seq, err := c.SequenceNumber(ctx, sender)
	if err != nil {
		return "", c.rejection(err, operation, sender)
	}

	tx := rawTransaction{
		Sender:         sender,
		SequenceNumber: strconv.FormatUint(seq, 10),
		MaxGasAmount:   strconv.FormatUint(c.maxGasAmount, 10),
		GasUnitPrice:   strconv.FormatUint(c.gasUnitPrice, 10),
		ExpirationTimestampSecs: strconv.FormatInt(
			time.Now().Add(c.txExpiration).Unix(), 10,
		),
		Payload: entryFunctionPayload{
			Type:          payloadType,
			Function:      payload.Function,
			TypeArguments: payload.TypeArguments,
			Arguments:     payload.Arguments,
		},
	}

	var msgHex string
	if err := c.do(
		ctx, http.MethodPost, "/transactions/encode_submission", tx, &msgHex,
	); err != nil {
		return "", c.rejection(err, operation, sender)
	}
	msg, err := hex.DecodeString(strings.TrimPrefix(msgHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signing message: %w", err)
	}

	sig, err := signer.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	signed := signedTransaction{
		rawTransaction: tx,
		Signature: transactionSignature{
			Type:      signatureType,
			PublicKey: "0x" + hex.EncodeToString(signer.PublicKey()),
			Signature: "0x" + hex.EncodeToString(sig),
		},
	}

	var pending pendingTransaction
	if err := c.do(ctx, http.MethodPost, "/transactions", signed, &pending); err != nil {
		return "", c.rejection(err, operation, sender)
	}

	log.WithFields(log.Fields{
		"tx":     pending.Hash,
		"sender": sender,
		"seq":    seq,
	}).Debug("transaction submitted")

	return pending.Hash, nil
}

// AwaitFinality polls the node until the transaction is committed. Unknown,
// pending and transient lookup failures keep polling, only ctx ends the
// wait early.
func (c *Client) AwaitFinality(
	ctx context.Context, txHash string,
) (*ports.TransactionResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		res, err := c.getTransaction(ctx, txHash)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("tx", txHash).Debug("transaction lookup failed")
		}
		if res != nil {
			return res, nil
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf(
					"transaction %s not committed: %w (last error: %s)",
					txHash, ctx.Err(), lastErr,
				)
			}
			return nil, fmt.Errorf("transaction %s not committed: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// getTransaction returns nil, nil while the transaction is unknown or
// pending.
func (c *Client) getTransaction(
	ctx context.Context, txHash string,
) (*ports.TransactionResult, error) {
	var tx transaction
	err := c.do(ctx, http.MethodGet, "/transactions/by_hash/"+url.PathEscape(txHash), nil, &tx)
	if err != nil {
		if reqErr, ok := err.(*requestError); ok && reqErr.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if tx.Type == pendingTxType {
		return nil, nil
	}

	version, err := strconv.ParseUint(tx.Version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction version %q", tx.Version)
	}
	gasUsed, _ := strconv.ParseUint(tx.GasUsed, 10, 64)

	events := make([]ports.LedgerEvent, 0, len(tx.Events))
	for _, e := range tx.Events {
		events = append(events, ports.LedgerEvent{
			Type:           e.Type,
			SequenceNumber: e.SequenceNumber,
			Data:           e.Data,
		})
	}

	return &ports.TransactionResult{
		Hash:     tx.Hash,
		Success:  tx.Success,
		VmStatus: tx.VmStatus,
		Version:  version,
		GasUsed:  gasUsed,
		Events:   events,
	}, nil
}

func (c *Client) Call(
	ctx context.Context, function string, typeArgs []string, args []domain.Arg,
) ([]json.RawMessage, error) {
	values, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	if typeArgs == nil {
		typeArgs = []string{}
	}

	var res []json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/view", viewRequest{
		Function:      function,
		TypeArguments: typeArgs,
		Arguments:     values,
	}, &res); err != nil {
		if reqErr, ok := err.(*requestError); ok {
			return nil, errors.VIEW_FAILED.Wrap(reqErr).
				WithMetadata(errors.ViewMetadata{Function: function})
		}
		return nil, err
	}
	return res, nil
}

// requestError is a 4xx answer of the node.
type requestError struct {
	endpoint string
	status   int
	body     apiError
}

func (e *requestError) Error() string {
	msg := e.body.Message
	if len(msg) == 0 {
		msg = http.StatusText(e.status)
	}
	if len(e.body.ErrorCode) > 0 {
		return fmt.Sprintf("%s (%d %s)", msg, e.status, e.body.ErrorCode)
	}
	return fmt.Sprintf("%s (%d)", msg, e.status)
}

// rejection turns a 4xx answer into a rejected transaction error, anything
// else is returned as is.
func (c *Client) rejection(err error, operation, sender string) error {
	reqErr, ok := err.(*requestError)
	if !ok {
		return err
	}
	md := errors.RejectionMetadata{
		Operation: operation,
		Sender:    sender,
		Status:    reqErr.status,
		ErrorCode: reqErr.body.ErrorCode,
	}
	if reqErr.body.ErrorCode == "vm_error" {
		md.VmStatus = reqErr.body.Message
	}
	return errors.TX_REJECTED.Wrap(reqErr).WithMetadata(md)
}

// do sends a JSON request and decodes the answer into out. Transport
// failures and 5xx answers are network errors, 4xx answers are returned
// as *requestError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	endpoint := c.baseUrl + path

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.EndpointMetadata{Endpoint: endpoint})
	}
	// nolint:all
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.EndpointMetadata{Endpoint: endpoint})
	}

	if resp.StatusCode >= 500 ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout {
		return errors.NETWORK_ERROR.New(
			"unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(data)),
		).WithMetadata(errors.EndpointMetadata{Endpoint: endpoint})
	}
	if resp.StatusCode >= 400 {
		reqErr := &requestError{endpoint: endpoint, status: resp.StatusCode}
		// nolint:errcheck
		json.Unmarshal(data, &reqErr.body)
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

func encodeArgs(args []domain.Arg) ([]any, error) {
	values := make([]any, 0, len(args))
	for i, arg := range args {
		v, err := arg.JSONValue()
		if err != nil {
			return nil, fmt.Errorf("invalid argument %d: %w", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func operationName(function string) string {
	if i := strings.LastIndex(function, "::"); i >= 0 {
		return function[i+2:]
	}
	return function
}

var (
	_ ports.TransactionService = (*Client)(nil)
	_ ports.ViewService        = (*Client)(nil)
	_ ports.Signer             = (*Account)(nil)
)
