package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// JSON-RPC error codes the gateway uses for business outcomes.
const (
	codeExecutionReverted = 3
	codeInsufficientFunds = -32010
)

// Gateway is a Provider backed by a JSON-RPC 2.0 ledger gateway. The gateway
// owns ABI selectors, account abstraction bundling and signing; this client
// only speaks contract/function/args.
type Gateway struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

// NewGateway creates a gateway client. timeout bounds every HTTP round trip.
func NewGateway(url string, timeout time.Duration) *Gateway {
	return &Gateway{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type callParams struct {
	Contract string   `json:"contract"`
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

type txParams struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Function string   `json:"function"`
	Args     []string `json:"args"`
	Value    string   `json:"value"`
}

type receiptResult struct {
	TxID         string `json:"txId"`
	BlockNumber  uint64 `json:"blockNumber"`
	Success      bool   `json:"success"`
	Cost         string `json:"cost"`
	RevertReason string `json:"revertReason"`
}

func toTxParams(tx Tx) txParams {
	value := "0"
	if tx.Value != nil {
		value = tx.Value.String()
	}
	return txParams{From: tx.From, To: tx.To, Function: tx.Function, Args: tx.Args, Value: value}
}

// Call implements Provider.
func (g *Gateway) Call(ctx context.Context, contract, function string, args []string) ([]byte, error) {
	var out string
	if err := g.invoke(ctx, "ledger_call", &out, callParams{Contract: contract, Function: function, Args: args}); err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(out, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger_call: bad return data: %w", err)
	}
	return data, nil
}

// EstimateCost implements Provider.
func (g *Gateway) EstimateCost(ctx context.Context, tx Tx) (*big.Int, error) {
	var out string
	if err := g.invoke(ctx, "ledger_estimateCost", &out, toTxParams(tx)); err != nil {
		return nil, err
	}
	return parseQuantity(out)
}

// SendTransaction implements Provider.
func (g *Gateway) SendTransaction(ctx context.Context, tx Tx) (string, error) {
	var txID string
	if err := g.invoke(ctx, "ledger_sendTransaction", &txID, toTxParams(tx)); err != nil {
		return "", err
	}
	if txID == "" {
		return "", fmt.Errorf("ledger_sendTransaction: empty transaction id")
	}
	return txID, nil
}

// GetTransactionReceipt implements Provider.
func (g *Gateway) GetTransactionReceipt(ctx context.Context, txID string) (*Receipt, error) {
	var out *receiptResult
	if err := g.invoke(ctx, "ledger_getTransactionReceipt", &out, txID); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	r := &Receipt{
		TxID:         out.TxID,
		BlockNumber:  out.BlockNumber,
		Success:      out.Success,
		RevertReason: out.RevertReason,
	}
	if out.Cost != "" {
		cost, err := parseQuantity(out.Cost)
		if err != nil {
			return nil, err
		}
		r.Cost = cost
	}
	return r, nil
}

// Balance implements Provider.
func (g *Gateway) Balance(ctx context.Context, address string) (*big.Int, error) {
	var out string
	if err := g.invoke(ctx, "ledger_getBalance", &out, address); err != nil {
		return nil, err
	}
	return parseQuantity(out)
}

func (g *Gateway) invoke(ctx context.Context, method string, result any, params ...any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      g.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNetwork, method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: gateway status %d", domain.ErrNetwork, method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: gateway status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", domain.ErrNetwork, method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error.asError(method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (e *rpcError) asError(method string) error {
	switch {
	case e.Code == codeExecutionReverted || strings.Contains(e.Message, "execution reverted"):
		reason := e.Data
		if reason == "" {
			reason = strings.TrimSpace(strings.TrimPrefix(e.Message, "execution reverted:"))
			if reason == "execution reverted" {
				reason = ""
			}
		}
		return &domain.RevertError{Reason: reason}
	case e.Code == codeInsufficientFunds || strings.Contains(e.Message, "insufficient funds"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, e.Message)
	case e.Code == -32603 || e.Code == -32005:
		// internal error and limit exceeded are worth another attempt
		return fmt.Errorf("%w: %s: %s", domain.ErrNetwork, method, e.Message)
	default:
		return errors.New(method + ": " + e.Message)
	}
}

// parseQuantity accepts decimal or 0x-prefixed hex integers.
func parseQuantity(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("bad quantity %q", s)
	}
	return v, nil
}
