package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrNotConfirmed    = errors.New("transaction not confirmed")
)

// Client is a minimal JSON-RPC client for the chain node.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetAccountData fetches the raw data of an account, or
// ErrAccountNotFound.
func (c *Client) GetAccountData(ctx context.Context, pubkey Pubkey) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	params := []interface{}{pubkey.String(), map[string]string{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(result.Value.Data) == 0 {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(result.Value.Data[0])
}

// AccountExists reports whether an account is initialised on chain.
func (c *Client) AccountExists(ctx context.Context, pubkey Pubkey) (bool, error) {
	_, err := c.GetAccountData(ctx, pubkey)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetBalance returns an account's balance in micro-units.
func (c *Client) GetBalance(ctx context.Context, pubkey Pubkey) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{pubkey.String()}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// GetLatestBlockhash fetches a recent blockhash for transaction
// construction.
func (c *Client) GetLatestBlockhash(ctx context.Context) ([32]byte, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return [32]byte{}, err
	}

	parsed, err := ParsePubkey(result.Value.Blockhash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid blockhash %q", result.Value.Blockhash)
	}
	return [32]byte(parsed), nil
}

// SendTransaction submits a signed transaction and returns its
// signature.
func (c *Client) SendTransaction(ctx context.Context, tx *Transaction, skipPreflight bool) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Serialize())
	params := []interface{}{encoded, map[string]interface{}{
		"encoding":      "base64",
		"skipPreflight": skipPreflight,
	}}

	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SendAndConfirmTransaction submits a transaction and polls until it
// is confirmed or the context expires.
func (c *Client) SendAndConfirmTransaction(ctx context.Context, tx *Transaction, skipPreflight bool) (string, error) {
	signature, err := c.SendTransaction(ctx, tx, skipPreflight)
	if err != nil {
		return "", err
	}
	if err := c.confirm(ctx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}

// confirm polls getSignatureStatuses until the signature lands.
func (c *Client) confirm(ctx context.Context, signature string) error {
	const attempts = 30
	for i := 0; i < attempts; i++ {
		var result struct {
			Value []*struct {
				ConfirmationStatus string      `json:"confirmationStatus"`
				Err                interface{} `json:"err"`
			} `json:"value"`
		}
		params := []interface{}{[]string{signature}}
		if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
			return err
		}

		if len(result.Value) > 0 && result.Value[0] != nil {
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err)
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	log.Warnf("Transaction %s not confirmed after polling", signature)
	return ErrNotConfirmed
}

// SignatureInfo is one entry of an address's transaction history.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Failed    bool   `json:"-"`
}

// GetSignaturesForAddress lists recent transaction signatures touching
// an account, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, pubkey Pubkey) ([]SignatureInfo, error) {
	var raw []struct {
		Signature string      `json:"signature"`
		Err       interface{} `json:"err"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{pubkey.String()}, &raw); err != nil {
		return nil, err
	}

	infos := make([]SignatureInfo, len(raw))
	for i, entry := range raw {
		infos[i] = SignatureInfo{Signature: entry.Signature, Failed: entry.Err != nil}
	}
	return infos, nil
}

// TransactionInfo carries the parts of a fetched transaction the
// relayer inspects: balance movements, the account key list, and
// program logs.
type TransactionInfo struct {
	Failed       bool
	PreBalances  []uint64
	PostBalances []uint64
	AccountKeys  []string
	LogMessages  []string
}

// GetTransaction fetches a confirmed transaction by signature, or
// ErrTxNotFound.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionInfo, error) {
	var result *struct {
		Meta *struct {
			Err          interface{} `json:"err"`
			PreBalances  []uint64    `json:"preBalances"`
			PostBalances []uint64    `json:"postBalances"`
			LogMessages  []string    `json:"logMessages"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}

	params := []interface{}{signature, map[string]string{"encoding": "json"}}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrTxNotFound
	}

	info := &TransactionInfo{
		AccountKeys: result.Transaction.Message.AccountKeys,
	}
	if result.Meta != nil {
		info.Failed = result.Meta.Err != nil
		info.PreBalances = result.Meta.PreBalances
		info.PostBalances = result.Meta.PostBalances
		info.LogMessages = result.Meta.LogMessages
	}
	return info, nil
}
