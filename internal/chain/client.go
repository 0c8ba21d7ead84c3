package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/coinpick/internal/log"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Client is a JSON-RPC client for a Bitcoin Core compatible node.
type Client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
	logger   zerolog.Logger
}

// retryAttempts and retryBackoff govern transient-failure retries. RPC-level
// errors (the node answered) are never retried.
const (
	retryAttempts = 3
	retryBackoff  = 500 * time.Millisecond
)

// New creates a client targeting the given endpoint with basic auth.
func New(endpoint, user, password string) *Client {
	return &Client{
		endpoint: endpoint,
		user:     user,
		password: password,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: klog.Chain,
	}
}

// request is a JSON-RPC request.
type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// response is a JSON-RPC response.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the node responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the
// provided pointer. Transport failures are retried with backoff; an error
// answered by the node is returned as *RPCError without retrying.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug().
				Str("method", method).
				Int("attempt", attempt+1).
				Msg("Retrying RPC call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		err := c.call(ctx, method, params, result)
		var rpcErr *RPCError
		if err == nil || errors.As(err, &rpcErr) || errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("rpc %s after %d attempts: %w", method, retryAttempts, lastErr)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "1.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// GetBlockCount returns the current tip height.
func (c *Client) GetBlockCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := c.Call(ctx, "getblockcount", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetBlockHash returns the hash of the block at the given height.
func (c *Client) GetBlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	var hexHash string
	if err := c.Call(ctx, "getblockhash", []interface{}{height}, &hexHash); err != nil {
		return types.Hash{}, err
	}
	hash, err := types.ParseHash(hexHash)
	if err != nil {
		return types.Hash{}, fmt.Errorf("block hash at %d: %w", height, err)
	}
	return hash, nil
}

// GetBlock fetches the block with the given hash in raw form (verbosity 0)
// and deserialises it, avoiding the decimal-coin values of verbose mode.
func (c *Client) GetBlock(ctx context.Context, hash types.Hash) (*wire.MsgBlock, error) {
	var rawHex string
	if err := c.Call(ctx, "getblock", []interface{}{hash.String(), 0}, &rawHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("block %s hex: %w", hash, err)
	}
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("block %s deserialize: %w", hash, err)
	}
	return &block, nil
}

// GetRawTransaction fetches a transaction by id.
func (c *Client) GetRawTransaction(ctx context.Context, txid types.Hash) (*wire.MsgTx, error) {
	var rawHex string
	if err := c.Call(ctx, "getrawtransaction", []interface{}{txid.String(), false}, &rawHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("tx %s hex: %w", txid, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tx %s deserialize: %w", txid, err)
	}
	return &tx, nil
}

// IsRegtest reports whether the node runs a regression-test chain.
func (c *Client) IsRegtest(ctx context.Context) (bool, error) {
	var info struct {
		Chain string `json:"chain"`
	}
	if err := c.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return false, err
	}
	return info.Chain == "regtest", nil
}

// Ping verifies the node is reachable and authenticated.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, "getblockcount", nil, nil)
}
