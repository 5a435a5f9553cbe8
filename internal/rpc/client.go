// Package rpc is a JSON-RPC client for the remote work authority.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrNoWork is returned by GetWork when the authority has nothing to hand
// out yet.
var ErrNoWork = errors.New("no work available")

// Authority defines the calls the farm binary makes to the remote authority.
type Authority interface {
	GetWork(ctx context.Context) (*WorkTemplate, error)
	SubmitSolution(ctx context.Context, sub SolutionSubmission) error
}

// RejectedError is returned when the authority explicitly refuses a
// solution (as opposed to a transport/RPC error). Rejected solutions
// should not be retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "solution rejected: " + e.Reason
}

// Client implements Authority using JSON-RPC over HTTP.
type Client struct {
	url      string
	user     string
	password string
	client   *http.Client
	idSeq    atomic.Int64
}

// NewClient creates a new JSON-RPC client.
func NewClient(url, user, password string) *Client {
	return &Client{
		url:      url,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Reconnect drops pooled connections so the next call dials the authority
// afresh.
func (c *Client) Reconnect() {
	c.client.CloseIdleConnections()
}

// call makes a JSON-RPC call and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := c.idSeq.Add(1)

	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.password != "" {
		httpReq.SetBasicAuth(c.user, c.password)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("RPC authentication failed (HTTP %d)", httpResp.StatusCode)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w (body: %s)", err, string(respBody))
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetWork fetches the current work template.
func (c *Client) GetWork(ctx context.Context) (*WorkTemplate, error) {
	result, err := c.call(ctx, "getwork")
	if err != nil {
		return nil, fmt.Errorf("getwork: %w", err)
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, ErrNoWork
	}

	var tmpl WorkTemplate
	if err := json.Unmarshal(result, &tmpl); err != nil {
		return nil, fmt.Errorf("unmarshal work template: %w", err)
	}
	return &tmpl, nil
}

// SubmitSolution submits a found solution. A refusal is reported as
// *RejectedError.
func (c *Client) SubmitSolution(ctx context.Context, sub SolutionSubmission) error {
	result, err := c.call(ctx, "submitsolution", sub)
	if err != nil {
		return fmt.Errorf("submitsolution: %w", err)
	}

	var verdict SubmitResult
	if err := json.Unmarshal(result, &verdict); err != nil {
		return fmt.Errorf("unmarshal submit result: %w", err)
	}
	if !verdict.Accepted {
		return &RejectedError{Reason: verdict.Reason}
	}
	return nil
}
