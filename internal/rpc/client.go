package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type AuthType string

const (
	AuthTypeHeader AuthType = "header"
	AuthTypeQuery  AuthType = "query"
)

// AuthConfig holds per-node authentication configuration.
type AuthConfig struct {
	Type  AuthType
	Key   string
	Value string
}

// Client is a JSON-RPC client over HTTP for a single node.
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       *AuthConfig

	rpcID atomic.Int64
}

func NewClient(baseURL string, auth *AuthConfig, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		auth:       auth,
	}
}

func (c *Client) URL() string { return c.baseURL }

// CallRPC posts a single JSON-RPC request. An error response from the node
// is returned as a *RPCError.
func (c *Client) CallRPC(ctx context.Context, method string, params any) (*RPCResponse, error) {
	req := &RPCRequest{
		ID:      c.rpcID.Add(1),
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := c.baseURL
	if c.auth != nil && c.auth.Type == AuthTypeQuery {
		url = fmt.Sprintf("%s?%s=%s", url, c.auth.Key, c.auth.Value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.auth != nil && c.auth.Type == AuthTypeHeader {
		httpReq.Header.Set(c.auth.Key, c.auth.Value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, c.baseURL, string(data))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return &rpcResp, rpcResp.Error
	}
	return &rpcResp, nil
}

// IsHealthy probes the node with a cheap call.
func (c *Client) IsHealthy(ctx context.Context) bool {
	resp, err := c.CallRPC(ctx, "net_version", nil)
	return err == nil && resp.Error == nil
}
