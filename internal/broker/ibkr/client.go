// Package ibkr talks to an Interactive Brokers Client Portal style REST
// gateway and adapts it to broker.Gateway.
package ibkr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"allocator/internal/broker"
)

type Client struct {
	host       string
	httpClient *http.Client

	mu      sync.Mutex
	account string
}

var _ broker.Gateway = (*Client)(nil)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, account string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if host == "" {
		host = "https://localhost:5000/v1/api"
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		account:    strings.TrimSpace(account),
	}
}

// NewHTTPClient builds the transport for a local gateway, which usually serves
// a self-signed certificate.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// accountID returns the configured account or the first one the gateway lists.
func (c *Client) accountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	acct := c.account
	c.mu.Unlock()
	if acct != "" {
		return acct, nil
	}
	var accounts []struct {
		ID string `json:"id"`
	}
	if err := c.getJSON(ctx, "/portfolio/accounts", nil, &accounts); err != nil {
		return "", err
	}
	if len(accounts) == 0 || accounts[0].ID == "" {
		return "", fmt.Errorf("gateway reported no accounts")
	}
	c.mu.Lock()
	c.account = accounts[0].ID
	c.mu.Unlock()
	return accounts[0].ID, nil
}
