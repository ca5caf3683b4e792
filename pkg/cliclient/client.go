// Package cliclient is the thin HTTP client shared by gflow's CLI
// binaries. It never talks to the scheduler directly; every command goes
// over the loopback API gflowd exposes.
package cliclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AndPuQing/gflow/pkg/retry"
)

// Client wraps a base URL and an http.Client, retrying transient
// daemon-unreachable errors per pkg/retry.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Retry   retry.Config
}

// New builds a Client against baseURL (e.g. "http://127.0.0.1:7777").
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Retry:   retry.DefaultConfig(),
	}
}

// APIError carries a non-2xx daemon response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyBytes = b
	}

	var status int
	var respBody []byte

	// Only connection-level failures (daemon not yet up, transient
	// network blip) are worth retrying; an HTTP response of any status
	// means the daemon answered and retry.Do should stop. bodyBytes is
	// re-wrapped in a fresh reader each attempt since http.Request
	// consumes its body on send.
	err := retry.Do(ctx, c.Retry, func() error {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status = resp.StatusCode
		respBody = data
		return nil
	})
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{Status: status, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}
