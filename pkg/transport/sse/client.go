package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modoterra/cmdlog/pkg/core"
)

// Client opens command streams on a cmdlogd HTTP endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. headerTimeout bounds the wait
// for response headers only; the stream itself may run indefinitely.
func NewClient(baseURL string, headerTimeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
	}
}

// Open posts command and returns the event-stream body. Errors meaning the
// endpoint cannot stream at all wrap core.ErrStreamUnavailable.
func (c *Client) Open(ctx context.Context, command string) (io.ReadCloser, error) {
	body, err := json.Marshal(ExecRequest{Command: command})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ExecPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStreamUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected content type %q", core.ErrStreamUnavailable, ct)
		}
		return resp.Body, nil
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", core.ErrStreamUnavailable, resp.Status)
	default:
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("exec %s: %s", resp.Status, strings.TrimSpace(string(excerpt)))
	}
}
