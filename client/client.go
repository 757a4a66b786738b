// Package client implements the HTTP transport that opens one streaming
// chat request against the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/paulchrisluke/quillsync/conversation"
)

const defaultChatPath = "/api/ai/chat"

// StatusError is a non-2xx response with the best available message
// extracted from its body.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Client opens SSE chat streams over HTTP.
type Client struct {
	baseURL    string
	chatPath   string
	authToken  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithResponseHeaderTimeout bounds how long to wait for the server to send
// response headers when opening a stream.
func WithResponseHeaderTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
			transport.ResponseHeaderTimeout = timeout
		}
	}
}

// WithChatPath overrides the chat endpoint path.
func WithChatPath(path string) Option {
	return func(c *Client) { c.chatPath = path }
}

// WithHTTPClient overrides the underlying http client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// New returns a client for the given base URL. No overall timeout is set
// on the http client: a turn runs until the server closes the stream or
// the request context is cancelled.
func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		chatPath: defaultChatPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// OpenStream POSTs the chat request and returns the response body for SSE
// consumption. Closing the body is the caller's responsibility on every
// exit path; cancelling ctx unblocks in-flight reads.
func (c *Client) OpenStream(ctx context.Context, request *conversation.ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.chatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "opening stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(resp.StatusCode, body),
		}
	}
	return resp.Body, nil
}

// errorBody is the JSON shape of a non-2xx response. Messages may sit at
// the top level or one level down under data.
type errorBody struct {
	StatusMessage string `json:"statusMessage"`
	Message       string `json:"message"`
	Data          *struct {
		StatusMessage string `json:"statusMessage"`
		Message       string `json:"message"`
	} `json:"data"`
}

func extractErrorMessage(statusCode int, body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.StatusMessage != "":
			return parsed.StatusMessage
		case parsed.Message != "":
			return parsed.Message
		case parsed.Data != nil && parsed.Data.StatusMessage != "":
			return parsed.Data.StatusMessage
		case parsed.Data != nil && parsed.Data.Message != "":
			return parsed.Data.Message
		}
	}
	return fmt.Sprintf("request failed with status %d (%s)", statusCode, http.StatusText(statusCode))
}
