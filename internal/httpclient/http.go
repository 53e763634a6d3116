package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	Interrupt       = -5 // request canceled by the caller.
	URLParseError   = -4 // invalid url.
	ConnectionError = -3 // network errors.
	Timeout         = -2 // request deadline exceeded.
	Unknown         = -1
)

// APIError is returned for every failed call. Status carries the HTTP status
// code, or one of the negative transport codes above when no response arrived.
type APIError struct {
	Status   int
	Message  string
	Original error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("master responded %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Original
}

// IsTransport reports whether the request never got an HTTP response.
func (e *APIError) IsTransport() bool {
	return e.Status <= 0
}

// StatusOf extracts the HTTP status from err, or 0 if err is not an APIError
// carrying a response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status > 0 {
		return apiErr.Status
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

type Option struct {
	BaseURL string
	Timeout time.Duration
}

// Client speaks JSON to the master deployment.
type Client struct {
	client  *http.Client
	baseURL *url.URL
}

func New(option Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(option.BaseURL, "/") + "/")
	if err != nil {
		return nil, &APIError{Message: "invalid url", Original: err, Status: URLParseError}
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, &APIError{Message: fmt.Sprintf("invalid base url %q", option.BaseURL), Status: URLParseError}
	}
	return &Client{
		client:  &http.Client{Timeout: option.Timeout},
		baseURL: base,
	}, nil
}

// Resolve turns a path or absolute URL as handed out by the master into an
// absolute URL. Relative references resolve against the configured base.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", &APIError{Message: "invalid url", Original: err, Status: URLParseError}
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	return c.baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(u.Path, "/"), RawQuery: u.RawQuery}).String(), nil
}

func (c *Client) Get(ctx context.Context, ref, token string, responseData any) error {
	return c.Do(ctx, http.MethodGet, ref, token, nil, responseData)
}

func (c *Client) Post(ctx context.Context, ref, token string, requestBody, responseData any) error {
	return c.Do(ctx, http.MethodPost, ref, token, requestBody, responseData)
}

func (c *Client) Delete(ctx context.Context, ref, token string) error {
	return c.Do(ctx, http.MethodDelete, ref, token, nil, nil)
}

// Do performs one request. Any 2xx status is success; the body, if any, is
// decoded into responseData.
func (c *Client) Do(ctx context.Context, method, ref, token string, requestBody, responseData any) error {
	target, err := c.Resolve(ref)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if requestBody != nil {
		jsonData, err := json.Marshal(requestBody)
		if err != nil {
			return &APIError{Message: err.Error(), Original: err, Status: Unknown}
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return &APIError{Message: err.Error(), Original: err, Status: URLParseError}
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return handleHTTPError(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return handleHTTPError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(bodyBytes))
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Message: msg, Status: resp.StatusCode}
	}

	if responseData != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, responseData); err != nil {
			return &APIError{
				Message:  fmt.Sprintf("failed to decode response: %v", err),
				Original: err,
				Status:   resp.StatusCode,
			}
		}
	}
	return nil
}

func handleHTTPError(err error) error {
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return &APIError{Message: "request canceled", Original: err, Status: Interrupt}
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Message: "request timed out", Original: err, Status: Timeout}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &APIError{Message: "request timed out", Original: err, Status: Timeout}
	case errors.As(err, &opErr):
		return &APIError{Message: "network error", Original: err, Status: ConnectionError}
	default:
		return &APIError{Message: err.Error(), Original: err, Status: ConnectionError}
	}
}
