package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned when the server replies with a non 2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// IsNotFound ...
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == http.StatusNotFound
}

// Client is a thin wrapper of http.Client making context aware calls and
// returning the response body as a string.
type Client struct {
	client *http.Client
	header map[string]string
}

// NewClient returns a client with the given timeout, defaulting to 30s.
// Header entries are added to every request.
func NewClient(timeout time.Duration, header map[string]string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
		header: header,
	}
}

// NewHTTPRequest makes a call with the given method and returns the status
// code and body of the response.
func (c *Client) NewHTTPRequest(
	ctx context.Context, method, url, body string, header map[string]string,
) (int, string, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		return 0, "", fmt.Errorf("verb not supported %s", method)
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, "", err
	}
	for key, value := range c.header {
		req.Header.Set(key, value)
	}
	for key, value := range header {
		req.Header.Set(key, value)
	}

	rs, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer rs.Body.Close()

	bodyBytes, err := io.ReadAll(rs.Body)
	if err != nil {
		return 0, "", err
	}
	return rs.StatusCode, string(bodyBytes), nil
}

// Get returns the body of a successful GET call, a *StatusError otherwise.
func (c *Client) Get(ctx context.Context, url string) (string, error) {
	return c.do(ctx, http.MethodGet, url, "", nil)
}

// Post returns the body of a successful POST call, a *StatusError otherwise.
func (c *Client) Post(
	ctx context.Context, url, body, contentType string,
) (string, error) {
	return c.do(ctx, http.MethodPost, url, body, map[string]string{
		"Content-Type": contentType,
	})
}

// GetJSON decodes the body of a successful GET call into v.
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp), v); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", url, err)
	}
	return nil
}

func (c *Client) do(
	ctx context.Context, method, url, body string, header map[string]string,
) (string, error) {
	status, resp, err := c.NewHTTPRequest(ctx, method, url, body, header)
	if err != nil {
		return "", err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return "", &StatusError{status, resp}
	}
	return resp, nil
}
