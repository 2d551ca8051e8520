package esplora

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"github.com/qortal/qortd/pkg/explorer"
	"github.com/qortal/qortd/pkg/httputil"
)

const (
	defaultRequestsPerSecond = 10
	maxParallelRequests      = 4
)

type esplora struct {
	apiURL  string
	client  *httputil.Client
	limiter ratelimit.Limiter
}

// Option ...
type Option func(*esplora)

// WithRequestsPerSecond caps the rate of the calls made to the esplora API.
func WithRequestsPerSecond(rps int) Option {
	return func(e *esplora) {
		if rps > 0 {
			e.limiter = ratelimit.New(rps)
		}
	}
}

// WithTimeout sets the timeout of every single call.
func WithTimeout(timeout time.Duration) Option {
	return func(e *esplora) {
		e.client = httputil.NewClient(timeout, nil)
	}
}

// NewService returns a new esplora service as an explorer.Service interface.
func NewService(apiURL string, opts ...Option) (explorer.Service, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("missing esplora url")
	}
	service := &esplora{
		apiURL:  strings.TrimSuffix(apiURL, "/"),
		client:  httputil.NewClient(0, nil),
		limiter: ratelimit.New(defaultRequestsPerSecond),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

func (e *esplora) get(ctx context.Context, path string) (string, error) {
	e.limiter.Take()
	return e.client.Get(ctx, e.apiURL+path)
}

func (e *esplora) getJSON(ctx context.Context, path string, v interface{}) error {
	e.limiter.Take()
	return e.client.GetJSON(ctx, e.apiURL+path, v)
}
