// Package foreignchain implements the access to a bitcoin-like chain on top
// of one or more explorers. Calls go to the fastest healthy explorer first and
// fall back to the others on failure.
package foreignchain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/ports"
	"github.com/qortal/qortd/pkg/circuitbreaker"
	"github.com/qortal/qortd/pkg/explorer"
	"github.com/qortal/qortd/pkg/explorer/esplora"
)

const (
	// weight of the last sample in the response time moving average.
	latencyWeight = 0.3
	// response time assigned to a failed call.
	failurePenalty = 10 * time.Second
)

// ErrNoEndpoints ...
var ErrNoEndpoints = errors.New("no explorer endpoints configured")

// Endpoint is a named explorer.
type Endpoint struct {
	Name     string
	Explorer explorer.Service
}

type endpoint struct {
	name     string
	explorer explorer.Service
	cb       *gobreaker.CircuitBreaker
	latency  time.Duration
}

// notFound marks a successful call for a missing tx, so that it does not
// count as a failure of the endpoint.
type notFound struct{}

// Client implements ports.ForeignChain.
type Client struct {
	blockchain string
	endpoints  []*endpoint
	lock       sync.RWMutex
}

// NewClient returns a client for the given blockchain, spreading calls over
// the given explorers.
func NewClient(blockchain string, endpoints ...Endpoint) (*Client, error) {
	if len(endpoints) <= 0 {
		return nil, ErrNoEndpoints
	}
	c := &Client{blockchain: blockchain}
	for _, e := range endpoints {
		name := fmt.Sprintf("%s:%s", blockchain, e.Name)
		c.endpoints = append(c.endpoints, &endpoint{
			name:     name,
			explorer: e.Explorer,
			cb:       circuitbreaker.New(name, circuitbreaker.DefaultSettings, logStateChange),
		})
	}
	return c, nil
}

// NewEsploraClient returns a client using an esplora explorer for each of the
// given urls.
func NewEsploraClient(
	blockchain string, urls []string, requestsPerSecond int,
	timeout time.Duration,
) (*Client, error) {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, url := range urls {
		svc, err := esplora.NewService(
			url,
			esplora.WithRequestsPerSecond(requestsPerSecond),
			esplora.WithTimeout(timeout),
		)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, Endpoint{Name: url, Explorer: svc})
	}
	return NewClient(blockchain, endpoints...)
}

func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	unspents, err := c.GetUnspents(ctx, address)
	if err != nil {
		return 0, err
	}
	balance := uint64(0)
	for _, u := range unspents {
		balance += u.Value
	}
	return balance, nil
}

func (c *Client) GetUnspents(ctx context.Context, address string) ([]ports.Unspent, error) {
	res, err := c.call(ctx, "get unspents", func(
		ctx context.Context, svc explorer.Service,
	) (interface{}, error) {
		return svc.GetUnspents(ctx, address)
	})
	if err != nil {
		return nil, err
	}

	utxos := res.([]explorer.Utxo)
	unspents := make([]ports.Unspent, 0, len(utxos))
	for _, u := range utxos {
		unspents = append(unspents, ports.Unspent{
			TxID:      u.TxID,
			Vout:      u.Vout,
			Value:     u.Value,
			Confirmed: u.Confirmed,
		})
	}
	return unspents, nil
}

func (c *Client) GetTransactionStatus(
	ctx context.Context, txid string,
) (*ports.TxStatus, error) {
	res, err := c.call(ctx, "get tx status", func(
		ctx context.Context, svc explorer.Service,
	) (interface{}, error) {
		status, err := svc.GetTransactionStatus(ctx, txid)
		if errors.Is(err, explorer.ErrTxNotFound) {
			return notFound{}, nil
		}
		return status, err
	})
	if err != nil {
		return nil, err
	}
	if _, ok := res.(notFound); ok {
		return &ports.TxStatus{}, nil
	}

	status := res.(*explorer.TransactionStatus)
	return &ports.TxStatus{
		Found:       true,
		Confirmed:   status.Confirmed,
		BlockHeight: status.BlockHeight,
		BlockTime:   status.BlockTime,
	}, nil
}

func (c *Client) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	res, err := c.call(ctx, "broadcast tx", func(
		ctx context.Context, svc explorer.Service,
	) (interface{}, error) {
		return svc.BroadcastTransaction(ctx, txHex)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (c *Client) GetMedianBlockTime(ctx context.Context) (int64, error) {
	res, err := c.call(ctx, "get tip block", func(
		ctx context.Context, svc explorer.Service,
	) (interface{}, error) {
		return svc.GetTipBlock(ctx)
	})
	if err != nil {
		return 0, err
	}
	return res.(*explorer.Block).MedianTime, nil
}

// call runs fn against the endpoints ranked by response time until one
// succeeds. Endpoints whose breaker is open are tried last.
func (c *Client) call(
	ctx context.Context, op string,
	fn func(ctx context.Context, svc explorer.Service) (interface{}, error),
) (interface{}, error) {
	var lastErr error
	for _, e := range c.rankedEndpoints() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := e.cb.Execute(func() (interface{}, error) {
			return fn(ctx, e.explorer)
		})
		if err == nil {
			c.recordLatency(e, time.Since(start))
			return res, nil
		}

		if !errors.Is(err, gobreaker.ErrOpenState) &&
			!errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.recordLatency(e, failurePenalty)
		}
		log.WithError(err).Debugf("%s failed on %s", op, e.name)
		lastErr = err
	}
	return nil, fmt.Errorf("%s: all %s explorers failed: %w", op, c.blockchain, lastErr)
}

func (c *Client) rankedEndpoints() []*endpoint {
	c.lock.RLock()
	defer c.lock.RUnlock()

	ranked := make([]*endpoint, len(c.endpoints))
	copy(ranked, c.endpoints)
	sort.SliceStable(ranked, func(i, j int) bool {
		iOpen := ranked[i].cb.State() == gobreaker.StateOpen
		jOpen := ranked[j].cb.State() == gobreaker.StateOpen
		if iOpen != jOpen {
			return !iOpen
		}
		return ranked[i].latency < ranked[j].latency
	})
	return ranked
}

func (c *Client) recordLatency(e *endpoint, sample time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if e.latency == 0 {
		e.latency = sample
		return
	}
	e.latency = time.Duration(
		latencyWeight*float64(sample) + (1-latencyWeight)*float64(e.latency),
	)
}

func logStateChange(name string, from, to gobreaker.State) {
	log.Warnf("explorer %s circuit breaker changed from %s to %s", name, from, to)
}
