// Package qortalnode implements ports.QortalNode on top of the REST API of a
// local Qortal node.
package qortalnode

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/ports"
	"github.com/qortal/qortd/pkg/httputil"
)

const apiKeyHeader = "X-API-KEY"

var (
	// ErrInvalidEncoding ...
	ErrInvalidEncoding = errors.New("invalid base58 encoding")
	// ErrInvalidResponse ...
	ErrInvalidResponse = errors.New("invalid response from node")
)

type client struct {
	baseURL string
	http    *httputil.Client
	now     func() time.Time
}

// NewClient returns a client for the node listening at baseURL. apiKey, if
// not empty, is sent with every request.
func NewClient(
	baseURL, apiKey string, timeout time.Duration,
) (ports.QortalNode, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid node endpoint %q", baseURL)
	}
	header := map[string]string{}
	if apiKey != "" {
		header[apiKeyHeader] = apiKey
	}
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httputil.NewClient(timeout, header),
		now:     time.Now,
	}, nil
}

func (c *client) GetChainHeight(ctx context.Context) (int, error) {
	resp, err := c.http.Get(ctx, c.url("/blocks/height"))
	if err != nil {
		return -1, err
	}
	height, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return -1, fmt.Errorf("%w: chain height %q", ErrInvalidResponse, resp)
	}
	return height, nil
}

// GetBlock returns nil if the node does not have a block at the given
// height yet.
func (c *client) GetBlock(ctx context.Context, height int) (*ports.Block, error) {
	var block blockJSON
	path := fmt.Sprintf("/blocks/byheight/%d/ats", height)
	if err := c.http.GetJSON(ctx, c.url(path), &block); err != nil {
		if httputil.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if block.Height != height {
		return nil, fmt.Errorf(
			"%w: asked block %d, got %d", ErrInvalidResponse, height, block.Height,
		)
	}
	return block.toPort()
}

func (c *client) DeployAT(
	ctx context.Context, req ports.DeployATRequest,
) (string, error) {
	body, err := json.Marshal(deployATJSON{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.ACCTName,
		Tags:        req.ACCTName,
		CodeHash:    base58.Encode(req.CodeHash),
		DataBytes:   base58.Encode(req.DataBytes),
		Amount:      req.QortAmount,
	})
	if err != nil {
		return "", err
	}

	signature, err := c.postTx(ctx, "/at/deploy", body)
	if err != nil {
		return "", fmt.Errorf("deploying AT: %w", err)
	}
	log.WithField("signature", signature).Debug("AT deploy submitted")
	return signature, nil
}

// SendMessage signs the message locally, only the public key and the
// signature are sent to the node.
func (c *client) SendMessage(
	ctx context.Context, sender ed25519.PrivateKey, recipient string,
	data []byte,
) (string, error) {
	timestamp := c.now().UnixMilli()
	publicKey := sender.Public().(ed25519.PublicKey)
	signature := ed25519.Sign(sender, messageSigningBytes(recipient, data, timestamp))

	body, err := json.Marshal(messageJSON{
		SenderPublicKey: base58.Encode(publicKey),
		Recipient:       recipient,
		Data:            base58.Encode(data),
		Timestamp:       timestamp,
		Signature:       base58.Encode(signature),
	})
	if err != nil {
		return "", err
	}

	txSignature, err := c.postTx(ctx, "/messages", body)
	if err != nil {
		return "", fmt.Errorf("sending message to %s: %w", recipient, err)
	}
	return txSignature, nil
}

func (c *client) GetMessages(
	ctx context.Context, recipient string, since int64,
) ([]ports.Message, error) {
	query := url.Values{}
	query.Set("recipient", recipient)
	query.Set("since", strconv.FormatInt(since, 10))

	var resp []messageJSON
	if err := c.http.GetJSON(ctx, c.url("/messages?"+query.Encode()), &resp); err != nil {
		return nil, err
	}

	messages := make([]ports.Message, 0, len(resp))
	for _, m := range resp {
		msg, err := m.toPort()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (c *client) postTx(ctx context.Context, path string, body []byte) (string, error) {
	resp, err := c.http.Post(ctx, c.url(path), string(body), "application/json")
	if err != nil {
		return "", err
	}
	var res txResultJSON
	if err := json.Unmarshal([]byte(resp), &res); err != nil || res.Signature == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidResponse, resp)
	}
	return res.Signature, nil
}

func (c *client) url(path string) string {
	return c.baseURL + path
}

// messageSigningBytes is recipient | timestamp (8 bytes BE) | data.
func messageSigningBytes(recipient string, data []byte, timestamp int64) []byte {
	buf := make([]byte, 0, len(recipient)+8+len(data))
	buf = append(buf, recipient...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	return append(buf, data...)
}
