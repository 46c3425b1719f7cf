// Package arweave is the fallback content store, used when the primary
// pinning backend rejects a message. It talks HTTP to an Arweave upload
// node and gateway; permanence is the node's problem, not ours.
package arweave

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/envelope"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the gateway does not have the transaction.
var ErrNotFound = errors.New("transaction not found on gateway")

// Client stores and retrieves message envelopes as tagged Arweave data
// transactions.
type Client struct {
	uploadURL  string
	gatewayURL string
	hc         *http.Client
	logger     *zap.Logger
}

// New creates a client from the arweave config section.
func New(ac config.Arweave, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		uploadURL:  ac.UploadURL,
		gatewayURL: ac.GatewayURL,
		hc:         &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

type txTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type txRequest struct {
	Data string  `json:"data"`
	Tags []txTag `json:"tags"`
}

type txResponse struct {
	ID string `json:"id"`
}

// Store submits the envelope as a tagged data transaction and returns the
// transaction id, which doubles as the content address for Retrieve.
func (c *Client) Store(ctx context.Context, env *envelope.Envelope) (string, error) {
	payload, err := env.Encode()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(txRequest{
		Data: base64.RawURLEncoding.EncodeToString(payload),
		Tags: []txTag{
			{Name: "App-Name", Value: "SolChat"},
			{Name: "Content-Type", Value: "application/json"},
			{Name: "Message-Type", Value: "direct"},
			{Name: "From", Value: env.From},
			{Name: "To", Value: env.To},
			{Name: "Timestamp", Value: strconv.FormatInt(env.Timestamp, 10)},
			{Name: "Version", Value: "1.0"},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("arweave upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("arweave upload: status %d: %s", resp.StatusCode, msg)
	}

	var tr txResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if tr.ID == "" {
		return "", errors.New("upload response missing transaction id")
	}
	return tr.ID, nil
}

// Retrieve fetches a stored envelope by transaction id.
func (c *Client) Retrieve(ctx context.Context, id string) (*envelope.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arweave retrieve: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusAccepted {
		// 202 means the transaction is known but not yet mined.
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arweave retrieve: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return envelope.Decode(data)
}
