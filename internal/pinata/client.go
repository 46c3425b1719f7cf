package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/envelope"
	"github.com/solchat-dev/solchat/internal/logging"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a CID could not be retrieved from any
// gateway. It is retryable: the content may simply not have propagated yet.
var ErrNotFound = errors.New("content not found on any gateway")

// Client talks to the Pinata pinning API and to public IPFS gateways. It
// serves both roles the synchronizer needs: content store (Store/Retrieve)
// and pin directory (Discover).
type Client struct {
	apiKey         string
	secretKey      string
	baseURL        string
	gateways       []string
	gatewayTimeout time.Duration
	pageLimit      int
	maxPages       int
	skewBuffer     time.Duration

	hc      *http.Client
	limiter *limiter
	logger  *zap.Logger
}

// New creates a client from the pinata and sync config sections.
func New(pc config.Pinata, sc config.Sync, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:         pc.APIKey,
		secretKey:      pc.SecretKey,
		baseURL:        pc.BaseURL,
		gateways:       pc.Gateways,
		gatewayTimeout: sc.GatewayTimeout(),
		pageLimit:      sc.PageLimit,
		maxPages:       sc.MaxPages,
		skewBuffer:     sc.SkewBuffer(),
		hc:             &http.Client{Timeout: 30 * time.Second},
		limiter:        newLimiter(sc.RateLimit()),
		logger:         logger,
	}
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.secretKey)
}

// TestAuth probes the pinning API with the configured credentials.
func (c *Client) TestAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/testAuthentication", nil)
	if err != nil {
		return err
	}
	c.auth(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("pinata auth probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pinata auth probe: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Store pins the message envelope and returns its content address. The pin
// carries owner-scoped metadata so Discover can find it later. JSON pinning
// is tried first; on rejection the multipart file endpoint is the fallback.
// A failure here is the caller's problem: the outbox decides whether to try
// the fallback store or mark the message failed.
func (c *Client) Store(ctx context.Context, env *envelope.Envelope) (string, error) {
	meta := pinMetadata(env)

	body, err := json.Marshal(map[string]any{
		"pinataContent":  env,
		"pinataMetadata": meta,
		"pinataOptions":  map[string]any{"cidVersion": 1, "wrapWithDirectory": false},
	})
	if err != nil {
		return "", fmt.Errorf("encode pin request: %w", err)
	}

	cid, jsonErr := c.pinJSON(ctx, body)
	if jsonErr == nil {
		return cid, nil
	}
	c.logger.Warn("pinJSONToIPFS failed, trying file upload", zap.Error(jsonErr))

	cid, fileErr := c.pinFile(ctx, env, meta)
	if fileErr != nil {
		return "", fmt.Errorf("pin message: %w (json method: %v)", fileErr, jsonErr)
	}
	return cid, nil
}

func (c *Client) pinJSON(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	var pr pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	if pr.IpfsHash == "" {
		return "", errors.New("pin response missing IpfsHash")
	}
	return pr.IpfsHash, nil
}

func (c *Client) pinFile(ctx context.Context, env *envelope.Envelope, meta map[string]any) (string, error) {
	payload, err := env.Encode()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "message.json")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(payload); err != nil {
		return "", err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := mw.WriteField("pinataMetadata", string(metaJSON)); err != nil {
		return "", err
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":1,"wrapWithDirectory":false}`); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pinning/pinFileToIPFS", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.auth(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	var pr pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	return pr.IpfsHash, nil
}

// Retrieve fetches a pinned message through the gateway list, first
// successful parse wins. Each gateway gets its own timeout so one stalled
// gateway cannot consume the whole budget. Exhausting all gateways yields
// ErrNotFound, not a hard error: the pointer stays retryable.
func (c *Client) Retrieve(ctx context.Context, cid string) (*envelope.Envelope, error) {
	for _, gw := range c.gateways {
		env, err := c.retrieveFrom(ctx, gw, cid)
		if err == nil {
			return env, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("gateway retrieval failed",
			zap.String("gateway", gw),
			zap.String("cid", logging.Short(cid)),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
}

func (c *Client) retrieveFrom(ctx context.Context, gateway, cid string) (*envelope.Envelope, error) {
	gwCtx, cancel := context.WithTimeout(ctx, c.gatewayTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(gwCtx, http.MethodGet, gateway+cid, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return envelope.Decode(data)
}

func pinMetadata(env *envelope.Envelope) map[string]any {
	return map[string]any{
		"name": "solchat message " + env.ID,
		"keyvalues": map[string]string{
			"app":       "solchat",
			"type":      "message",
			"from":      env.From,
			"to":        env.To,
			"timestamp": strconv.FormatInt(env.Timestamp, 10),
			"version":   "1.0",
		},
	}
}
