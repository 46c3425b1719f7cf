package pinata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// Pin is a directory entry: a pinned content address plus the owner-scoped
// metadata it was pinned with. The synchronizer turns these into pointers.
type Pin struct {
	CID       string
	From      string
	To        string
	Timestamp int64
}

type pinListResponse struct {
	Rows []struct {
		IpfsPinHash string `json:"ipfs_pin_hash"`
		Metadata    struct {
			Name      string            `json:"name"`
			Keyvalues map[string]string `json:"keyvalues"`
		} `json:"metadata"`
	} `json:"rows"`
}

// Discover lists pinned messages relevant to owner: messages addressed to
// it and messages sent by it, in two metadata-filtered queries. Results
// older than since minus the skew buffer are dropped. Every page fetch goes
// through the global rate limiter; a failed page or query is logged and
// skipped without discarding pages already fetched.
func (c *Client) Discover(ctx context.Context, owner string, since int64) ([]Pin, error) {
	filters := []map[string]any{
		directoryFilter("to", owner),
		directoryFilter("from", owner),
	}

	cutoff := since - c.skewBuffer.Milliseconds()
	seen := make(map[string]struct{})
	var pins []Pin

	for _, filter := range filters {
		rows, err := c.listPins(ctx, filter)
		if err != nil {
			if ctx.Err() != nil {
				return pins, ctx.Err()
			}
			c.logger.Warn("pin directory query failed", zap.Error(err))
			continue
		}
		for _, pin := range rows {
			if pin.From != owner && pin.To != owner {
				continue
			}
			if pin.Timestamp < cutoff {
				continue
			}
			if _, dup := seen[pin.CID]; dup {
				continue
			}
			seen[pin.CID] = struct{}{}
			pins = append(pins, pin)
		}
	}

	sort.SliceStable(pins, func(i, j int) bool { return pins[i].Timestamp < pins[j].Timestamp })
	return pins, nil
}

// listPins pages through one metadata query. maxPages caps the loop so a
// miscounting backend cannot keep us paginating forever.
func (c *Client) listPins(ctx context.Context, filter map[string]any) ([]Pin, error) {
	metaJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}

	var pins []Pin
	for page := 0; page < c.maxPages; page++ {
		if err := c.limiter.wait(ctx); err != nil {
			return pins, err
		}

		params := url.Values{}
		params.Set("status", "pinned")
		params.Set("pageLimit", strconv.Itoa(c.pageLimit))
		params.Set("pageOffset", strconv.Itoa(page*c.pageLimit))
		params.Set("metadata", string(metaJSON))

		rows, err := c.fetchPinPage(ctx, params)
		if err != nil {
			// Pages already collected survive a later page failing.
			return pins, fmt.Errorf("page %d: %w", page, err)
		}
		pins = append(pins, rows...)
		if len(rows) < c.pageLimit {
			break
		}
	}
	return pins, nil
}

func (c *Client) fetchPinPage(ctx context.Context, params url.Values) ([]Pin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/pinList?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	var pl pinListResponse
	if err := json.NewDecoder(resp.Body).Decode(&pl); err != nil {
		return nil, fmt.Errorf("decode pin list: %w", err)
	}

	pins := make([]Pin, 0, len(pl.Rows))
	for _, row := range pl.Rows {
		kv := row.Metadata.Keyvalues
		if kv == nil {
			continue
		}
		ts, _ := strconv.ParseInt(kv["timestamp"], 10, 64)
		pins = append(pins, Pin{
			CID:       row.IpfsPinHash,
			From:      kv["from"],
			To:        kv["to"],
			Timestamp: ts,
		})
	}
	return pins, nil
}

func directoryFilter(field, owner string) map[string]any {
	return map[string]any{
		"keyvalues": map[string]any{
			"app":  map[string]string{"value": "solchat", "op": "eq"},
			"type": map[string]string{"value": "message", "op": "eq"},
			field:  map[string]string{"value": owner, "op": "eq"},
		},
	}
}
