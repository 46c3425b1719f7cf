package pinata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

type pinRow struct {
	CID  string
	From string
	To   string
	TS   int64
}

func pinListHandler(t *testing.T, rowsByField map[string][]pinRow) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/pinList" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var filter map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("metadata")), &filter); err != nil {
			t.Fatalf("bad metadata filter: %v", err)
		}
		kv := filter["keyvalues"].(map[string]any)

		var rows []pinRow
		for field, fr := range rowsByField {
			if _, ok := kv[field]; ok {
				rows = fr
			}
		}

		out := map[string]any{"rows": []any{}}
		var outRows []any
		for _, row := range rows {
			outRows = append(outRows, map[string]any{
				"ipfs_pin_hash": row.CID,
				"metadata": map[string]any{
					"keyvalues": map[string]string{
						"app":       "solchat",
						"type":      "message",
						"from":      row.From,
						"to":        row.To,
						"timestamp": strconv.FormatInt(row.TS, 10),
					},
				},
			})
		}
		if outRows != nil {
			out["rows"] = outRows
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func TestDiscoverMergesSortsAndFilters(t *testing.T) {
	const wallet = "walletX"
	srv := httptest.NewServer(pinListHandler(t, map[string][]pinRow{
		"to": {
			{CID: "QmA", From: "walletY", To: wallet, TS: 100},
			{CID: "QmOld", From: "walletY", To: wallet, TS: 1}, // before cutoff
		},
		"from": {
			{CID: "QmB", From: wallet, To: "walletY", TS: 50},
		},
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	c.skewBuffer = 0

	pins, err := c.Discover(context.Background(), wallet, 10)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(pins) != 2 {
		t.Fatalf("got %d pins, want 2 (stale pin filtered)", len(pins))
	}
	// Sorted ascending by timestamp regardless of query order.
	if pins[0].CID != "QmB" || pins[1].CID != "QmA" {
		t.Errorf("order = [%s %s], want [QmB QmA]", pins[0].CID, pins[1].CID)
	}
}

func TestDiscoverSkewBufferKeepsRecentPast(t *testing.T) {
	const wallet = "walletX"
	srv := httptest.NewServer(pinListHandler(t, map[string][]pinRow{
		"to": {
			// 30s before lastSync: inside the 60s skew buffer, kept.
			{CID: "QmSkew", From: "walletY", To: wallet, TS: 70000},
		},
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	pins, err := c.Discover(context.Background(), wallet, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 || pins[0].CID != "QmSkew" {
		t.Errorf("pins = %v, want QmSkew kept by skew buffer", pins)
	}
}

func TestDiscoverDeduplicatesAcrossQueries(t *testing.T) {
	const wallet = "walletX"
	// Self-message appears under both filters.
	row := []pinRow{{CID: "QmSelf", From: wallet, To: wallet, TS: 500}}
	srv := httptest.NewServer(pinListHandler(t, map[string][]pinRow{"to": row, "from": row}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	pins, err := c.Discover(context.Background(), wallet, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 {
		t.Errorf("got %d pins, want 1 (deduplicated)", len(pins))
	}
}

func TestDiscoverQueryFailureContinues(t *testing.T) {
	const wallet = "walletX"
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		pinListHandler(t, map[string][]pinRow{
			"from": {{CID: "QmC", From: wallet, To: "walletY", TS: 200}},
		})(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	pins, err := c.Discover(context.Background(), wallet, 0)
	if err != nil {
		t.Fatalf("Discover() error = %v, want partial success", err)
	}
	if len(pins) != 1 || pins[0].CID != "QmC" {
		t.Errorf("pins = %v, want [QmC] from surviving query", pins)
	}
}

func TestDiscoverPageCap(t *testing.T) {
	const wallet = "walletX"
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		// Always return a full page to provoke unbounded pagination.
		var rows []any
		limit, _ := strconv.Atoi(r.URL.Query().Get("pageLimit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("pageOffset"))
		for i := 0; i < limit; i++ {
			rows = append(rows, map[string]any{
				"ipfs_pin_hash": "Qm" + strconv.Itoa(offset+i),
				"metadata": map[string]any{
					"keyvalues": map[string]string{
						"from": "walletY", "to": wallet,
						"timestamp": "1000",
					},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	c.pageLimit = 5
	c.maxPages = 3

	pins, err := c.Discover(context.Background(), wallet, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Two filter queries, each capped at maxPages.
	if pages != 6 {
		t.Errorf("fetched %d pages, want 6 (maxPages per query)", pages)
	}
	if len(pins) != 15 {
		t.Errorf("got %d pins, want 15 (capped, deduplicated)", len(pins))
	}
}
