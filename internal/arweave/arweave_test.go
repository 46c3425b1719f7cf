package arweave

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/envelope"
)

func TestStoreAndRetrieve(t *testing.T) {
	env := &envelope.Envelope{
		ID: "m1", From: "walletA", To: "walletB",
		Content: "fallback hello", Timestamp: 1700000000000,
	}

	var stored txRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tx":
			if err := json.NewDecoder(r.Body).Decode(&stored); err != nil {
				t.Fatal(err)
			}
			_ = json.NewEncoder(w).Encode(txResponse{ID: "tx-abc"})
		case r.Method == http.MethodGet && r.URL.Path == "/tx-abc":
			_ = json.NewEncoder(w).Encode(env)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(config.Arweave{UploadURL: srv.URL + "/tx", GatewayURL: srv.URL + "/"}, nil)

	id, err := c.Store(context.Background(), env)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if id != "tx-abc" {
		t.Errorf("id = %q, want tx-abc", id)
	}

	var tags []string
	for _, tag := range stored.Tags {
		tags = append(tags, tag.Name)
	}
	want := map[string]bool{"App-Name": false, "From": false, "To": false, "Timestamp": false}
	for _, name := range tags {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tag %s missing from transaction", name)
		}
	}

	got, err := c.Retrieve(context.Background(), id)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got.Content != env.Content {
		t.Errorf("content = %q, want %q", got.Content, env.Content)
	}
}

func TestRetrievePendingIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(config.Arweave{UploadURL: srv.URL + "/tx", GatewayURL: srv.URL + "/"}, nil)
	_, err := c.Retrieve(context.Background(), "pending-tx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound for unmined tx", err)
	}
}
