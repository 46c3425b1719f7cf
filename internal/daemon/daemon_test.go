package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/solchat-dev/solchat/internal/api"
	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/conversation"
	"github.com/solchat-dev/solchat/internal/lock"
	"github.com/solchat-dev/solchat/internal/status"
	"github.com/solchat-dev/solchat/internal/store"
	"go.uber.org/zap"
)

const testWallet = "7nYabs9dUhvxYwB1PnrnSwuEPsNWXvVFmMFnhzpV4pqt"

// Wires the daemon components by hand, the way registerLifecycle does, and
// exercises the HTTP surface end to end without content store credentials.
func TestDaemonLifecycleLocalOnly(t *testing.T) {
	sessionDir := t.TempDir()

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	// A second daemon for the same session must be refused.
	if _, err := lock.Acquire(sessionDir); err == nil {
		t.Fatal("second lock acquire should fail")
	}

	db, err := store.Open(filepath.Join(sessionDir, "solchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	manager := conversation.NewManager(testWallet, db, b, nil, logger)
	manager.Start(context.Background())
	defer manager.Stop()

	apiCfg := config.Default().API
	apiCfg.ListenAddr = "127.0.0.1:0"
	srv := api.New(testWallet, db, manager, nil, nil, machine, apiCfg, logger)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	// No credentials: the daemon serves local data in AUTH_REQUIRED.
	if err := machine.Transition(status.AuthRequired); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}

	var body struct {
		Wallet string `json:"wallet"`
		State  string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Wallet != testWallet {
		t.Errorf("wallet = %s", body.Wallet)
	}
	if body.State != string(status.AuthRequired) {
		t.Errorf("state = %s, want AUTH_REQUIRED", body.State)
	}

	// Sync trigger must be refused without credentials.
	syncResp, err := http.Post("http://"+srv.Addr()+"/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = syncResp.Body.Close()
	if syncResp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("sync status = %d, want 503", syncResp.StatusCode)
	}
}
