package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/conversation"
	"github.com/solchat-dev/solchat/internal/status"
	"github.com/solchat-dev/solchat/internal/store"
	"github.com/solchat-dev/solchat/internal/syncer"
	"github.com/solchat-dev/solchat/internal/syncindex"
)

const (
	wallet  = "7nYabs9dUhvxYwB1PnrnSwuEPsNWXvVFmMFnhzpV4pqt"
	contact = "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"
)

type fakeSync struct {
	result   *syncer.Result
	clearErr error
	synced   int
}

func (f *fakeSync) Sync(context.Context) *syncer.Result {
	f.synced++
	if f.result != nil {
		return f.result
	}
	return &syncer.Result{}
}
func (f *fakeSync) State() syncer.State    { return syncer.StateIdle }
func (f *fakeSync) Stats() syncindex.Stats { return syncindex.Stats{TotalPointers: 5} }
func (f *fakeSync) ClearCache() error      { return f.clearErr }

type fakeQueuer struct {
	lastTo, lastContent string
}

func (f *fakeQueuer) Queue(to, content string) (string, error) {
	f.lastTo, f.lastContent = to, content
	return "msg-queued", nil
}

func testServer(t *testing.T) (*Server, *store.DB, *fakeSync, *fakeQueuer) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	m := conversation.NewManager(wallet, db, b, nil, nil)
	machine := status.NewMachine(b)
	fs := &fakeSync{}
	fq := &fakeQueuer{}
	srv := New(wallet, db, m, fq, fs, machine, config.Default().API, nil)
	return srv, db, fs, fq
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func seedInbound(t *testing.T, db *store.DB, msgID string, ts int64, content string) {
	t.Helper()
	err := db.UpsertMessage(&store.Message{
		MsgID:        msgID,
		Counterparty: contact,
		Sender:       contact,
		Recipient:    wallet,
		Content:      content,
		MessageType:  "text",
		Status:       "received",
		Timestamp:    ts,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := do(t, srv, "GET", "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Wallet != wallet || resp.State != "BOOTING" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Stats == nil || resp.Stats.TotalPointers != 5 {
		t.Errorf("stats = %+v", resp.Stats)
	}
}

func TestSyncEndpointTriggers(t *testing.T) {
	srv, _, fs, _ := testServer(t)

	rec := do(t, srv, "POST", "/v1/sync", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if fs.synced != 1 {
		t.Errorf("sync triggered %d times, want 1", fs.synced)
	}
}

func TestSyncEndpointWithoutCredentials(t *testing.T) {
	srv, _, _, _ := testServer(t)
	srv.sync = nil
	srv.sender = nil

	if rec := do(t, srv, "POST", "/v1/sync", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("sync status = %d, want 503", rec.Code)
	}
	if rec := do(t, srv, "POST", "/v1/messages", sendRequest{To: contact, Content: "hi"}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("send status = %d, want 503", rec.Code)
	}
	// Local reads keep working.
	if rec := do(t, srv, "GET", "/v1/conversations", nil); rec.Code != http.StatusOK {
		t.Errorf("conversations status = %d, want 200", rec.Code)
	}
}

func TestClearCacheBusy(t *testing.T) {
	srv, _, fs, _ := testServer(t)
	fs.clearErr = syncer.ErrBusy

	rec := do(t, srv, "DELETE", "/v1/sync/cache", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	srv, db, _, _ := testServer(t)
	seedInbound(t, db, "msg-1", 1000, "hello")
	seedInbound(t, db, "msg-2", 2000, "again")

	rec := do(t, srv, "GET", "/v1/conversations/"+contact, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var st conversation.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Messages) != 2 || st.UnreadCount != 2 {
		t.Fatalf("state = %+v", st)
	}
	if st.Messages[0].MsgID != "msg-1" {
		t.Errorf("first message = %s, want msg-1", st.Messages[0].MsgID)
	}

	rec = do(t, srv, "GET", "/v1/unread", nil)
	var unread map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &unread); err != nil {
		t.Fatal(err)
	}
	if unread["totalUnread"] != 2 {
		t.Errorf("totalUnread = %d, want 2", unread["totalUnread"])
	}

	if rec := do(t, srv, "POST", "/v1/conversations/"+contact+"/read", nil); rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d", rec.Code)
	}
	rec = do(t, srv, "GET", "/v1/unread", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &unread); err != nil {
		t.Fatal(err)
	}
	if unread["totalUnread"] != 0 {
		t.Errorf("totalUnread after read = %d, want 0", unread["totalUnread"])
	}

	rec = do(t, srv, "GET", "/v1/conversations", nil)
	var sums []store.ConversationSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sums); err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].Counterparty != contact {
		t.Fatalf("summaries = %+v", sums)
	}
}

func TestConversationRejectsBadAddress(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := do(t, srv, "GET", "/v1/conversations/not-a-wallet", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendMessage(t *testing.T) {
	srv, _, _, fq := testServer(t)

	rec := do(t, srv, "POST", "/v1/messages", sendRequest{To: contact, Content: "hello"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MsgID != "msg-queued" || resp.Status != "queued" {
		t.Errorf("resp = %+v", resp)
	}
	if fq.lastTo != contact || fq.lastContent != "hello" {
		t.Errorf("queued to=%s content=%s", fq.lastTo, fq.lastContent)
	}

	if rec := do(t, srv, "POST", "/v1/messages", sendRequest{To: contact}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", rec.Code)
	}
	if rec := do(t, srv, "POST", "/v1/messages", sendRequest{To: "bogus", Content: "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad address status = %d, want 400", rec.Code)
	}
}

func TestContactEndpoints(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := do(t, srv, "POST", "/v1/contacts", store.Contact{Address: contact, Nickname: "Bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, "GET", "/v1/contacts", nil)
	var contacts []store.Contact
	if err := json.Unmarshal(rec.Body.Bytes(), &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].Nickname != "Bob" {
		t.Fatalf("contacts = %+v", contacts)
	}

	if rec := do(t, srv, "DELETE", "/v1/contacts/"+contact, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, srv, "GET", "/v1/contacts", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 0 {
		t.Errorf("contacts after delete = %+v", contacts)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, db, _, _ := testServer(t)
	seedInbound(t, db, "msg-1", 1000, "the gateway is down")
	seedInbound(t, db, "msg-2", 2000, "lunch tomorrow")

	rec := do(t, srv, "GET", "/v1/search?q=gateway", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var results []store.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "msg-1" {
		t.Fatalf("results = %+v", results)
	}

	if rec := do(t, srv, "GET", "/v1/search", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", rec.Code)
	}
}
