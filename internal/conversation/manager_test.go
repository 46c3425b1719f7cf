package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/envelope"
	"github.com/solchat-dev/solchat/internal/store"
	"github.com/solchat-dev/solchat/internal/syncer"
	walletpkg "github.com/solchat-dev/solchat/internal/wallet"
)

const (
	testWallet = "7nYabs9dUhvxYwB1PnrnSwuEPsNWXvVFmMFnhzpV4pqt"
	contact = "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestManager(t *testing.T) (*Manager, *store.DB, *bus.Bus) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	m := NewManager(testWallet, db, b, nil, nil)
	return m, db, b
}

func seedInbound(t *testing.T, db *store.DB, msgID string, ts int64, content string) {
	t.Helper()
	err := db.UpsertMessage(&store.Message{
		MsgID:        msgID,
		Counterparty: contact,
		Sender:       contact,
		Recipient:    testWallet,
		Content:      content,
		MessageType:  "text",
		Status:       "received",
		Timestamp:    ts,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoadConversationNotifiesTwice(t *testing.T) {
	m, db, _ := newTestManager(t)
	seedInbound(t, db, "msg-1", 1000, "hello")

	var snaps []State
	unsub := m.Subscribe(contact, func(s State) { snaps = append(snaps, s) })
	defer unsub()

	final := m.LoadConversation(contact)

	if len(snaps) != 2 {
		t.Fatalf("got %d notifications, want 2", len(snaps))
	}
	if !snaps[0].Loading {
		t.Error("first notification should be loading")
	}
	if snaps[1].Loading {
		t.Error("second notification should not be loading")
	}
	if len(final.Messages) != 1 || final.Messages[0].MsgID != "msg-1" {
		t.Fatalf("final state = %+v", final.Messages)
	}
	if final.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", final.UnreadCount)
	}
	if final.LastMessageTime != 1000 {
		t.Errorf("lastMessageTime = %d, want 1000", final.LastMessageTime)
	}
}

func TestLoadConversationKeepsMessagesOnError(t *testing.T) {
	m, db, _ := newTestManager(t)
	seedInbound(t, db, "msg-1", 1000, "hello")
	m.LoadConversation(contact)

	// A closed database makes every read fail.
	_ = db.Close()

	st := m.LoadConversation(contact)
	if !st.HasError || st.ErrorMessage == "" {
		t.Fatalf("expected error state, got %+v", st)
	}
	if len(st.Messages) != 1 {
		t.Errorf("messages dropped on error: %d", len(st.Messages))
	}
}

func TestSubscribeIndependentRegistrations(t *testing.T) {
	m, db, _ := newTestManager(t)
	seedInbound(t, db, "msg-1", 1000, "hello")

	calls := 0
	cb := func(State) { calls++ }
	unsub1 := m.Subscribe(contact, cb)
	unsub2 := m.Subscribe(contact, cb)

	m.LoadConversation(contact)
	if calls != 4 {
		t.Fatalf("calls = %d, want 4 (two listeners, two notifications)", calls)
	}

	unsub1()
	calls = 0
	m.LoadConversation(contact)
	if calls != 2 {
		t.Fatalf("calls after one unsubscribe = %d, want 2", calls)
	}

	unsub2()
	// Unsubscribing twice is harmless.
	unsub1()
	calls = 0
	m.LoadConversation(contact)
	if calls != 0 {
		t.Fatalf("calls after full unsubscribe = %d, want 0", calls)
	}
}

func TestMergeDeduplicatesAndOrders(t *testing.T) {
	existing := []store.Message{
		{MsgID: "b", Content: "old b", Timestamp: 2000},
		{MsgID: "d", Content: "d", Timestamp: 4000},
	}
	incoming := []store.Message{
		{MsgID: "a", Content: "a", Timestamp: 1000},
		{MsgID: "b", Content: "new b", Timestamp: 2000},
		{MsgID: "c", Content: "c", Timestamp: 3000},
	}

	out := merge(existing, incoming)
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4", len(out))
	}
	want := []string{"a", "b", "c", "d"}
	for i, w := range want {
		if out[i].MsgID != w {
			t.Errorf("out[%d] = %s, want %s", i, out[i].MsgID, w)
		}
	}
	// Collision resolved in favor of the incoming copy.
	if out[1].Content != "new b" {
		t.Errorf("collision content = %q, want new copy", out[1].Content)
	}
}

func TestMergeStableOnEqualTimestamps(t *testing.T) {
	existing := []store.Message{
		{MsgID: "a", Timestamp: 1000},
		{MsgID: "b", Timestamp: 1000},
	}
	out := merge(existing, []store.Message{{MsgID: "c", Timestamp: 1000}})
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if out[i].MsgID != w {
			t.Errorf("out[%d] = %s, want %s", i, out[i].MsgID, w)
		}
	}
}

func TestMarkConversationAsRead(t *testing.T) {
	m, db, _ := newTestManager(t)
	seedInbound(t, db, "msg-1", 1000, "hello")
	seedInbound(t, db, "msg-2", 2000, "again")
	m.LoadConversation(contact)

	if err := m.MarkConversationAsRead(contact); err != nil {
		t.Fatal(err)
	}

	st := m.Conversation(contact)
	if st.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", st.UnreadCount)
	}
	for _, msg := range st.Messages {
		if !msg.IsRead {
			t.Errorf("message %s still unread", msg.MsgID)
		}
	}
	if n, _ := m.GetTotalUnreadCount(); n != 0 {
		t.Errorf("total unread = %d, want 0", n)
	}
}

func TestIngestSyncResultRestoresBothDirections(t *testing.T) {
	// Fresh store, as after adding the wallet on a new device: a cycle
	// returning one message each way rebuilds the whole conversation.
	m, _, _ := newTestManager(t)

	res := &syncer.Result{
		NewMessages: []syncer.SyncedMessage{
			{CID: "QmMine", Env: &envelope.Envelope{
				ID: "msg-mine", From: testWallet, To: contact,
				Content: "sent from the old device", Timestamp: 100, MessageType: "text",
			}},
			{CID: "QmIn", Env: &envelope.Envelope{
				ID: "msg-in", From: contact, To: testWallet,
				Content: "for me", Timestamp: 50, MessageType: "text",
			}},
		},
		UpdatedConversations: []string{contact},
		TotalSynced:          2,
	}
	m.ingestSyncResult(res)

	st := m.LoadConversation(contact)
	if len(st.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(st.Messages))
	}
	if st.Messages[0].MsgID != "msg-in" || st.Messages[1].MsgID != "msg-mine" {
		t.Fatalf("messages out of order: %s, %s",
			st.Messages[0].MsgID, st.Messages[1].MsgID)
	}
	mine := st.Messages[1]
	if !mine.FromMe || mine.Status != "sent" || !mine.IsRead {
		t.Errorf("own restored message = %+v", mine)
	}
	if st.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", st.UnreadCount)
	}
}

func TestIngestSyncResultKeepsDeliveryStatus(t *testing.T) {
	m, db, _ := newTestManager(t)

	// Optimistic local copy the outbox has not settled yet.
	if err := db.UpsertMessage(&store.Message{
		MsgID: "msg-mine", Counterparty: contact,
		Sender: testWallet, Recipient: contact,
		Content: "on its way", FromMe: true, Status: "sending", IsRead: true,
		Timestamp: 500,
	}); err != nil {
		t.Fatal(err)
	}

	m.ingestSyncResult(&syncer.Result{
		NewMessages: []syncer.SyncedMessage{
			{CID: "QmMine", Env: &envelope.Envelope{
				ID: "msg-mine", From: testWallet, To: contact,
				Content: "on its way", Timestamp: 500, MessageType: "text",
			}},
		},
		UpdatedConversations: []string{contact},
		TotalSynced:          1,
	})

	msgs, err := db.ConversationMessages(contact)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != "sending" {
		t.Errorf("status clobbered to %s, want sending", msgs[0].Status)
	}
	if msgs[0].CID != "QmMine" {
		t.Errorf("cid = %s, want QmMine", msgs[0].CID)
	}
}

func TestIngestSyncResultDropsBadSignature(t *testing.T) {
	m, db, _ := newTestManager(t)

	sender, err := walletpkg.Generate()
	if err != nil {
		t.Fatal(err)
	}
	good := &envelope.Envelope{
		ID: "msg-good", From: sender.Address(), To: testWallet,
		Content: "signed", Timestamp: 1000, MessageType: "text",
	}
	sig, err := sender.Sign(good.SigningBytes())
	if err != nil {
		t.Fatal(err)
	}
	good.Signature = base58.Encode(sig)

	forged := &envelope.Envelope{
		ID: "msg-forged", From: sender.Address(), To: testWallet,
		Content: "tampered", Timestamp: 2000, MessageType: "text",
		Signature: base58.Encode(make([]byte, 64)),
	}

	m.ingestSyncResult(&syncer.Result{
		NewMessages: []syncer.SyncedMessage{
			{CID: "QmGood", Env: good},
			{CID: "QmForged", Env: forged},
		},
		TotalSynced: 2,
	})

	msgs, err := db.ConversationMessages(sender.Address())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "msg-good" {
		t.Fatalf("stored messages = %+v, want only msg-good", msgs)
	}
}

func TestManagerConsumesSyncEventsFromBus(t *testing.T) {
	m, _, b := newTestManager(t)
	m.Start(context.Background())
	defer m.Stop()

	notified := make(chan State, 4)
	unsub := m.Subscribe(contact, func(s State) { notified <- s })
	defer unsub()

	b.Publish(bus.Event{Kind: "sync.completed", Payload: &syncer.Result{
		NewMessages: []syncer.SyncedMessage{
			{CID: "QmIn", Env: &envelope.Envelope{
				ID: "msg-in", From: contact, To: testWallet,
				Content: "hi", Timestamp: 1000, MessageType: "text",
			}},
		},
		TotalSynced: 1,
	}})

	select {
	case st := <-notified:
		if len(st.Messages) != 1 || st.Messages[0].MsgID != "msg-in" {
			t.Fatalf("state = %+v", st.Messages)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification from bus-driven ingestion")
	}
}

func TestRecordOutgoingRefreshesState(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.RecordOutgoing(&store.Message{
		MsgID: "msg-out", Counterparty: contact,
		Sender: testWallet, Recipient: contact,
		Content: "optimistic", FromMe: true, Status: "sending", IsRead: true,
		Timestamp: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	st := m.Conversation(contact)
	if len(st.Messages) != 1 || st.Messages[0].Status != "sending" {
		t.Fatalf("state = %+v", st.Messages)
	}
	if st.UnreadCount != 0 {
		t.Errorf("own message counted unread: %d", st.UnreadCount)
	}
}
