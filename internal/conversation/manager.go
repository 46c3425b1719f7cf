// Package conversation maintains per-contact in-memory conversation state
// on top of the message store, and feeds synchronizer results into it. All
// state here is derived: it can always be rebuilt from the database.
package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/envelope"
	"github.com/solchat-dev/solchat/internal/logging"
	"github.com/solchat-dev/solchat/internal/store"
	"github.com/solchat-dev/solchat/internal/syncer"
	"github.com/solchat-dev/solchat/internal/wallet"
	"go.uber.org/zap"
)

// State is the view of one conversation handed to subscribers.
type State struct {
	Contact         string          `json:"contact"`
	Messages        []store.Message `json:"messages"`
	LastMessageTime int64           `json:"lastMessageTime"`
	UnreadCount     int             `json:"unreadCount"`
	Loading         bool            `json:"loading"`
	HasError        bool            `json:"hasError"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

// Callback receives a snapshot of conversation state on every change.
type Callback func(State)

// Manager owns conversation state for one wallet. It subscribes to sync
// completion events and is the only writer of synced messages into the
// store.
type Manager struct {
	wallet  string
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
	syncNow func()

	mu        sync.Mutex
	states    map[string]*State
	listeners map[string]map[int]Callback
	nextID    int

	cancel context.CancelFunc
}

// NewManager creates a conversation manager. syncNow, when non-nil, is
// invoked in the background after a conversation load to freshen it; pass
// nil when no content store credentials are configured.
func NewManager(wallet string, db *store.DB, b *bus.Bus, syncNow func(), logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		wallet:    wallet,
		db:        db,
		bus:       b,
		logger:    logger,
		syncNow:   syncNow,
		states:    make(map[string]*State),
		listeners: make(map[string]map[int]Callback),
	}
}

// Start subscribes to sync completion events on the bus.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("sync.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Kind != "sync.completed" {
					continue
				}
				res, ok := evt.Payload.(*syncer.Result)
				if !ok {
					continue
				}
				m.ingestSyncResult(res)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming sync events.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Subscribe registers a callback for one contact's state changes and
// returns an unsubscribe function. The same callback may be registered
// more than once; each registration is removed independently.
func (m *Manager) Subscribe(contact string, cb Callback) func() {
	m.mu.Lock()
	if m.listeners[contact] == nil {
		m.listeners[contact] = make(map[int]Callback)
	}
	id := m.nextID
	m.nextID++
	m.listeners[contact][id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners[contact], id)
		m.mu.Unlock()
	}
}

// LoadConversation reads a conversation from the store into memory,
// notifying subscribers once when loading starts and once when it
// finishes. A failed store read leaves the previous messages in place and
// flags the error. When a sync trigger is configured it is kicked in the
// background; loading never waits on the network.
func (m *Manager) LoadConversation(contact string) State {
	m.mu.Lock()
	st := m.stateLocked(contact)
	st.Loading = true
	st.HasError = false
	st.ErrorMessage = ""
	snap := snapshot(st)
	listeners := m.listenersLocked(contact)
	m.mu.Unlock()
	notify(listeners, snap)

	msgs, err := m.db.ConversationMessages(contact)

	m.mu.Lock()
	st = m.stateLocked(contact)
	st.Loading = false
	if err != nil {
		st.HasError = true
		st.ErrorMessage = err.Error()
		m.logger.Error("failed to load conversation",
			zap.String("contact", logging.Short(contact)), zap.Error(err))
	} else {
		st.Messages = merge(st.Messages, msgs)
		m.recomputeLocked(st)
	}
	snap = snapshot(st)
	listeners = m.listenersLocked(contact)
	m.mu.Unlock()
	notify(listeners, snap)

	if m.syncNow != nil {
		go m.syncNow()
	}
	return snap
}

// Conversation returns the current in-memory state without touching the
// store.
func (m *Manager) Conversation(contact string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.stateLocked(contact))
}

// MarkConversationAsRead flips every inbound message in the conversation
// to read, persists, and notifies subscribers.
func (m *Manager) MarkConversationAsRead(contact string) error {
	if err := m.db.MarkConversationRead(contact); err != nil {
		return err
	}

	m.mu.Lock()
	st := m.stateLocked(contact)
	for i := range st.Messages {
		if !st.Messages[i].FromMe {
			st.Messages[i].IsRead = true
		}
	}
	st.UnreadCount = 0
	snap := snapshot(st)
	listeners := m.listenersLocked(contact)
	m.mu.Unlock()
	notify(listeners, snap)

	m.bus.Publish(bus.Event{Kind: "conversation.read", Payload: contact})
	return nil
}

// GetTotalUnreadCount returns the unread inbound count across all
// conversations.
func (m *Manager) GetTotalUnreadCount() (int, error) {
	return m.db.TotalUnread()
}

// AllConversations lists every known conversation, most recent activity
// first.
func (m *Manager) AllConversations() ([]store.ConversationSummary, error) {
	return m.db.Conversations()
}

// RecordOutgoing inserts an optimistic local copy of a just-queued
// outbound message and notifies subscribers. The outbox sender later
// settles its status.
func (m *Manager) RecordOutgoing(msg *store.Message) error {
	if err := m.db.UpsertMessage(msg); err != nil {
		return err
	}
	m.refresh(msg.Counterparty)
	return nil
}

// ingestSyncResult persists messages from one sync cycle, both directions,
// and refreshes affected conversations. Our own pinned copies come back
// from the directory too; the status-preserving upsert keeps whatever
// delivery status the outbox already settled on a local row. Envelopes
// with a signature that does not verify against the sender are dropped.
func (m *Manager) ingestSyncResult(res *syncer.Result) {
	touched := make(map[string]struct{})
	for _, sm := range res.NewMessages {
		if !verifyAuthorship(sm.Env) {
			m.logger.Warn("dropping synced message with bad signature",
				zap.String("cid", sm.CID),
				zap.String("from", logging.Short(sm.Env.From)))
			continue
		}
		msg := messageFromEnvelope(m.wallet, sm.Env, sm.CID)
		if err := m.db.UpsertSyncedMessage(msg); err != nil {
			m.logger.Error("failed to persist synced message",
				zap.String("msg_id", msg.MsgID), zap.Error(err))
			continue
		}
		touched[msg.Counterparty] = struct{}{}
		m.bus.Publish(bus.Event{
			Kind:      "message.upserted",
			Timestamp: time.Now(),
			Payload:   map[string]string{"contact": msg.Counterparty, "msg_id": msg.MsgID},
		})
	}
	for contact := range touched {
		m.refresh(contact)
	}
	if len(touched) > 0 {
		m.logger.Info("conversations updated from sync", zap.Int("count", len(touched)))
	}
}

// refresh re-reads one conversation from the store and notifies
// subscribers.
func (m *Manager) refresh(contact string) {
	msgs, err := m.db.ConversationMessages(contact)

	m.mu.Lock()
	st := m.stateLocked(contact)
	if err != nil {
		st.HasError = true
		st.ErrorMessage = err.Error()
	} else {
		st.Messages = merge(st.Messages, msgs)
		st.HasError = false
		st.ErrorMessage = ""
		m.recomputeLocked(st)
	}
	snap := snapshot(st)
	listeners := m.listenersLocked(contact)
	m.mu.Unlock()
	notify(listeners, snap)
}

func (m *Manager) stateLocked(contact string) *State {
	st, ok := m.states[contact]
	if !ok {
		st = &State{Contact: contact}
		m.states[contact] = st
	}
	return st
}

func (m *Manager) listenersLocked(contact string) []Callback {
	var out []Callback
	for _, cb := range m.listeners[contact] {
		out = append(out, cb)
	}
	return out
}

func (m *Manager) recomputeLocked(st *State) {
	st.UnreadCount = 0
	st.LastMessageTime = 0
	for _, msg := range st.Messages {
		if !msg.FromMe && !msg.IsRead {
			st.UnreadCount++
		}
		if msg.Timestamp > st.LastMessageTime {
			st.LastMessageTime = msg.Timestamp
		}
	}
}

func notify(listeners []Callback, snap State) {
	for _, cb := range listeners {
		cb(snap)
	}
}

func snapshot(st *State) State {
	out := *st
	out.Messages = make([]store.Message, len(st.Messages))
	copy(out.Messages, st.Messages)
	return out
}

// merge unions two message lists by envelope id, incoming winning on
// collision, and returns them in ascending timestamp order. The sort is
// stable so equal timestamps keep their relative order.
func merge(existing, incoming []store.Message) []store.Message {
	byID := make(map[string]int, len(existing))
	out := make([]store.Message, len(existing))
	copy(out, existing)
	for i, msg := range out {
		byID[msg.MsgID] = i
	}
	for _, msg := range incoming {
		if i, ok := byID[msg.MsgID]; ok {
			out[i] = msg
			continue
		}
		byID[msg.MsgID] = len(out)
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// verifyAuthorship checks the envelope signature against the sender's
// wallet when one is present. Unsigned envelopes predate signing and are
// let through.
func verifyAuthorship(env *envelope.Envelope) bool {
	if env.Signature == "" {
		return true
	}
	sig, err := base58.Decode(env.Signature)
	if err != nil {
		return false
	}
	return wallet.Verify(env.From, env.SigningBytes(), sig)
}

// messageFromEnvelope converts a synced envelope into a store row from
// this wallet's perspective. A pinned copy of our own message counts as
// sent and read.
func messageFromEnvelope(walletAddr string, env *envelope.Envelope, cid string) *store.Message {
	msgID := env.ID
	if msgID == "" {
		// Old envelopes predate client-side ids; the content address is
		// just as unique.
		msgID = cid
	}
	fromMe := env.From == walletAddr
	status := "received"
	if fromMe {
		status = "sent"
	}
	return &store.Message{
		MsgID:            msgID,
		Counterparty:     env.Counterparty(walletAddr),
		Sender:           env.From,
		Recipient:        env.To,
		Content:          env.Content,
		EncryptedContent: env.EncryptedContent,
		CID:              cid,
		MessageType:      env.MessageType,
		FromMe:           fromMe,
		Status:           status,
		IsRead:           fromMe,
		Timestamp:        env.Timestamp,
	}
}
