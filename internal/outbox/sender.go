// Package outbox queues outgoing messages and drains them to the content
// store, so sending survives restarts and works while offline.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/envelope"
	"github.com/solchat-dev/solchat/internal/logging"
	"github.com/solchat-dev/solchat/internal/store"
	"github.com/solchat-dev/solchat/internal/wallet"
	"go.uber.org/zap"
)

// ContentStore pins a message envelope and returns its content address.
type ContentStore interface {
	Store(ctx context.Context, env *envelope.Envelope) (string, error)
}

// Sender drains the outbox: each queued entry is signed, pinned to the
// primary content store (falling back to the secondary when configured),
// and its optimistic message row settled to sent or failed.
type Sender struct {
	db       *store.DB
	signer   wallet.Signer
	primary  ContentStore
	fallback ContentStore
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewSender creates an outbox sender. fallback may be nil.
func NewSender(db *store.DB, signer wallet.Signer, primary, fallback ContentStore, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		signer:   signer,
		primary:  primary,
		fallback: fallback,
		bus:      b,
		logger:   logger,
	}
}

// Queue enqueues an outgoing message and inserts its optimistic local copy
// so the conversation shows it immediately. Returns the client message id.
func (s *Sender) Queue(to, content string) (string, error) {
	msgID := uuid.NewString()
	if err := s.db.QueueOutbox(msgID, to, content); err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	if err := s.db.UpsertMessage(&store.Message{
		MsgID:        msgID,
		Counterparty: to,
		Sender:       s.signer.Address(),
		Recipient:    to,
		Content:      content,
		MessageType:  "text",
		FromMe:       true,
		Status:       "sending",
		IsRead:       true,
		Timestamp:    now,
	}); err != nil {
		return "", err
	}

	s.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Timestamp: time.Now(),
		Payload:   map[string]string{"contact": to, "msg_id": msgID},
	})
	return msgID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		cid, err := s.send(ctx, entry)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err),
				zap.String("client_msg_id", entry.ClientMsgID),
				zap.String("to", logging.Short(entry.Recipient)))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			_ = s.db.UpdateMessageStatus(entry.ClientMsgID, "failed")
			s.bus.Publish(bus.Event{
				Kind:      "message.send_failed",
				Timestamp: time.Now(),
				Payload: map[string]string{
					"client_msg_id": entry.ClientMsgID,
					"error":         err.Error(),
				},
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, cid); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		_ = s.db.UpdateMessageStatus(entry.ClientMsgID, "sent")

		s.logger.Info("message pinned",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("cid", cid))
		s.bus.Publish(bus.Event{
			Kind:      "message.send_ack",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"cid":           cid,
			},
		})
	}
}

// send signs the envelope and pins it, trying the fallback store when the
// primary rejects it.
func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) (string, error) {
	env := &envelope.Envelope{
		ID:          entry.ClientMsgID,
		From:        s.signer.Address(),
		To:          entry.Recipient,
		Content:     entry.Content,
		Timestamp:   time.Now().UnixMilli(),
		MessageType: "text",
		Version:     "1.0",
	}
	sig, err := s.signer.Sign(env.SigningBytes())
	if err != nil {
		return "", err
	}
	env.Signature = base58.Encode(sig)

	cid, err := s.primary.Store(ctx, env)
	if err == nil {
		return cid, nil
	}
	if s.fallback == nil {
		return "", err
	}
	s.logger.Warn("primary content store rejected message, trying fallback", zap.Error(err))
	return s.fallback.Store(ctx, env)
}
