package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on msg_id).
// Re-synced copies overwrite content and status; a message once read
// stays read.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, counterparty, sender, recipient, content, encrypted_content, cid, message_type, from_me, status, is_read, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			content = excluded.content,
			encrypted_content = excluded.encrypted_content,
			cid = CASE WHEN excluded.cid != '' THEN excluded.cid ELSE messages.cid END,
			status = excluded.status,
			is_read = CASE WHEN messages.is_read = 1 THEN 1 ELSE excluded.is_read END`,
		m.MsgID, m.Counterparty, m.Sender, m.Recipient, m.Content, m.EncryptedContent, m.CID, m.MessageType, m.FromMe, m.Status, m.IsRead, m.Timestamp, now)
	return err
}

// UpsertSyncedMessage inserts a message discovered during sync. Unlike
// UpsertMessage, an existing row keeps its delivery status: the outbox
// settles that, sync only fills in content, the content address and read
// state.
func (db *DB) UpsertSyncedMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, counterparty, sender, recipient, content, encrypted_content, cid, message_type, from_me, status, is_read, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			content = excluded.content,
			encrypted_content = excluded.encrypted_content,
			cid = CASE WHEN excluded.cid != '' THEN excluded.cid ELSE messages.cid END,
			is_read = CASE WHEN messages.is_read = 1 THEN 1 ELSE excluded.is_read END`,
		m.MsgID, m.Counterparty, m.Sender, m.Recipient, m.Content, m.EncryptedContent, m.CID, m.MessageType, m.FromMe, m.Status, m.IsRead, m.Timestamp, now)
	return err
}

// ConversationMessages returns every message exchanged with counterparty,
// both directions, ascending timestamp with insertion order breaking ties.
func (db *DB) ConversationMessages(counterparty string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, msg_id, counterparty, sender, recipient, content, encrypted_content, cid, message_type, from_me, status, is_read, timestamp
		FROM messages
		WHERE counterparty = ?
		ORDER BY timestamp ASC, id ASC`, counterparty)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.Counterparty, &m.Sender, &m.Recipient, &m.Content, &m.EncryptedContent, &m.CID, &m.MessageType, &m.FromMe, &m.Status, &m.IsRead, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus sets the delivery status of one message.
func (db *DB) UpdateMessageStatus(msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	return err
}

// UnreadCount returns the number of unread inbound messages from
// counterparty.
func (db *DB) UnreadCount(counterparty string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE counterparty = ? AND from_me = 0 AND is_read = 0`, counterparty).Scan(&n)
	return n, err
}

// TotalUnread returns the unread inbound message count across all
// conversations.
func (db *DB) TotalUnread() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE from_me = 0 AND is_read = 0`).Scan(&n)
	return n, err
}

// MarkConversationRead flips every inbound message from counterparty to
// read. Outbound messages are untouched.
func (db *DB) MarkConversationRead(counterparty string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE counterparty = ? AND from_me = 0 AND is_read = 0`, counterparty)
	return err
}

// Conversations summarizes every thread, most recent activity first.
func (db *DB) Conversations() ([]ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT counterparty,
			MAX(timestamp) AS last_at,
			COUNT(*) AS total,
			SUM(CASE WHEN from_me = 0 AND is_read = 0 THEN 1 ELSE 0 END) AS unread
		FROM messages
		GROUP BY counterparty
		ORDER BY last_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.Counterparty, &c.LastMessageAt, &c.MessageCount, &c.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for i := range out {
		err := db.QueryRow(`
			SELECT content FROM messages
			WHERE counterparty = ?
			ORDER BY timestamp DESC, id DESC LIMIT 1`, out[i].Counterparty).
			Scan(&out[i].LastMessagePreview)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
