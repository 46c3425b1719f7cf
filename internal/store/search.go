package store

// SearchMessages performs a full-text search on message contents. Results
// come back most recent first.
func (db *DB) SearchMessages(query string, counterparty string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.msg_id, m.counterparty, m.sender, m.recipient, m.content,
		       m.encrypted_content, m.cid, m.message_type, m.from_me, m.status,
		       m.is_read, m.timestamp,
		       snippet(f.messages_fts, '<<', '>>', '...', 0, 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE f.content MATCH ?`

	args := []any{query}
	if counterparty != "" {
		q += " AND m.counterparty = ?"
		args = append(args, counterparty)
	}
	q += " ORDER BY m.timestamp DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.MsgID, &r.Message.Counterparty,
			&r.Message.Sender, &r.Message.Recipient, &r.Message.Content,
			&r.Message.EncryptedContent, &r.Message.CID, &r.Message.MessageType,
			&r.Message.FromMe, &r.Message.Status, &r.Message.IsRead,
			&r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
