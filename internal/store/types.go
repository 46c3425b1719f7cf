package store

// Message is one stored direct message, keyed by the envelope id. The
// counterparty column is the other wallet in the conversation regardless
// of direction.
type Message struct {
	ID               int64  `json:"-"`
	MsgID            string `json:"id"`
	Counterparty     string `json:"counterparty"`
	Sender           string `json:"from"`
	Recipient        string `json:"to"`
	Content          string `json:"content"`
	EncryptedContent string `json:"encryptedContent,omitempty"`
	CID              string `json:"cid,omitempty"`
	MessageType      string `json:"messageType"`
	FromMe           bool   `json:"fromMe"`
	Status           string `json:"status"` // sending, sent, failed, received
	IsRead           bool   `json:"isRead"`
	Timestamp        int64  `json:"timestamp"`
}

// Contact is an address-book entry.
type Contact struct {
	Address  string `json:"address"`
	Nickname string `json:"nickname,omitempty"`
	Verified bool   `json:"verified"`
	AddedAt  int64  `json:"addedAt"`
}

// OutboxEntry is a pending outgoing message.
type OutboxEntry struct {
	ID           int64  `json:"-"`
	ClientMsgID  string `json:"clientMsgId"`
	Recipient    string `json:"to"`
	Content      string `json:"content"`
	Status       string `json:"status"` // queued, sending, sent, failed
	ErrorMessage string `json:"error,omitempty"`
	CID          string `json:"cid,omitempty"`
}

// ConversationSummary aggregates one counterparty's thread.
type ConversationSummary struct {
	Counterparty       string `json:"counterparty"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
	UnreadCount        int    `json:"unreadCount"`
	MessageCount       int    `json:"messageCount"`
}

// SearchResult holds a matched message with a search snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}
