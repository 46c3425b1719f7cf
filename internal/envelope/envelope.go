package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Envelope is the JSON document pinned to the content store for a single
// direct message. Field names match the pinned wire format and must not
// change without a version bump.
type Envelope struct {
	ID               string `json:"id"`
	From             string `json:"from"`
	To               string `json:"to"`
	Content          string `json:"content"`
	EncryptedContent string `json:"encryptedContent,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	Signature        string `json:"signature,omitempty"`
	MessageType      string `json:"messageType,omitempty"`
	Nonce            string `json:"nonce,omitempty"`
	Version          string `json:"version,omitempty"`
}

// ErrMalformed is returned when retrieved bytes do not decode into a
// usable message envelope.
var ErrMalformed = errors.New("malformed message envelope")

// Decode parses pinned bytes into an Envelope. A document that parses as
// JSON but is missing the addressing fields is still malformed: the
// synchronizer cannot route it to a conversation.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.From == "" || env.To == "" {
		return nil, fmt.Errorf("%w: missing from/to", ErrMalformed)
	}
	if env.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if env.MessageType == "" {
		env.MessageType = "text"
	}
	return &env, nil
}

// Encode serializes the envelope for pinning.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Counterparty returns the other side of the conversation from the
// perspective of wallet.
func (e *Envelope) Counterparty(wallet string) string {
	if e.From == wallet {
		return e.To
	}
	return e.From
}

// SigningBytes returns the canonical byte string covered by the message
// signature.
func (e *Envelope) SigningBytes() []byte {
	s := e.From + "|" + e.To + "|" + e.Content + "|" + strconv.FormatInt(e.Timestamp, 10)
	return []byte(s)
}
