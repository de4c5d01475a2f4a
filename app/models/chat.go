package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// MessageBody is stored as jsonb.
type MessageBody struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// Value implements driver.Valuer.
func (m MessageBody) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *MessageBody) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = MessageBody{}
		return nil
	default:
		return errors.New("unsupported message column type")
	}
}

type ChatMessage struct {
	ID        int64       `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"-"`
	SessionID string      `db:"session_id" json:"session_id"`
	Message   MessageBody `db:"message" json:"message"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// ChatRequest is the body accepted by POST /chat.
type ChatRequest struct {
	SessionID string       `json:"sessionId"`
	ChatInput OptionalText `json:"chatInput"`
}

// OptionalText tells a missing field apart from one that is present.
// An explicit null is present with an empty value.
type OptionalText struct {
	Set   bool
	Value string
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalText) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}
