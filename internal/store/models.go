package store

import (
	"time"

	"smsrelay/api/internal/outbox"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageStatus string

const (
	MessageReceived MessageStatus = "received"
	MessagePending  MessageStatus = "pending"
	MessageSent     MessageStatus = "sent"
	MessageFailed   MessageStatus = "failed"
)

// Message is one row of the unified timeline. Outbound rows are mirrors of an
// outbox entry and carry its id.
type Message struct {
	ID          int64         `json:"id"`
	Counterpart string        `json:"counterpart"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"time"`
	DeviceID    string        `json:"device_id"`
	Direction   Direction     `json:"direction"`
	Status      MessageStatus `json:"status"`
	OutboxID    *int64        `json:"outbox_id,omitempty"`
}

type OutboxEntry struct {
	ID        int64         `json:"id"`
	Recipient string        `json:"recipient"`
	Content   string        `json:"content"`
	DeviceID  string        `json:"device_id"`
	Status    outbox.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	SentAt    *time.Time    `json:"sent_at"`
}

// ConversationSummary is the latest message exchanged with one counterpart
// plus the number of visible messages in that thread.
type ConversationSummary struct {
	Phone        string    `json:"phone"`
	LastMessage  string    `json:"lastMessage"`
	LastTime     time.Time `json:"lastTime"`
	IsOutgoing   bool      `json:"isOutgoing"`
	MessageCount int       `json:"messageCount"`
}

type AdminIdentity struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SubAccount struct {
	ID           int64     `json:"id"`
	SecretDigest string    `json:"-"`
	FilterType   string    `json:"filterType"`
	FilterValue  string    `json:"filterValue,omitempty"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SettingViewerSecret holds the digest of the legacy shared viewer password.
const SettingViewerSecret = "viewer_secret_digest"
