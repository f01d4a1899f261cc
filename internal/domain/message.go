package domain

import "time"

// MessageType tags the content payload of a platform message.
type MessageType string

const (
	MessageText          MessageType = "Text"
	MessageSound         MessageType = "Sound"
	MessageObject        MessageType = "Object"
	MessageSessionInvite MessageType = "SessionInvite"
)

// Message is one inbound or outbound platform message. Content is an opaque
// payload whose interpretation depends on Type: plain text for Text, a JSON
// document for Sound, Object and SessionInvite.
type Message struct {
	ID             string      `json:"id"`
	SenderID       string      `json:"senderId"`
	RecipientID    string      `json:"recipientId,omitempty"`
	Type           MessageType `json:"messageType"`
	Content        string      `json:"content"`
	SendTime       time.Time   `json:"sendTime"`
	LastUpdateTime time.Time   `json:"lastUpdateTime,omitzero"`
}

// AssetContent is the parsed content of a Sound or Object message.
type AssetContent struct {
	Name     string `json:"name"`
	AssetURI string `json:"assetUri"`
}

// SessionInviteContent is the parsed content of a SessionInvite message.
type SessionInviteContent struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// ReadReceipt acknowledges a batch of messages from one sender.
type ReadReceipt struct {
	SenderID string    `json:"senderId"`
	ReadTime time.Time `json:"readTime"`
	IDs      []string  `json:"ids"`
}
