package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AttachmentKind distinguishes inline images from other files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a binary payload carried by a single message. Data is base64 text.
type Attachment struct {
	Kind     AttachmentKind `json:"type"`
	Name     string         `json:"name"`
	MIMEType string         `json:"mimeType"`
	Data     string         `json:"data"`
}

// Message is a single conversation turn.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Model       string       `json:"model,omitempty"`
}

// Clone returns a copy that shares no attachment storage with m.
func (m Message) Clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	return m
}

// CloneMessages deep-copies a transcript.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// NewMessageID returns a time-ordered unique id.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
