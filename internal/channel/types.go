// Package channel defines the platform-neutral message model the clash
// pipeline consumes, decoupling it from any one chat SDK.
package channel

import (
	"context"
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "discord").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Bot         bool
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment represents a binary file attached to a message.
type Attachment struct {
	Type   AttachmentType `json:"type"`
	URL    string         `json:"url,omitempty"`
	Name   string         `json:"name,omitempty"`
	Size   int64          `json:"size,omitempty"`
	Mime   string         `json:"mime,omitempty"`
	Width  int            `json:"width,omitempty"`
	Height int            `json:"height,omitempty"`
}

// Embed carries the image-bearing fields of an embedded media block.
// Only the image and thumbnail URLs matter to this pipeline.
type Embed struct {
	ImageURL     string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Message is the unified message structure used across channels.
type Message struct {
	ID          string       `json:"id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" &&
		len(m.Attachments) == 0 &&
		len(m.Embeds) == 0
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel    ChannelType
	Message    Message
	GuildID    string
	ChannelID  string
	Sender     Identity
	ReceivedAt time.Time
}

// InboundHandler processes an inbound message from a connected channel.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// Command is a structured slash-command or context-menu invocation.
type Command struct {
	Name        string
	ClanToken   string
	MessageLink string
	DryRun      bool
	Attachment  *Attachment
	// TargetMessage is the message a context-menu command was invoked
	// on, already resolved by the platform.
	TargetMessage *Message
	GuildID       string
	ChannelID     string
	Sender        Identity
}

// CommandHandler processes a slash-command invocation and returns the
// user-facing reply text.
type CommandHandler func(ctx context.Context, cmd Command) (string, error)
