// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/aiku/telemost/pkg/media"
)

// AttachmentKind classifies a piece of media for relay.
type AttachmentKind string

const (
	AttachmentImage           AttachmentKind = "image"
	AttachmentFile            AttachmentKind = "file"
	AttachmentAudio           AttachmentKind = "audio"
	AttachmentSticker         AttachmentKind = "sticker"
	AttachmentAnimatedSticker AttachmentKind = "animated_sticker"
)

// Attachment describes one piece of media attached to an inbound message.
// Handle is an opaque reference only the owning adapter can resolve (a file
// id, a content URI). For animated stickers the adapter also fills Sprite so
// the sheet can be reconstructed into a playable GIF before relay.
type Attachment struct {
	Kind      AttachmentKind
	Handle    string
	LocalPath string
	Sprite    *media.SpriteSheetSpec
}

// Message is the platform-agnostic representation of an inbound message.
// Adapters build it at their boundary and guarantee NativeID is unique within
// the source platform.
type Message struct {
	// Platform is the adapter name the message came from.
	Platform string
	// NativeID is the message id on the source platform.
	NativeID string
	// SenderID is the sender's id on the source platform.
	SenderID string
	// SenderName is the display name the destination should show: the
	// username if set, else the full name, else the numeric id as a string.
	// Empty only when the source platform provided nothing at all.
	SenderName string
	// ChatID is the platform-native container (chat, channel or thread).
	ChatID string
	// Text is the message body, possibly empty.
	Text string
	// ReplyTo is the native id of the message being replied to on the
	// source platform, or empty.
	ReplyTo string
	// Attachments lists media to relay, in order.
	Attachments []Attachment
}

// SentMessage describes one message the destination adapter created.
type SentMessage struct {
	NativeID string
	SenderID string
	ChatID   string
}
