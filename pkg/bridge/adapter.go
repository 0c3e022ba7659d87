// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
)

var (
	// ErrConnect means an adapter failed to establish its session. It is
	// fatal to the bridge at startup.
	ErrConnect = errors.New("failed to connect to platform")
	// ErrSend means the destination platform rejected an outbound message.
	ErrSend = errors.New("failed to send message")
	// ErrDownload means an attachment could not be materialized locally.
	ErrDownload = errors.New("failed to download attachment")
)

// SendRequest is what the bridge asks a destination adapter to post.
type SendRequest struct {
	// SenderName is the original sender's display name. The adapter decides
	// how to render it (markup emphasis where the platform supports it) and
	// must not invent one when it is empty.
	SenderName string
	// Text is the message body, passed through untouched.
	Text string
	// ReplyTo is the native id of the reply target on the destination
	// platform, or empty for a plain message.
	ReplyTo string
	// MediaPaths lists local files to attach, in order. The adapter may
	// send one message per file or attach them all to one message.
	MediaPaths []string
}

// Adapter is the capability set the bridge consumes from each platform
// wrapper. Implementations own all platform-native state and never expose
// platform types to the core.
type Adapter interface {
	// Name identifies the platform ("telegram", "mattermost", ...).
	Name() string
	// Start establishes the session and begins producing on Events.
	// A failure wraps ErrConnect.
	Start(ctx context.Context) error
	// Stop tears the session down. Best effort, idempotent.
	Stop(ctx context.Context) error
	// Events is the adapter's inbound stream of normalized messages. The
	// channel closes when the adapter disconnects or stops; it is never
	// restarted.
	Events() <-chan Message
	// Send posts to the bridged chat on this platform and returns one
	// descriptor per message actually created. A failure wraps ErrSend.
	Send(ctx context.Context, req SendRequest) ([]SentMessage, error)
	// Download materializes an attachment to a local file owned by the
	// caller. A failure wraps ErrDownload.
	Download(ctx context.Context, att Attachment) (string, error)
	// SelfID is the bridge's own account id on this platform.
	SelfID() string
}

// Endpoint pairs an adapter with its bridge-level settings.
type Endpoint struct {
	Adapter
	// MasterID is the one sender id allowed to issue the shutdown command
	// on this platform. Empty disables the command for this side.
	MasterID string
}
