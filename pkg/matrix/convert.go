// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/telemost/pkg/bridge"
)

// convert normalizes one Matrix room event into the bridge's shape. It
// returns false when the event carries nothing worth relaying.
func (a *Adapter) convert(ctx context.Context, evt *event.Event) (bridge.Message, bool) {
	content := evt.Content.AsMessage()
	if content == nil {
		return bridge.Message{}, false
	}
	content.RemoveReplyFallback()

	ev := bridge.Message{
		Platform:   a.Name(),
		NativeID:   evt.ID.String(),
		SenderID:   evt.Sender.String(),
		SenderName: a.displayName(ctx, evt.Sender),
		ChatID:     evt.RoomID.String(),
	}
	if replyTo := content.RelatesTo.GetReplyTo(); replyTo != "" {
		ev.ReplyTo = replyTo.String()
	}

	if evt.Type == event.EventSticker {
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   bridge.AttachmentSticker,
			Handle: string(content.URL),
		})
		return ev, true
	}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice:
		ev.Text = parseContent(content)
	case event.MsgEmote:
		ev.Text = "* " + parseContent(content)
	case event.MsgImage, event.MsgAudio, event.MsgVideo, event.MsgFile:
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   attachmentKind(content.MsgType),
			Handle: string(content.URL),
		})
		// The body is the file name unless the sender typed a caption.
		if content.Body != "" && content.Body != content.GetFileName() {
			ev.Text = content.Body
		}
	default:
		return bridge.Message{}, false
	}

	if ev.Text == "" && len(ev.Attachments) == 0 {
		return bridge.Message{}, false
	}
	return ev, true
}

func attachmentKind(msgType event.MessageType) bridge.AttachmentKind {
	switch msgType {
	case event.MsgImage:
		return bridge.AttachmentImage
	case event.MsgAudio:
		return bridge.AttachmentAudio
	default:
		return bridge.AttachmentFile
	}
}
