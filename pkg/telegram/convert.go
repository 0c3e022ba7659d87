// Copyright 2024-2026 Aiku AI

package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/aiku/telemost/pkg/bridge"
)

// convert normalizes one Telegram message into the bridge's shape. It returns
// false when the message carries nothing worth relaying.
func (a *Adapter) convert(msg *telego.Message) (bridge.Message, bool) {
	if msg.From == nil {
		return bridge.Message{}, false
	}

	ev := bridge.Message{
		Platform:   a.Name(),
		NativeID:   strconv.Itoa(msg.MessageID),
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		SenderName: displayName(msg.From),
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		Text:       msg.Text,
	}
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	switch {
	case len(msg.Photo) > 0:
		// Telegram serves multiple resolutions; the last entry is the
		// largest.
		best := msg.Photo[len(msg.Photo)-1]
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   bridge.AttachmentImage,
			Handle: best.FileID,
		})
	case msg.Document != nil:
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   bridge.AttachmentFile,
			Handle: msg.Document.FileID,
		})
	case msg.Audio != nil:
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   bridge.AttachmentAudio,
			Handle: msg.Audio.FileID,
		})
	case msg.Voice != nil:
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   bridge.AttachmentAudio,
			Handle: msg.Voice.FileID,
		})
	case msg.Sticker != nil:
		if msg.Sticker.IsAnimated || msg.Sticker.IsVideo {
			// TGS and WebM stickers have no still form the other side
			// can show. Degrade to a text marker.
			ev.Text = stickerPlaceholder(msg.Sticker)
		} else {
			ev.Attachments = append(ev.Attachments, bridge.Attachment{
				Kind:   bridge.AttachmentSticker,
				Handle: msg.Sticker.FileID,
			})
		}
	}

	if ev.Text == "" && len(ev.Attachments) == 0 {
		return bridge.Message{}, false
	}
	return ev, true
}

// displayName picks the friendliest available identity: username, then full
// name, then the raw numeric id.
func displayName(user *telego.User) string {
	if user.Username != "" {
		return user.Username
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	if name != "" {
		return name
	}
	return strconv.FormatInt(user.ID, 10)
}

func stickerPlaceholder(st *telego.Sticker) string {
	if st.Emoji != "" {
		return fmt.Sprintf("[sticker %s]", st.Emoji)
	}
	return "[sticker]"
}

var (
	reCodeBlock  = regexp.MustCompile("(?s)```[\\w]*\\n?(.*?)```")
	reInlineCode = regexp.MustCompile("`([^`\n]+)`")
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic     = regexp.MustCompile(`(^|\s)_([^_\n]+)_`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
)

// renderHTML converts the markdown subset the bridge relays into Telegram's
// HTML flavor. Code spans are pulled out before escaping so their contents
// survive untouched.
func renderHTML(text string) string {
	if text == "" {
		return ""
	}

	var blocks, spans []string
	text = reCodeBlock.ReplaceAllStringFunc(text, func(m string) string {
		code := reCodeBlock.FindStringSubmatch(m)[1]
		blocks = append(blocks, code)
		return fmt.Sprintf("\x00B%d\x00", len(blocks)-1)
	})
	text = reInlineCode.ReplaceAllStringFunc(text, func(m string) string {
		code := reInlineCode.FindStringSubmatch(m)[1]
		spans = append(spans, code)
		return fmt.Sprintf("\x00S%d\x00", len(spans)-1)
	})

	text = html.EscapeString(text)
	text = reLink.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reItalic.ReplaceAllString(text, "$1<i>$2</i>")
	text = reStrike.ReplaceAllString(text, "<s>$1</s>")

	for i, code := range spans {
		text = strings.ReplaceAll(text,
			fmt.Sprintf("\x00S%d\x00", i),
			"<code>"+html.EscapeString(code)+"</code>")
	}
	for i, code := range blocks {
		text = strings.ReplaceAll(text,
			fmt.Sprintf("\x00B%d\x00", i),
			"<pre><code>"+html.EscapeString(code)+"</code></pre>")
	}
	return text
}
