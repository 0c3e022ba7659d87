// Copyright 2024-2026 Aiku AI

// Package telegram adapts the Telegram Bot API to the bridge's Adapter
// contract, using long polling for the inbound stream.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/aiku/telemost/pkg/bridge"
)

// Config holds what the adapter needs to connect to one Telegram chat.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`
	// ChatID is the one chat the bridge relays. Updates from any other
	// chat are ignored.
	ChatID int64 `yaml:"chat_id"`
	// MasterID is the numeric user id allowed to issue the shutdown
	// command on this side.
	MasterID string `yaml:"master_id"`
}

// Adapter bridges one Telegram chat.
type Adapter struct {
	log    zerolog.Logger
	bot    *telego.Bot
	chatID int64
	selfID string
	events chan bridge.Message
	http   *http.Client
}

var _ bridge.Adapter = (*Adapter)(nil)

// New creates a Telegram adapter. It does not touch the network; Start does.
func New(log zerolog.Logger, cfg Config) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("%w: creating telegram bot: %w", bridge.ErrConnect, err)
	}
	return &Adapter{
		log:    log.With().Str("adapter", "telegram").Logger(),
		bot:    bot,
		chatID: cfg.ChatID,
		events: make(chan bridge.Message, 16),
		http:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) SelfID() string { return a.selfID }

func (a *Adapter) Events() <-chan bridge.Message { return a.events }

// Start verifies the token, learns the bot's own id and begins long polling.
// The polling loop stops when ctx is canceled, which also closes Events.
func (a *Adapter) Start(ctx context.Context) error {
	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("%w: telegram getMe: %w", bridge.ErrConnect, err)
	}
	a.selfID = strconv.FormatInt(me.ID, 10)

	updates, err := a.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("%w: telegram long polling: %w", bridge.ErrConnect, err)
	}

	a.log.Info().
		Str("username", me.Username).
		Int64("chat_id", a.chatID).
		Msg("Connected to Telegram")

	go a.pump(ctx, updates)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.log.Info().Msg("Stopping Telegram adapter")
	return nil
}

func (a *Adapter) pump(ctx context.Context, updates <-chan telego.Update) {
	defer close(a.events)
	for update := range updates {
		msg := update.Message
		if msg == nil || msg.Chat.ID != a.chatID {
			continue
		}
		ev, ok := a.convert(msg)
		if !ok {
			continue
		}
		select {
		case a.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Send posts one relayed message to the configured chat. Text goes out as a
// single message, or as the caption of the first media upload when media is
// attached. Every posted Telegram message yields one descriptor.
func (a *Adapter) Send(ctx context.Context, req bridge.SendRequest) ([]bridge.SentMessage, error) {
	text := req.Text
	if req.SenderName != "" {
		text = fmt.Sprintf("<**%s**>\n%s", req.SenderName, req.Text)
	}

	var reply *telego.ReplyParameters
	if req.ReplyTo != "" {
		if id, err := strconv.Atoi(req.ReplyTo); err == nil {
			reply = &telego.ReplyParameters{MessageID: id}
		}
	}

	var sent []bridge.SentMessage
	if len(req.MediaPaths) == 0 {
		msg, err := a.sendText(ctx, text, reply)
		if err != nil {
			return nil, fmt.Errorf("%w: telegram message: %w", bridge.ErrSend, err)
		}
		return append(sent, a.describe(msg)), nil
	}

	for i, p := range req.MediaPaths {
		caption := ""
		if i == 0 {
			caption = text
		}
		msg, err := a.sendMedia(ctx, p, caption, reply)
		if err != nil {
			return sent, fmt.Errorf("%w: telegram media %s: %w", bridge.ErrSend, path.Base(p), err)
		}
		sent = append(sent, a.describe(msg))
	}
	return sent, nil
}

// sendText tries Telegram-flavored HTML first and falls back to plain text
// when the API rejects the markup.
func (a *Adapter) sendText(ctx context.Context, text string, reply *telego.ReplyParameters) (*telego.Message, error) {
	params := &telego.SendMessageParams{
		ChatID:          tu.ID(a.chatID),
		Text:            renderHTML(text),
		ParseMode:       telego.ModeHTML,
		ReplyParameters: reply,
	}
	msg, err := a.bot.SendMessage(ctx, params)
	if err == nil {
		return msg, nil
	}
	a.log.Debug().Err(err).Msg("HTML send rejected, retrying as plain text")
	params.Text = text
	params.ParseMode = ""
	return a.bot.SendMessage(ctx, params)
}

func (a *Adapter) sendMedia(ctx context.Context, localPath, caption string, reply *telego.ReplyParameters) (*telego.Message, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	file := tu.File(f)
	switch strings.ToLower(path.Ext(localPath)) {
	case ".gif":
		return a.bot.SendAnimation(ctx, &telego.SendAnimationParams{
			ChatID:          tu.ID(a.chatID),
			Animation:       file,
			Caption:         caption,
			ReplyParameters: reply,
		})
	case ".jpg", ".jpeg", ".png", ".webp":
		return a.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:          tu.ID(a.chatID),
			Photo:           file,
			Caption:         caption,
			ReplyParameters: reply,
		})
	default:
		return a.bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID:          tu.ID(a.chatID),
			Document:        file,
			Caption:         caption,
			ReplyParameters: reply,
		})
	}
}

func (a *Adapter) describe(msg *telego.Message) bridge.SentMessage {
	return bridge.SentMessage{
		NativeID: strconv.Itoa(msg.MessageID),
		SenderID: a.selfID,
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
	}
}

// Download fetches one attachment through the Bot API file endpoint into a
// temporary file and returns its path. The caller owns the file.
func (a *Adapter) Download(ctx context.Context, att bridge.Attachment) (string, error) {
	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: att.Handle})
	if err != nil {
		return "", fmt.Errorf("%w: telegram getFile %s: %w", bridge.ErrDownload, att.Handle, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("%w: telegram file %s has no path", bridge.ErrDownload, att.Handle)
	}

	url := a.bot.FileDownloadURL(file.FilePath)
	reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", bridge.ErrDownload, err)
	}
	resp, err := a.http.Do(reqHTTP)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %s: %w", bridge.ErrDownload, att.Handle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetching %s: HTTP %d", bridge.ErrDownload, att.Handle, resp.StatusCode)
	}

	ext := path.Ext(file.FilePath)
	tmp, err := os.CreateTemp("", "telegram-*"+ext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", bridge.ErrDownload, err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: writing %s: %w", bridge.ErrDownload, att.Handle, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %w", bridge.ErrDownload, err)
	}
	return tmp.Name(), nil
}
