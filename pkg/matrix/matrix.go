// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrix adapts a single Matrix room to the bridge's Adapter
// contract using a plain client-server API client.
package matrix

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/telemost/pkg/bridge"
)

// Config holds what the adapter needs to connect to one Matrix room.
type Config struct {
	// HomeserverURL is the base URL of the homeserver.
	HomeserverURL string `yaml:"homeserver_url"`
	// UserID is the full Matrix user id of the bridge account.
	UserID string `yaml:"user_id"`
	// AccessToken authenticates the bridge account.
	AccessToken string `yaml:"access_token"`
	// RoomID is the one room the bridge relays.
	RoomID string `yaml:"room_id"`
	// MasterID is the Matrix user id allowed to issue the shutdown
	// command on this side.
	MasterID string `yaml:"master_id"`
}

// Adapter bridges one Matrix room.
type Adapter struct {
	log    zerolog.Logger
	client *mautrix.Client
	roomID id.RoomID
	selfID string
	events chan bridge.Message

	// startTime filters out history replayed by the first sync.
	startTime int64

	nameMu sync.Mutex
	names  map[id.UserID]string
}

var _ bridge.Adapter = (*Adapter)(nil)

// nameCacheLimit bounds the display name cache; past it the cache is reset.
const nameCacheLimit = 1024

// New creates a Matrix adapter. It does not touch the network; Start does.
func New(log zerolog.Logger, cfg Config) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: creating matrix client: %w", bridge.ErrConnect, err)
	}
	return &Adapter{
		log:    log.With().Str("adapter", "matrix").Logger(),
		client: client,
		roomID: id.RoomID(cfg.RoomID),
		events: make(chan bridge.Message, 16),
		names:  make(map[id.UserID]string),
	}, nil
}

func (a *Adapter) Name() string { return "matrix" }

func (a *Adapter) SelfID() string { return a.selfID }

func (a *Adapter) Events() <-chan bridge.Message { return a.events }

// Start verifies the access token and begins syncing. The sync loop stops
// when ctx is canceled, which also closes Events.
func (a *Adapter) Start(ctx context.Context) error {
	whoami, err := a.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("%w: matrix whoami: %w", bridge.ErrConnect, err)
	}
	a.selfID = whoami.UserID.String()
	a.startTime = time.Now().UnixMilli()

	syncer := a.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		a.handleEvent(ctx, evt)
	})
	syncer.OnEventType(event.EventSticker, func(ctx context.Context, evt *event.Event) {
		a.handleEvent(ctx, evt)
	})

	a.log.Info().
		Str("user_id", a.selfID).
		Str("room_id", a.roomID.String()).
		Msg("Connected to Matrix")

	go func() {
		defer close(a.events)
		if err := a.client.SyncWithContext(ctx); err != nil && ctx.Err() == nil {
			a.log.Error().Err(err).Msg("Matrix sync ended")
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.log.Info().Msg("Stopping Matrix adapter")
	a.client.StopSync()
	return nil
}

func (a *Adapter) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.RoomID != a.roomID || evt.Sender.String() == a.selfID {
		return
	}
	// The first sync replays recent room history; relay only what arrives
	// after startup.
	if evt.Timestamp < a.startTime {
		return
	}
	ev, ok := a.convert(ctx, evt)
	if !ok {
		return
	}
	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

// Send posts one relayed message to the configured room. Text goes out as a
// markdown-rendered message, each media file as its own event. Every posted
// event yields one descriptor.
func (a *Adapter) Send(ctx context.Context, req bridge.SendRequest) ([]bridge.SentMessage, error) {
	text := req.Text
	if req.SenderName != "" {
		text = fmt.Sprintf("<**%s**>\n%s", req.SenderName, req.Text)
	}

	var sent []bridge.SentMessage
	if text != "" {
		content := format.RenderMarkdown(text, true, false)
		if req.ReplyTo != "" {
			content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(id.EventID(req.ReplyTo))
		}
		resp, err := a.client.SendMessageEvent(ctx, a.roomID, event.EventMessage, &content)
		if err != nil {
			return nil, fmt.Errorf("%w: matrix message: %w", bridge.ErrSend, err)
		}
		sent = append(sent, a.describe(resp.EventID))
	}

	for _, p := range req.MediaPaths {
		eventID, err := a.sendMedia(ctx, p, req.ReplyTo)
		if err != nil {
			return sent, fmt.Errorf("%w: matrix media %s: %w", bridge.ErrSend, filepath.Base(p), err)
		}
		sent = append(sent, a.describe(eventID))
	}
	return sent, nil
}

func (a *Adapter) sendMedia(ctx context.Context, localPath, replyTo string) (id.EventID, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	mimeType := http.DetectContentType(data)

	upload, err := a.client.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mimeType,
		FileName:     filepath.Base(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("uploading: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType: msgTypeForMime(mimeType),
		Body:    filepath.Base(localPath),
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	}
	if replyTo != "" {
		content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(id.EventID(replyTo))
	}
	resp, err := a.client.SendMessageEvent(ctx, a.roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func msgTypeForMime(mimeType string) event.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return event.MsgImage
	case strings.HasPrefix(mimeType, "audio/"):
		return event.MsgAudio
	case strings.HasPrefix(mimeType, "video/"):
		return event.MsgVideo
	default:
		return event.MsgFile
	}
}

func (a *Adapter) describe(eventID id.EventID) bridge.SentMessage {
	return bridge.SentMessage{
		NativeID: eventID.String(),
		SenderID: a.selfID,
		ChatID:   a.roomID.String(),
	}
}

// Download fetches one attachment from the media repository into a temporary
// file and returns its path. The caller owns the file.
func (a *Adapter) Download(ctx context.Context, att bridge.Attachment) (string, error) {
	uri, err := id.ContentURIString(att.Handle).Parse()
	if err != nil {
		return "", fmt.Errorf("%w: matrix media uri %s: %w", bridge.ErrDownload, att.Handle, err)
	}
	data, err := a.client.DownloadBytes(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("%w: matrix media %s: %w", bridge.ErrDownload, att.Handle, err)
	}

	tmp, err := os.CreateTemp("", "matrix-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", bridge.ErrDownload, err)
	}
	if _, err := tmp.Write(data); err != nil {
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

// displayName resolves a Matrix user to their room-visible name, falling
// back to the localpart. Results are cached with a bounded size.
func (a *Adapter) displayName(ctx context.Context, userID id.UserID) string {
	a.nameMu.Lock()
	if name, ok := a.names[userID]; ok {
		a.nameMu.Unlock()
		return name
	}
	a.nameMu.Unlock()

	name := userID.Localpart()
	if resp, err := a.client.GetDisplayName(ctx, userID); err == nil && resp.DisplayName != "" {
		name = resp.DisplayName
	}

	a.nameMu.Lock()
	if len(a.names) >= nameCacheLimit {
		a.names = make(map[id.UserID]string)
	}
	a.names[userID] = name
	a.nameMu.Unlock()
	return name
}
