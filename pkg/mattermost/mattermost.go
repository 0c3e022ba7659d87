// Copyright 2024-2026 Aiku AI

// Package mattermost adapts a single Mattermost channel to the bridge's
// Adapter contract over the REST and WebSocket APIs.
package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/telemost/pkg/bridge"
)

// Config holds what the adapter needs to connect to one Mattermost channel.
type Config struct {
	// ServerURL is the base URL of the Mattermost server, e.g.
	// https://chat.example.com.
	ServerURL string `yaml:"server_url"`
	// Token is a personal access token or bot token.
	Token string `yaml:"token"`
	// ChannelID is the one channel the bridge relays.
	ChannelID string `yaml:"channel_id"`
	// MasterID is the user id allowed to issue the shutdown command on
	// this side.
	MasterID string `yaml:"master_id"`
}

// Adapter bridges one Mattermost channel.
type Adapter struct {
	log       zerolog.Logger
	serverURL string
	token     string
	channelID string

	client *model.Client4
	selfID string
	events chan bridge.Message
	names  *nameCache

	wsMu sync.Mutex
	ws   *model.WebSocketClient

	stopOnce sync.Once
	stopChan chan struct{}
}

var _ bridge.Adapter = (*Adapter)(nil)

// New creates a Mattermost adapter. It does not touch the network; Start does.
func New(log zerolog.Logger, cfg Config) *Adapter {
	return &Adapter{
		log:       log.With().Str("adapter", "mattermost").Logger(),
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		token:     cfg.Token,
		channelID: cfg.ChannelID,
		events:    make(chan bridge.Message, 16),
		names:     newNameCache(1024),
		stopChan:  make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return "mattermost" }

func (a *Adapter) SelfID() string { return a.selfID }

func (a *Adapter) Events() <-chan bridge.Message { return a.events }

// Start verifies the token and opens the WebSocket event stream.
func (a *Adapter) Start(ctx context.Context) error {
	a.client = model.NewAPIv4Client(a.serverURL)
	a.client.SetToken(a.token)

	me, _, err := a.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("%w: mattermost getMe: %w", bridge.ErrConnect, err)
	}
	a.selfID = me.Id

	if err := a.connectWebSocket(); err != nil {
		return fmt.Errorf("%w: %w", bridge.ErrConnect, err)
	}

	a.log.Info().
		Str("server_url", a.serverURL).
		Str("user_id", me.Id).
		Str("username", me.Username).
		Str("channel_id", a.channelID).
		Msg("Connected to Mattermost")

	go a.listen(ctx)
	return nil
}

// Stop closes the WebSocket stream, which ends the listen loop and the
// Events channel.
func (a *Adapter) Stop(ctx context.Context) error {
	a.log.Info().Msg("Stopping Mattermost adapter")
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
	a.wsMu.Lock()
	if a.ws != nil {
		a.ws.Close()
		a.ws = nil
	}
	a.wsMu.Unlock()
	return nil
}

func (a *Adapter) connectWebSocket() error {
	ws, err := model.NewWebSocketClient4(httpToWS(a.serverURL), a.client.AuthToken)
	if err != nil {
		return fmt.Errorf("creating websocket client: %w", err)
	}
	ws.Listen()
	a.wsMu.Lock()
	a.ws = ws
	a.wsMu.Unlock()
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (a *Adapter) eventChannel() chan *model.WebSocketEvent {
	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	if a.ws == nil {
		return nil
	}
	return a.ws.EventChannel
}

// listen pumps WebSocket events into the bridge. A dropped connection is
// reopened transparently; only an explicit Stop or a failed reconnect ends
// the stream.
func (a *Adapter) listen(ctx context.Context) {
	defer close(a.events)
	for {
		ch := a.eventChannel()
		if ch == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case evt, ok := <-ch:
			if !ok {
				select {
				case <-a.stopChan:
					return
				default:
				}
				a.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				if err := a.connectWebSocket(); err != nil {
					a.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
					return
				}
				continue
			}
			if evt == nil {
				continue
			}
			a.handleEvent(ctx, evt)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	if evt.EventType() != model.WebsocketEventPosted {
		return
	}
	post, senderName := a.parsePosted(evt)
	if post == nil {
		return
	}
	ev := a.convert(ctx, post, senderName)
	select {
	case a.events <- ev:
	case <-ctx.Done():
	case <-a.stopChan:
	}
}

// parsePosted extracts the post from a posted event and applies echo
// prevention. A nil post means the event is not worth relaying.
func (a *Adapter) parsePosted(evt *model.WebSocketEvent) (*model.Post, string) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		a.log.Warn().Msg("Posted event missing post data")
		return nil, ""
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		a.log.Warn().Err(err).Msg("Failed to unmarshal post")
		return nil, ""
	}

	if post.ChannelId != a.channelID {
		return nil, ""
	}
	// Echo prevention: skip own posts.
	if post.UserId == a.selfID {
		return nil, ""
	}
	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, ""
	}

	senderName, _ := evt.GetData()["sender_name"].(string)
	return &post, strings.TrimPrefix(senderName, "@")
}

func (a *Adapter) convert(ctx context.Context, post *model.Post, senderName string) bridge.Message {
	if senderName == "" {
		senderName = a.displayName(ctx, post.UserId)
	}
	ev := bridge.Message{
		Platform:   a.Name(),
		NativeID:   post.Id,
		SenderID:   post.UserId,
		SenderName: senderName,
		ChatID:     post.ChannelId,
		Text:       post.Message,
		ReplyTo:    post.RootId,
	}
	for _, fileID := range post.FileIds {
		ev.Attachments = append(ev.Attachments, bridge.Attachment{
			Kind:   a.attachmentKind(ctx, fileID),
			Handle: fileID,
		})
	}
	return ev
}

func (a *Adapter) attachmentKind(ctx context.Context, fileID string) bridge.AttachmentKind {
	info, _, err := a.client.GetFileInfo(ctx, fileID)
	if err != nil {
		a.log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to get file info")
		return bridge.AttachmentFile
	}
	switch {
	case strings.HasPrefix(info.MimeType, "image/"):
		return bridge.AttachmentImage
	case strings.HasPrefix(info.MimeType, "audio/"):
		return bridge.AttachmentAudio
	default:
		return bridge.AttachmentFile
	}
}

// displayName resolves a user id to something readable, preferring nickname,
// then username, then real name. Results are cached with a bounded size so a
// busy server cannot grow the map without limit.
func (a *Adapter) displayName(ctx context.Context, userID string) string {
	if name, ok := a.names.get(userID); ok {
		return name
	}
	user, _, err := a.client.GetUser(ctx, userID, "")
	if err != nil {
		a.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to get user")
		return userID
	}
	name := userID
	switch {
	case user.Nickname != "":
		name = user.Nickname
	case user.Username != "":
		name = user.Username
	case user.FirstName != "":
		name = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	a.names.put(userID, name)
	return name
}

// Send posts one relayed message to the configured channel: every media file
// is uploaded first, then a single post carries the text and all file ids.
func (a *Adapter) Send(ctx context.Context, req bridge.SendRequest) ([]bridge.SentMessage, error) {
	text := req.Text
	if req.SenderName != "" {
		text = fmt.Sprintf("<**%s**>\n%s", req.SenderName, req.Text)
	}

	var fileIDs []string
	for _, p := range req.MediaPaths {
		id, err := a.uploadFile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%w: mattermost upload %s: %w", bridge.ErrSend, filepath.Base(p), err)
		}
		fileIDs = append(fileIDs, id)
	}

	post := &model.Post{
		ChannelId: a.channelID,
		Message:   text,
		RootId:    req.ReplyTo,
		FileIds:   fileIDs,
	}
	created, _, err := a.client.CreatePost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("%w: mattermost post: %w", bridge.ErrSend, err)
	}
	return []bridge.SentMessage{{
		NativeID: created.Id,
		SenderID: a.selfID,
		ChatID:   created.ChannelId,
	}}, nil
}

func (a *Adapter) uploadFile(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	resp, _, err := a.client.UploadFile(ctx, data, a.channelID, filepath.Base(localPath))
	if err != nil {
		return "", err
	}
	if len(resp.FileInfos) == 0 {
		return "", fmt.Errorf("no file info returned from upload")
	}
	return resp.FileInfos[0].Id, nil
}

// Download fetches one attachment into a temporary file and returns its
// path. The caller owns the file.
func (a *Adapter) Download(ctx context.Context, att bridge.Attachment) (string, error) {
	info, _, err := a.client.GetFileInfo(ctx, att.Handle)
	if err != nil {
		return "", fmt.Errorf("%w: mattermost file info %s: %w", bridge.ErrDownload, att.Handle, err)
	}
	data, _, err := a.client.GetFile(ctx, att.Handle)
	if err != nil {
		return "", fmt.Errorf("%w: mattermost file %s: %w", bridge.ErrDownload, att.Handle, err)
	}

	tmp, err := os.CreateTemp("", "mattermost-*"+filepath.Ext(info.Name))
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
