// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM wraps an httptest.Server simulating the Mattermost API. It records
// calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileContents maps file ID to raw bytes served by GetFile.
	FileContents map[string][]byte
	// FailEndpoints causes specific path substrings to return 500.
	FailEndpoints map[string]bool

	uploadCount int
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		Files:         make(map[string]*model.FileInfo),
		FileContents:  make(map[string][]byte),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CountPath(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			n++
		}
	}
	return n
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		if u, ok := f.Users["me"]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		uid := path[len("/api/v4/users/"):]
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		_ = json.NewEncoder(w).Encode(&post)

	// POST /api/v4/files (UploadFile)
	case r.Method == "POST" && path == "/api/v4/files":
		f.mu.Lock()
		f.uploadCount++
		id := fmt.Sprintf("uploaded-file-%d", f.uploadCount)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: id}},
		})

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && strings.Contains(path, "/files/") && strings.HasSuffix(path, "/info"):
		parts := strings.Split(path, "/")
		fileID := parts[len(parts)-2]
		if info, ok := f.Files[fileID]; ok {
			_ = json.NewEncoder(w).Encode(info)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/"):
		fileID := path[len("/api/v4/files/"):]
		if data, ok := f.FileContents[fileID]; ok {
			_, _ = w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	default:
		w.WriteHeader(http.StatusNotImplemented)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unhandled: " + path})
	}
}

// newTestAdapter returns an adapter wired to the fake server, already
// authenticated as self-mm.
func newTestAdapter(t *testing.T, f *fakeMM) *Adapter {
	t.Helper()
	t.Cleanup(f.Close)
	a := New(zerolog.Nop(), Config{
		ServerURL: f.Server.URL,
		Token:     "test-token",
		ChannelID: "chan-1",
	})
	a.client = model.NewAPIv4Client(f.Server.URL)
	a.client.SetToken("test-token")
	a.selfID = "self-mm"
	return a
}

// postedEvent builds a WebSocket posted event carrying the given post.
func postedEvent(t *testing.T, post *model.Post, senderName string) *model.WebSocketEvent {
	t.Helper()
	raw, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("failed to marshal post: %v", err)
	}
	evt := model.NewWebSocketEvent(model.WebsocketEventPosted, "", post.ChannelId, "", nil, "")
	evt.Add("post", string(raw))
	if senderName != "" {
		evt.Add("sender_name", senderName)
	}
	return evt
}
