// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/telemost/pkg/store"
)

// fakeAdapter implements Adapter in-memory for relay tests.
type fakeAdapter struct {
	name   string
	selfID string
	events chan Message

	// sendCh receives a copy of every SendRequest, for synchronization in
	// run-loop tests.
	sendCh chan SendRequest

	mu          sync.Mutex
	startErr    error
	sendErr     error
	downloadErr error
	// sendResult is returned from Send. Defaults to one descriptor.
	sendResult []SentMessage
	sent       []SendRequest
	// mediaExisted records, per Send call, whether every attached media
	// path existed on disk at send time.
	mediaExisted []bool
	// downloads maps attachment handles to the local path Download returns.
	downloads  map[string]string
	startCalls int
	stopCalls  int
}

func newFakeAdapter(name, selfID string) *fakeAdapter {
	return &fakeAdapter{
		name:      name,
		selfID:    selfID,
		events:    make(chan Message, 16),
		sendCh:    make(chan SendRequest, 16),
		downloads: make(map[string]string),
		sendResult: []SentMessage{
			{NativeID: "sent-1", SenderID: "bridge-" + name, ChatID: "chat-" + name},
		},
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeAdapter) Events() <-chan Message { return f.events }

func (f *fakeAdapter) Send(ctx context.Context, req SendRequest) ([]SentMessage, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	existed := true
	for _, p := range req.MediaPaths {
		if _, err := os.Stat(p); err != nil {
			existed = false
		}
	}
	f.mediaExisted = append(f.mediaExisted, existed)
	err := f.sendErr
	result := append([]SentMessage(nil), f.sendResult...)
	f.mu.Unlock()

	select {
	case f.sendCh <- req:
	default:
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *fakeAdapter) Download(ctx context.Context, att Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	if path, ok := f.downloads[att.Handle]; ok {
		// Hand out a disposable copy; relay deletes downloads after use.
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		tmp, err := os.CreateTemp("", "fake-download-*")
		if err != nil {
			return "", err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return "", err
		}
		tmp.Close()
		return tmp.Name(), nil
	}
	tmp, err := os.CreateTemp("", "fake-download-*")
	if err != nil {
		return "", err
	}
	tmp.Close()
	return tmp.Name(), nil
}

func (f *fakeAdapter) SelfID() string { return f.selfID }

func (f *fakeAdapter) sentRequests() []SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendRequest(nil), f.sent...)
}

// fakeStore implements CorrelationStore in-memory with error injection.
type fakeStore struct {
	mu          sync.Mutex
	recs        []*store.Record
	putErr      error
	getErr      error
	getByACalls int
	getByBCalls int
}

func (f *fakeStore) Put(ctx context.Context, rec *store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	for _, r := range f.recs {
		if r.AMessageID == rec.AMessageID && r.BMessageID == rec.BMessageID {
			return store.ErrConflict
		}
	}
	cp := *rec
	f.recs = append(f.recs, &cp)
	return nil
}

func (f *fakeStore) GetByAID(ctx context.Context, id string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getByACalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.recs {
		if r.AMessageID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetByBID(ctx context.Context, id string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getByBCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.recs {
		if r.BMessageID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) records() []*store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.Record(nil), f.recs...)
}

// newTestBridge wires a bridge between two fake adapters and a fake store.
func newTestBridge(t *testing.T) (*Bridge, *fakeAdapter, *fakeAdapter, *fakeStore) {
	t.Helper()
	a := newFakeAdapter("alpha", "self-a")
	b := newFakeAdapter("beta", "self-b")
	st := &fakeStore{}
	br := New(zerolog.Nop(), st,
		Endpoint{Adapter: a, MasterID: "master-a"},
		Endpoint{Adapter: b, MasterID: "master-b"},
		"/die")
	return br, a, b, st
}

// writeTestSheet writes a tiny 2x1 sprite sheet PNG and returns its path
// together with the matching spec.
func writeTestSheet(t *testing.T) (string, Attachment) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	path := filepath.Join(t.TempDir(), "sheet.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create sheet: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode sheet: %v", err)
	}
	att := Attachment{
		Kind:   AttachmentAnimatedSticker,
		Handle: "sticker-1",
		Sprite: &spriteSpec2x1,
	}
	return path, att
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
