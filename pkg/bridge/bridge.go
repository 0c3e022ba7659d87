// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/telemost/pkg/media"
	"github.com/aiku/telemost/pkg/store"
)

// shutdownGrace bounds how long Run waits for in-flight relays and adapter
// teardown after a shutdown is requested.
const shutdownGrace = 5 * time.Second

// CorrelationStore is the persistence the bridge needs: append one record per
// relayed message, look the mapping up from either side.
type CorrelationStore interface {
	Put(ctx context.Context, rec *store.Record) error
	GetByAID(ctx context.Context, id string) (*store.Record, error)
	GetByBID(ctx context.Context, id string) (*store.Record, error)
}

// Bridge relays messages between two platform adapters and maintains the
// message id correlation between them.
type Bridge struct {
	a, b    Endpoint
	store   CorrelationStore
	command string
	log     zerolog.Logger

	// reconstruct is swappable for tests.
	reconstruct func(sheetPath string, spec media.SpriteSheetSpec) (string, error)

	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	errMu  sync.Mutex
	runErr error
}

// New creates a bridge between endpoint a and endpoint b. command is the
// reserved shutdown command text ("/die" unless configured otherwise).
func New(log zerolog.Logger, st CorrelationStore, a, b Endpoint, command string) *Bridge {
	return &Bridge{
		a:           a,
		b:           b,
		store:       st,
		command:     command,
		log:         log,
		reconstruct: media.ReconstructGIF,
		stopCh:      make(chan struct{}),
	}
}

// Run starts both adapters and relays until the context is canceled, the
// shutdown command arrives, or an adapter stream ends. It returns a non-nil
// error on startup failure or an unexpected relay failure.
func (br *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	br.log.Info().
		Str("platform_a", br.a.Name()).
		Str("platform_b", br.b.Name()).
		Msg("Starting bridge")

	if err := br.a.Start(ctx); err != nil {
		return fmt.Errorf("starting %s: %w", br.a.Name(), err)
	}
	if err := br.b.Start(ctx); err != nil {
		br.stopAdapters()
		return fmt.Errorf("starting %s: %w", br.b.Name(), err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	// pumpEnded fires as soon as either relay loop returns; a single
	// adapter stream ending takes the whole bridge down.
	pumpEnded := make(chan struct{}, 2)
	go func() {
		defer wg.Done()
		br.pump(ctx, br.a, br.b, true)
		pumpEnded <- struct{}{}
	}()
	go func() {
		defer wg.Done()
		br.pump(ctx, br.b, br.a, false)
		pumpEnded <- struct{}{}
	}()

	pumpsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(pumpsDone)
	}()

	select {
	case <-ctx.Done():
		br.log.Info().Msg("Context canceled, shutting down")
	case <-br.stopCh:
		br.log.Info().Msg("Shutdown requested")
	case <-pumpEnded:
		br.log.Warn().Msg("Adapter stream ended, shutting down")
	}

	cancel()
	br.stopAdapters()

	select {
	case <-pumpsDone:
	case <-time.After(shutdownGrace):
		br.log.Warn().Msg("Relay loops still busy after grace period, abandoning them")
	}

	br.errMu.Lock()
	defer br.errMu.Unlock()
	return br.runErr
}

// Shutdown asks the bridge to stop. Safe to call from any goroutine, any
// number of times.
func (br *Bridge) Shutdown() {
	br.stopping.Store(true)
	br.stopOnce.Do(func() {
		close(br.stopCh)
	})
}

// fail records the first unexpected error and triggers shutdown.
func (br *Bridge) fail(err error) {
	br.errMu.Lock()
	if br.runErr == nil {
		br.runErr = err
	}
	br.errMu.Unlock()
	br.Shutdown()
}

func (br *Bridge) stopAdapters() {
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := br.a.Stop(stopCtx); err != nil {
		br.log.Warn().Err(err).Str("platform", br.a.Name()).Msg("Adapter stop failed")
	}
	if err := br.b.Stop(stopCtx); err != nil {
		br.log.Warn().Err(err).Str("platform", br.b.Name()).Msg("Adapter stop failed")
	}
}

// pump consumes one adapter's inbound stream. Each event is handled to
// completion before the next one is read, which keeps relay in order per
// source platform. The two pumps run independently of each other.
func (br *Bridge) pump(ctx context.Context, src, dst Endpoint, aToB bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src.Events():
			if !ok {
				return
			}
			br.handleEvent(ctx, ev, src, dst, aToB)
		}
	}
}

func (br *Bridge) handleEvent(ctx context.Context, ev Message, src, dst Endpoint, aToB bool) {
	if br.handleControl(ctx, ev, src) {
		return
	}
	if _, err := br.relay(ctx, ev, src, dst, aToB); err != nil {
		if isRelayError(err) {
			br.log.Error().Err(err).
				Str("source", src.Name()).
				Str("native_id", ev.NativeID).
				Str("sender_id", ev.SenderID).
				Msg("Relay failed, dropping event")
			return
		}
		// Unrecognized failure: better to stop than keep running in an
		// unknown state.
		br.log.WithLevel(zerolog.FatalLevel).Err(err).
			Str("source", src.Name()).
			Str("native_id", ev.NativeID).
			Msg("Unexpected relay error, terminating")
		br.fail(err)
	}
}

// isRelayError reports whether err is an expected per-event failure that
// should drop the event without taking the bridge down.
func isRelayError(err error) bool {
	return errors.Is(err, ErrSend) ||
		errors.Is(err, ErrDownload) ||
		errors.Is(err, media.ErrDecode) ||
		errors.Is(err, media.ErrInvalidSpec)
}

// relay posts one inbound event to the destination platform and records the
// correlation. aToB tells which direction the event travels so the record's
// A/B columns stay oriented consistently.
func (br *Bridge) relay(ctx context.Context, ev Message, src, dst Endpoint, aToB bool) ([]*store.Record, error) {
	if ev.SenderID == src.SelfID() {
		// Previously relayed content echoing back. Never re-post it.
		br.log.Debug().
			Str("source", src.Name()).
			Str("native_id", ev.NativeID).
			Msg("Skipping own message")
		return nil, nil
	}

	log := br.log.With().
		Str("source", src.Name()).
		Str("native_id", ev.NativeID).
		Logger()

	replyTo := br.resolveReplyTarget(ctx, ev, aToB, log)

	paths, cleanup, err := br.materializeAttachments(ctx, ev, src)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	sent, err := dst.Send(ctx, SendRequest{
		SenderName: ev.SenderName,
		Text:       ev.Text,
		ReplyTo:    replyTo,
		MediaPaths: paths,
	})
	if err != nil {
		return nil, err
	}

	recs := make([]*store.Record, 0, len(sent))
	for _, sm := range sent {
		rec := correlate(ev, sm, aToB)
		if err := br.store.Put(ctx, rec); err != nil {
			// The counterpart message is already posted; a lost mapping
			// only degrades future reply threading, never the relay.
			if errors.Is(err, store.ErrConflict) {
				log.Debug().Err(err).Msg("Correlation pair already recorded")
			} else {
				log.Warn().Err(err).Msg("Failed to persist correlation record")
			}
			continue
		}
		log.Debug().
			Str("counterpart_id", sm.NativeID).
			Str("destination", dst.Name()).
			Msg("Relayed message")
		recs = append(recs, rec)
	}
	return recs, nil
}

// resolveReplyTarget maps the source-side reply id to its counterpart on the
// destination platform. Best effort: any miss or store failure degrades to a
// non-reply relay.
func (br *Bridge) resolveReplyTarget(ctx context.Context, ev Message, aToB bool, log zerolog.Logger) string {
	if ev.ReplyTo == "" {
		return ""
	}
	var rec *store.Record
	var err error
	if aToB {
		rec, err = br.store.GetByAID(ctx, ev.ReplyTo)
	} else {
		rec, err = br.store.GetByBID(ctx, ev.ReplyTo)
	}
	if err != nil {
		log.Warn().Err(err).Str("reply_to", ev.ReplyTo).Msg("Reply lookup failed, relaying as non-reply")
		return ""
	}
	if rec == nil {
		log.Debug().Str("reply_to", ev.ReplyTo).Msg("Reply target not mapped, relaying as non-reply")
		return ""
	}
	if aToB {
		return rec.BMessageID
	}
	return rec.AMessageID
}

// materializeAttachments turns every attachment into a local file: animated
// stickers are reconstructed from their sprite sheets, everything else is
// downloaded through the source adapter. The returned cleanup removes all
// temporary files and must be called after the destination send finishes.
func (br *Bridge) materializeAttachments(ctx context.Context, ev Message, src Endpoint) ([]string, func(), error) {
	var paths, temps []string
	cleanup := func() {
		for _, p := range temps {
			if err := os.Remove(p); err != nil {
				br.log.Debug().Err(err).Str("path", p).Msg("Failed to remove temp file")
			}
		}
	}

	for _, att := range ev.Attachments {
		path := att.LocalPath
		if path == "" {
			var err error
			path, err = src.Download(ctx, att)
			if err != nil {
				return nil, cleanup, fmt.Errorf("attachment %s: %w", att.Handle, err)
			}
			temps = append(temps, path)
		}

		if att.Kind == AttachmentAnimatedSticker {
			if att.Sprite == nil {
				return nil, cleanup, fmt.Errorf("%w: animated sticker %s has no sprite sheet spec", media.ErrInvalidSpec, att.Handle)
			}
			gifPath, err := br.reconstruct(path, *att.Sprite)
			if err != nil {
				return nil, cleanup, fmt.Errorf("sticker %s: %w", att.Handle, err)
			}
			temps = append(temps, gifPath)
			path = gifPath
		}

		paths = append(paths, path)
	}
	return paths, cleanup, nil
}

func correlate(ev Message, sm SentMessage, aToB bool) *store.Record {
	if aToB {
		return &store.Record{
			AMessageID: ev.NativeID,
			ASenderID:  ev.SenderID,
			AChatID:    ev.ChatID,
			BMessageID: sm.NativeID,
			BSenderID:  sm.SenderID,
			BThreadID:  sm.ChatID,
		}
	}
	return &store.Record{
		AMessageID: sm.NativeID,
		ASenderID:  sm.SenderID,
		AChatID:    sm.ChatID,
		BMessageID: ev.NativeID,
		BSenderID:  ev.SenderID,
		BThreadID:  ev.ChatID,
	}
}
