// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
)

// handleControl intercepts the reserved shutdown command. It returns true
// when the event was consumed as a command and must not be relayed.
//
// The command is matched on exact text AND exact sender id: anyone else
// posting the same text gets relayed like ordinary chatter. Once the bridge
// is shutting down the state is terminal; repeated commands are swallowed
// without another acknowledgement.
func (br *Bridge) handleControl(ctx context.Context, ev Message, src Endpoint) bool {
	if br.command == "" || ev.Text != br.command {
		return false
	}
	if src.MasterID == "" || ev.SenderID != src.MasterID {
		return false
	}
	if !br.stopping.CompareAndSwap(false, true) {
		return true
	}

	br.log.Info().
		Str("platform", src.Name()).
		Str("sender_id", ev.SenderID).
		Msg("Shutdown command received")

	// Acknowledge as a reply to the triggering message. No sender name:
	// the bridge speaks for itself here.
	if _, err := src.Send(ctx, SendRequest{Text: "Ok :(", ReplyTo: ev.NativeID}); err != nil {
		br.log.Warn().Err(err).Msg("Failed to acknowledge shutdown command")
	}

	br.stopOnce.Do(func() {
		close(br.stopCh)
	})
	return true
}
