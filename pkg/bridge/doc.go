// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge implements the cross-platform relay and correlation engine.
//
// Two platform adapters feed normalized messages into a single [Bridge]. For
// every inbound message the bridge resolves the reply target through the
// correlation store, materializes attachments (reconstructing sprite-sheet
// animated stickers into GIFs), posts to the counterpart platform, and records
// the resulting message id pair so future replies can be mapped back.
//
// # Core Types
//
// [Adapter] is the capability set every platform wrapper must provide:
// session lifecycle, an inbound message stream, sending, attachment download
// and the bridge's own account id on that platform.
//
// [Message] is the platform-agnostic inbound event. Adapters construct it at
// their boundary; the core never inspects platform-native types.
//
// [Bridge] owns both adapters' run loops, relays in order per source platform,
// and handles the reserved shutdown command from the privileged sender.
//
// # Loop Prevention
//
// A message whose sender is the bridge's own account on its source platform is
// previously relayed content echoing back and is always discarded before any
// other processing. This check must not be removed.
package bridge
