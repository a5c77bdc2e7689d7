// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost connects a Mattermost account to the sync engine.
//
// Outbound copies are created with the REST API (CreatePost, PatchPost,
// DeletePost). Inbound posts, edits and deletions arrive over the WebSocket
// API and are normalized into [message.Envelope] values.
//
// # Echo Prevention
//
// Posts by the relay account itself, by configured ignored user IDs, by
// usernames matching the bridge bot prefix, and system posts are never
// relayed. These layers keep copies from bouncing between platforms.
package mattermost
