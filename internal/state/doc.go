// Package state keeps the image reader's durable record on the local
// filesystem under the configured data dir.
//
//   - SessionStore maps a session key such as "telegram:<user>:<chat>" to a
//     session and remembers the last run and event sequence of each.
//   - EventStore appends the user_message, reply and error events of every
//     run to a per-session JSONL log. Conversation history, and with it the
//     query the reader answers, is rebuilt from this log.
//   - ArtifactStore holds payloads too large for the log. Replies that carry
//     a local image inline as a base64 data URL keep only an artifact_id in
//     their event; the data URL itself lives here.
//
// The session index and artifacts are replaced atomically (temp file plus
// rename); event appends are serialized per session.
package state

import "github.com/user/imagereader/internal/types"

var (
	_ types.SessionStore  = (*SessionStore)(nil)
	_ types.EventStore    = (*EventStore)(nil)
	_ types.ArtifactStore = (*ArtifactStore)(nil)
)
