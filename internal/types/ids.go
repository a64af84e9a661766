// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type SessionID string
type RunID string
type EventID string
type ArtifactID string
type PostID string
type AttachmentID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

func NewPostID() PostID {
	return PostID("post-" + uuid.New().String())
}

func NewAttachmentID() AttachmentID {
	return AttachmentID("atta-" + uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}
