// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Event types recorded in a session's event log.
const (
	EventUserMessage = "user_message"
	EventReply       = "reply"
	EventError       = "error"
)

type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	RunID     RunID           `json:"run_id,omitempty"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

type SessionIndex struct {
	SessionID    SessionID  `json:"session_id"`
	SessionKey   SessionKey `json:"session_key"`
	Agent        string     `json:"agent"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastRunID    RunID      `json:"last_run_id,omitempty"`
	LastEventSeq int64      `json:"last_event_seq"`
}

// ArtifactMeta describes a stored payload. Digest is the hex SHA-256 of
// the stored JSON data and Size its length in bytes.
type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	SessionID SessionID  `json:"session_id"`
	RunID     RunID      `json:"run_id"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	MimeType  string     `json:"mime_type,omitempty"`
	Size      int64      `json:"size"`
	Digest    string     `json:"digest"`
}

type InboundEvent struct {
	Source     string          `json:"source"`
	SessionKey SessionKey      `json:"session_key"`
	UserID     string          `json:"user_id"`
	Text       string          `json:"text"`
	WorkingDir string          `json:"working_dir,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// AttachmentType names the kind of payload an attachment carries.
type AttachmentType string

const AttachmentImageURL AttachmentType = "image_url"

// Attachment is a typed payload on a post. For AttachmentImageURL the
// resolved image lives in Extra["image_url"].
type Attachment struct {
	ID      AttachmentID   `json:"id"`
	Type    AttachmentType `json:"type"`
	Content string         `json:"content"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Post is one message unit within a round.
type Post struct {
	ID          PostID       `json:"id"`
	SendFrom    string       `json:"send_from"`
	SendTo      string       `json:"send_to"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment returns the first attachment of the given type.
func (p *Post) Attachment(typ AttachmentType) (Attachment, bool) {
	for _, a := range p.Attachments {
		if a.Type == typ {
			return a, true
		}
	}
	return Attachment{}, false
}

// Round states.
const (
	RoundCreated  = "created"
	RoundFinished = "finished"
	RoundFailed   = "failed"
)

// Round is one user query and the posts exchanged while answering it.
type Round struct {
	ID        RunID   `json:"id"`
	UserQuery string  `json:"user_query"`
	State     string  `json:"state"`
	Posts     []*Post `json:"posts"`
}
