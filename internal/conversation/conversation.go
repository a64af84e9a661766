// Package conversation rebuilds rounds of posts from a session's event log.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/imagereader/internal/types"
)

// MessagePayload is the payload of a user_message event.
type MessagePayload struct {
	Text     string `json:"text"`
	SendFrom string `json:"send_from"`
	SendTo   string `json:"send_to"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// History is an ordered list of rounds.
type History struct {
	Rounds []*types.Round
}

// Static wraps rounds that are already in memory.
func Static(rounds ...*types.Round) *History {
	return &History{Rounds: rounds}
}

// Load reads every event of a session and groups them into rounds.
func Load(ctx context.Context, events types.EventStore, sessionID types.SessionID) (*History, error) {
	evts, err := events.Tail(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return FromEvents(evts), nil
}

// FromEvents groups events by run. A run's round is finished once a reply
// is recorded and failed once an error is recorded. Events that cannot be
// decoded are skipped.
func FromEvents(events []*types.Event) *History {
	h := &History{}
	byRun := make(map[types.RunID]*types.Round)

	for _, ev := range events {
		round, ok := byRun[ev.RunID]
		if !ok {
			round = &types.Round{ID: ev.RunID, State: types.RoundCreated}
			byRun[ev.RunID] = round
			h.Rounds = append(h.Rounds, round)
		}

		switch ev.Type {
		case types.EventUserMessage:
			var p MessagePayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				slog.Warn("skip undecodable event", "event_id", string(ev.ID), "error", err)
				continue
			}
			if round.UserQuery == "" {
				round.UserQuery = p.Text
			}
			round.Posts = append(round.Posts, &types.Post{
				ID:       types.PostID(ev.ID),
				SendFrom: p.SendFrom,
				SendTo:   p.SendTo,
				Message:  p.Text,
			})

		case types.EventReply:
			var p types.Post
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				slog.Warn("skip undecodable event", "event_id", string(ev.ID), "error", err)
				continue
			}
			round.Posts = append(round.Posts, &p)
			if round.State != types.RoundFailed {
				round.State = types.RoundFinished
			}

		case types.EventError:
			round.State = types.RoundFailed
		}
	}
	return h
}

// RoleRounds returns the rounds in which role sent or received a post,
// each holding only those posts. Failed rounds are dropped unless
// includeFailed is set.
func (h *History) RoleRounds(_ context.Context, role string, includeFailed bool) ([]*types.Round, error) {
	var out []*types.Round
	for _, r := range h.Rounds {
		if r.State == types.RoundFailed && !includeFailed {
			continue
		}
		var posts []*types.Post
		for _, p := range r.Posts {
			if p.SendFrom == role || p.SendTo == role {
				posts = append(posts, p)
			}
		}
		if len(posts) == 0 {
			continue
		}
		out = append(out, &types.Round{
			ID:        r.ID,
			UserQuery: r.UserQuery,
			State:     r.State,
			Posts:     posts,
		})
	}
	return out, nil
}
