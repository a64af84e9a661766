package reader

import (
	"errors"
	"fmt"
)

// Failure kinds reported through *Error.
var (
	ErrNoQueryFound           = errors.New("no query found")
	ErrMalformedModelResponse = errors.New("malformed model response")
	ErrImageEncodeFailed      = errors.New("image encode failed")
	ErrModelCall              = errors.New("model call failed")
)

// Stage is a step of a single Reply invocation.
type Stage string

const (
	StageStart          Stage = "start"
	StageQueryLocated   Stage = "query_located"
	StagePromptSent     Stage = "prompt_sent"
	StageResponseParsed Stage = "response_parsed"
	StageClassified     Stage = "classified"
	StageRemoteResolved Stage = "remote_resolved"
	StageLocalEncoded   Stage = "local_encoded"
	StageSealed         Stage = "sealed"
)

// Error is returned by Reply. Stage is the last stage reached before the
// failure. Raw carries the model output for malformed responses.
type Error struct {
	Stage Stage
	Raw   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("image reader at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether retrying the invocation cannot help. Only
// model call failures are transient.
func (e *Error) Permanent() bool {
	return !errors.Is(e.Err, ErrModelCall)
}
