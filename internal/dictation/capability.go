package dictation

import (
	"context"
	"errors"
)

// Error codes reported through Listener.OnError. They follow the vocabulary
// of browser speech recognition so front-ends can map them uniformly.
const (
	ErrorNetwork      = "network"
	ErrorAudioCapture = "audio-capture"
	ErrorNotAllowed   = "not-allowed"
	ErrorAborted      = "aborted"
	ErrorNoSpeech     = "no-speech"
)

// Listener receives capability events. Calls may arrive on any goroutine.
type Listener interface {
	OnResult(text string)
	OnEnd()
	OnError(code string)
}

// Capability is a speech-to-text source bound once and reused across
// sessions. Start while a session is active is ignored. Every started
// session ends with exactly one OnEnd, whether stopped by the user, by the
// end of an utterance, or by an error.
type Capability interface {
	Bind(l Listener)
	Start(ctx context.Context) error
	Stop() error
}

// Error is returned from Capability.Start when the failure maps onto one of
// the listener error codes.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code from err, or "" when err carries none.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
