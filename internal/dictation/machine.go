package dictation

import "strings"

// Status models the dictation lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
)

// Effect is the side effect a transition asks its caller to perform on the
// capability.
type Effect int

const (
	EffectNone Effect = iota
	EffectStartCapture
	EffectStopCapture
)

// Snapshot is the dictation-relevant slice of a turn: the session status and
// the draft that recognized speech is appended to.
type Snapshot struct {
	Status        Status
	Draft         string
	LastErrorCode string
}

// Event is fed into Transition.
type Event interface {
	isEvent()
}

// ToggleRequested is the user pressing the dictation control. ClearDraft
// empties the draft when a new session starts.
type ToggleRequested struct {
	ClearDraft bool
}

// UtteranceRecognized carries one final transcript from the capability.
type UtteranceRecognized struct {
	Text string
}

// CaptureEnded is the capability reporting that capture stopped.
type CaptureEnded struct{}

// CaptureError is the capability reporting a failure code.
type CaptureError struct {
	Code string
}

func (ToggleRequested) isEvent()     {}
func (UtteranceRecognized) isEvent() {}
func (CaptureEnded) isEvent()        {}
func (CaptureError) isEvent()        {}

// Transition is the pure dictation state machine.
//
//	Idle      --toggle-->        Listening  (start capture)
//	Listening --toggle-->        Idle       (stop capture)
//	Listening --CaptureEnded-->  Idle
//	any       --Utterance-->     same state, draft appended
//	any       --CaptureError-->  same state, code recorded
//
// Utterances are accepted while Idle too: a capability flushes its last final
// result after a user stop, and that speech still belongs to the draft.
func Transition(s Snapshot, ev Event) (Snapshot, Effect) {
	switch e := ev.(type) {
	case ToggleRequested:
		if s.Status == StatusListening {
			s.Status = StatusIdle
			return s, EffectStopCapture
		}
		if e.ClearDraft {
			s.Draft = ""
		}
		s.Status = StatusListening
		s.LastErrorCode = ""
		return s, EffectStartCapture
	case UtteranceRecognized:
		s.Draft = AppendTranscript(s.Draft, e.Text)
		return s, EffectNone
	case CaptureEnded:
		s.Status = StatusIdle
		return s, EffectNone
	case CaptureError:
		s.LastErrorCode = e.Code
		return s, EffectNone
	default:
		return s, EffectNone
	}
}

// AppendTranscript joins transcript onto draft with a single space. A blank
// transcript leaves the draft untouched.
func AppendTranscript(draft, transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return draft
	}
	if draft == "" {
		return transcript
	}
	return draft + " " + transcript
}
