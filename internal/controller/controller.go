package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/golos/internal/dictation"
	"github.com/zhouzirui/golos/internal/model/chat"
)

var (
	ErrEmptyDraft     = errors.New("draft is empty")
	ErrSubmitInFlight = errors.New("a submission is already in flight")
)

// Relay sends one chat message and returns the reply.
type Relay interface {
	Send(ctx context.Context, message string) (string, error)
}

// Options tunes controller behavior.
type Options struct {
	// ClearDraftOnDictation empties the draft when a dictation session starts.
	ClearDraftOnDictation bool
	// OnChange receives a copy of the turn after every mutation. It is called
	// without the controller lock held and may be called from any goroutine.
	OnChange func(Turn)
}

// Turn is the display state of the current conversational turn.
type Turn struct {
	ID             string
	Draft          string
	Loading        bool
	Reply          string
	Error          string
	Dictation      dictation.Status
	DictationError string
}

// Controller owns one turn and one dictation session. It implements
// dictation.Listener so the bound capability can feed it events.
type Controller struct {
	relay      Relay
	capability dictation.Capability
	opts       Options

	// toggleMu serializes capability Start/Stop calls.
	toggleMu sync.Mutex

	mu      sync.Mutex
	dict    dictation.Snapshot
	turnID  string
	loading bool
	reply   string
	errMsg  string
}

var _ dictation.Listener = (*Controller)(nil)

// New creates a controller. capability may be nil when speech recognition is
// unavailable; dictation then degrades to a no-op.
func New(relay Relay, capability dictation.Capability, opts Options) *Controller {
	c := &Controller{
		relay:      relay,
		capability: capability,
		opts:       opts,
		dict:       dictation.Snapshot{Status: dictation.StatusIdle},
	}
	if capability != nil {
		capability.Bind(c)
	}
	return c
}

// DictationSupported reports whether a capability is bound.
func (c *Controller) DictationSupported() bool {
	return c.capability != nil
}

// Snapshot returns a copy of the current turn.
func (c *Controller) Snapshot() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// UpdateDraft replaces the draft verbatim.
func (c *Controller) UpdateDraft(text string) {
	c.mu.Lock()
	c.dict.Draft = text
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// ToggleDictation starts capture when idle and stops it when listening.
func (c *Controller) ToggleDictation(ctx context.Context) error {
	if c.capability == nil {
		return nil
	}

	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	effect := c.apply(dictation.ToggleRequested{ClearDraft: c.opts.ClearDraftOnDictation})

	switch effect {
	case dictation.EffectStartCapture:
		if err := c.capability.Start(ctx); err != nil {
			log.Printf("[controller] dictation start failed: %v", err)
			if code := dictation.CodeOf(err); code != "" {
				c.apply(dictation.CaptureError{Code: code})
			}
			c.apply(dictation.CaptureEnded{})
			return fmt.Errorf("failed to start dictation: %w", err)
		}
	case dictation.EffectStopCapture:
		if err := c.capability.Stop(); err != nil {
			log.Printf("[controller] dictation stop failed: %v", err)
			return fmt.Errorf("failed to stop dictation: %w", err)
		}
	}
	return nil
}

// Submit sends the current draft to the relay. The draft is read once; it
// stays editable while the call is in flight. Failures are surfaced as a fixed
// message on the turn and returned for diagnostics.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if strings.TrimSpace(c.dict.Draft) == "" {
		c.mu.Unlock()
		return ErrEmptyDraft
	}
	if c.loading {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.loading = true
	c.reply = ""
	c.errMsg = ""
	c.turnID = uuid.NewString()
	message := c.dict.Draft
	turnID := c.turnID
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	reply, err := c.relay.Send(ctx, message)

	c.mu.Lock()
	if err != nil {
		log.Printf("[controller] turn=%s chat request failed: %v", turnID, err)
		c.errMsg = chat.ClientFailureMessage
	} else {
		c.reply = reply
	}
	c.loading = false
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	return nil
}

// OnResult appends a recognized utterance to the draft.
func (c *Controller) OnResult(text string) {
	c.apply(dictation.UtteranceRecognized{Text: text})
}

// OnEnd marks the dictation session as finished.
func (c *Controller) OnEnd() {
	c.apply(dictation.CaptureEnded{})
}

// OnError records a capability failure.
func (c *Controller) OnError(code string) {
	log.Printf("[controller] dictation error code=%s", code)
	c.apply(dictation.CaptureError{Code: code})
}

func (c *Controller) apply(ev dictation.Event) dictation.Effect {
	c.mu.Lock()
	next, effect := dictation.Transition(c.dict, ev)
	c.dict = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return effect
}

func (c *Controller) snapshotLocked() Turn {
	return Turn{
		ID:             c.turnID,
		Draft:          c.dict.Draft,
		Loading:        c.loading,
		Reply:          c.reply,
		Error:          c.errMsg,
		Dictation:      c.dict.Status,
		DictationError: c.dict.LastErrorCode,
	}
}

func (c *Controller) notify(t Turn) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(t)
	}
}
