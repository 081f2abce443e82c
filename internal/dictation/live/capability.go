// Package live runs streaming dictation sessions: microphone audio is pumped
// into a provider stream and recognized utterances are fed to a
// dictation.Listener. Providers only translate their wire protocol.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/golos/internal/audio"
	"github.com/zhouzirui/golos/internal/dictation"
)

const (
	stopTimeout      = 3 * time.Second
	defaultChunkSize = 3200
)

// AudioSource opens a PCM stream. audio.FFmpegCapture is the production
// implementation.
type AudioSource interface {
	Start(ctx context.Context, cfg audio.Config) (audio.Stream, error)
}

// Provider opens one recognition stream per session. Connect failures should
// be *dictation.Error so the controller can record a code.
type Provider interface {
	Name() string
	Connect(ctx context.Context) (Stream, error)
}

// Stream is one provider connection. WriteAudio and Finish are only called
// from the pump goroutine, Next only from the read goroutine. Close may be
// called at any time and must unblock Next.
//
// Next returns io.EOF when the provider finished the stream normally and a
// *dictation.Error when the provider reported a failure.
type Stream interface {
	WriteAudio(chunk []byte) error
	Finish() error
	Next() (Event, error)
	Close() error
}

// Event is what a provider recognized since the previous Next call.
type Event struct {
	Transcripts []string
	// UtteranceEnd marks the end of a spoken phrase.
	UtteranceEnd bool
}

// Options 描述会话参数。
type Options struct {
	// Continuous 为 false 时，一句话结束后会话自动停止。
	Continuous bool
	Audio      audio.Config
	ChunkSize  int
}

// Capability is a dictation.Capability over any Provider. It is created once
// and reused; at most one session is active at a time.
type Capability struct {
	provider Provider
	source   AudioSource
	opts     Options

	mu       sync.Mutex
	listener dictation.Listener
	active   *session
}

var _ dictation.Capability = (*Capability)(nil)

func New(provider Provider, source AudioSource, opts Options) *Capability {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Capability{provider: provider, source: source, opts: opts}
}

// Bind 注册事件接收方。
func (c *Capability) Bind(l dictation.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Start connects the provider and opens the microphone. It is ignored while a
// session is active. A returned error means no session was started and no
// OnEnd will follow.
func (c *Capability) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil
	}
	if c.listener == nil {
		return errors.New("dictation listener is not bound")
	}

	stream, err := c.provider.Connect(ctx)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	mic, err := c.source.Start(sessionCtx, c.opts.Audio)
	if err != nil {
		cancel()
		_ = stream.Close()
		return &dictation.Error{Code: dictation.ErrorAudioCapture, Err: fmt.Errorf("failed to start audio capture: %w", err)}
	}

	s := &session{
		ctx:        sessionCtx,
		cancel:     cancel,
		stream:     stream,
		mic:        mic,
		listener:   c.listener,
		continuous: c.opts.Continuous,
		chunkSize:  c.opts.ChunkSize,
		done:       make(chan struct{}),
	}
	s.onFinish = func() {
		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
	}
	c.active = s

	log.Printf("[dictation] %s session started, continuous=%t", c.provider.Name(), c.opts.Continuous)
	go s.run()
	return nil
}

// Stop ends the active session. Pending final results are delivered and
// OnEnd has been called by the time Stop returns.
func (c *Capability) Stop() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.stop()
}

type session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	stream   Stream
	mic      audio.Stream
	listener dictation.Listener

	continuous bool
	chunkSize  int
	onFinish   func()

	userStopped atomic.Bool
	sendClosed  atomic.Bool
	heard       atomic.Bool
	failed      atomic.Bool

	closeSendOnce sync.Once
	micErr        error

	done chan struct{}
}

func (s *session) run() {
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump()
	}()

	go func() {
		select {
		case <-s.ctx.Done():
			_ = s.stream.Close()
		case <-s.done:
		}
	}()

	s.readLoop()

	s.closeSend()
	_ = s.stream.Close()
	<-pumpDone

	if !s.userStopped.Load() && !s.heard.Load() && !s.failed.Load() {
		s.fail(dictation.ErrorNoSpeech, errors.New("session ended without speech"))
	}

	s.cancel()
	s.onFinish()
	log.Printf("[dictation] session ended")
	s.listener.OnEnd()
	close(s.done)
}

func (s *session) stop() error {
	s.userStopped.Store(true)
	s.closeSend()

	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		log.Printf("[dictation] provider did not finish the stream in time, dropping connection")
		_ = s.stream.Close()
		<-s.done
	}
	return s.micErr
}

// closeSend stops the microphone; the pump then tells the provider the audio
// is complete.
func (s *session) closeSend() {
	s.closeSendOnce.Do(func() {
		s.sendClosed.Store(true)
		s.micErr = s.mic.Stop()
	})
}

func (s *session) pump() {
	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.mic.Read(buf)
		if n > 0 {
			if werr := s.stream.WriteAudio(buf[:n]); werr != nil {
				if !s.sendClosed.Load() && s.ctx.Err() == nil {
					s.fail(dictation.ErrorNetwork, fmt.Errorf("failed to send audio: %w", werr))
				}
				return
			}
		}
		if err != nil {
			if !s.sendClosed.Load() && s.ctx.Err() == nil {
				s.fail(dictation.ErrorAudioCapture, fmt.Errorf("audio stream ended: %w", err))
			}
			break
		}
	}

	_ = s.stream.Finish()
}

func (s *session) readLoop() {
	for {
		event, err := s.stream.Next()
		if err != nil {
			var coded *dictation.Error
			switch {
			case errors.Is(err, io.EOF):
			case errors.As(err, &coded):
				s.fail(coded.Code, err)
			case s.ctx.Err() != nil && !s.userStopped.Load():
				s.fail(dictation.ErrorAborted, s.ctx.Err())
			case s.sendClosed.Load():
			default:
				s.fail(dictation.ErrorNetwork, fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}

		for _, text := range event.Transcripts {
			if text = strings.TrimSpace(text); text != "" {
				s.heard.Store(true)
				s.listener.OnResult(text)
			}
		}
		if event.UtteranceEnd && !s.continuous {
			s.closeSend()
		}
	}
}

// fail reports the first error of the session.
func (s *session) fail(code string, err error) {
	if !s.failed.CompareAndSwap(false, true) {
		return
	}
	log.Printf("[dictation] session error code=%s: %v", code, err)
	s.listener.OnError(code)
}
