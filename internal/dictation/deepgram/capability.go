// Package deepgram adapts Deepgram live transcription to a live.Provider.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/golos/internal/audio"
	"github.com/zhouzirui/golos/internal/dictation"
	"github.com/zhouzirui/golos/internal/dictation/live"
)

const (
	DefaultAPIBaseURL = "https://api.deepgram.com/v1"
	DefaultModel      = "nova-2"
)

var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// Config 描述 Deepgram 实时识别参数。
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string
	// Continuous 为 false 时，识别到一句完整的话后会话自动结束。
	Continuous bool
	Audio      audio.Config
}

// New 创建基于 Deepgram 的识别能力实例。
func New(cfg Config, source live.AudioSource) *live.Capability {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	p := &provider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	return live.New(p, source, live.Options{Continuous: cfg.Continuous, Audio: cfg.Audio})
}

type provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func (p *provider) Name() string { return "deepgram" }

// Connect opens the live transcription websocket.
func (p *provider) Connect(ctx context.Context) (live.Stream, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, &dictation.Error{Code: dictation.ErrorNotAllowed, Err: errors.New("DEEPGRAM_API_KEY is not configured")}
	}

	wsURL, err := buildListenURL(p.cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		code := dictation.ErrorNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = dictation.ErrorNotAllowed
		}
		return nil, &dictation.Error{Code: code, Err: fmt.Errorf("failed to connect to Deepgram websocket: %w", err)}
	}
	log.Printf("[dictation] deepgram connected, language=%s model=%s", p.cfg.Language, p.cfg.Model)
	return &stream{conn: conn}, nil
}

type stream struct {
	conn *websocket.Conn
}

func (s *stream) WriteAudio(chunk []byte) error {
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Finish asks Deepgram to flush pending results and close the stream.
func (s *stream) Finish() error {
	return s.conn.WriteMessage(websocket.TextMessage, closeStreamMessage)
}

func (s *stream) Next() (live.Event, error) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				return live.Event{}, io.EOF
			}
			return live.Event{}, err
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			return live.Event{}, &dictation.Error{Code: dictation.ErrorNetwork, Err: errors.New(message)}
		}

		if !response.IsFinal && !response.SpeechFinal {
			continue
		}
		event := live.Event{UtteranceEnd: response.SpeechFinal}
		if text := response.transcript(); text != "" {
			event.Transcripts = []string{text}
		}
		return event, nil
	}
}

func (s *stream) Close() error {
	return s.conn.Close()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// transcript 只取第一个候选结果。
func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = DefaultAPIBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Audio.Channels
	if channels <= 0 {
		channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", strconv.Itoa(channels))
	query.Set("interim_results", "false")
	query.Set("punctuate", "true")
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
