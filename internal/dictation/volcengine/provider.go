// Package volcengine adapts the Volcengine big-model streaming ASR (SAUC)
// websocket protocol to a live.Provider.
package volcengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/golos/internal/audio"
	"github.com/zhouzirui/golos/internal/dictation"
	"github.com/zhouzirui/golos/internal/dictation/live"
)

const (
	// DefaultURL 双向流式模式，边说边返回分句结果。
	DefaultURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	// NoStreamURL 流式输入模式，准确率更高但结果在句末返回。
	NoStreamURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	DefaultResourceID    = "volc.bigasr.sauc.duration"
	ConcurrentResourceID = "volc.bigasr.sauc.concurrent"

	successCode = 20000000
	// 首包占用序号 1，音频从 2 开始
	firstAudioSequence = 2
)

// Config 描述火山引擎流式识别参数。
type Config struct {
	AppID       string
	AccessToken string
	ResourceID  string
	URL         string
	Language    string
	// Continuous 为 false 时，一句话判停后会话自动结束。
	Continuous bool
	Audio      audio.Config
}

// New 创建基于火山引擎的识别能力实例。
func New(cfg Config, source live.AudioSource) *live.Capability {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = DefaultResourceID
	}
	p := &provider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
	return live.New(p, source, live.Options{Continuous: cfg.Continuous, Audio: cfg.Audio})
}

type provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func (p *provider) Name() string { return "volcengine" }

// Connect 建立连接并发送携带识别参数的首包。
func (p *provider) Connect(ctx context.Context) (live.Stream, error) {
	if p.cfg.AppID == "" || p.cfg.AccessToken == "" {
		return nil, &dictation.Error{Code: dictation.ErrorNotAllowed, Err: errors.New("SPEECH_APP_ID or SPEECH_ACCESS_TOKEN is not configured")}
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", p.cfg.AppID)
	header.Set("X-Api-Access-Key", p.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", p.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := p.dialer.DialContext(ctx, p.cfg.URL, header)
	if err != nil {
		code := dictation.ErrorNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = dictation.ErrorNotAllowed
		}
		return nil, &dictation.Error{Code: code, Err: fmt.Errorf("failed to connect to ASR websocket: %w", err)}
	}

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[ASR] connected with logid: %s", logid)
	}

	payload, err := json.Marshal(p.buildRequest(connectID))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to compress ASR request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodeMessage(NewFullClientRequest(compressed))); err != nil {
		conn.Close()
		return nil, &dictation.Error{Code: dictation.ErrorNetwork, Err: fmt.Errorf("failed to send ASR request: %w", err)}
	}

	return &stream{conn: conn, sequence: firstAudioSequence, emittedUntil: -1}, nil
}

// asrRequest 首包参数，字段按火山引擎文档命名。
type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec"`
		Rate     int    `json:"rate"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn"`
		EnablePunc     bool   `json:"enable_punc"`
		ShowUtterances bool   `json:"show_utterances"`
		ResultType     string `json:"result_type"`
		EndWindowSize  int    `json:"end_window_size"`
	} `json:"request"`
}

func (p *provider) buildRequest(uid string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid

	// ffmpeg 输出裸 s16le PCM
	req.Audio.Language = p.cfg.Language
	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Rate = p.cfg.Audio.SampleRate
	if req.Audio.Rate <= 0 {
		req.Audio.Rate = 16000
	}
	req.Audio.Bits = 16
	req.Audio.Channel = p.cfg.Audio.Channels
	if req.Audio.Channel <= 0 {
		req.Audio.Channel = 1
	}

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800 // 判停时间 800ms
	return req
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances"`
	} `json:"result"`
}

type stream struct {
	conn *websocket.Conn

	// 只在发送协程中使用
	sequence int32

	// 只在读取协程中使用
	emittedUntil int64
	emitted      bool
	finished     bool
}

func (s *stream) WriteAudio(chunk []byte) error {
	return s.send(chunk, false)
}

// Finish 发送负序号的最后一包，服务端随后返回最终结果。
func (s *stream) Finish() error {
	return s.send(nil, true)
}

func (s *stream) send(chunk []byte, isLast bool) error {
	compressed, err := CompressPayload(chunk, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress audio chunk: %w", err)
	}
	msg := NewAudioOnlyRequest(compressed, s.sequence, isLast)
	s.sequence++
	return s.conn.WriteMessage(websocket.BinaryMessage, EncodeMessage(msg))
}

func (s *stream) Next() (live.Event, error) {
	for {
		if s.finished {
			return live.Event{}, io.EOF
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return live.Event{}, io.EOF
			}
			return live.Event{}, err
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return live.Event{}, &dictation.Error{Code: dictation.ErrorNetwork, Err: fmt.Errorf("failed to decode ASR message: %w", err)}
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				payload = msg.Payload
			}
			return live.Event{}, &dictation.Error{Code: dictation.ErrorNetwork, Err: fmt.Errorf("ASR error %d: %s", msg.ErrorCode, payload)}

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return live.Event{}, &dictation.Error{Code: dictation.ErrorNetwork, Err: fmt.Errorf("failed to decompress ASR payload: %w", err)}
			}

			var resp asrServerMessage
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}
			if resp.Code != 0 && resp.Code != successCode {
				return live.Event{}, &dictation.Error{Code: dictation.ErrorNetwork, Err: fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)}
			}

			last := msg.IsLastPacket() || resp.Sequence < 0
			event := s.collect(resp, last)
			if last {
				s.finished = true
				return event, nil
			}
			if len(event.Transcripts) > 0 || event.UtteranceEnd {
				return event, nil
			}
		}
	}
}

// collect 返回尚未上报的分句。result_type=full 时每次返回全量分句，
// 以 end_time 去重；最后一包时未判停的分句也一并上报。
func (s *stream) collect(resp asrServerMessage, last bool) live.Event {
	var event live.Event
	for _, u := range resp.Result.Utterances {
		if u.EndTime <= s.emittedUntil || (!u.Definite && !last) {
			continue
		}
		if text := strings.TrimSpace(u.Text); text != "" {
			event.Transcripts = append(event.Transcripts, text)
			s.emitted = true
		}
		s.emittedUntil = u.EndTime
		event.UtteranceEnd = event.UtteranceEnd || u.Definite
	}

	if last && !s.emitted && len(resp.Result.Utterances) == 0 {
		if text := strings.TrimSpace(resp.Result.Text); text != "" {
			event.Transcripts = append(event.Transcripts, text)
			s.emitted = true
		}
	}
	return event
}

func (s *stream) Close() error {
	return s.conn.Close()
}
