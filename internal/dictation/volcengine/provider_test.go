package volcengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/golos/internal/audio"
	"github.com/zhouzirui/golos/internal/dictation"
	"github.com/zhouzirui/golos/internal/dictation/live"
)

type recordingListener struct {
	mu      sync.Mutex
	results []string
	errs    []string
	ends    int
	ended   chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ended: make(chan struct{}, 4)}
}

func (l *recordingListener) OnResult(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, text)
}

func (l *recordingListener) OnEnd() {
	l.mu.Lock()
	l.ends++
	l.mu.Unlock()
	l.ended <- struct{}{}
}

func (l *recordingListener) OnError(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, code)
}

func (l *recordingListener) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-l.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnEnd")
	}
}

func (l *recordingListener) snapshot() ([]string, []string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.results...), append([]string(nil), l.errs...), l.ends
}

type fakeMic struct {
	sent     bool
	stopped  chan struct{}
	stopOnce sync.Once
}

func (f *fakeMic) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, []byte{0, 1, 2, 3}), nil
	}
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeMic) Stop() error {
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

type fakeSource struct{}

func (fakeSource) Start(context.Context, audio.Config) (audio.Stream, error) {
	return &fakeMic{stopped: make(chan struct{})}, nil
}

type upstreamRequest struct {
	header http.Header
	body   asrRequest
}

func newFakeASR(t *testing.T, handle func(conn *websocket.Conn)) (*httptest.Server, <-chan upstreamRequest) {
	t.Helper()

	requests := make(chan upstreamRequest, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msg, err := readMessage(conn)
		if err != nil || msg.Header.MessageType != FullClientRequest {
			return
		}
		payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return
		}
		var body asrRequest
		_ = json.Unmarshal(payload, &body)
		requests <- upstreamRequest{header: r.Header.Clone(), body: body}

		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func readMessage(conn *websocket.Conn) (*Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeMessage(bytes.NewReader(data))
}

// readUntilLast 读到负序号的最后一包，返回其序号。
func readUntilLast(conn *websocket.Conn) int32 {
	for {
		msg, err := readMessage(conn)
		if err != nil {
			return 0
		}
		if msg.IsLastPacket() {
			return msg.Sequence
		}
	}
}

func writeResult(conn *websocket.Conn, sequence int32, body string) {
	payload, _ := CompressPayload([]byte(body), GzipCompression)
	flags := PositiveSequenceNumber
	if sequence < 0 {
		flags = NegativeSequenceNumber
	}
	msg := &Message{
		Header:   NewHeader(FullServerResponse, flags, JSONSerialization, GzipCompression),
		Sequence: sequence,
		Payload:  payload,
	}
	_ = conn.WriteMessage(websocket.BinaryMessage, EncodeMessage(msg))
}

func newTestCapability(srv *httptest.Server, continuous bool) (*live.Capability, *recordingListener) {
	capability := New(Config{
		AppID:       "app",
		AccessToken: "token",
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Language:    "ru-RU",
		Continuous:  continuous,
	}, fakeSource{})
	listener := newRecordingListener()
	capability.Bind(listener)
	return capability, listener
}

func TestSingleUtteranceEndsItself(t *testing.T) {
	t.Parallel()

	lastSeq := make(chan int32, 1)
	srv, requests := newFakeASR(t, func(conn *websocket.Conn) {
		if _, err := readMessage(conn); err != nil {
			return
		}
		writeResult(conn, 2, `{"code":20000000,"sequence":2,"result":{"text":"привет мир","utterances":[{"text":"привет мир","start_time":0,"end_time":900,"definite":true}]}}`)
		lastSeq <- readUntilLast(conn)
		writeResult(conn, -3, `{"code":20000000,"sequence":-3,"result":{"text":"привет мир","utterances":[{"text":"привет мир","start_time":0,"end_time":900,"definite":true}]}}`)
	})

	capability, listener := newTestCapability(srv, false)
	if err := capability.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	listener.waitEnd(t)

	results, errs, ends := listener.snapshot()
	if diff := cmp.Diff([]string{"привет мир"}, results); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}
	if len(errs) != 0 || ends != 1 {
		t.Fatalf("unexpected errs=%v ends=%d", errs, ends)
	}

	req := <-requests
	if req.header.Get("X-Api-App-Key") != "app" || req.header.Get("X-Api-Access-Key") != "token" {
		t.Fatalf("unexpected auth headers %v", req.header)
	}
	if req.header.Get("X-Api-Resource-Id") != DefaultResourceID || req.header.Get("X-Api-Connect-Id") == "" {
		t.Fatalf("unexpected resource headers %v", req.header)
	}
	if req.body.Audio.Format != "pcm" || req.body.Audio.Rate != 16000 || req.body.Audio.Language != "ru-RU" {
		t.Fatalf("unexpected audio params %+v", req.body.Audio)
	}
	if req.body.Request.ModelName != "bigmodel" || !req.body.Request.ShowUtterances {
		t.Fatalf("unexpected request params %+v", req.body.Request)
	}

	// 首包占用 1，一包音频占用 2，最后一包为 -3
	if got := <-lastSeq; got != -3 {
		t.Fatalf("expected last packet sequence -3, got %d", got)
	}
}

func TestStopFlushesPendingUtterance(t *testing.T) {
	t.Parallel()

	srv, _ := newFakeASR(t, func(conn *websocket.Conn) {
		seq := readUntilLast(conn)
		writeResult(conn, seq, `{"code":20000000,"sequence":-3,"result":{"text":"последние слова","utterances":[{"text":"последние слова","start_time":0,"end_time":1200,"definite":false}]}}`)
	})

	capability, listener := newTestCapability(srv, true)
	if err := capability.Start(context.Background()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if err := capability.Stop(); err != nil {
		t.Fatalf("Stop err: %v", err)
	}

	results, errs, ends := listener.snapshot()
	if len(results) != 1 || results[0] != "последние слова" {
		t.Fatalf("unexpected results %v", results)
	}
	if len(errs) != 0 || ends != 1 {
		t.Fatalf("unexpected errs=%v ends=%d", errs, ends)
	}
}

func TestServerErrorsReportNetwork(t *testing.T) {
	t.Parallel()

	cases := map[string]func(conn *websocket.Conn){
		"error message": func(conn *websocket.Conn) {
			msg := &Message{
				Header:    NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
				ErrorCode: 45000001,
				Payload:   []byte(`{"error":"invalid params"}`),
			}
			_ = conn.WriteMessage(websocket.BinaryMessage, EncodeMessage(msg))
			readUntilLast(conn)
		},
		"api code": func(conn *websocket.Conn) {
			writeResult(conn, 2, `{"code":55000031,"message":"server busy"}`)
			readUntilLast(conn)
		},
	}

	for name, handle := range cases {
		handle := handle
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newFakeASR(t, handle)
			capability, listener := newTestCapability(srv, true)
			if err := capability.Start(context.Background()); err != nil {
				t.Fatalf("Start err: %v", err)
			}
			listener.waitEnd(t)

			_, errs, ends := listener.snapshot()
			if len(errs) != 1 || errs[0] != dictation.ErrorNetwork || ends != 1 {
				t.Fatalf("unexpected errs=%v ends=%d", errs, ends)
			}
		})
	}
}

func TestConnectRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	capability, _ := newTestCapability(srv, false)
	if err := capability.Start(context.Background()); dictation.CodeOf(err) != dictation.ErrorNotAllowed {
		t.Fatalf("expected not-allowed, got %v", err)
	}

	missing := New(Config{}, fakeSource{})
	missing.Bind(newRecordingListener())
	if err := missing.Start(context.Background()); dictation.CodeOf(err) != dictation.ErrorNotAllowed {
		t.Fatalf("expected not-allowed without credentials, got %v", err)
	}
}

func TestCollectSkipsReportedUtterances(t *testing.T) {
	t.Parallel()

	s := &stream{emittedUntil: -1}
	first := asrServerMessage{}
	first.Result.Utterances = []asrUtterance{
		{Text: "раз", EndTime: 500, Definite: true},
		{Text: "два", EndTime: 900},
	}
	event := s.collect(first, false)
	if diff := cmp.Diff(live.Event{Transcripts: []string{"раз"}, UtteranceEnd: true}, event); diff != "" {
		t.Fatalf("first event mismatch (-want +got):\n%s", diff)
	}

	second := asrServerMessage{}
	second.Result.Utterances = []asrUtterance{
		{Text: "раз", EndTime: 500, Definite: true},
		{Text: "два три", EndTime: 1300, Definite: true},
	}
	event = s.collect(second, false)
	if diff := cmp.Diff(live.Event{Transcripts: []string{"два три"}, UtteranceEnd: true}, event); diff != "" {
		t.Fatalf("second event mismatch (-want +got):\n%s", diff)
	}

	final := asrServerMessage{}
	final.Result.Text = "раз два три"
	if event = s.collect(final, true); len(event.Transcripts) != 0 {
		t.Fatalf("final text must not repeat reported utterances, got %+v", event)
	}
}

func TestProtocolLastPacketAndErrorCode(t *testing.T) {
	t.Parallel()

	raw := EncodeMessage(NewAudioOnlyRequest([]byte{1, 2}, 5, true))
	msg, err := DecodeMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if msg.Header.MessageType != AudioOnlyRequest || !msg.IsLastPacket() || msg.Sequence != -5 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !bytes.Equal(msg.Payload, []byte{1, 2}) {
		t.Fatalf("unexpected payload %v", msg.Payload)
	}

	raw = EncodeMessage(&Message{
		Header:    NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode: 45000002,
		Payload:   []byte("empty audio"),
	})
	msg, err = DecodeMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if msg.ErrorCode != 45000002 || string(msg.Payload) != "empty audio" {
		t.Fatalf("unexpected error message %+v", msg)
	}

	if _, err := DecodeMessage(bytes.NewReader([]byte{0x21, 0x90, 0x11, 0x00})); err == nil {
		t.Fatal("expected unsupported version error")
	}
}
