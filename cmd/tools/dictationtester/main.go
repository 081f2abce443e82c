package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/golos/internal/client/relay"
	"github.com/zhouzirui/golos/internal/config"
	"github.com/zhouzirui/golos/internal/dictation"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] .env not loaded, using system environment: %v", err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	mode := flag.String("mode", "", "test mode: listen or chat")
	audioPath := flag.String("audio", "", "listen: read this audio file through ffmpeg instead of the microphone")
	language := flag.String("lang", "", "listen: dictation language, defaults to DICTATION_LANGUAGE")
	continuous := flag.Bool("continuous", false, "listen: keep listening after the first utterance")
	provider := flag.String("provider", "", "listen: deepgram or volcengine, defaults to DICTATION_PROVIDER")
	text := flag.String("text", "", "chat: message to send to the relay")
	timeout := flag.Duration("timeout", 45*time.Second, "overall timeout")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch *mode {
	case "listen":
		dictationCfg := cfg.Dictation
		if *language != "" {
			dictationCfg.Language = *language
		}
		dictationCfg.Continuous = *continuous
		if *provider != "" {
			dictationCfg.Provider = config.DictationProvider(strings.ToLower(*provider))
			if dictationCfg.Provider != config.DictationDeepgram && dictationCfg.Provider != config.DictationVolcengine {
				log.Fatalf("unknown -provider %q", *provider)
			}
		}
		if *audioPath != "" {
			dictationCfg.InputDevice = *audioPath
			dictationCfg.InputFormat = audioFormat(*audioPath)
		}
		runListen(ctx, dictationCfg)
	case "chat":
		runChat(ctx, cfg.RelayURL, *text)
	default:
		flag.Usage()
		log.Fatal("choose a mode with -mode=listen or -mode=chat")
	}
}

func runListen(ctx context.Context, cfg config.DictationConfig) {
	if !cfg.Enabled() {
		log.Fatalf("dictation is disabled for provider %q, set DEEPGRAM_API_KEY or SPEECH_APP_ID + SPEECH_ACCESS_TOKEN", cfg.Provider)
	}

	listener := newPrintingListener()
	capability := cfg.NewCapability()
	capability.Bind(listener)

	log.Printf("listening: provider=%s language=%s device=%s continuous=%t (Ctrl+C to stop)", cfg.Provider, cfg.Language, cfg.InputDevice, cfg.Continuous)
	if err := capability.Start(ctx); err != nil {
		log.Fatalf("dictation start failed (code=%s): %v", dictation.CodeOf(err), err)
	}

	select {
	case <-listener.ended:
	case <-ctx.Done():
		if err := capability.Stop(); err != nil {
			log.Printf("stop: %v", err)
		}
		<-listener.ended
	}

	log.Printf("draft: %q", listener.draft())
}

func runChat(ctx context.Context, relayURL, text string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("chat mode needs -text")
	}

	log.Printf("sending to %s: %q", relayURL, text)
	reply, err := relay.New(relayURL, nil).Send(ctx, text)
	if err != nil {
		log.Fatalf("chat request failed: %v", err)
	}
	fmt.Println(reply)
}

// audioFormat maps a file extension to an ffmpeg demuxer name.
func audioFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "":
		return "wav"
	case "m4a":
		return "mov"
	default:
		return ext
	}
}

type printingListener struct {
	mu     sync.Mutex
	text   string
	ended  chan struct{}
	closer sync.Once
}

func newPrintingListener() *printingListener {
	return &printingListener{ended: make(chan struct{})}
}

func (l *printingListener) OnResult(text string) {
	l.mu.Lock()
	l.text = dictation.AppendTranscript(l.text, text)
	l.mu.Unlock()
	fmt.Printf("utterance: %s\n", text)
}

func (l *printingListener) OnEnd() {
	l.closer.Do(func() { close(l.ended) })
}

func (l *printingListener) OnError(code string) {
	fmt.Printf("error: %s\n", code)
}

func (l *printingListener) draft() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}
