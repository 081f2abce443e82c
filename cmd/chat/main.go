package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zhouzirui/golos/internal/client/relay"
	"github.com/zhouzirui/golos/internal/config"
	"github.com/zhouzirui/golos/internal/controller"
	"github.com/zhouzirui/golos/internal/dictation"
	"github.com/zhouzirui/golos/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	relayURL    string
	language    string
	logFile     string
	noDictation bool
	continuous  bool
	clearDraft  bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:          "chat",
		Short:        "Terminal chat client with voice dictation",
		Long:         "Sends typed or dictated text to the chat relay and shows the reply.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.relayURL, "relay-url", "", "relay base URL (default from RELAY_URL)")
	cmd.Flags().StringVar(&f.language, "lang", "", "dictation language (default from DICTATION_LANGUAGE)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "log file path (default from CHAT_LOG_FILE)")
	cmd.Flags().BoolVar(&f.noDictation, "no-dictation", false, "disable voice dictation")
	cmd.Flags().BoolVar(&f.continuous, "continuous", false, "keep dictating after each utterance")
	cmd.Flags().BoolVar(&f.clearDraft, "clear-draft", false, "clear the draft when dictation starts")

	return cmd
}

func run(cmd *cobra.Command, f *flags) error {
	envErr := godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cmd, f, cfg)

	// 终端界面占用 stdout，日志写入滚动文件。
	logger := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	}
	defer logger.Close()
	log.SetOutput(logger)

	if envErr != nil {
		log.Printf("[chat] .env not loaded, using system environment only: %v", envErr)
	}

	capability := newCapability(cfg.Dictation)
	if capability == nil {
		log.Printf("[chat] dictation disabled")
	}

	notifier := tui.NewNotifier()
	ctrl := controller.New(relay.New(cfg.RelayURL, nil), capability, controller.Options{
		ClearDraftOnDictation: cfg.Dictation.ClearDraft,
		OnChange:              notifier.Notify,
	})

	ctx := cmd.Context()
	log.Printf("[chat] relay=%s language=%s", cfg.RelayURL, cfg.Dictation.Language)

	program := tea.NewProgram(tui.New(ctx, ctrl, notifier), tea.WithContext(ctx))
	_, err = program.Run()

	if capability != nil {
		if stopErr := capability.Stop(); stopErr != nil {
			log.Printf("[chat] dictation stop on exit: %v", stopErr)
		}
	}

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}

func applyFlags(cmd *cobra.Command, f *flags, cfg *config.ClientConfig) {
	if f.relayURL != "" {
		cfg.RelayURL = f.relayURL
	}
	if f.language != "" {
		cfg.Dictation.Language = f.language
	}
	if f.logFile != "" {
		cfg.LogFile = f.logFile
	}
	if f.noDictation {
		cfg.Dictation.APIKey = ""
		cfg.Dictation.SpeechAppID = ""
		cfg.Dictation.SpeechAccessToken = ""
	}
	if cmd.Flags().Changed("continuous") {
		cfg.Dictation.Continuous = f.continuous
	}
	if cmd.Flags().Changed("clear-draft") {
		cfg.Dictation.ClearDraft = f.clearDraft
	}
}

// newCapability returns nil when dictation is not configured so the
// controller sees an absent capability rather than a typed nil.
func newCapability(cfg config.DictationConfig) dictation.Capability {
	if !cfg.Enabled() {
		return nil
	}
	return cfg.NewCapability()
}
