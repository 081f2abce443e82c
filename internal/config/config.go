package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/golos/internal/audio"
	"github.com/zhouzirui/golos/internal/dictation"
	"github.com/zhouzirui/golos/internal/dictation/deepgram"
	"github.com/zhouzirui/golos/internal/dictation/volcengine"
)

// Config 聚合中继服务的配置项。
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
}

// Load 从环境变量加载中继服务配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Relay: relay}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Provider 标识上游大模型服务。
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderArk    Provider = "ark"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-3.5-turbo"
)

// RelayConfig 描述上游模型配置，启动后只读。
type RelayConfig struct {
	Provider Provider
	OpenAI   OpenAIConfig
	Ark      ArkConfig
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 按 Provider 创建模型实例。
// 缺少 OpenAI 密钥不会报错，请求会在上游被拒绝。
func (c RelayConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	switch c.Provider {
	case ProviderArk:
		return c.Ark.NewChatModel(ctx)
	case ProviderOpenAI, "":
		return c.OpenAI.NewChatModel(ctx)
	default:
		return nil, fmt.Errorf("unsupported UPSTREAM_PROVIDER %q", c.Provider)
	}
}

// NewChatModel 创建 OpenAI 兼容接口的模型实例，每条消息只发一次请求。
func (c OpenAIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	cfg := &openai.ChatModelConfig{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI chat model: %w", err)
	}
	return cm, nil
}

// NewChatModel 使用配置创建一个方舟模型实例，不做重试。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	noRetry := 0
	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
		RetryTimes:  &noRetry,
	}

	cm, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ark chat model: %w", err)
	}
	return cm, nil
}

func loadRelayConfig() (RelayConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("UPSTREAM_PROVIDER", string(ProviderOpenAI))))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return RelayConfig{}, fmt.Errorf("invalid UPSTREAM_PROVIDER value: %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return RelayConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return RelayConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return RelayConfig{}, err
	}

	return RelayConfig{
		Provider: provider,
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL: getEnvOrDefault("OPENAI_BASE_URL", DefaultOpenAIBaseURL),
			Model:   getEnvOrDefault("OPENAI_MODEL", DefaultOpenAIModel),
		},
		Ark: ArkConfig{
			APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		},
	}, nil
}

// ClientConfig 描述终端前端的配置。
type ClientConfig struct {
	RelayURL  string
	LogFile   string
	Dictation DictationConfig
}

// DictationProvider 标识语音识别服务。
type DictationProvider string

const (
	DictationDeepgram   DictationProvider = "deepgram"
	DictationVolcengine DictationProvider = "volcengine"
)

// DictationConfig 描述语音听写能力（ffmpeg 采集 + 流式识别）。
type DictationConfig struct {
	Provider DictationProvider

	// Deepgram
	APIKey     string
	APIBaseURL string
	Model      string

	// 火山引擎
	SpeechAppID       string
	SpeechAccessToken string
	SpeechResourceID  string
	SpeechURL         string

	Language      string
	Continuous    bool
	ClearDraft    bool
	FFmpegCommand string
	InputFormat   string
	InputDevice   string
	SampleRate    int
	Channels      int
}

// Enabled 表示听写能力是否可用；缺少凭证时前端退化为纯文本输入。
func (c DictationConfig) Enabled() bool {
	if c.Provider == DictationVolcengine {
		return c.SpeechAppID != "" && c.SpeechAccessToken != ""
	}
	return c.APIKey != ""
}

// NewCapability 按 Provider 创建 ffmpeg 采集 + 流式识别的听写能力。
func (c DictationConfig) NewCapability() dictation.Capability {
	capture := audio.NewFFmpegCapture(c.FFmpegCommand)
	audioCfg := audio.Config{
		InputFormat: c.InputFormat,
		InputDevice: c.InputDevice,
		SampleRate:  c.SampleRate,
		Channels:    c.Channels,
	}

	if c.Provider == DictationVolcengine {
		return volcengine.New(volcengine.Config{
			AppID:       c.SpeechAppID,
			AccessToken: c.SpeechAccessToken,
			ResourceID:  c.SpeechResourceID,
			URL:         c.SpeechURL,
			Language:    c.Language,
			Continuous:  c.Continuous,
			Audio:       audioCfg,
		}, capture)
	}

	return deepgram.New(deepgram.Config{
		APIKey:     c.APIKey,
		APIBaseURL: c.APIBaseURL,
		Model:      c.Model,
		Language:   c.Language,
		Continuous: c.Continuous,
		Audio:      audioCfg,
	}, capture)
}

// LoadClient 从环境变量加载前端配置。
func LoadClient() (*ClientConfig, error) {
	continuous, err := parseBoolEnv("DICTATION_CONTINUOUS", false)
	if err != nil {
		return nil, err
	}

	clearDraft, err := parseBoolEnv("DICTATION_CLEAR_DRAFT", false)
	if err != nil {
		return nil, err
	}

	sampleRate := 16000
	if override, err := parseOptionalIntEnv("AUDIO_SAMPLE_RATE"); err != nil {
		return nil, err
	} else if override != nil && *override > 0 {
		sampleRate = *override
	}

	provider := DictationProvider(strings.ToLower(getEnvOrDefault("DICTATION_PROVIDER", string(DictationDeepgram))))
	if provider != DictationDeepgram && provider != DictationVolcengine {
		return nil, fmt.Errorf("invalid DICTATION_PROVIDER value: %q", provider)
	}

	// 兼容旧变量名 SPEECH_API_KEY
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return &ClientConfig{
		RelayURL: getEnvOrDefault("RELAY_URL", "http://localhost:5000"),
		LogFile:  getEnvOrDefault("CHAT_LOG_FILE", "golos-chat.log"),
		Dictation: DictationConfig{
			Provider:          provider,
			APIKey:            strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:        getEnvOrDefault("DEEPGRAM_API_BASE", deepgram.DefaultAPIBaseURL),
			Model:             getEnvOrDefault("DEEPGRAM_MODEL", deepgram.DefaultModel),
			SpeechAppID:       strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
			SpeechAccessToken: accessToken,
			SpeechResourceID:  getEnvOrDefault("SPEECH_ASR_RESOURCE_ID", volcengine.DefaultResourceID),
			SpeechURL:         getEnvOrDefault("SPEECH_ASR_URL", volcengine.DefaultURL),
			Language:          getEnvOrDefault("DICTATION_LANGUAGE", "ru-RU"),
			Continuous:        continuous,
			ClearDraft:        clearDraft,
			FFmpegCommand:     getEnvOrDefault("FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:       getEnvOrDefault("AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:       getEnvOrDefault("AUDIO_INPUT_DEVICE", "default"),
			SampleRate:        sampleRate,
			Channels:          1,
		},
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
