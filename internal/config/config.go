package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// Config 聚合整个中继服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Speech SpeechConfig
	Room   RoomConfig
	Relay  RelayConfig
}

// Load 从环境变量加载配置。任何协作方凭证缺失都会返回错误：
// 半配置的流水线会静默丢掉一种目标语言，宁可拒绝启动。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	room, err := loadRoomConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Speech: speech, Room: room, Relay: relay}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述翻译模型相关配置。
type AIConfig struct {
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

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
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
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}

	if cfg.Model == "" {
		return AIConfig{}, fmt.Errorf("ARK_MODEL is required")
	}
	if cfg.APIKey == "" && (cfg.AccessKey == "" || cfg.SecretKey == "") {
		return AIConfig{}, fmt.Errorf("translation credentials missing: set ARK_API_KEY or ARK_ACCESS_KEY + ARK_SECRET_KEY")
	}

	return cfg, nil
}

// SpeechConfig 描述语音识别与合成服务的配置。
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	ASRLanguage string
	TTSSpeed    float32
	SampleRate  int
	Timeout     time.Duration
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	sampleRate, err := parseOptionalIntEnv("SPEECH_SAMPLE_RATE")
	if err != nil {
		return SpeechConfig{}, err
	}
	rate := 24000
	if sampleRate != nil {
		rate = *sampleRate
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	if appID == "" || accessToken == "" {
		return SpeechConfig{}, fmt.Errorf("speech credentials missing: set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
	}

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		APIKey:      apiKey,
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "zh-CN"),
		TTSSpeed:    ttsSpeed,
		SampleRate:  rate,
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// RoomConfig 描述实时房间中继服务的配置。
type RoomConfig struct {
	URL       string
	APIKey    string
	APISecret string
	// TokenTTL 为签发的房间凭证有效期。
	TokenTTL time.Duration
}

func loadRoomConfig() (RoomConfig, error) {
	cfg := RoomConfig{
		URL:       strings.TrimSpace(os.Getenv("ROOM_WS_URL")),
		APIKey:    strings.TrimSpace(os.Getenv("ROOM_API_KEY")),
		APISecret: strings.TrimSpace(os.Getenv("ROOM_API_SECRET")),
		TokenTTL:  6 * time.Hour,
	}

	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return RoomConfig{}, fmt.Errorf("room credentials missing: set ROOM_WS_URL, ROOM_API_KEY and ROOM_API_SECRET")
	}

	if ttl, err := parseOptionalIntEnv("ROOM_TOKEN_TTL_MINUTES"); err != nil {
		return RoomConfig{}, err
	} else if ttl != nil {
		if *ttl < 1 {
			return RoomConfig{}, fmt.Errorf("ROOM_TOKEN_TTL_MINUTES must be positive, got %d", *ttl)
		}
		cfg.TokenTTL = time.Duration(*ttl) * time.Minute
	}

	return cfg, nil
}

// RelayConfig 描述核心转译流水线的配置。
type RelayConfig struct {
	Targets []relaymodel.LanguageTarget
	// StageTimeout 为单个流水线阶段（翻译/合成/发布）的超时时间。
	StageTimeout time.Duration
	// SourceChannel 为原音字幕镜像的房间名。
	SourceChannel string
	// MirrorSource 控制是否把最终转写镜像到原音房间。
	MirrorSource bool
}

func loadRelayConfig() (RelayConfig, error) {
	prefix := getEnvOrDefault("RELAY_ROOM_PREFIX", "room_")

	langs := getEnvOrDefault("RELAY_TARGET_LANGS", "kr,vn")
	seed := relaymodel.Seed(prefix)

	var targets []relaymodel.LanguageTarget
	for _, raw := range strings.Split(langs, ",") {
		code := strings.ToLower(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		target, ok := relaymodel.FindTarget(seed, code)
		if !ok {
			return RelayConfig{}, fmt.Errorf("unsupported target language %q (supported: kr, vn, jp)", code)
		}
		if voice := strings.TrimSpace(os.Getenv("RELAY_VOICE_" + strings.ToUpper(code))); voice != "" {
			target.Voice = voice
		}
		targets = append(targets, target)
	}

	if len(targets) == 0 {
		return RelayConfig{}, fmt.Errorf("RELAY_TARGET_LANGS resolved to no targets")
	}

	stageTimeout := 10 * time.Second
	if seconds, err := parseOptionalIntEnv("RELAY_STAGE_TIMEOUT"); err != nil {
		return RelayConfig{}, err
	} else if seconds != nil {
		if *seconds < 1 {
			return RelayConfig{}, fmt.Errorf("RELAY_STAGE_TIMEOUT must be positive, got %d", *seconds)
		}
		stageTimeout = time.Duration(*seconds) * time.Second
	}

	mirror, err := parseBoolEnv("RELAY_MIRROR_SOURCE", true)
	if err != nil {
		return RelayConfig{}, err
	}

	return RelayConfig{
		Targets:       targets,
		StageTimeout:  stageTimeout,
		SourceChannel: prefix + "zh",
		MirrorSource:  mirror,
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
