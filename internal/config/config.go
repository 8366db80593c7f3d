package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server ServerConfig
	Chat   ChatConfig
	Auth   AuthConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Chat:   chat,
		Auth:   loadAuthConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ChatConfig describes the model backend and streaming behavior.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature float32
	StreamPace  time.Duration
	HistoryDir  string

	OllamaBaseURL string
	OllamaTimeout time.Duration

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkBaseURL   string
	ArkRegion    string
}

// AuthConfig locates the credentials file.
type AuthConfig struct {
	UsersFile string
}

// NewChatModel constructs the configured model backend.
func (c ChatConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	switch c.Provider {
	case "ollama":
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: c.OllamaBaseURL,
			Timeout: c.OllamaTimeout,
			Model:   c.Model,
		})
	case "ark":
		if c.ArkAPIKey == "" && (c.ArkAccessKey == "" || c.ArkSecretKey == "") {
			return nil, fmt.Errorf("ark provider requires ARK_API_KEY or an ARK_ACCESS_KEY/ARK_SECRET_KEY pair")
		}
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:   c.ArkBaseURL,
			Region:    c.ArkRegion,
			APIKey:    c.ArkAPIKey,
			AccessKey: c.ArkAccessKey,
			SecretKey: c.ArkSecretKey,
			Model:     c.Model,
		})
	default:
		return nil, fmt.Errorf("unknown chat provider %q", c.Provider)
	}
}

func loadChatConfig() (ChatConfig, error) {
	temperature := float32(0.7)
	if override, err := parseOptionalFloatEnv("CHAT_TEMPERATURE"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		temperature = float32(*override)
	}
	if temperature < 0 || temperature > 2 {
		return ChatConfig{}, fmt.Errorf("CHAT_TEMPERATURE must be within [0, 2], got %v", temperature)
	}

	paceMillis := 50
	if override, err := parseOptionalIntEnv("STREAM_PACE_MS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return ChatConfig{}, fmt.Errorf("STREAM_PACE_MS must not be negative")
		}
		paceMillis = *override
	}

	timeoutSeconds := 120
	if override, err := parseOptionalIntEnv("OLLAMA_TIMEOUT_SECONDS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		timeoutSeconds = *override
	}

	return ChatConfig{
		Provider:      getEnvOrDefault("CHAT_PROVIDER", "ollama"),
		Model:         getEnvOrDefault("CHAT_MODEL", "llama3.2"),
		Temperature:   temperature,
		StreamPace:    time.Duration(paceMillis) * time.Millisecond,
		HistoryDir:    getEnvOrDefault("CHAT_HISTORY_DIR", "chat_histories"),
		OllamaBaseURL: getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaTimeout: time.Duration(timeoutSeconds) * time.Second,
		ArkAPIKey:     strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:  strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:  strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkBaseURL:    getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:     getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}, nil
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		UsersFile: getEnvOrDefault("USERS_FILE", "users/user.yml"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
