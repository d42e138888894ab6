package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"

	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var defaultModels = map[string]string{
	ProviderAnthropic: "claude-3-5-sonnet-20241022",
	ProviderOpenAI:    "gpt-4.1-mini",
	ProviderGemini:    "gemini-2.5-flash",
}

var defaultOrigins = []string{
	"https://panda-poll.com",
	"https://www.panda-poll.com",
	"http://localhost:3000",
	"http://localhost:3001",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:3001",
}

type Config struct {
	Port    string
	DataDir string
	LogMode string

	StoreDriver string
	DatabaseURL string

	JWTSecret   string
	JWTAudience string

	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	LLMModel        string
	LLMMaxTokens    int

	HistoryTokenLimit  int
	HistoryMaxMessages int
	ArtifactSpanMode   string

	AllowedOrigins     []string
	RedisURL           string
	RateLimitPerMinute int
}

// ProviderKey returns the API key of the selected LLM provider.
func (c *Config) ProviderKey() string {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

func Load() (*Config, error) {
	// .env is optional; env vars may already be set (e.g. in production)
	_ = godotenv.Load()

	file, err := readFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return file[key]
	}

	cfg := &Config{
		Port:             get("PORT"),
		DataDir:          get("DATA_DIR"),
		LogMode:          get("LOG_MODE"),
		StoreDriver:      strings.ToLower(get("STORE_DRIVER")),
		DatabaseURL:      get("DATABASE_URL"),
		JWTSecret:        get("SUPABASE_JWT_SECRET"),
		JWTAudience:      get("JWT_AUDIENCE"),
		LLMProvider:      strings.ToLower(get("LLM_PROVIDER")),
		AnthropicAPIKey:  get("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     get("OPENAI_API_KEY"),
		GeminiAPIKey:     get("GEMINI_API_KEY"),
		LLMModel:         get("LLM_MODEL"),
		ArtifactSpanMode: strings.ToLower(get("ARTIFACT_SPAN_MODE")),
		RedisURL:         get("REDIS_URL"),
		AllowedOrigins:   splitList(get("ALLOWED_ORIGINS")),
	}

	for _, n := range []struct {
		name string
		dst  *int
		def  int
	}{
		{"LLM_MAX_TOKENS", &cfg.LLMMaxTokens, 4000},
		{"HISTORY_TOKEN_LIMIT", &cfg.HistoryTokenLimit, 12000},
		{"HISTORY_MAX_MESSAGES", &cfg.HistoryMaxMessages, 50},
		{"RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute, 10},
	} {
		v, err := parseInt(n.name, get(n.name), n.def)
		if err != nil {
			return nil, err
		}
		*n.dst = v
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverBolt
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderAnthropic
	}
	if cfg.ArtifactSpanMode == "" {
		cfg.ArtifactSpanMode = "legacy"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultOrigins
	}

	model, ok := defaultModels[cfg.LLMProvider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = model
	}

	switch cfg.StoreDriver {
	case DriverBolt, DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.ArtifactSpanMode != "legacy" && cfg.ArtifactSpanMode != "matched" {
		return nil, fmt.Errorf("unknown ARTIFACT_SPAN_MODE %q", cfg.ArtifactSpanMode)
	}

	for _, req := range []struct {
		name, val string
	}{
		{"SUPABASE_JWT_SECRET", cfg.JWTSecret},
		{strings.ToUpper(cfg.LLMProvider) + "_API_KEY", cfg.ProviderKey()},
	} {
		if req.val == "" {
			return nil, fmt.Errorf("required env var %s is not set", req.name)
		}
	}

	return cfg, nil
}

// readFile loads a flat YAML mapping of the same keys as the environment.
func readFile(path string) (map[string]string, error) {
	out := map[string]string{}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func parseInt(key, v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
