package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppConfig     *AppConfig
	AIConfig      *AIConfig
	BrowserConfig *BrowserConfig
	AgentConfig   *AgentConfig
}

type AppConfig struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Debug         bool   `envconfig:"DEBUG" default:"false"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"7"`
	TraceEnabled  bool   `envconfig:"TRACE_ENABLED" default:"false"`
	TraceFile     string `envconfig:"TRACE_FILE"`
}

type AIConfig struct {
	Provider          string        `envconfig:"AI_PROVIDER" default:"openai"`
	APIKey            string        `envconfig:"AI_API_KEY" required:"true"`
	Model             string        `envconfig:"AI_MODEL" default:"gpt-4.1"`
	BaseURL           string        `envconfig:"AI_BASE_URL"`
	Temperature       float32       `envconfig:"AI_TEMPERATURE" default:"0.3"`
	MaxTokens         int           `envconfig:"AI_MAX_TOKENS" default:"2560"`
	Timeout           time.Duration `envconfig:"AI_TIMEOUT" default:"90s"`
	RequestsPerMinute int           `envconfig:"AI_REQUESTS_PER_MINUTE" default:"0"`
}

type BrowserConfig struct {
	Driver      string `envconfig:"BROWSER_DRIVER" default:"playwright"`
	Headless    bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	SlowMo      int    `envconfig:"BROWSER_SLOW_MO" default:"0"`
	Timeout     int    `envconfig:"BROWSER_TIMEOUT" default:"30000"`
	UserDataDir string `envconfig:"BROWSER_USER_DATA_DIR"`
	StartURL    string `envconfig:"BROWSER_START_URL"`
	Stealth     bool   `envconfig:"BROWSER_STEALTH" default:"true"`
}

type AgentConfig struct {
	MaxSteps      int           `envconfig:"AGENT_MAX_STEPS" default:"15"`
	ElementCap    int           `envconfig:"AGENT_ELEMENT_CAP" default:"50"`
	ReadyTimeout  time.Duration `envconfig:"AGENT_READY_TIMEOUT" default:"5s"`
	ActionTimeout time.Duration `envconfig:"AGENT_ACTION_TIMEOUT" default:"10s"`
	WaitTimeout   time.Duration `envconfig:"AGENT_WAIT_TIMEOUT" default:"10s"`
	SettleDelay   time.Duration `envconfig:"AGENT_SETTLE_DELAY" default:"500ms"`
	ScrollSettle  time.Duration `envconfig:"AGENT_SCROLL_SETTLE" default:"1s"`
	RefAttribute  string        `envconfig:"AGENT_REF_ATTRIBUTE" default:"data-ref"`
}

func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.AIConfig.APIKey) == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}

	switch c.AIConfig.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q", c.AIConfig.Provider)
	}

	switch c.BrowserConfig.Driver {
	case "playwright", "rod":
	default:
		return fmt.Errorf("unsupported BROWSER_DRIVER %q", c.BrowserConfig.Driver)
	}

	if c.AgentConfig.MaxSteps <= 0 {
		return fmt.Errorf("AGENT_MAX_STEPS must be positive, got %d", c.AgentConfig.MaxSteps)
	}

	if c.AgentConfig.ElementCap <= 0 {
		return fmt.Errorf("AGENT_ELEMENT_CAP must be positive, got %d", c.AgentConfig.ElementCap)
	}

	return nil
}
