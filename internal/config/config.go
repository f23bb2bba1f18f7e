package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Режимы вызова модели
const (
	ModeSync  = "sync"  // chat completion без состояния
	ModeAsync = "async" // assistant: thread + run + polling
)

// Провайдеры синхронного режима
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config - основная конфигурация приложения
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	AI        AIConfig        `yaml:"ai"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Export    ExportConfig    `yaml:"export"`
}

// ServerConfig - настройки HTTP-сервера
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS, точное совпадение Origin
}

// WarehouseConfig - подключение к хранилищу (PostgreSQL-совместимое)
type WarehouseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Table    string `yaml:"table"` // ai_insights_monthly_table или schema.table
}

// AIConfig - настройки языковой модели
type AIConfig struct {
	Mode               string        `yaml:"mode"`     // sync | async
	Provider           string        `yaml:"provider"` // openai | gemini (только sync)
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	Model              string        `yaml:"model"`
	GeminiAPIKey       string        `yaml:"gemini_api_key"`
	GeminiModel        string        `yaml:"gemini_model"`
	AssistantID        string        `yaml:"assistant_id"`
	Temperature        float64       `yaml:"temperature"`
	InitialMaxTokens   int           `yaml:"initial_max_tokens"`
	FollowupMaxTokens  int           `yaml:"followup_max_tokens"`
	RateLimitPerHour   int           `yaml:"rate_limit_per_hour"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	MaxPollAttempts    int           `yaml:"max_poll_attempts"`
	LogUsageToDatabase bool          `yaml:"log_usage_to_database"`
}

// AnalysisConfig - параметры анализа и интерфейса
type AnalysisConfig struct {
	Months          []string          `yaml:"months"`
	Metrics         []string          `yaml:"metrics"`
	DisplayName     string            `yaml:"display_name"`
	ComparisonFocus map[string]string `yaml:"comparison_focus"` // группа -> yoy | mom
	DefaultFocus    string            `yaml:"default_focus"`
	ChangeThreshold float64           `yaml:"change_threshold"` // в процентах
	PreviewRows     int               `yaml:"preview_rows"`
}

// CacheConfig - кэш снимков данных
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"` // предел запроса к хранилищу
	PurgeSchedule string        `yaml:"purge_schedule"` // cron
}

// SessionConfig - пользовательские сессии
type SessionConfig struct {
	Secret        string        `yaml:"secret"`
	CookieName    string        `yaml:"cookie_name"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"` // cron
	SecureCookie  bool          `yaml:"secure_cookie"`
}

// SMTPConfig - отправка выгрузок по почте
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// ExportConfig - выгрузка переписки
type ExportConfig struct {
	DefaultFormat string `yaml:"default_format"` // docx | pdf
	FontDir       string `yaml:"font_dir"`       // TTF для PDF (опционально)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)

// Load загружает конфигурацию из YAML-файла
func Load(path string) (*Config, error) {
	// .env опционален: в продакшене переменные задаются окружением
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] Файл .env не найден, используем переменные окружения")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[Config] %s не найден, используем значения по умолчанию", path)
	default:
		return nil, err
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv переопределяет секреты и адреса из переменных окружения
func applyEnv(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"PORT", &cfg.Server.Port},
		{"WAREHOUSE_HOST", &cfg.Warehouse.Host},
		{"WAREHOUSE_PASSWORD", &cfg.Warehouse.Password},
		{"AI_API_KEY", &cfg.AI.APIKey},
		{"AI_BASE_URL", &cfg.AI.BaseURL},
		{"AI_ASSISTANT_ID", &cfg.AI.AssistantID},
		{"AI_MODE", &cfg.AI.Mode},
		{"GEMINI_API_KEY", &cfg.AI.GeminiAPIKey},
		{"SESSION_SECRET", &cfg.Session.Secret},
		{"SMTP_PASSWORD", &cfg.SMTP.Password},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	// Список через запятую
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, origin)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Warehouse.Port == "" {
		c.Warehouse.Port = "5432"
	}
	if c.Warehouse.SSLMode == "" {
		c.Warehouse.SSLMode = "disable"
	}
	if c.Warehouse.Table == "" {
		c.Warehouse.Table = "ai_insights_monthly_table"
	}

	if c.AI.Mode == "" {
		c.AI.Mode = ModeSync
	}
	if c.AI.Provider == "" {
		c.AI.Provider = ProviderOpenAI
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "https://api.openai.com/v1"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4"
	}
	if c.AI.GeminiModel == "" {
		c.AI.GeminiModel = "gemini-1.5-pro"
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.3
	}
	if c.AI.InitialMaxTokens <= 0 {
		c.AI.InitialMaxTokens = 1500
	}
	if c.AI.FollowupMaxTokens <= 0 {
		c.AI.FollowupMaxTokens = 600
	}
	if c.AI.RateLimitPerHour <= 0 {
		c.AI.RateLimitPerHour = 60
	}
	if c.AI.RequestTimeout <= 0 {
		c.AI.RequestTimeout = 120 * time.Second
	}
	if c.AI.PollInterval <= 0 {
		c.AI.PollInterval = time.Second
	}
	if c.AI.PollTimeout <= 0 {
		c.AI.PollTimeout = 5 * time.Minute
	}
	if c.AI.MaxPollAttempts <= 0 {
		c.AI.MaxPollAttempts = 600
	}

	if len(c.Analysis.Months) == 0 {
		c.Analysis.Months = []string{"2025-01", "2025-02", "2025-03", "2025-04"}
	}
	if len(c.Analysis.Metrics) == 0 {
		c.Analysis.Metrics = []string{"impressions", "clicks", "sessions", "revenue"}
	}
	if c.Analysis.DisplayName == "" {
		c.Analysis.DisplayName = "Kimbell Analysis"
	}
	if c.Analysis.ComparisonFocus == nil {
		c.Analysis.ComparisonFocus = map[string]string{"Membership": "yoy"}
	}
	if c.Analysis.DefaultFocus == "" {
		c.Analysis.DefaultFocus = "mom"
	}
	if c.Analysis.ChangeThreshold <= 0 {
		c.Analysis.ChangeThreshold = 5
	}
	if c.Analysis.PreviewRows <= 0 {
		c.Analysis.PreviewRows = 10
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.FetchTimeout <= 0 {
		c.Cache.FetchTimeout = 30 * time.Second
	}
	if c.Cache.PurgeSchedule == "" {
		c.Cache.PurgeSchedule = "*/10 * * * *"
	}

	if c.Session.CookieName == "" {
		c.Session.CookieName = "insights_session"
	}
	if c.Session.TokenTTL <= 0 {
		c.Session.TokenTTL = 24 * time.Hour
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 2 * time.Hour
	}
	if c.Session.SweepSchedule == "" {
		c.Session.SweepSchedule = "*/15 * * * *"
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.FromName == "" {
		c.SMTP.FromName = c.Analysis.DisplayName
	}

	if c.Export.DefaultFormat == "" {
		c.Export.DefaultFormat = "docx"
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.AI.Mode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("неизвестный режим AI: %q", c.AI.Mode)
	}
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("неизвестный провайдер AI: %q", c.AI.Provider)
	}
	if c.AI.Mode == ModeAsync {
		if c.AI.Provider != ProviderOpenAI {
			return errors.New("асинхронный режим поддерживается только провайдером openai")
		}
		if c.AI.AssistantID == "" {
			return errors.New("для асинхронного режима требуется ai.assistant_id")
		}
	}
	if !identPattern.MatchString(c.Warehouse.Table) {
		return fmt.Errorf("недопустимое имя таблицы: %q", c.Warehouse.Table)
	}
	for group, focus := range c.Analysis.ComparisonFocus {
		if focus != "yoy" && focus != "mom" {
			return fmt.Errorf("comparison_focus[%s]: ожидается yoy или mom, получено %q", group, focus)
		}
	}
	if c.Analysis.DefaultFocus != "yoy" && c.Analysis.DefaultFocus != "mom" {
		return fmt.Errorf("default_focus: ожидается yoy или mom, получено %q", c.Analysis.DefaultFocus)
	}
	switch c.Export.DefaultFormat {
	case "docx", "pdf":
	default:
		return fmt.Errorf("неизвестный формат выгрузки: %q", c.Export.DefaultFormat)
	}
	return nil
}

// IsValidMonth проверяет, что месяц входит в разрешённый список
func (c *AnalysisConfig) IsValidMonth(month string) bool {
	for _, m := range c.Months {
		if m == month {
			return true
		}
	}
	return false
}
