package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outreach-cli/internal/enroll"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	PageRank   APIConfig        `yaml:"pagerank" mapstructure:"pagerank"`
	Links      APIConfig        `yaml:"linkmetrics" mapstructure:"linkmetrics"`
	SafeBrowse APIConfig        `yaml:"safebrowsing" mapstructure:"safebrowsing"`
	Signals    SignalsConfig    `yaml:"signals" mapstructure:"signals"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	AutoEnroll AutoEnrollConfig `yaml:"auto_enroll" mapstructure:"auto_enroll"`
	Delivery   DeliveryConfig   `yaml:"delivery" mapstructure:"delivery"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Tags       TagsConfig       `yaml:"tags" mapstructure:"tags"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// APIConfig holds credentials for one external signal API. An empty key
// disables the source.
type APIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SignalsConfig configures the signal collector.
type SignalsConfig struct {
	TimeoutSecs        int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CallsPerMinute     int      `yaml:"calls_per_minute" mapstructure:"calls_per_minute"`
	RetryAttempts      int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	UserAgent          string   `yaml:"user_agent" mapstructure:"user_agent"`
	SupportedLanguages []string `yaml:"supported_languages" mapstructure:"supported_languages"`
}

// Timeout returns the per-call timeout.
func (s SignalsConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// EnrichmentConfig configures the enrichment batch sweep.
type EnrichmentConfig struct {
	BatchSize       int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts     int `yaml:"max_attempts" mapstructure:"max_attempts"`
	ReenrichAfterHr int `yaml:"reenrich_after_hours" mapstructure:"reenrich_after_hours"`
}

// AutoEnrollConfig holds the gatekeeper thresholds. It is read once per batch
// and handed to the gatekeeper as an enroll.Settings value.
type AutoEnrollConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	MaxPerHour           int      `yaml:"max_per_hour" mapstructure:"max_per_hour"`
	MaxPerDay            int      `yaml:"max_per_day" mapstructure:"max_per_day"`
	MinScore             int      `yaml:"min_score" mapstructure:"min_score"`
	MaxTier              int      `yaml:"max_tier" mapstructure:"max_tier"`
	AllowedCategories    []string `yaml:"allowed_categories" mapstructure:"allowed_categories"`
	AllowedLanguages     []string `yaml:"allowed_languages" mapstructure:"allowed_languages"`
	RequireVerifiedEmail bool     `yaml:"require_verified_email" mapstructure:"require_verified_email"`
	FallbackLanguage     string   `yaml:"fallback_language" mapstructure:"fallback_language"`
	BatchSize            int      `yaml:"batch_size" mapstructure:"batch_size"`
}

// Settings converts the loaded values into the gatekeeper's input.
func (a AutoEnrollConfig) Settings() enroll.Settings {
	return enroll.Settings{
		Enabled:              a.Enabled,
		MaxPerHour:           a.MaxPerHour,
		MaxPerDay:            a.MaxPerDay,
		MinScore:             a.MinScore,
		MaxTier:              a.MaxTier,
		AllowedCategories:    append([]string(nil), a.AllowedCategories...),
		AllowedLanguages:     append([]string(nil), a.AllowedLanguages...),
		RequireVerifiedEmail: a.RequireVerifiedEmail,
		FallbackLanguage:     a.FallbackLanguage,
	}
}

// DeliveryConfig selects how enrollments reach the email platform.
type DeliveryConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"` // "webhook" or "amqp"
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookKey  string `yaml:"webhook_key" mapstructure:"webhook_key"`
	AMQPURL     string `yaml:"amqp_url" mapstructure:"amqp_url"`
	Exchange    string `yaml:"exchange" mapstructure:"exchange"`
	RoutingKey  string `yaml:"routing_key" mapstructure:"routing_key"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// TemporalConfig configures the Temporal client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ScheduleConfig holds sweep cadences.
type ScheduleConfig struct {
	EnrichEvery time.Duration `yaml:"enrich_every" mapstructure:"enrich_every"`
	EnrollEvery time.Duration `yaml:"enroll_every" mapstructure:"enroll_every"`
}

// TagsConfig points at an optional YAML tag rule file.
type TagsConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background alert checker. Alerts are only
// sent when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxDeliveryFailures  int     `yaml:"max_delivery_failures" mapstructure:"max_delivery_failures"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Secrets have empty defaults so AutomaticEnv can bind them on Unmarshal.
	for _, key := range []string{
		"store.database_url", "pagerank.key", "linkmetrics.key", "safebrowsing.key",
		"delivery.webhook_url", "delivery.webhook_key", "delivery.amqp_url", "tags.rules_path",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("pagerank.base_url", "https://openpagerank.com/api/v1.0")
	v.SetDefault("linkmetrics.base_url", "https://lsapi.seomoz.com/v2")
	v.SetDefault("safebrowsing.base_url", "https://safebrowsing.googleapis.com/v4")

	v.SetDefault("signals.timeout_secs", 15)
	v.SetDefault("signals.calls_per_minute", 10)
	v.SetDefault("signals.retry_attempts", 2)
	v.SetDefault("signals.user_agent", "Mozilla/5.0 (compatible; OutreachBot/1.0)")
	v.SetDefault("signals.supported_languages", []string{"en", "fr", "de", "es", "it", "pt", "nl"})

	v.SetDefault("enrichment.batch_size", 50)
	v.SetDefault("enrichment.concurrency", 3)
	v.SetDefault("enrichment.max_attempts", 3)
	v.SetDefault("enrichment.reenrich_after_hours", 24*30)

	v.SetDefault("auto_enroll.enabled", false)
	v.SetDefault("auto_enroll.max_per_hour", 20)
	v.SetDefault("auto_enroll.max_per_day", 100)
	v.SetDefault("auto_enroll.min_score", 40)
	v.SetDefault("auto_enroll.max_tier", 2)
	v.SetDefault("auto_enroll.allowed_categories", []string{})
	v.SetDefault("auto_enroll.allowed_languages", []string{})
	v.SetDefault("auto_enroll.require_verified_email", false)
	v.SetDefault("auto_enroll.fallback_language", "en")
	v.SetDefault("auto_enroll.batch_size", 50)

	v.SetDefault("delivery.mode", "webhook")
	v.SetDefault("delivery.exchange", "outreach.enrollments")
	v.SetDefault("delivery.routing_key", "enrollment.created")
	v.SetDefault("delivery.max_attempts", 5)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "outreach-pipeline")

	v.SetDefault("schedule.enrich_every", 5*time.Minute)
	v.SetDefault("schedule.enroll_every", 10*time.Minute)

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.max_delivery_failures", 5)
}

// loadDotEnv loads a dotenv file if present. Variables already set in the
// process environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return eris.Wrap(err, "config: load .env")
	}
	return nil
}

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, eris.Errorf(format, args...).Error())
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	if c.Enrichment.Concurrency < 1 || c.Enrichment.Concurrency > 50 {
		add("enrichment.concurrency must be between 1 and 50")
	}
	if c.AutoEnroll.MaxTier < 1 || c.AutoEnroll.MaxTier > 4 {
		add("auto_enroll.max_tier must be between 1 and 4")
	}
	if c.AutoEnroll.MinScore < 0 || c.AutoEnroll.MinScore > 100 {
		add("auto_enroll.min_score must be between 0 and 100")
	}

	switch mode {
	case "enrich", "migrate", "admin":
	case "enroll":
		c.validateDelivery(add)
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		c.validateDelivery(add)
	case "worker":
		if c.Temporal.HostPort == "" {
			add("temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			add("temporal.task_queue is required")
		}
		c.validateDelivery(add)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateDelivery(add func(string, ...any)) {
	switch c.Delivery.Mode {
	case "webhook":
		if c.Delivery.WebhookURL == "" {
			add("delivery.webhook_url is required for webhook delivery")
		}
	case "amqp":
		if c.Delivery.AMQPURL == "" {
			add("delivery.amqp_url is required for amqp delivery")
		}
	default:
		add("delivery.mode must be webhook or amqp, got %q", c.Delivery.Mode)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
