// Package config defines all configuration for the exchange services.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via SPORT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Bot       BotConfig       `mapstructure:"bot"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Data      DataConfig      `mapstructure:"data"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the public HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RedisConfig holds the connection details for the market state store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FirestoreConfig holds the document-store project. CredentialsFile may be
// empty when running with application default credentials.
type FirestoreConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// AuthConfig controls token verification.
// AdminKeyHash is the hex SHA-256 of the admin credential; admin routes are
// disabled when it is empty.
type AuthConfig struct {
	AdminKeyHash         string `mapstructure:"admin_key_hash"`
	RequireVerifiedEmail bool   `mapstructure:"require_verified_email"`
}

// BotConfig tunes the liquidity bot.
//
//   - LogDir: root directory for per-run trade logs.
//   - BudgetFactor: per-market budget as a fraction of liquidity b.
//   - Noise: perturb beliefs before trading so runs are not deterministic.
type BotConfig struct {
	LogDir       string  `mapstructure:"log_dir"`
	BudgetFactor float64 `mapstructure:"budget_factor"`
	Noise        bool    `mapstructure:"noise"`
}

// SchedulerConfig controls the background job loop. Tick is the base
// interval between job dispatches; the minute counter advances by its
// length in minutes on every tick.
type SchedulerConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

// AuditConfig sets where request audit rows are persisted (SQLite).
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AlertConfig controls the ops webhook used for job failures.
type AlertConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DataConfig points at the directory holding the market lists
// (teams.txt, players.txt) and belief files (team_ms.json, player_ms.json).
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: SPORT_REDIS_PASSWORD, SPORT_ADMIN_KEY_HASH,
// SPORT_ALERT_WEBHOOK_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if pw := os.Getenv("SPORT_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if hash := os.Getenv("SPORT_ADMIN_KEY_HASH"); hash != "" {
		cfg.Auth.AdminKeyHash = hash
	}
	if url := os.Getenv("SPORT_ALERT_WEBHOOK_URL"); url != "" {
		cfg.Alert.WebhookURL = url
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bot.BudgetFactor == 0 {
		c.Bot.BudgetFactor = 0.01
	}
	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = 2 * time.Minute
	}
	if c.Alert.Timeout == 0 {
		c.Alert.Timeout = 10 * time.Second
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Firestore.ProjectID == "" {
		return fmt.Errorf("firestore.project_id is required")
	}
	if h := c.Auth.AdminKeyHash; h != "" && len(h) != 64 {
		return fmt.Errorf("auth.admin_key_hash must be a hex SHA-256 digest (64 chars)")
	}
	if c.Bot.BudgetFactor <= 0 || c.Bot.BudgetFactor > 1 {
		return fmt.Errorf("bot.budget_factor must be in (0, 1]")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be > 0")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit.enabled")
	}
	if c.Alert.Enabled && c.Alert.WebhookURL == "" {
		return fmt.Errorf("alert.webhook_url is required when alert.enabled (set SPORT_ALERT_WEBHOOK_URL)")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
	return nil
}
