package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/nosift/team-dh/internal/teams"
)

// Config represents the runtime configuration for the team-dh backend.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Redeem   RedeemConfig   `mapstructure:"redeem"`
	Teams    TeamsConfig    `mapstructure:"teams"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	Metrics  bool   `mapstructure:"metrics"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures the admin authentication settings.
type AuthConfig struct {
	JWT   JWTSettings   `mapstructure:"jwt"`
	Admin AdminSettings `mapstructure:"admin"`
}

// JWTSettings configures admin session tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// AdminSettings holds the single operator credential. PasswordHash is a
// bcrypt hash; Password is accepted as a plaintext fallback for local
// development only.
type AdminSettings struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

// UpstreamConfig configures the Team API client.
type UpstreamConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// TransferConfig tunes the lease rotation engine.
type TransferConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchLimit      int           `mapstructure:"batch_limit"`
	SyncLimit       int           `mapstructure:"sync_limit"`
	TermMonths      int           `mapstructure:"term_months"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	AllowApproxJoin bool          `mapstructure:"allow_approx_join"`
	EvictOldTeam    bool          `mapstructure:"evict_old_team"`
	StatusInterval  time.Duration `mapstructure:"status_interval"`
	AbnormalCheck   bool          `mapstructure:"abnormal_check"`
	AbnormalEvery   time.Duration `mapstructure:"abnormal_interval"`
}

// RedeemConfig tunes the public redemption surface.
type RedeemConfig struct {
	IPRateLimit int `mapstructure:"ip_rate_limit"`
}

// TeamsConfig carries the team credential pool. List comes from the YAML
// file; JSON accepts the same pool as a single env-provided blob, which wins
// when both are set.
type TeamsConfig struct {
	List []TeamEntry `mapstructure:"list"`
	JSON string      `mapstructure:"json"`
}

// TeamEntry is one configured team credential.
type TeamEntry struct {
	Name      string `mapstructure:"name" json:"name"`
	AccountID string `mapstructure:"account_id" json:"account_id"`
	Token     string `mapstructure:"token" json:"token"`
}

// Pool materialises the configured teams for the registry.
func (t TeamsConfig) Pool() ([]teams.Team, error) {
	entries := t.List
	if strings.TrimSpace(t.JSON) != "" {
		entries = nil
		if err := json.Unmarshal([]byte(t.JSON), &entries); err != nil {
			return nil, fmt.Errorf("config: parse teams json: %w", err)
		}
	}

	pool := make([]teams.Team, 0, len(entries))
	for i, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = fmt.Sprintf("Team %d", i+1)
		}
		pool = append(pool, teams.Team{
			Name:      name,
			AccountID: strings.TrimSpace(entry.AccountID),
			Token:     strings.TrimSpace(entry.Token),
		})
	}
	return pool, nil
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if c.Auth.JWT.Secret == "" {
		return errors.New("config: auth.jwt.secret is required")
	}
	if c.Auth.Admin.Username == "" {
		return errors.New("config: auth.admin.username is required")
	}
	if c.Auth.Admin.Password == "" && c.Auth.Admin.PasswordHash == "" {
		return errors.New("config: auth.admin.password or password_hash is required")
	}
	return nil
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TEAMDH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.metrics", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/teamdh.sqlite")

	v.SetDefault("auth.jwt.issuer", "team-dh")
	v.SetDefault("auth.jwt.access_token_ttl", "12h")

	v.SetDefault("upstream.base_url", "https://chatgpt.com/backend-api")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.retry_attempts", 5)
	v.SetDefault("upstream.retry_backoff", "1s")

	v.SetDefault("transfer.enabled", true)
	v.SetDefault("transfer.poll_interval", "10m")
	v.SetDefault("transfer.batch_limit", 20)
	v.SetDefault("transfer.sync_limit", 50)
	v.SetDefault("transfer.term_months", 1)
	v.SetDefault("transfer.max_attempts", 10)
	v.SetDefault("transfer.allow_approx_join", false)
	v.SetDefault("transfer.evict_old_team", false)
	v.SetDefault("transfer.status_interval", "3h")
	v.SetDefault("transfer.abnormal_check", true)
	v.SetDefault("transfer.abnormal_interval", "30m")

	v.SetDefault("redeem.ip_rate_limit", 5)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
