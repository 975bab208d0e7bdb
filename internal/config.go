package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cqsync/internal/models"
	"github.com/starford/cqsync/internal/syncer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Remote RemoteConfig      `yaml:"remote"`
	Sync   SyncConfig        `yaml:"sync"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, if set, receives a rotated copy of the log stream.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the control API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

var baseURLPattern = regexp.MustCompile(`^https?://[^\s/]+`)

// RemoteConfig holds the bookmark service client configuration.
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	PageSize          int           `yaml:"page_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.Match(baseURLPattern)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(500)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.BreakerCooldown, validation.Min(time.Duration(0))),
	)
}

// SyncConfig seeds the persisted settings on first start. Once the
// settings store holds a value, edits go through the settings API.
type SyncConfig struct {
	Token           string `yaml:"token"`
	Directory       string `yaml:"directory"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	OnStartup       bool   `yaml:"on_startup"`
	// TemplateFile, if set, is loaded into the settings and watched for edits.
	TemplateFile string `yaml:"template_file"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IntervalMinutes, validation.Min(0), validation.Max(24*60)),
		validation.Field(&c.Directory, validation.Length(0, 255)),
	)
}

// Settings converts the seed values into a settings record.
func (c *SyncConfig) Settings() models.Settings {
	return models.Settings{
		Token:           c.Token,
		SyncOnStartup:   c.OnStartup,
		IntervalMinutes: c.IntervalMinutes,
		Directory:       c.Directory,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./cqsync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Remote: RemoteConfig{
			BaseURL:         "https://www.cangquyun.com",
			Timeout:         30 * time.Second,
			PageSize:        syncer.DefaultPageSize,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		Sync: SyncConfig{
			Directory: models.DefaultDirectory,
		},
	}
}
