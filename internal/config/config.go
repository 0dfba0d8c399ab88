// Package config loads the service configuration from config.toml and
// TASKBOARD_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chxlky/taskboard/internal/board"
	"github.com/spf13/viper"
)

// EnvConfigPath names the variable holding an explicit config file path.
const EnvConfigPath = "TASKBOARD_CONFIG"

type Config struct {
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Auth struct {
		JWTSecret  string        `mapstructure:"jwt_secret"`
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"auth"`

	Board struct {
		FailurePolicy  string        `mapstructure:"failure_policy"`
		DropMode       string        `mapstructure:"drop_mode"`
		DragTimeout    time.Duration `mapstructure:"drag_timeout"`
		PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	} `mapstructure:"board"`

	Gemini struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
	} `mapstructure:"gemini"`

	Google struct {
		Calendar struct {
			Enabled    bool   `mapstructure:"enabled"`
			CalendarID string `mapstructure:"calendar_id"`
		} `mapstructure:"calendar"`
		ServiceAccount map[string]any `mapstructure:"service_account"`
	} `mapstructure:"google"`

	Avatars struct {
		Dir      string `mapstructure:"dir"`
		MaxBytes int64  `mapstructure:"max_bytes"`
	} `mapstructure:"avatars"`

	Trello struct {
		APIKey   string `mapstructure:"api_key"`
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"trello"`

	Workers int `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "taskboard.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("board.failure_policy", "rollback")
	v.SetDefault("board.drop_mode", "reorder")
	v.SetDefault("board.drag_timeout", "2m")
	v.SetDefault("board.persist_timeout", "10s")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("google.calendar.enabled", false)
	v.SetDefault("google.calendar.calendar_id", "")
	v.SetDefault("avatars.dir", "avatars")
	v.SetDefault("avatars.max_bytes", 2<<20)
	v.SetDefault("trello.api_key", "")
	v.SetDefault("trello.api_token", "")
	v.SetDefault("workers", 10)
}

// Load reads path, or TASKBOARD_CONFIG, or ./config.toml when both are
// empty. A missing ./config.toml is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	if _, err := c.BoardOptions(); err != nil {
		return err
	}
	if c.Google.Calendar.Enabled {
		if c.Google.Calendar.CalendarID == "" {
			return errors.New("google.calendar.calendar_id is required when the calendar is enabled")
		}
		if len(c.Google.ServiceAccount) == 0 {
			return errors.New("google.service_account is required when the calendar is enabled")
		}
	}
	return nil
}

// BoardOptions converts the board section into engine options.
func (c *Config) BoardOptions() (board.Options, error) {
	policy, err := board.ParseFailurePolicy(c.Board.FailurePolicy)
	if err != nil {
		return board.Options{}, fmt.Errorf("board.failure_policy: %w", err)
	}
	mode, err := board.ParseDropMode(c.Board.DropMode)
	if err != nil {
		return board.Options{}, fmt.Errorf("board.drop_mode: %w", err)
	}
	return board.Options{
		Policy:         policy,
		Mode:           mode,
		DragTimeout:    c.Board.DragTimeout,
		PersistTimeout: c.Board.PersistTimeout,
	}, nil
}

// ServiceAccountJSON returns the google.service_account table as the JSON key
// file the Google client libraries expect.
func (c *Config) ServiceAccountJSON() ([]byte, error) {
	data, err := json.Marshal(c.Google.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal service account settings to JSON: %w", err)
	}
	return data, nil
}
