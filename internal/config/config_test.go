package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chxlky/taskboard/internal/board"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
workers = 4

[server]
port = "9000"

[auth]
jwt_secret = "s3cret"
session_ttl = "1h"

[board]
failure_policy = "keep"
drop_mode = "list-only"
drag_timeout = "30s"

[google.calendar]
enabled = true
calendar_id = "team@group.calendar.google.com"

[google.service_account]
type = "service_account"
client_email = "bot@example.iam.gserviceaccount.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Workers != 4 {
		t.Errorf("server/workers: %+v %d", cfg.Server, cfg.Workers)
	}
	if cfg.Auth.SessionTTL != time.Hour {
		t.Errorf("session ttl: got %v", cfg.Auth.SessionTTL)
	}
	if cfg.Database.Path != "taskboard.db" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Database, cfg.Redis)
	}
	if cfg.Board.PersistTimeout != 10*time.Second {
		t.Errorf("persist timeout: got %v", cfg.Board.PersistTimeout)
	}
	if cfg.Avatars.Dir != "avatars" || cfg.Avatars.MaxBytes != 2<<20 {
		t.Errorf("avatar defaults: %+v", cfg.Avatars)
	}

	opts, err := cfg.BoardOptions()
	if err != nil {
		t.Fatalf("BoardOptions: %v", err)
	}
	if opts.Policy != board.KeepOnFailure || opts.Mode != board.DropListOnly || opts.DragTimeout != 30*time.Second {
		t.Errorf("board options: %+v", opts)
	}

	data, err := cfg.ServiceAccountJSON()
	if err != nil {
		t.Fatalf("ServiceAccountJSON: %v", err)
	}
	var sa map[string]string
	if err := json.Unmarshal(data, &sa); err != nil {
		t.Fatalf("decode service account: %v", err)
	}
	if sa["client_email"] != "bot@example.iam.gserviceaccount.com" {
		t.Errorf("service account: %v", sa)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
[auth]
jwt_secret = "from-file"
`)
	t.Setenv("TASKBOARD_AUTH_JWT_SECRET", "from-env")
	t.Setenv("TASKBOARD_SERVER_PORT", "7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.Server.Port != "7777" {
		t.Errorf("env not applied: secret=%q port=%q", cfg.Auth.JWTSecret, cfg.Server.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", `[server]
port = "1"`},
		{"bad policy", `[auth]
jwt_secret = "x"
[board]
failure_policy = "retry"`},
		{"calendar without id", `[auth]
jwt_secret = "x"
[google.calendar]
enabled = true`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}
