package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.PollInterval != 100*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Monitor.PollInterval)
	}
	if cfg.Device.Transport != "simulator" || cfg.Device.UnitID != 1 {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port = %d", cfg.Server.HTTPPort)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
monitor:
  poll_interval: 250ms
device:
  transport: modbus
  address: 10.0.0.5:502
  endianness: BE
auth:
  users:
    - username: alice
      password_hash: $argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA
      role: engineer
`)
	t.Setenv("OPW_SERVER_HTTP_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("http_port = %d, want env override 7070", cfg.Server.HTTPPort)
	}
	if cfg.Monitor.PollInterval != 250*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Monitor.PollInterval)
	}
	if cfg.Device.Transport != "modbus" || cfg.Device.Address != "10.0.0.5:502" {
		t.Errorf("device = %+v", cfg.Device)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Role != "engineer" {
		t.Errorf("users = %+v", cfg.Auth.Users)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"transport", "device:\n  transport: serial\n", "device.transport"},
		{"endianness", "device:\n  endianness: middle\n", "device.endianness"},
		{"store", "project:\n  store: s3\n", "project.store"},
		{"interval", "monitor:\n  poll_interval: 0s\n", "poll_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
