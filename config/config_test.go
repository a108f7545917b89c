package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.URL != "http://localhost:3000" {
		t.Errorf("Server.URL = %q, want http://localhost:3000", cfg.Server.URL)
	}
	if cfg.Auth.Token != "" {
		t.Errorf("Auth.Token = %q, want empty", cfg.Auth.Token)
	}
	if filepath.Base(cfg.Local.DatabasePath) != "history.db" {
		t.Errorf("Local.DatabasePath = %q, want .../history.db", cfg.Local.DatabasePath)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[server]
url = "https://ci.example.com/"

[auth]
token = "abc"

[local]
database_path = "~/pulse.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.URL != "https://ci.example.com" {
		t.Errorf("Server.URL = %q, want https://ci.example.com", cfg.Server.URL)
	}
	if cfg.Auth.Token != "abc" {
		t.Errorf("Auth.Token = %q, want abc", cfg.Auth.Token)
	}

	home, _ := os.UserHomeDir()
	if cfg.Local.DatabasePath != filepath.Join(home, "pulse.db") {
		t.Errorf("Local.DatabasePath = %q, want %q", cfg.Local.DatabasePath, filepath.Join(home, "pulse.db"))
	}
}

func TestLoad_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[server\nurl ="), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Auth.Email = "dev@example.com"
	cfg.Auth.Token = "t0ken"

	if err := Save(configPath, cfg); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Auth != cfg.Auth {
		t.Errorf("Auth = %+v, want %+v", loaded.Auth, cfg.Auth)
	}
	if loaded.Server.URL != cfg.Server.URL {
		t.Errorf("Server.URL = %q, want %q", loaded.Server.URL, cfg.Server.URL)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
