package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// Point at a path that does not exist so only defaults apply.
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.App.Port)
	}
	if cfg.Auth.JWTExpireMinute != 30 {
		t.Errorf("default jwt expire = %d, want 30", cfg.Auth.JWTExpireMinute)
	}
	if cfg.Upload.MaxSizeMB != 10 {
		t.Errorf("default upload cap = %d, want 10", cfg.Upload.MaxSizeMB)
	}
	if got := cfg.MaxUploadBytes(); got != 10*1024*1024 {
		t.Errorf("MaxUploadBytes() = %d, want %d", got, 10*1024*1024)
	}
	if cfg.RabbitMQ.DocumentIngestQueue != "document.ingest" {
		t.Errorf("default ingest queue = %q", cfg.RabbitMQ.DocumentIngestQueue)
	}
	if cfg.LLM.RequestTimeoutSeconds != 60 {
		t.Errorf("default llm timeout = %d, want 60", cfg.LLM.RequestTimeoutSeconds)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("APP_PORT", "9999")
	t.Setenv("UPLOAD_MAX_SIZE_MB", "1")
	t.Setenv("APP_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.App.Port)
	}
	if cfg.MaxUploadBytes() != 1024*1024 {
		t.Errorf("MaxUploadBytes() = %d, want %d", cfg.MaxUploadBytes(), 1024*1024)
	}
	if len(cfg.App.AllowedOrigins) != 2 || cfg.App.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins = %v", cfg.App.AllowedOrigins)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret = %q, want env value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 7070

[upload]
max_size_mb = 2
allowed_extensions = [".txt"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.App.Port)
	}
	if cfg.Upload.MaxSizeMB != 2 {
		t.Errorf("upload cap = %d, want 2", cfg.Upload.MaxSizeMB)
	}
	if cfg.ExtensionAllowed(".pdf") {
		t.Error("file-provided extension list should replace the default")
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
}

func TestExtensionAllowed(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		ext  string
		want bool
	}{
		{".pdf", true},
		{".PDF", true},
		{".docx", true},
		{".txt", true},
		{".exe", false},
		{"", false},
		{"pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := cfg.ExtensionAllowed(tt.ext); got != tt.want {
				t.Errorf("ExtensionAllowed(%q) = %v, want %v", tt.ext, got, tt.want)
			}
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "svc"
	cfg.MySQL.Password = "pw"
	cfg.MySQL.Host = "db.internal"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "docs"
	cfg.MySQL.Params = "parseTime=true"

	want := "svc:pw@tcp(db.internal:3307)/docs?parseTime=true"
	if got := cfg.MySQLDSN(); got != want {
		t.Errorf("MySQLDSN() = %q, want %q", got, want)
	}
}
