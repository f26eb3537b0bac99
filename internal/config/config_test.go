package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.GRPCPort != "9090" {
		t.Errorf("ports = %q/%q, want 8080/9090", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DBPath != "./data/chat.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Chat.SendInterval != 500*time.Millisecond || cfg.Chat.HistoryLimit != 50 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false with no FRONTEND_URL")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("FRONTEND_URL", "https://chat.example.com/")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("CHAT_SEND_INTERVAL", "250ms")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" || cfg.Chat.SendInterval != 250*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true for a public FRONTEND_URL")
	}

	want := []string{"https://a.example.com", "https://b.example.com", "https://chat.example.com"}
	got := cfg.Origins()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Origins() = %v, want %v", got, want)
	}

	opts := cfg.StoreOptions()
	if opts.Driver != "mongo" || opts.MongoURI != "mongodb://localhost:27017" || opts.MongoDatabase != "chat" {
		t.Errorf("StoreOptions() = %+v", opts)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"mongo without uri", map[string]string{"JWT_SECRET": "x", "STORE_DRIVER": "mongo"}, "MONGO_URI"},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "STORE_DRIVER": "redis"}, "STORE_DRIVER"},
		{"bad log format", map[string]string{"JWT_SECRET": "x", "LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"bad duration", map[string]string{"JWT_SECRET": "x", "CHAT_SEND_INTERVAL": "soon"}, "parse env"},
		{"zero queue", map[string]string{"JWT_SECRET": "x", "CHAT_SEND_QUEUE": "0"}, "CHAT_SEND_QUEUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
