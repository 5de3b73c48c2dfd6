package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipeline.StageAttempts != 3 {
		t.Errorf("stage_attempts = %d, want 3", cfg.Pipeline.StageAttempts)
	}
	if cfg.Pipeline.BackoffBase != time.Second {
		t.Errorf("backoff_base = %s", cfg.Pipeline.BackoffBase)
	}
	if got := cfg.Research.Providers; len(got) != 3 || got[0] != "duckduckgo" {
		t.Errorf("providers = %v", got)
	}
	if cfg.Mutator.BacklinkEvery != 5 || cfg.Mutator.MaxBacklinks != 3 {
		t.Errorf("mutator defaults = %+v", cfg.Mutator)
	}
	if cfg.Generation.TargetWordCount != 2000 {
		t.Errorf("target_word_count = %d", cfg.Generation.TargetWordCount)
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  PostgresConfig
		want string
	}{
		{
			name: "url wins",
			cfg:  PostgresConfig{URL: "postgres://u:p@h:5/db", Host: "ignored"},
			want: "postgres://u:p@h:5/db",
		},
		{
			name: "fields with defaults",
			cfg:  PostgresConfig{Host: "localhost", User: "ap", Password: "pw", DBName: "autopress"},
			want: "postgres://ap:pw@localhost:5432/autopress?sslmode=disable",
		},
		{
			name: "explicit port and sslmode",
			cfg:  PostgresConfig{Host: "db", Port: "6543", User: "u", Password: "p", DBName: "d", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPostgresValidate(t *testing.T) {
	if err := (PostgresConfig{URL: "postgres://x"}).Validate(); err != nil {
		t.Errorf("url-only config should validate: %v", err)
	}
	if err := (PostgresConfig{Host: "h"}).Validate(); err == nil {
		t.Error("missing dbname should fail validation")
	}
}
