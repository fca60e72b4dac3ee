// Copyright 2026 TutorGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func productionConfig() *Config {
	return &Config{
		Environment:        "production",
		JWTSecret:          strings.Repeat("s", 32),
		CacheSalt:          "per-deployment-salt",
		AllowedOrigins:     []string{"https://campus.example.edu"},
		DatabaseURL:        "postgres://gateway@db/tutorgate",
		LLMProvider:        "mock",
		RateLimitPerMinute: 30,
		RateLimitPerHour:   300,
	}
}

func TestConfigValidateProduction(t *testing.T) {
	if err := productionConfig().Validate(); err != nil {
		t.Fatalf("baseline production config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET_KEY"},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, "32 characters"},
		{"missing cache salt", func(c *Config) { c.CacheSalt = "" }, "CACHE_SALT"},
		{"localhost origin", func(c *Config) { c.AllowedOrigins = []string{"http://localhost:3000"} }, "localhost"},
		{"loopback origin", func(c *Config) { c.AllowedOrigins = []string{"http://127.0.0.1:3000"} }, "localhost"},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "oracle" }, "LLM_PROVIDER"},
		{"anthropic without key", func(c *Config) { c.LLMProvider = "anthropic" }, "LLM_API_KEY"},
		{"zero rate limit", func(c *Config) { c.RateLimitPerMinute = 0 }, "rate limits"},
		{"hour below minute", func(c *Config) { c.RateLimitPerHour = 10 }, "RATE_LIMIT_PER_HOUR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := productionConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestConfigValidateDevelopmentIsLenient(t *testing.T) {
	cfg := &Config{
		Environment:        "development",
		LLMProvider:        "mock",
		RateLimitPerMinute: 30,
		RateLimitPerHour:   300,
	}
	// No secret, no salt, no database: acceptable outside production.
	if err := cfg.Validate(); err != nil {
		t.Errorf("development config rejected: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "PORT", "LLM_PROVIDER",
		"RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_PER_HOUR", "REQUEST_DEADLINE", "ALLOWED_ORIGINS",
		"LLM_CACHE_ENABLED", "LLM_CACHE_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LLMProvider != "mock" {
		t.Errorf("LLMProvider = %q", cfg.LLMProvider)
	}
	if cfg.RateLimitPerMinute != 30 || cfg.RateLimitPerHour != 300 {
		t.Errorf("rate limits = %d/%d", cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	// The cache defaults on with an hour of lifetime.
	if !cfg.CacheEnabled || cfg.CacheTTL != time.Hour {
		t.Errorf("cache defaults = %v/%v", cfg.CacheEnabled, cfg.CacheTTL)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.edu, https://b.example.edu")
	t.Setenv("REQUEST_DEADLINE", "10s")
	t.Setenv("CACHE_SALT", "institution-salt")
	t.Setenv("LLM_CACHE_ENABLED", "false")
	t.Setenv("LLM_CACHE_TTL_SECONDS", "120")

	cfg := LoadConfig()
	if cfg.Environment != "staging" || cfg.Port != "9090" {
		t.Errorf("env not honored: %q %q", cfg.Environment, cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.edu" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RequestDeadline.Seconds() != 10 {
		t.Errorf("RequestDeadline = %v", cfg.RequestDeadline)
	}
	if cfg.CacheSalt != "institution-salt" {
		t.Errorf("CacheSalt = %q", cfg.CacheSalt)
	}
	if cfg.CacheEnabled {
		t.Error("LLM_CACHE_ENABLED=false should disable the cache")
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %v, want 2m from LLM_CACHE_TTL_SECONDS", cfg.CacheTTL)
	}
}

func TestLoadPolicyDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := "max_ai_assistance_level: 0.6\nblock_complete_solutions: false\nmax_ai_dependency: 0.5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg := &Config{PolicyFile: path}
	policy, err := cfg.LoadPolicyDefaults()
	if err != nil {
		t.Fatalf("LoadPolicyDefaults: %v", err)
	}
	if policy.MaxAIAssistanceLevel != 0.6 || policy.BlockCompleteSolutions || policy.MaxAIDependency != 0.5 {
		t.Errorf("policy = %+v", policy)
	}
	// Fields absent from the file keep their defaults.
	if !policy.AllowCodeSnippets {
		t.Error("allow_code_snippets default lost")
	}
}

func TestLoadPolicyDefaultsRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("max_ai_assistance_level: 1.5\n"), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg := &Config{PolicyFile: path}
	if _, err := cfg.LoadPolicyDefaults(); err == nil {
		t.Error("out-of-range assistance level accepted")
	}
}

func TestLoadPolicyDefaultsWithoutFile(t *testing.T) {
	cfg := &Config{}
	policy, err := cfg.LoadPolicyDefaults()
	if err != nil {
		t.Fatalf("LoadPolicyDefaults: %v", err)
	}
	if !reflect.DeepEqual(policy, DefaultPolicy()) {
		t.Errorf("policy = %+v, want built-in defaults", policy)
	}
}
