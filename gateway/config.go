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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's process configuration, loaded from environment
// variables. In production, Validate refuses to start on insecure values
// rather than falling back to defaults.
type Config struct {
	Environment string
	Port        string
	Debug       bool

	DatabaseURL string
	RedisURL    string

	JWTSecret      string
	AllowedOrigins []string

	LLMProvider      string
	LLMAPIKey        string
	LLMModel         string
	LLMBaseURL       string
	BedrockRegion    string
	LLMMaxConcurrent int
	LLMRatePerSecond float64

	CacheSalt       string
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int

	RateLimitPerMinute int
	RateLimitPerHour   int

	SessionTimeout   time.Duration
	RequestDeadline  time.Duration
	TrainingCacheTTL time.Duration

	PolicyFile string
}

// LoadConfig reads configuration from the environment with development
// defaults. Validation is separate so tests can build invalid configs.
func LoadConfig() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		Debug:       getEnvBool("DEBUG", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:      getEnv("JWT_SECRET_KEY", ""),
		AllowedOrigins: splitAndTrim(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		LLMProvider:      getEnv("LLM_PROVIDER", "mock"),
		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", ""),
		LLMBaseURL:       getEnv("LLM_BASE_URL", ""),
		BedrockRegion:    getEnv("BEDROCK_REGION", "us-east-1"),
		LLMMaxConcurrent: getEnvInt("LLM_MAX_CONCURRENT", 8),
		LLMRatePerSecond: getEnvFloat("LLM_RATE_LIMIT_PER_SECOND", 0),

		CacheSalt:       getEnv("CACHE_SALT", ""),
		CacheEnabled:    getEnvBool("LLM_CACHE_ENABLED", true),
		CacheTTL:        time.Duration(getEnvInt("LLM_CACHE_TTL_SECONDS", 3600)) * time.Second,
		CacheMaxEntries: getEnvInt("LLM_CACHE_MAX_ENTRIES", 10000),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitPerHour:   getEnvInt("RATE_LIMIT_PER_HOUR", 300),

		SessionTimeout:   getEnvDuration("SESSION_TIMEOUT", 2*time.Hour),
		RequestDeadline:  getEnvDuration("REQUEST_DEADLINE", 30*time.Second),
		TrainingCacheTTL: getEnvDuration("TRAINING_CACHE_TTL", 24*time.Hour),

		PolicyFile: getEnv("POLICY_FILE", ""),
	}
}

// IsProduction reports whether the gateway runs with production hardening.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the configuration. In production it is fatal to run with
// a missing JWT secret, a weak secret, a missing cache salt, or localhost
// CORS origins.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET_KEY is required in production")
		}
	} else if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters, got %d", len(c.JWTSecret))
	}

	if c.IsProduction() {
		if c.CacheSalt == "" {
			return fmt.Errorf("CACHE_SALT is required in production")
		}
		for _, origin := range c.AllowedOrigins {
			if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
				return fmt.Errorf("ALLOWED_ORIGINS must not include localhost in production: %s", origin)
			}
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}

	switch c.LLMProvider {
	case "mock", "anthropic", "bedrock":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (mock, anthropic, bedrock)", c.LLMProvider)
	}
	if c.LLMProvider == "anthropic" && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required for the anthropic provider")
	}

	if c.RateLimitPerMinute <= 0 || c.RateLimitPerHour <= 0 {
		return fmt.Errorf("rate limits must be positive (minute=%d hour=%d)",
			c.RateLimitPerMinute, c.RateLimitPerHour)
	}
	if c.RateLimitPerHour < c.RateLimitPerMinute {
		return fmt.Errorf("RATE_LIMIT_PER_HOUR (%d) must be >= RATE_LIMIT_PER_MINUTE (%d)",
			c.RateLimitPerHour, c.RateLimitPerMinute)
	}

	return nil
}

// LoadPolicyDefaults reads the institutional policy baseline from the
// configured YAML file, falling back to the built-in defaults when no
// file is configured.
func (c *Config) LoadPolicyDefaults() (Policy, error) {
	policy := DefaultPolicy()
	if c.PolicyFile == "" {
		return policy, nil
	}

	data, err := os.ReadFile(c.PolicyFile)
	if err != nil {
		return policy, fmt.Errorf("read policy file %s: %w", c.PolicyFile, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy file %s: %w", c.PolicyFile, err)
	}
	if policy.MaxAIAssistanceLevel < 0 || policy.MaxAIAssistanceLevel > 1 {
		return policy, fmt.Errorf("max_ai_assistance_level must be in [0,1], got %v", policy.MaxAIAssistanceLevel)
	}
	if policy.MaxAIDependency < 0 || policy.MaxAIDependency > 1 {
		return policy, fmt.Errorf("max_ai_dependency must be in [0,1], got %v", policy.MaxAIDependency)
	}
	return policy, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
