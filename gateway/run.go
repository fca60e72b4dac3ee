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

// Package gateway is the AI-mediated pedagogical gateway: it sits between
// students and LLM providers during programming-education sessions,
// classifying each prompt, enforcing institutional policy, dispatching a
// tutoring strategy, recording an immutable cognitive trace, and
// detecting over-reliance risks.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"tutorgate/platform/gateway/llm"
	"tutorgate/platform/gateway/llm/anthropic"
	"tutorgate/platform/gateway/llm/bedrock"
	"tutorgate/platform/gateway/tutor"
	"tutorgate/platform/shared/logger"
)

// Run boots the gateway: validate config, compose components, serve until
// SIGINT/SIGTERM, then drain. It returns a non-nil error on startup
// failure; callers turn that into a non-zero exit code.
func Run() error {
	log := logger.New("gateway")
	cfg := LoadConfig()

	if err := cfg.Validate(); err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		log.Warn("", "", "configuration warning (fatal in production)", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if cfg.IsProduction() && cfg.Debug {
		return fmt.Errorf("DEBUG must be false in production")
	}

	policy, err := cfg.LoadPolicyDefaults()
	if err != nil {
		return fmt.Errorf("policy defaults: %w", err)
	}

	components, err := initializeComponents(cfg, policy, log)
	if err != nil {
		return err
	}
	defer components.close()

	sweepStop := make(chan struct{})
	defer close(sweepStop)
	go sweepIdleSessions(components.store, cfg.SessionTimeout, log, sweepStop)

	startedAt := time.Now()
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"environment": cfg.Environment,
			"provider":    cfg.LLMProvider,
			"time":        time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")
	router.HandleFunc("/metrics", metricsJSONHandler(startedAt)).Methods("GET") // JSON metrics (legacy)
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")            // Prometheus native format

	api := router.PathPrefix("/").Subrouter()
	api.Use(components.auth.Middleware)
	api.Use(components.limiter.Middleware)
	components.handlers.RegisterRoutes(api)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestDeadline + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "gateway listening", map[string]interface{}{
			"port":        cfg.Port,
			"environment": cfg.Environment,
			"provider":    cfg.LLMProvider,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info("", "", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("", "", "gateway stopped cleanly", nil)
	return nil
}

// sweepIdleSessions periodically aborts sessions idle past the timeout,
// so abandoned sessions do not stay active forever. Runs until stop
// closes.
func sweepIdleSessions(store Store, timeout time.Duration, log *logger.Logger, stop <-chan struct{}) {
	if timeout <= 0 {
		return
	}
	interval := timeout / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			aborted, err := store.AbortIdleSessions(ctx, time.Now().Add(-timeout))
			cancel()
			if err != nil {
				log.Warn("", "", "idle session sweep failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if aborted > 0 {
				promActiveSessions.Sub(float64(aborted))
				log.Info("", "", "aborted idle sessions", map[string]interface{}{"count": aborted})
			}
		}
	}
}

// components is everything Run composes and must tear down.
type components struct {
	store      Store
	training   TrainingStore
	compliance *ComplianceLog
	handlers   *Handlers
	auth       *Authenticator
	limiter    *SubjectRateLimiter
	log        *logger.Logger
}

func (c *components) close() {
	if c.compliance != nil {
		c.compliance.Close()
	}
	if c.training != nil {
		c.training.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// initializeComponents builds every service explicitly; there is no
// lazy init on first use.
func initializeComponents(cfg *Config, policy Policy, log *logger.Logger) (*components, error) {
	var store Store
	var compliance *ComplianceLog
	if cfg.DatabaseURL != "" {
		pg, err := NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		store = pg
		compliance, err = NewComplianceLog(pg.DB())
		if err != nil {
			return nil, fmt.Errorf("compliance log: %w", err)
		}
		log.Info("", "", "using postgres store", nil)
	} else {
		store = NewMemoryStore()
		compliance, _ = NewComplianceLog(nil)
		log.Warn("", "", "DATABASE_URL unset, using in-memory store", nil)
	}

	var training TrainingStore
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rts, err := NewRedisTrainingStore(ctx, cfg.RedisURL, cfg.TrainingCacheTTL)
		cancel()
		if err != nil {
			log.Warn("", "", "redis unavailable, using in-memory training store",
				map[string]interface{}{"error": err.Error()})
			training = NewMemoryTrainingStore(DefaultTrainingCap, cfg.TrainingCacheTTL)
		} else {
			training = rts
		}
	} else {
		training = NewMemoryTrainingStore(DefaultTrainingCap, cfg.TrainingCacheTTL)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	var cache *llm.SemanticCache
	if cfg.CacheEnabled {
		cache = llm.NewSemanticCache(llm.CacheConfig{
			Salt:       cfg.CacheSalt,
			TTL:        cfg.CacheTTL,
			MaxEntries: cfg.CacheMaxEntries,
			OnLookup:   observeCacheLookup,
		})
	} else {
		log.Info("", "", "semantic cache disabled", nil)
	}
	client := llm.NewClient(llm.ClientConfig{
		Provider:      provider,
		Cache:         cache,
		MaxConcurrent: cfg.LLMMaxConcurrent,
		RatePerSecond: cfg.LLMRatePerSecond,
	})

	pipeline := NewPipeline(PipelineConfig{
		Store:      store,
		Classifier: NewClassifier(),
		Governance: NewGovernanceFilter(NewPIIDetector()),
		Dispatcher: tutor.NewDispatcher(client, log),
		Analyzer:   NewRiskAnalyzer(DefaultRiskWindow),
		Compliance: compliance,
		Training:   training,
		Deadline:   cfg.RequestDeadline,
	})

	return &components{
		store:      store,
		training:   training,
		compliance: compliance,
		handlers:   NewHandlers(pipeline, store, policy),
		auth:       NewAuthenticator(cfg.JWTSecret),
		limiter:    NewSubjectRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerHour),
		log:        log,
	}, nil
}

// buildProvider selects the configured LLM adapter through the registry.
func buildProvider(cfg *Config) (llm.Provider, error) {
	registry := llm.NewRegistry()
	registry.RegisterFactory(llm.ProviderTypeMock, llm.NewMockFactory())
	registry.RegisterFactory(llm.ProviderTypeAnthropic, anthropic.NewFactory())
	registry.RegisterFactory(llm.ProviderTypeBedrock, bedrock.NewFactory())

	return registry.Create(llm.ProviderConfig{
		Name:    cfg.LLMProvider,
		Type:    llm.ProviderType(cfg.LLMProvider),
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Region:  cfg.BedrockRegion,
		BaseURL: cfg.LLMBaseURL,
	})
}
