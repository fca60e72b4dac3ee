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
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	promInteractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgate_interactions_total",
			Help: "Interactions processed, by outcome",
		},
		[]string{"outcome"}, // ok, blocked, error
	)
	promInteractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorgate_interaction_duration_seconds",
			Help:    "End-to-end pipeline latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	promBlockedInteractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgate_blocked_interactions_total",
			Help: "Interactions blocked by the governance filter, by reason",
		},
		[]string{"reason"},
	)
	promLLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgate_llm_calls_total",
			Help: "LLM port calls, by provider and result",
		},
		[]string{"provider", "result"}, // ok, error, fallback
	)
	promCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgate_llm_cache_total",
			Help: "Semantic cache lookups, by result",
		},
		[]string{"result"}, // hit, miss
	)
	promRisksDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgate_risks_detected_total",
			Help: "Risks detected, by dimension and level",
		},
		[]string{"dimension", "level"},
	)
	promPIIRedactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgate_pii_redactions_total",
			Help: "PII substitutions applied before LLM egress, by category",
		},
		[]string{"category"},
	)
	promActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorgate_active_sessions",
			Help: "Sessions currently active",
		},
	)
)

// observeCacheLookup feeds semantic-cache lookup outcomes into the
// cache metric family.
func observeCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	promCacheHits.WithLabelValues(result).Inc()
}

// metricsJSONHandler serves the simplified JSON metrics view at /metrics;
// the native Prometheus exposition lives at /prometheus. Totals sum each
// gateway metric family across its label combinations.
func metricsJSONHandler(startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			writeError(w, WrapError(ErrInternal, "gather metrics", err))
			return
		}

		totals := make(map[string]float64)
		for _, mf := range families {
			name := mf.GetName()
			if !strings.HasPrefix(name, "tutorgate_") {
				continue
			}
			var sum float64
			for _, m := range mf.GetMetric() {
				switch {
				case m.GetCounter() != nil:
					sum += m.GetCounter().GetValue()
				case m.GetGauge() != nil:
					sum += m.GetGauge().GetValue()
				case m.GetHistogram() != nil:
					sum += float64(m.GetHistogram().GetSampleCount())
				}
			}
			totals[strings.TrimPrefix(name, "tutorgate_")] = sum
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
			"totals":         totals,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func init() {
	prometheus.MustRegister(promInteractionsTotal)
	prometheus.MustRegister(promInteractionDuration)
	prometheus.MustRegister(promBlockedInteractions)
	prometheus.MustRegister(promLLMCalls)
	prometheus.MustRegister(promCacheHits)
	prometheus.MustRegister(promRisksDetected)
	prometheus.MustRegister(promPIIRedactions)
	prometheus.MustRegister(promActiveSessions)
}
