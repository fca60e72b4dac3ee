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

// Package main is the entry point for the TutorGate gateway service.
//
// The gateway sits between students and LLM providers during
// programming-education sessions:
// - Classifies each student prompt (cognitive state, delegation level)
// - Enforces institutional policy (PII redaction, delegation blocking)
// - Dispatches a tutoring strategy with LLM generation and template fallback
// - Records an immutable four-level cognitive trace per session
// - Detects over-reliance risks across five dimensions
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - training-state cache (optional)
//	LLM_PROVIDER - mock | anthropic | bedrock (default: mock)
//	LLM_API_KEY - provider API key (anthropic)
//	CACHE_SALT - institution-unique cache salt (required in production)
//	JWT_SECRET_KEY - bearer-token signing secret (>= 32 chars)
package main

import (
	"fmt"
	"os"

	"tutorgate/platform/gateway"
)

func main() {
	if err := gateway.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}
