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
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// TrainingState is the ephemeral per-session exercise state used by
// training mode. It lives outside the relational store: losing it costs a
// student a restart of the current exercise, nothing more.
type TrainingState struct {
	SessionID       string    `json:"session_id"`
	ExerciseID      string    `json:"exercise_id"`
	Step            int       `json:"step"`
	HintsUsed       int       `json:"hints_used"`
	Attempts        int       `json:"attempts"`
	LastInteraction time.Time `json:"last_interaction"`
}

// TrainingStore keeps training-mode state with a TTL and a bounded entry
// count. Redis is preferred when configured; the in-memory LRU is the
// fallback and the test double.
type TrainingStore interface {
	Put(ctx context.Context, state *TrainingState) error
	Get(ctx context.Context, sessionID string) (*TrainingState, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

const (
	// DefaultTrainingTTL expires abandoned training sessions.
	DefaultTrainingTTL = 24 * time.Hour
	// DefaultTrainingCap bounds the in-memory store.
	DefaultTrainingCap = 1000

	trainingKeyPrefix = "training:session:"
)

// RedisTrainingStore backs TrainingStore with Redis.
type RedisTrainingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTrainingStore connects to redisURL and verifies the connection.
func NewRedisTrainingStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisTrainingStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTrainingTTL
	}
	return &RedisTrainingStore{client: client, ttl: ttl}, nil
}

// NewRedisTrainingStoreWithClient wraps an existing client (miniredis tests).
func NewRedisTrainingStoreWithClient(client *redis.Client, ttl time.Duration) *RedisTrainingStore {
	if ttl <= 0 {
		ttl = DefaultTrainingTTL
	}
	return &RedisTrainingStore{client: client, ttl: ttl}
}

// Put implements TrainingStore.
func (s *RedisTrainingStore) Put(ctx context.Context, state *TrainingState) error {
	state.LastInteraction = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return WrapError(ErrInternal, "marshal training state", err)
	}
	if err := s.client.Set(ctx, trainingKeyPrefix+state.SessionID, data, s.ttl).Err(); err != nil {
		return WrapError(ErrUnavailable, "write training state", err)
	}
	return nil
}

// Get implements TrainingStore.
func (s *RedisTrainingStore) Get(ctx context.Context, sessionID string) (*TrainingState, error) {
	data, err := s.client.Get(ctx, trainingKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, NewError(ErrNotFound, fmt.Sprintf("no training state for session %s", sessionID))
	}
	if err != nil {
		return nil, WrapError(ErrUnavailable, "read training state", err)
	}
	var state TrainingState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, WrapError(ErrInternal, "decode training state", err)
	}
	return &state, nil
}

// Delete implements TrainingStore.
func (s *RedisTrainingStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, trainingKeyPrefix+sessionID).Err(); err != nil {
		return WrapError(ErrUnavailable, "delete training state", err)
	}
	return nil
}

// Close implements TrainingStore.
func (s *RedisTrainingStore) Close() error { return s.client.Close() }

// MemoryTrainingStore is the bounded in-memory fallback: TTL expiry plus
// LRU eviction when the cap is reached. A single lock guards the map and
// the recency list; entries are small and operations are O(1).
type MemoryTrainingStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	recency *list.List
	cap     int
	ttl     time.Duration
}

type trainingEntry struct {
	sessionID string
	state     TrainingState
	expiresAt time.Time
}

// NewMemoryTrainingStore creates the fallback store.
func NewMemoryTrainingStore(capacity int, ttl time.Duration) *MemoryTrainingStore {
	if capacity <= 0 {
		capacity = DefaultTrainingCap
	}
	if ttl <= 0 {
		ttl = DefaultTrainingTTL
	}
	return &MemoryTrainingStore{
		entries: make(map[string]*list.Element),
		recency: list.New(),
		cap:     capacity,
		ttl:     ttl,
	}
}

// Put implements TrainingStore.
func (s *MemoryTrainingStore) Put(ctx context.Context, state *TrainingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.LastInteraction = time.Now().UTC()
	if elem, ok := s.entries[state.SessionID]; ok {
		entry := elem.Value.(*trainingEntry)
		entry.state = *state
		entry.expiresAt = time.Now().Add(s.ttl)
		s.recency.MoveToFront(elem)
		return nil
	}

	for len(s.entries) >= s.cap {
		oldest := s.recency.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
	}

	elem := s.recency.PushFront(&trainingEntry{
		sessionID: state.SessionID,
		state:     *state,
		expiresAt: time.Now().Add(s.ttl),
	})
	s.entries[state.SessionID] = elem
	return nil
}

// Get implements TrainingStore.
func (s *MemoryTrainingStore) Get(ctx context.Context, sessionID string) (*TrainingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[sessionID]
	if !ok {
		return nil, NewError(ErrNotFound, fmt.Sprintf("no training state for session %s", sessionID))
	}
	entry := elem.Value.(*trainingEntry)
	if time.Now().After(entry.expiresAt) {
		s.removeLocked(elem)
		return nil, NewError(ErrNotFound, fmt.Sprintf("no training state for session %s", sessionID))
	}
	s.recency.MoveToFront(elem)
	state := entry.state
	return &state, nil
}

// Delete implements TrainingStore.
func (s *MemoryTrainingStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[sessionID]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// Close implements TrainingStore.
func (s *MemoryTrainingStore) Close() error { return nil }

// Len reports the live entry count (after purging nothing; expiry is lazy).
func (s *MemoryTrainingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryTrainingStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*trainingEntry)
	delete(s.entries, entry.sessionID)
	s.recency.Remove(elem)
}
