// Copyright (c) 2026 Dor Amit
//
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

// Package registry enforces single-flight per identity: at most one
// authenticated portal session may be in flight for an identity at a
// time, across every process sharing the Redis instance. A second
// concurrent login risks the portal treating it as session-stealing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix namespaces in-flight locks in Redis.
	keyPrefix = "reportd:inflight:"

	// DefaultTTL bounds how long an abandoned lock can block new runs.
	// An OTP round trip is human-timescale; a session older than this is
	// dead.
	DefaultTTL = 15 * time.Minute
)

// ErrInFlight signals that a session is already open for the identity.
var ErrInFlight = errors.New("a session is already in flight for this identity")

// Registry tracks in-flight identities. Local state covers this process;
// the Redis SETNX lock extends the guarantee across processes. A nil
// Redis client degrades to process-local locking.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a registry. rdb may be nil for single-process deployments.
func New(rdb *redis.Client) *Registry {
	return &Registry{
		rdb:      rdb,
		ttl:      DefaultTTL,
		inFlight: make(map[string]struct{}),
	}
}

// Acquire claims the identity for a new run. Returns ErrInFlight when a
// run is already open locally or in another process.
func (r *Registry) Acquire(ctx context.Context, identity string) error {
	r.mu.Lock()
	if _, ok := r.inFlight[identity]; ok {
		r.mu.Unlock()
		return ErrInFlight
	}
	r.inFlight[identity] = struct{}{}
	r.mu.Unlock()

	if r.rdb == nil {
		return nil
	}

	set, err := r.rdb.SetNX(ctx, keyPrefix+identity, 1, r.ttl).Result()
	if err != nil {
		r.forget(identity)
		return fmt.Errorf("in-flight SETNX: %w", err)
	}
	if !set {
		r.forget(identity)
		return ErrInFlight
	}
	return nil
}

// Release frees the identity for future runs. Safe to call after a
// failed Acquire; releasing an unclaimed identity is a no-op.
func (r *Registry) Release(ctx context.Context, identity string) {
	r.forget(identity)
	if r.rdb != nil {
		// TTL is the backstop if the DEL fails.
		r.rdb.Del(ctx, keyPrefix+identity)
	}
}

func (r *Registry) forget(identity string) {
	r.mu.Lock()
	delete(r.inFlight, identity)
	r.mu.Unlock()
}

// Ping checks the Redis connection.
func (r *Registry) Ping(ctx context.Context) error {
	if r.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}
