// Copyright 2021 FerretDB Inc.
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

package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Default configuration values.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
)

// Jitter bounds.
const (
	minJitter = 0.85
	maxJitter = 1.15
)

// Config represents retry configuration.
//
// Zero values are replaced with defaults.
//
//nolint:vet // for readability
type Config struct {
	// MaxRetries is the number of retries after the first attempt; DefaultMaxRetries if zero.
	// Negative value disables retries.
	MaxRetries int

	// BaseDelay is the delay before the first retry; DefaultBaseDelay if zero.
	BaseDelay time.Duration

	// MaxDelay caps computed delays; no cap if nil.
	MaxDelay *time.Duration

	// DisableJitter makes delays deterministic.
	DisableJitter bool
}

// maxRetries returns the effective number of retries.
func (c *Config) maxRetries() int {
	switch {
	case c.MaxRetries == 0:
		return DefaultMaxRetries
	case c.MaxRetries < 0:
		return 0
	default:
		return c.MaxRetries
	}
}

// Strategy computes exponential backoff delays with multiplicative jitter.
//
// It keeps no attempt state and is safe for concurrent use.
type Strategy struct {
	base          time.Duration
	maxDelay      time.Duration // 0 means no cap
	disableJitter bool

	rw  sync.Mutex
	rng *rand.Rand
}

// NewStrategy creates a new strategy for the given configuration.
func NewStrategy(c *Config) *Strategy {
	base := c.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	var maxDelay time.Duration
	if c.MaxDelay != nil && *c.MaxDelay > 0 {
		maxDelay = *c.MaxDelay
	}

	seed := uint64(time.Now().UnixNano())

	return &Strategy{
		base:          base,
		maxDelay:      maxDelay,
		disableJitter: c.DisableJitter,
		rng:           rand.New(rand.NewPCG(seed, seed)),
	}
}

// CalculateDelay returns the delay before the retry following the given zero-based attempt:
// base * 2^attempt, scaled by a random factor in [0.85, 1.15] and capped by the maximum delay.
func (s *Strategy) CalculateDelay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 62)

	multiplier := int64(1) << attempt
	if int64(s.base) > math.MaxInt64/multiplier {
		if s.maxDelay > 0 {
			return s.maxDelay
		}

		return math.MaxInt64
	}

	delay := s.base * time.Duration(multiplier)

	if !s.disableJitter {
		s.rw.Lock()
		factor := minJitter + (maxJitter-minJitter)*s.rng.Float64()
		s.rw.Unlock()

		if f := float64(delay) * factor; f >= math.MaxInt64 {
			delay = math.MaxInt64
		} else {
			delay = time.Duration(f)
		}
	}

	if s.maxDelay > 0 && delay > s.maxDelay {
		delay = s.maxDelay
	}

	return delay
}
