// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides bounded retry with exponential backoff.
//
// The caller supplies a classifier deciding which errors are worth
// retrying. Everything else is returned on the first attempt, so
// business failures (stale version, duplicate id, not found) are never
// amplified by the retry loop. The delay doubles after each failed
// attempt.
package retry

import (
	"context"
	"time"
)

// Config controls the retry loop.
type Config struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	Attempts int

	// InitialDelay is the sleep before the second attempt; it doubles
	// after every failure.
	InitialDelay time.Duration
}

// DefaultConfig matches the mutation engine contract: 5 attempts,
// 50ms initial delay.
func DefaultConfig() Config {
	return Config{Attempts: 5, InitialDelay: 50 * time.Millisecond}
}

// Do executes fn up to cfg.Attempts times. Only errors for which
// retryable returns true trigger another attempt; other errors are
// returned immediately. Returns the last error if all attempts fail,
// or ctx.Err() if the context is cancelled while waiting.
//
// onRetry, if non-nil, is invoked before each re-attempt with the
// attempt number just failed (1-based) and its error. Callers use it
// for logging and metrics.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, onRetry func(attempt int, err error), fn func() error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable == nil || !retryable(err) {
			return err
		}
		if i == attempts {
			break
		}
		if onRetry != nil {
			onRetry(i, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return lastErr
}
