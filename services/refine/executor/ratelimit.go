// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Executor with a token-bucket request limiter.
//
// Thread Safety:
//
//	RateLimited is safe for concurrent use; the limiter serializes
//	admission, the inner executor handles the calls.
type RateLimited struct {
	inner   Executor
	limiter *rate.Limiter
}

// NewRateLimited wraps inner, admitting at most rps requests per second
// with the given burst. rps <= 0 disables limiting.
func NewRateLimited(inner Executor, rps float64, burst int) *RateLimited {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimited{inner: inner, limiter: limiter}
}

// Run waits for limiter admission, then delegates.
func (r *RateLimited) Run(ctx context.Context, request *Request) (*Response, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return r.inner.Run(ctx, request)
}

// Name implements Executor.
func (r *RateLimited) Name() string {
	return r.inner.Name()
}

// Model implements Executor.
func (r *RateLimited) Model() string {
	return r.inner.Model()
}
