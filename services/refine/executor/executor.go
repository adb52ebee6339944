// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor defines the reasoning-executor contract the refinement
// engine calls into, plus the default adapters (OpenAI-compatible chat,
// rate limiting, closures for tests).
//
// The engine never talks to a provider directly. It hands an Executor a
// prompt and reads back content and token counts; everything else
// (retries, transport, auth) lives behind this interface.
package executor

import (
	"context"
	"time"
)

// Request is one reasoning call.
type Request struct {
	// Prompt is the full prompt text.
	Prompt string `json:"prompt"`

	// ModelID selects the model. Empty string means the executor's default.
	ModelID string `json:"model_id,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Response is the executor's answer to one Request.
type Response struct {
	// Content is the text response.
	Content string `json:"content"`

	// ModelID is the model that produced the response.
	ModelID string `json:"model_id,omitempty"`

	// TokensUsed is the total tokens consumed (input + output).
	// Zero when the provider did not report usage.
	TokensUsed int `json:"tokens_used"`

	// InputTokens is the input token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the output token count.
	OutputTokens int `json:"output_tokens"`

	// Duration is how long the request took.
	Duration time.Duration `json:"duration"`
}

// Executor runs reasoning calls for the refinement engine.
//
// Implementations must be safe for concurrent use.
type Executor interface {
	// Run sends a prompt and returns the response.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   request - The reasoning request
	//
	// Outputs:
	//   *Response - The response
	//   error - Non-nil if the request failed
	Run(ctx context.Context, request *Request) (*Response, error)

	// Name returns the provider name (e.g. "openai", "mock").
	Name() string

	// Model returns the default model id.
	Model() string
}

// Func adapts a closure into an Executor for tests and wiring.
type Func struct {
	// RunFunc handles each request. Must not be nil.
	RunFunc func(ctx context.Context, request *Request) (*Response, error)

	// ProviderName reported by Name. Defaults to "func".
	ProviderName string

	// ModelID reported by Model.
	ModelID string
}

// Run implements Executor.
func (f *Func) Run(ctx context.Context, request *Request) (*Response, error) {
	return f.RunFunc(ctx, request)
}

// Name implements Executor.
func (f *Func) Name() string {
	if f.ProviderName == "" {
		return "func"
	}
	return f.ProviderName
}

// Model implements Executor.
func (f *Func) Model() string {
	return f.ModelID
}
