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
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

const (
	// EnvOpenAIKey names the API key environment variable.
	EnvOpenAIKey = "OPENAI_API_KEY"

	// EnvOpenAIBaseURL overrides the API base URL. Any OpenAI-compatible
	// endpoint works here (Groq, vLLM, llama.cpp server).
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"

	// openAIKeySecretPath is the container secret fallback location.
	openAIKeySecretPath = "/run/secrets/openai_api_key"

	// defaultOpenAIModel is used when no model is configured.
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAI executes reasoning calls against an OpenAI-compatible chat API.
//
// Description:
//
//	The API key is sealed in a memguard enclave at construction and only
//	decrypted for the duration of each request, so it never sits in plain
//	long-lived memory. The HTTP transport is shared across calls.
//
// Thread Safety:
//
//	OpenAI is safe for concurrent use.
type OpenAI struct {
	key        *memguard.Enclave
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAI creates an executor for the given default model.
//
// Description:
//
//	The API key comes from the OPENAI_API_KEY environment variable, or
//	from the container secret file when the variable is unset. The key
//	material is sealed immediately; the source buffers are wiped.
//	OPENAI_BASE_URL, when set, points requests at any OpenAI-compatible
//	endpoint instead of api.openai.com.
//
// Inputs:
//
//	model - Default model id. Empty falls back to OPENAI_MODEL, then gpt-4o-mini.
//	logger - Logger for request events. If nil, uses slog.Default().
//
// Outputs:
//
//	*OpenAI - The configured executor.
//	error - Non-nil when no API key can be found.
func NewOpenAI(model string, logger *slog.Logger) (*OpenAI, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keyBytes := []byte(os.Getenv(EnvOpenAIKey))
	if len(keyBytes) == 0 {
		raw, err := os.ReadFile(openAIKeySecretPath)
		if err != nil {
			return nil, fmt.Errorf("%s not set and secret %s unreadable: %w",
				EnvOpenAIKey, openAIKeySecretPath, err)
		}
		keyBytes = []byte(strings.TrimSpace(string(raw)))
		logger.Info("read OpenAI API key from container secret")
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("%s is empty", EnvOpenAIKey)
	}

	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = defaultOpenAIModel
		logger.Warn("no model configured, using default", slog.String("model", model))
	}

	// NewEnclave wipes keyBytes after sealing.
	return &OpenAI{
		key:        memguard.NewEnclave(keyBytes),
		model:      model,
		baseURL:    os.Getenv(EnvOpenAIBaseURL),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}, nil
}

// Run implements Executor.
func (o *OpenAI) Run(ctx context.Context, request *Request) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("nil context")
	}
	if request == nil {
		return nil, fmt.Errorf("nil request")
	}

	model := request.ModelID
	if model == "" {
		model = o.model
	}

	keyBuf, err := o.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open API key enclave: %w", err)
	}
	defer keyBuf.Destroy()

	cfg := openai.DefaultConfig(keyBuf.String())
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = o.httpClient
	client := openai.NewClientWithConfig(cfg)

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: request.Prompt},
		},
	}
	if request.Temperature > 0 {
		req.Temperature = float32(request.Temperature)
	}
	if request.MaxTokens > 0 {
		req.MaxCompletionTokens = request.MaxTokens
	}

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error("chat completion failed",
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	duration := time.Since(start)
	o.logger.Debug("chat completion",
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", duration),
	)

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		ModelID:      resp.Model,
		TokensUsed:   resp.Usage.TotalTokens,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     duration,
	}, nil
}

// Name implements Executor.
func (o *OpenAI) Name() string {
	return "openai"
}

// Model implements Executor.
func (o *OpenAI) Model() string {
	return o.model
}
