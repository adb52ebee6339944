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
	"sync"
	"time"
)

// Mock is a scriptable executor for tests.
//
// Thread Safety:
//
//	Mock is safe for concurrent use.
type Mock struct {
	mu sync.RWMutex

	name  string
	model string

	// responses are queued responses, consumed in order.
	responses []*Response

	// defaultResponse is returned when the queue is empty.
	defaultResponse *Response

	// responseFunc, when set, overrides the queue entirely.
	responseFunc func(*Request) (*Response, error)

	// errorToReturn causes Run to fail.
	errorToReturn error

	calls []*Request
}

// NewMock creates a mock executor with a canned default response.
func NewMock() *Mock {
	return &Mock{
		name:  "mock",
		model: "mock-model",
		defaultResponse: &Response{
			Content:      "Mock response",
			TokensUsed:   100,
			InputTokens:  50,
			OutputTokens: 50,
		},
	}
}

// WithModel sets the model name.
func (m *Mock) WithModel(model string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	return m
}

// WithError configures Run to return err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorToReturn = err
	return m
}

// WithResponseFunc sets a dynamic response function.
func (m *Mock) WithResponseFunc(f func(*Request) (*Response, error)) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseFunc = f
	return m
}

// QueueResponse adds a response to the queue.
func (m *Mock) QueueResponse(response *Response) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
	return m
}

// QueueContent queues a plain text response with estimated token counts.
func (m *Mock) QueueContent(content string) *Mock {
	return m.QueueResponse(&Response{
		Content:      content,
		TokensUsed:   100 + len(content)/4,
		InputTokens:  100,
		OutputTokens: len(content) / 4,
	})
}

// Run implements Executor.
func (m *Mock) Run(ctx context.Context, request *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, request)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.errorToReturn != nil {
		return nil, m.errorToReturn
	}
	if m.responseFunc != nil {
		return m.responseFunc(request)
	}

	if len(m.responses) > 0 {
		response := m.responses[0]
		m.responses = m.responses[1:]
		if response.ModelID == "" {
			response.ModelID = m.model
		}
		return response, nil
	}

	response := *m.defaultResponse
	response.ModelID = m.model
	response.Duration = time.Millisecond
	return &response, nil
}

// Name implements Executor.
func (m *Mock) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Model implements Executor.
func (m *Mock) Model() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// CallCount returns the number of Run calls made.
func (m *Mock) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// LastRequest returns the most recent request, or nil.
func (m *Mock) LastRequest() *Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Requests returns a copy of all recorded requests.
func (m *Mock) Requests() []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]*Request, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Verify errors if queued responses were left unconsumed.
func (m *Mock) Verify() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.responses) > 0 {
		return fmt.Errorf("mock: %d queued responses not consumed", len(m.responses))
	}
	return nil
}
