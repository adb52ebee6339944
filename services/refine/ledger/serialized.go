// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import "sync"

// SessionLedger is the consumption surface operators and scopes use.
// CostLedger implements it for single-goroutine loops; Serialized
// implements it for shared use.
type SessionLedger interface {
	TrackUsage(prompt, response, modelID string, opts ...TrackOption) (int, float64)
	RequestApproval(description, prompt, modelID string) bool
	SessionConsumption() (int, float64)
	ProviderBreakdown() map[Provider]ProviderStats
	Pricing() *PriceTable
	Summary() string
}

var (
	_ SessionLedger = (*CostLedger)(nil)
	_ SessionLedger = (*Serialized)(nil)
)

// Serialized wraps a CostLedger in a mutex so concurrent operations can
// draw from one session budget.
//
// Thread Safety: Safe for concurrent use. Every call holds the mutex
// for its full duration, so approval checks and consumption updates do
// not interleave.
type Serialized struct {
	mu sync.Mutex
	l  *CostLedger
}

// NewSerialized wraps a ledger for shared use. The caller must stop
// using the inner ledger directly.
func NewSerialized(l *CostLedger) *Serialized {
	return &Serialized{l: l}
}

// TrackUsage records a completed call. See CostLedger.TrackUsage.
func (s *Serialized) TrackUsage(prompt, response, modelID string, opts ...TrackOption) (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.TrackUsage(prompt, response, modelID, opts...)
}

// RequestApproval decides whether an operation may spend budget. See
// CostLedger.RequestApproval.
func (s *Serialized) RequestApproval(description, prompt, modelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.RequestApproval(description, prompt, modelID)
}

// SessionConsumption returns total tokens and dollars consumed.
func (s *Serialized) SessionConsumption() (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.SessionConsumption()
}

// ProviderBreakdown returns a copy of the per-provider usage stats.
func (s *Serialized) ProviderBreakdown() map[Provider]ProviderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.ProviderBreakdown()
}

// Pricing returns the inner ledger's price table. The table itself is
// immutable; the lock guards the pointer against SetPricing swaps.
func (s *Serialized) Pricing() *PriceTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.pricing
}

// SetPricing swaps the price table used for future calls. Wired to
// pricing hot reloads on long-running servers.
func (s *Serialized) SetPricing(t *PriceTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.SetPricing(t)
}

// Summary renders a human-readable usage report.
func (s *Serialized) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.Summary()
}
