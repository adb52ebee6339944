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

import (
	"log/slog"

	"github.com/google/uuid"
)

// =============================================================================
// Model Tiers
// =============================================================================

// ModelTier labels a capability band. The tier-to-model mapping lives in
// configuration; the scope carries the label for reporting.
type ModelTier string

const (
	TierHighest ModelTier = "highest"
	TierMiddle  ModelTier = "middle"
	TierSmall   ModelTier = "small"
	TierXS      ModelTier = "xs"
)

// String returns the tier name.
func (t ModelTier) String() string {
	return string(t)
}

// IsValid reports whether the tier is a known band.
func (t ModelTier) IsValid() bool {
	switch t {
	case TierHighest, TierMiddle, TierSmall, TierXS:
		return true
	}
	return false
}

// =============================================================================
// BudgetScope
// =============================================================================

// BudgetScope layers per-operation token and cost caps on top of a
// session ledger.
//
// Description:
//
//	A scope guards one phase or reasoning step. Its caps are soft
//	limits checked before the session budget: a request that would
//	exceed either cap is denied locally without consulting the ledger.
//	Requests within the caps delegate to the ledger's approval flow,
//	and approved estimates accrue to the scope.
//
// Thread Safety: NOT synchronized, same single-writer discipline as
// CostLedger. A scope over a Serialized ledger still needs one
// goroutine per scope.
type BudgetScope struct {
	ledger SessionLedger

	scopeID       string
	parentScopeID string
	description   string
	modelID       string
	modelTier     ModelTier

	maxTokens int     // 0 means uncapped
	maxCost   float64 // 0 means uncapped

	tokensConsumed int
	costIncurred   float64
	active         bool
}

// ScopeOption configures a BudgetScope.
type ScopeOption func(*BudgetScope)

// WithMaxTokens caps the tokens the scope may consume.
func WithMaxTokens(max int) ScopeOption {
	return func(s *BudgetScope) {
		s.maxTokens = max
	}
}

// WithMaxCost caps the dollars the scope may consume.
func WithMaxCost(max float64) ScopeOption {
	return func(s *BudgetScope) {
		s.maxCost = max
	}
}

// WithModelTier records the capability band the scope runs at.
func WithModelTier(tier ModelTier) ScopeOption {
	return func(s *BudgetScope) {
		s.modelTier = tier
	}
}

// WithParentScope links a child scope to its enclosing scope.
func WithParentScope(parentID string) ScopeOption {
	return func(s *BudgetScope) {
		s.parentScopeID = parentID
	}
}

// NewScope creates a budget scope over a ledger.
//
// Inputs:
//
//	l - Session ledger approvals delegate to. Must not be nil.
//	scopeID - Identifier for the scope. Empty generates a UUID.
//	description - Human-readable label.
//	modelID - Model the scope's operations run against, used for
//	          estimation. Resolve tiers to model ids in configuration
//	          before constructing the scope.
func NewScope(l SessionLedger, scopeID, description, modelID string, opts ...ScopeOption) *BudgetScope {
	if scopeID == "" {
		scopeID = uuid.NewString()
	}

	s := &BudgetScope{
		ledger:      l,
		scopeID:     scopeID,
		description: description,
		modelID:     modelID,
		modelTier:   TierMiddle,
		active:      true,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ScopeID returns the scope identifier.
func (s *BudgetScope) ScopeID() string {
	return s.scopeID
}

// ModelID returns the model the scope estimates against.
func (s *BudgetScope) ModelID() string {
	return s.modelID
}

// Consumption returns tokens and dollars accrued to the scope.
func (s *BudgetScope) Consumption() (int, float64) {
	return s.tokensConsumed, s.costIncurred
}

// Active reports whether the scope is still open.
func (s *BudgetScope) Active() bool {
	return s.active
}

// Close marks the scope inactive. Consumption remains readable.
func (s *BudgetScope) Close() {
	s.active = false
}

// RequestApproval decides whether an operation may spend within the
// scope.
//
// Description:
//
//	Checks the scope's own caps first. A request that would push the
//	scope past either cap is denied without touching the ledger.
//	Otherwise the decision delegates to the ledger's approval flow,
//	and on approval the estimates accrue to the scope.
//
// Outputs:
//
//	bool - True if the operation may proceed.
func (s *BudgetScope) RequestApproval(description, prompt string) bool {
	estTokens, estCost := s.ledger.Pricing().Estimate(prompt, s.modelID)

	if s.maxTokens > 0 && s.tokensConsumed+estTokens > s.maxTokens {
		ledgerApprovals.WithLabelValues("scope_limit").Inc()
		slog.Warn("Scope token limit exceeded",
			slog.String("scope_id", s.scopeID),
			slog.Int("consumed", s.tokensConsumed),
			slog.Int("estimate", estTokens),
			slog.Int("max", s.maxTokens))
		return false
	}
	if s.maxCost > 0 && s.costIncurred+estCost > s.maxCost {
		ledgerApprovals.WithLabelValues("scope_limit").Inc()
		slog.Warn("Scope cost limit exceeded",
			slog.String("scope_id", s.scopeID),
			slog.Float64("consumed", s.costIncurred),
			slog.Float64("estimate", estCost),
			slog.Float64("max", s.maxCost))
		return false
	}

	approved := s.ledger.RequestApproval("["+s.scopeID+"] "+description, prompt, s.modelID)
	if approved {
		s.tokensConsumed += estTokens
		s.costIncurred += estCost
	}
	return approved
}

// Snapshot returns a serializable view of the scope's identity and
// consumption.
func (s *BudgetScope) Snapshot() map[string]any {
	return map[string]any{
		"scope_id":           s.scopeID,
		"parent_scope_id":    s.parentScopeID,
		"description":        s.description,
		"model_id":           s.modelID,
		"model_tier":         s.modelTier.String(),
		"max_tokens_allowed": s.maxTokens,
		"max_cost_allowed":   s.maxCost,
		"tokens_consumed":    s.tokensConsumed,
		"cost_incurred":      s.costIncurred,
		"active":             s.active,
	}
}
