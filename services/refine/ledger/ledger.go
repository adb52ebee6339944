// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger tracks token and dollar consumption for LLM calls and
// gates expensive operations behind budget approval.
//
// The CostLedger accumulates per-session and per-provider usage. Before
// an operation runs, RequestApproval estimates its cost and either
// denies it (budget exhausted), approves it silently (below the
// auto-approve threshold), or defers to an Approver. BudgetScope layers
// per-operation caps on top of the session budget.
//
// Thread Safety:
//
//	CostLedger and BudgetScope are NOT synchronized. They are built for
//	a single-goroutine refinement loop. Wrap a ledger in Serialized to
//	share it across goroutines.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultAutoApproveThreshold is the cost in dollars under which
	// approval requests are granted without consulting the approver.
	DefaultAutoApproveThreshold = 0.01

	// EnvSessionBudget is the environment variable consulted for a
	// session budget when none is configured explicitly.
	EnvSessionBudget = "SESSION_BUDGET"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	ledgerTokensTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tokens_tracked_total",
		Help: "Total tokens tracked by provider",
	}, []string{"provider"})

	ledgerCostTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_cost_dollars_total",
		Help: "Total dollars tracked by provider",
	}, []string{"provider"})

	ledgerApprovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_approval_decisions_total",
		Help: "Approval decisions by outcome (auto, approved, denied, over_budget)",
	}, []string{"outcome"})
)

// =============================================================================
// Providers
// =============================================================================

// Provider identifies the upstream LLM vendor a model belongs to.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGroq   Provider = "groq"
	ProviderOther  Provider = "other"
)

// String returns the provider name.
func (p Provider) String() string {
	return string(p)
}

// DeriveProvider maps a model identifier to its provider by prefix.
// Unknown prefixes map to ProviderOther.
func DeriveProvider(modelID string) Provider {
	switch {
	case strings.HasPrefix(modelID, "groq/") || strings.HasPrefix(modelID, "meta-llama/"):
		return ProviderGroq
	case strings.HasPrefix(modelID, "gpt"):
		return ProviderOpenAI
	default:
		return ProviderOther
	}
}

// ProviderStats accumulates usage for one provider.
type ProviderStats struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Calls  int     `json:"calls"`
}

// =============================================================================
// Approver
// =============================================================================

// Approver answers budget approval requests that exceed the
// auto-approve threshold.
//
// Implementations live outside this package (terminal prompt,
// policy engine, test stub). An error is treated as a denial.
type Approver interface {
	// RequestUserDecision presents an approval request and returns the
	// decision. The message is pre-formatted and human-readable.
	RequestUserDecision(message string) (bool, error)
}

// =============================================================================
// CostLedger
// =============================================================================

// CostLedger tracks session-level token and dollar consumption and
// gates operations behind budget approval.
//
// Thread Safety: NOT synchronized. Single-writer; use Serialized to
// share across goroutines.
type CostLedger struct {
	sessionBudget float64
	budgetSet     bool
	autoApprove   float64

	consumedTokens int
	consumedCost   float64
	providerStats  map[Provider]*ProviderStats

	pricing  *PriceTable
	approver Approver
	logger   *slog.Logger
}

// Option configures a CostLedger.
type Option func(*CostLedger)

// WithSessionBudget sets the total session budget in dollars.
func WithSessionBudget(budget float64) Option {
	return func(l *CostLedger) {
		l.sessionBudget = budget
		l.budgetSet = true
	}
}

// WithAutoApproveThreshold overrides the auto-approve threshold.
func WithAutoApproveThreshold(threshold float64) Option {
	return func(l *CostLedger) {
		l.autoApprove = threshold
	}
}

// WithApprover sets the collaborator consulted for requests above the
// auto-approve threshold. Without one, such requests are denied.
func WithApprover(a Approver) Option {
	return func(l *CostLedger) {
		l.approver = a
	}
}

// WithPricing overrides the price table. Defaults to the singleton
// table from GetPriceTable.
func WithPricing(t *PriceTable) Option {
	return func(l *CostLedger) {
		l.pricing = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *CostLedger) {
		l.logger = logger
	}
}

// NewCostLedger creates a ledger.
//
// Description:
//
//	Applies options, falls back to the SESSION_BUDGET environment
//	variable when no budget option was given, and resolves the price
//	table. An unset budget means unlimited spending (approval then
//	hinges on the threshold and approver alone).
//
// Outputs:
//
//	*CostLedger - Ready-to-use ledger. Never nil on success.
//	error - Non-nil if the price table could not be loaded.
func NewCostLedger(opts ...Option) (*CostLedger, error) {
	l := &CostLedger{
		autoApprove: DefaultAutoApproveThreshold,
		providerStats: map[Provider]*ProviderStats{
			ProviderOpenAI: {},
			ProviderGroq:   {},
			ProviderOther:  {},
		},
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = slog.Default()
	}

	if !l.budgetSet {
		if env := os.Getenv(EnvSessionBudget); env != "" {
			budget, err := strconv.ParseFloat(env, 64)
			if err != nil {
				l.logger.Warn("Invalid SESSION_BUDGET value, ignoring",
					slog.String("value", env))
			} else {
				l.sessionBudget = budget
				l.budgetSet = true
			}
		}
	}

	if l.pricing == nil {
		table, err := GetPriceTable(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading price table: %w", err)
		}
		l.pricing = table
	}

	budgetLabel := "unlimited"
	if l.budgetSet {
		budgetLabel = fmt.Sprintf("$%.2f", l.sessionBudget)
	}
	l.logger.Info("Cost ledger initialized",
		slog.String("session_budget", budgetLabel),
		slog.Float64("auto_approve_threshold", l.autoApprove))

	return l, nil
}

// Pricing returns the ledger's price table.
func (l *CostLedger) Pricing() *PriceTable {
	return l.pricing
}

// SetPricing swaps the ledger's price table. Costs already recorded
// keep their original prices. Like every CostLedger method, callers
// serialize access; concurrent holders go through Serialized.
func (l *CostLedger) SetPricing(t *PriceTable) {
	if t == nil {
		return
	}
	l.pricing = t
}

// SessionBudget returns the budget and whether one is set.
func (l *CostLedger) SessionBudget() (float64, bool) {
	return l.sessionBudget, l.budgetSet
}

// AutoApproveThreshold returns the auto-approve threshold in dollars.
func (l *CostLedger) AutoApproveThreshold() float64 {
	return l.autoApprove
}

// =============================================================================
// Usage Tracking
// =============================================================================

// TrackOption adjusts how a completed call is recorded.
type TrackOption func(*trackParams)

type trackParams struct {
	tokens     int
	cost       float64
	hasActuals bool
}

// WithActuals records provider-reported token and cost figures verbatim
// instead of estimating from text. Both values are required together;
// partial actuals fall back to estimation.
func WithActuals(tokens int, cost float64) TrackOption {
	return func(p *trackParams) {
		p.tokens = tokens
		p.cost = cost
		p.hasActuals = true
	}
}

// TrackUsage records a completed LLM call against the session.
//
// Description:
//
//	With WithActuals, the reported figures are recorded exactly as
//	given. Otherwise tokens and cost are estimated from the combined
//	prompt and response text. Session totals and the provider bucket
//	for the model are both updated.
//
// Inputs:
//
//	prompt - The input text sent to the model.
//	response - The text the model returned.
//	modelID - Model identifier, used for pricing and provider lookup.
//
// Outputs:
//
//	int - Tokens recorded.
//	float64 - Dollars recorded.
func (l *CostLedger) TrackUsage(prompt, response, modelID string, opts ...TrackOption) (int, float64) {
	var params trackParams
	for _, opt := range opts {
		opt(&params)
	}

	tokens := params.tokens
	cost := params.cost
	if !params.hasActuals {
		tokens, cost = l.pricing.Estimate(prompt+response, modelID)
	}

	l.consumedTokens += tokens
	l.consumedCost += cost

	provider := DeriveProvider(modelID)
	stats := l.providerStats[provider]
	stats.Tokens += tokens
	stats.Cost += cost
	stats.Calls++

	ledgerTokensTracked.WithLabelValues(provider.String()).Add(float64(tokens))
	ledgerCostTracked.WithLabelValues(provider.String()).Add(cost)

	l.logger.Info("Tracked usage",
		slog.String("provider", provider.String()),
		slog.Int("tokens", tokens),
		slog.Float64("cost", cost))

	return tokens, cost
}

// =============================================================================
// Approval
// =============================================================================

// CheckBudget reports whether an estimated cost fits what remains of
// the session budget. Always nil when no budget is set.
//
// Outputs:
//
//	error - ErrBudgetExceeded with the projected overrun, or nil.
func (l *CostLedger) CheckBudget(costEstimate float64) error {
	if !l.budgetSet {
		return nil
	}
	projected := l.consumedCost + costEstimate
	if projected > l.sessionBudget {
		return fmt.Errorf("%w: projected $%.4f over budget $%.4f", ErrBudgetExceeded, projected, l.sessionBudget)
	}
	return nil
}

// RequestApproval decides whether an operation may spend budget.
//
// Description:
//
//	Estimates the operation's cost from the prompt, then applies three
//	gates in order: a set session budget denies anything that would
//	push consumption past it; estimates at or under the auto-approve
//	threshold pass silently; everything else goes to the approver.
//	Without an approver, those requests are denied.
//
// Inputs:
//
//	description - Human-readable label for the operation.
//	prompt - The text about to be sent, used for estimation.
//	modelID - Model identifier for pricing.
//
// Outputs:
//
//	bool - True if the operation may proceed.
func (l *CostLedger) RequestApproval(description, prompt, modelID string) bool {
	tokenEstimate, costEstimate := l.pricing.Estimate(prompt, modelID)
	provider := DeriveProvider(modelID)

	if err := l.CheckBudget(costEstimate); err != nil {
		ledgerApprovals.WithLabelValues("over_budget").Inc()
		l.logger.Warn("Budget exceeded, denying request",
			slog.String("description", description),
			slog.Float64("consumed", l.consumedCost),
			slog.Float64("estimate", costEstimate),
			slog.Float64("budget", l.sessionBudget))
		return false
	}

	if costEstimate <= l.autoApprove {
		ledgerApprovals.WithLabelValues("auto").Inc()
		l.logger.Debug("Auto-approved",
			slog.String("description", description),
			slog.String("provider", provider.String()),
			slog.Int("token_estimate", tokenEstimate),
			slog.Float64("cost_estimate", costEstimate))
		return true
	}

	if l.approver == nil {
		ledgerApprovals.WithLabelValues("denied").Inc()
		l.logger.Warn("No approver configured, denying request above threshold",
			slog.String("description", description),
			slog.Float64("cost_estimate", costEstimate))
		return false
	}

	approved, err := l.approver.RequestUserDecision(l.approvalMessage(description, provider, modelID, tokenEstimate, costEstimate))
	if err != nil {
		ledgerApprovals.WithLabelValues("denied").Inc()
		l.logger.Warn("Approver failed, denying request",
			slog.String("description", description),
			slog.String("error", err.Error()))
		return false
	}

	if approved {
		ledgerApprovals.WithLabelValues("approved").Inc()
		l.logger.Info("Approved", slog.String("description", description))
	} else {
		ledgerApprovals.WithLabelValues("denied").Inc()
		l.logger.Warn("Denied", slog.String("description", description))
	}

	return approved
}

// approvalMessage formats the request presented to the approver.
func (l *CostLedger) approvalMessage(description string, provider Provider, modelID string, tokens int, cost float64) string {
	remaining := "Unlimited"
	if l.budgetSet {
		remaining = fmt.Sprintf("$%.4f", l.sessionBudget-l.consumedCost)
	}

	var b strings.Builder
	b.WriteString("Budget Approval Request:\n")
	fmt.Fprintf(&b, "Operation: %s\n", description)
	fmt.Fprintf(&b, "Provider: %s\n", provider)
	fmt.Fprintf(&b, "Model: %s\n", modelID)
	fmt.Fprintf(&b, "Estimated tokens: %d\n", tokens)
	fmt.Fprintf(&b, "Estimated cost: $%.6f\n", cost)
	fmt.Fprintf(&b, "Current session total: $%.4f\n", l.consumedCost)
	fmt.Fprintf(&b, "Budget remaining: %s", remaining)
	return b.String()
}

// =============================================================================
// Reporting
// =============================================================================

// SessionConsumption returns total tokens and dollars consumed.
func (l *CostLedger) SessionConsumption() (int, float64) {
	return l.consumedTokens, l.consumedCost
}

// ProviderBreakdown returns a copy of the per-provider usage stats.
func (l *CostLedger) ProviderBreakdown() map[Provider]ProviderStats {
	out := make(map[Provider]ProviderStats, len(l.providerStats))
	for provider, stats := range l.providerStats {
		out[provider] = *stats
	}
	return out
}

// Summary renders a human-readable usage report.
//
// Providers with zero calls are omitted from the breakdown.
func (l *CostLedger) Summary() string {
	tokens, cost := l.SessionConsumption()

	limit := "Unlimited"
	remaining := "Unlimited"
	if l.budgetSet {
		limit = fmt.Sprintf("$%.2f", l.sessionBudget)
		remaining = fmt.Sprintf("$%.6f", l.sessionBudget-cost)
	}

	var b strings.Builder
	b.WriteString("Budget Usage Summary\n")
	b.WriteString("----------------------\n")
	fmt.Fprintf(&b, "Session Total: %d tokens, $%.6f\n", tokens, cost)
	fmt.Fprintf(&b, "Budget Limit: %s\n", limit)
	fmt.Fprintf(&b, "Remaining: %s\n", remaining)
	b.WriteString("\nProvider Breakdown:\n")

	for _, provider := range []Provider{ProviderOpenAI, ProviderGroq, ProviderOther} {
		stats := l.providerStats[provider]
		if stats.Calls == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s: %d calls, %d tokens, $%.6f\n", provider, stats.Calls, stats.Tokens, stats.Cost)
	}

	return b.String()
}
