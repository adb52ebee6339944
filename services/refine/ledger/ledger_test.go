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
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// newTestTable builds a small price table without touching the
// singleton.
func newTestTable(t *testing.T) *PriceTable {
	t.Helper()
	table, err := parsePricingYAML([]byte(`
default_per_1k: 0.0002
models:
  gpt-4: 0.03
  gpt-3.5-turbo: 0.0005
  groq/llama-3.1-8b-instant: 0.00005
`))
	if err != nil {
		t.Fatalf("building test table: %v", err)
	}
	return table
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, opts ...Option) *CostLedger {
	t.Helper()
	base := []Option{WithPricing(newTestTable(t)), WithLogger(discardLogger())}
	l, err := NewCostLedger(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewCostLedger() error = %v", err)
	}
	return l
}

// stubApprover records approval requests and answers from a script.
type stubApprover struct {
	approve bool
	err     error
	calls   int
	lastMsg string
}

func (s *stubApprover) RequestUserDecision(message string) (bool, error) {
	s.calls++
	s.lastMsg = message
	return s.approve, s.err
}

func TestDeriveProvider(t *testing.T) {
	tests := []struct {
		modelID string
		want    Provider
	}{
		{"groq/llama-3.3-70b-versatile", ProviderGroq},
		{"groq/meta-llama/llama-4-scout-17b-16e-instruct", ProviderGroq},
		{"meta-llama/llama-4-maverick", ProviderGroq},
		{"gpt-4", ProviderOpenAI},
		{"gpt-3.5-turbo", ProviderOpenAI},
		{"claude-3-opus", ProviderOther},
		{"", ProviderOther},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			if got := DeriveProvider(tt.modelID); got != tt.want {
				t.Errorf("DeriveProvider(%q) = %q, want %q", tt.modelID, got, tt.want)
			}
		})
	}
}

func TestNewCostLedger_Defaults(t *testing.T) {
	l := newTestLedger(t)

	if got := l.AutoApproveThreshold(); got != DefaultAutoApproveThreshold {
		t.Errorf("AutoApproveThreshold() = %f, want %f", got, DefaultAutoApproveThreshold)
	}
	if _, set := l.SessionBudget(); set {
		t.Error("SessionBudget() set = true, want false")
	}
	tokens, cost := l.SessionConsumption()
	if tokens != 0 || cost != 0 {
		t.Errorf("SessionConsumption() = (%d, %f), want (0, 0)", tokens, cost)
	}
}

func TestNewCostLedger_EnvBudget(t *testing.T) {
	t.Run("valid value", func(t *testing.T) {
		t.Setenv(EnvSessionBudget, "2.5")
		l := newTestLedger(t)
		budget, set := l.SessionBudget()
		if !set || budget != 2.5 {
			t.Errorf("SessionBudget() = (%f, %t), want (2.5, true)", budget, set)
		}
	})

	t.Run("invalid value ignored", func(t *testing.T) {
		t.Setenv(EnvSessionBudget, "not-a-number")
		l := newTestLedger(t)
		if _, set := l.SessionBudget(); set {
			t.Error("SessionBudget() set = true, want false for invalid env value")
		}
	})

	t.Run("explicit budget wins", func(t *testing.T) {
		t.Setenv(EnvSessionBudget, "9.9")
		l := newTestLedger(t, WithSessionBudget(1.0))
		budget, set := l.SessionBudget()
		if !set || budget != 1.0 {
			t.Errorf("SessionBudget() = (%f, %t), want (1.0, true)", budget, set)
		}
	})
}

func TestTrackUsage_ActualsRecordedVerbatim(t *testing.T) {
	l := newTestLedger(t)

	tokens, cost := l.TrackUsage("any prompt", "any response", "groq/llama-3.3-70b-versatile",
		WithActuals(150, 0.01))

	if tokens != 150 {
		t.Errorf("tokens = %d, want 150", tokens)
	}
	if cost != 0.01 {
		t.Errorf("cost = %f, want 0.01", cost)
	}

	gotTokens, gotCost := l.SessionConsumption()
	if gotTokens != 150 {
		t.Errorf("SessionConsumption() tokens = %d, want 150", gotTokens)
	}
	if gotCost != 0.01 {
		t.Errorf("SessionConsumption() cost = %f, want 0.01", gotCost)
	}

	stats := l.ProviderBreakdown()[ProviderGroq]
	if stats.Tokens != 150 || stats.Cost != 0.01 || stats.Calls != 1 {
		t.Errorf("groq stats = %+v, want {150 0.01 1}", stats)
	}
}

func TestTrackUsage_EstimatesFromText(t *testing.T) {
	l := newTestLedger(t)

	prompt := strings.Repeat("p", 200)
	response := strings.Repeat("r", 200)
	tokens, cost := l.TrackUsage(prompt, response, "gpt-4")

	if tokens != 100 {
		t.Errorf("tokens = %d, want 100 (400 chars / 4)", tokens)
	}
	if cost != 0.003 {
		t.Errorf("cost = %f, want 0.003", cost)
	}

	stats := l.ProviderBreakdown()[ProviderOpenAI]
	if stats.Calls != 1 || stats.Tokens != 100 {
		t.Errorf("openai stats = %+v, want 1 call of 100 tokens", stats)
	}
}

func TestTrackUsage_Accumulates(t *testing.T) {
	l := newTestLedger(t)

	l.TrackUsage("", "", "gpt-4", WithActuals(100, 0.005))
	l.TrackUsage("", "", "groq/llama-3.1-8b-instant", WithActuals(50, 0.001))

	tokens, cost := l.SessionConsumption()
	if tokens != 150 {
		t.Errorf("SessionConsumption() tokens = %d, want 150", tokens)
	}
	if cost != 0.006 {
		t.Errorf("SessionConsumption() cost = %f, want 0.006", cost)
	}

	breakdown := l.ProviderBreakdown()
	if breakdown[ProviderOpenAI].Calls != 1 || breakdown[ProviderGroq].Calls != 1 {
		t.Errorf("breakdown = %+v, want one call each for openai and groq", breakdown)
	}
	if breakdown[ProviderOther].Calls != 0 {
		t.Errorf("other calls = %d, want 0", breakdown[ProviderOther].Calls)
	}
}

func TestCheckBudget(t *testing.T) {
	t.Run("unlimited passes everything", func(t *testing.T) {
		l := newTestLedger(t)
		if err := l.CheckBudget(1000.0); err != nil {
			t.Errorf("CheckBudget() error = %v, want nil without a budget", err)
		}
	})

	t.Run("projected overrun", func(t *testing.T) {
		l := newTestLedger(t, WithSessionBudget(0.01))
		l.TrackUsage("", "", "gpt-4", WithActuals(100, 0.009))

		if err := l.CheckBudget(0.002); !errors.Is(err, ErrBudgetExceeded) {
			t.Errorf("CheckBudget() error = %v, want ErrBudgetExceeded", err)
		}
		if err := l.CheckBudget(0.0005); err != nil {
			t.Errorf("CheckBudget() error = %v, want a fitting estimate to pass", err)
		}
	})
}

func TestRequestApproval_DeniesOverBudget(t *testing.T) {
	approver := &stubApprover{approve: true}
	l := newTestLedger(t, WithSessionBudget(0.001), WithApprover(approver))

	// 400 chars of gpt-4 estimate to $0.003, past the $0.001 budget.
	approved := l.RequestApproval("big op", strings.Repeat("x", 400), "gpt-4")

	if approved {
		t.Error("RequestApproval() = true, want false when estimate exceeds budget")
	}
	if approver.calls != 0 {
		t.Errorf("approver consulted %d times, want 0 for budget denial", approver.calls)
	}
}

func TestRequestApproval_BudgetChecksConsumedPlusEstimate(t *testing.T) {
	l := newTestLedger(t, WithSessionBudget(0.01))
	l.TrackUsage("", "", "gpt-4", WithActuals(100, 0.009))

	// The $0.003 estimate is under the auto-approve threshold, but
	// 0.009 + 0.003 breaches the budget, and the budget check runs
	// first.
	approved := l.RequestApproval("small op", strings.Repeat("x", 400), "gpt-4")

	if approved {
		t.Error("RequestApproval() = true, want false when consumed+estimate exceeds budget")
	}
}

func TestRequestApproval_AutoApprove(t *testing.T) {
	approver := &stubApprover{approve: false}
	l := newTestLedger(t, WithApprover(approver))

	// 40 chars on the default rate estimate well under $0.01.
	approved := l.RequestApproval("cheap op", strings.Repeat("x", 40), "some-model")

	if !approved {
		t.Error("RequestApproval() = false, want auto-approval under threshold")
	}
	if approver.calls != 0 {
		t.Errorf("approver consulted %d times, want 0 for auto-approval", approver.calls)
	}
}

func TestRequestApproval_ThresholdBoundary(t *testing.T) {
	// 400 chars of gpt-4 estimate to exactly $0.003; a threshold of
	// 0.003 auto-approves at the boundary.
	l := newTestLedger(t, WithAutoApproveThreshold(0.003))

	if !l.RequestApproval("boundary op", strings.Repeat("x", 400), "gpt-4") {
		t.Error("RequestApproval() = false, want true at exact threshold")
	}
}

func TestRequestApproval_DefersToApprover(t *testing.T) {
	t.Run("approver approves", func(t *testing.T) {
		approver := &stubApprover{approve: true}
		l := newTestLedger(t, WithApprover(approver))

		approved := l.RequestApproval("expensive op", strings.Repeat("x", 2000), "gpt-4")

		if !approved {
			t.Error("RequestApproval() = false, want approver decision true")
		}
		if approver.calls != 1 {
			t.Errorf("approver consulted %d times, want 1", approver.calls)
		}
		if !strings.Contains(approver.lastMsg, "Operation: expensive op") {
			t.Errorf("approval message missing operation, got:\n%s", approver.lastMsg)
		}
		if !strings.Contains(approver.lastMsg, "Model: gpt-4") {
			t.Errorf("approval message missing model, got:\n%s", approver.lastMsg)
		}
	})

	t.Run("approver denies", func(t *testing.T) {
		approver := &stubApprover{approve: false}
		l := newTestLedger(t, WithApprover(approver))

		if l.RequestApproval("expensive op", strings.Repeat("x", 2000), "gpt-4") {
			t.Error("RequestApproval() = true, want approver decision false")
		}
	})

	t.Run("approver error denies", func(t *testing.T) {
		approver := &stubApprover{approve: true, err: errors.New("terminal closed")}
		l := newTestLedger(t, WithApprover(approver))

		if l.RequestApproval("expensive op", strings.Repeat("x", 2000), "gpt-4") {
			t.Error("RequestApproval() = true, want false on approver error")
		}
	})
}

func TestRequestApproval_NoApproverDenies(t *testing.T) {
	l := newTestLedger(t)

	if l.RequestApproval("expensive op", strings.Repeat("x", 2000), "gpt-4") {
		t.Error("RequestApproval() = true, want false without an approver")
	}
}

func TestSummary(t *testing.T) {
	t.Run("with budget", func(t *testing.T) {
		l := newTestLedger(t, WithSessionBudget(5.0))
		l.TrackUsage("", "", "groq/llama-3.3-70b-versatile", WithActuals(150, 0.01))

		summary := l.Summary()

		for _, want := range []string{
			"Budget Usage Summary",
			"Session Total: 150 tokens, $0.010000",
			"Budget Limit: $5.00",
			"Remaining: $4.990000",
			"Provider Breakdown:",
			"groq: 1 calls, 150 tokens, $0.010000",
		} {
			if !strings.Contains(summary, want) {
				t.Errorf("Summary() missing %q, got:\n%s", want, summary)
			}
		}

		if strings.Contains(summary, "openai:") {
			t.Errorf("Summary() includes zero-call provider openai, got:\n%s", summary)
		}
	})

	t.Run("unlimited budget", func(t *testing.T) {
		l := newTestLedger(t)
		summary := l.Summary()

		if !strings.Contains(summary, "Budget Limit: Unlimited") {
			t.Errorf("Summary() missing unlimited budget line, got:\n%s", summary)
		}
		if !strings.Contains(summary, "Remaining: Unlimited") {
			t.Errorf("Summary() missing unlimited remaining line, got:\n%s", summary)
		}
	})
}
