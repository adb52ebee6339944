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
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// BytesPerToken is the byte-to-token ratio used for estimation.
	// Estimates are intentionally cheap and provider-agnostic; usage
	// reported by a provider always takes precedence over an estimate.
	BytesPerToken = 4

	// MaxPricingFileSize is the maximum allowed pricing YAML size (256KB).
	MaxPricingFileSize = 256 * 1024

	// costPrecision rounds recorded costs to micro-dollars.
	costPrecision = 1e6
)

// =============================================================================
// Embedded Default Pricing
// =============================================================================

//go:embed pricing.yaml
var defaultPricingYAML []byte

// =============================================================================
// Metrics
// =============================================================================

var (
	pricingLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_load_errors_total",
		Help: "Total number of pricing table load errors",
	})

	pricingLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_load_duration_seconds",
		Help:    "Time to load and parse the pricing table",
		Buckets: prometheus.DefBuckets,
	})

	pricingReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_reloads_total",
		Help: "Total number of pricing table hot reloads",
	})
)

// =============================================================================
// Price Table
// =============================================================================

// PriceTable maps model identifiers to prices in dollars per 1k tokens.
//
// Models absent from the table are charged at the default rate, so an
// incomplete table degrades to a uniform estimate rather than an error.
//
// Thread Safety: Immutable after construction. Safe for concurrent reads.
type PriceTable struct {
	perModel     map[string]float64
	defaultPer1K float64
	loadedAt     int64
	source       string
}

// priceFile is the YAML schema for pricing tables.
type priceFile struct {
	DefaultPer1K float64            `yaml:"default_per_1k"`
	Models       map[string]float64 `yaml:"models"`
}

// PricePer1K returns the per-1k-token price for a model, falling back to
// the default rate for unknown models.
func (t *PriceTable) PricePer1K(modelID string) float64 {
	if price, ok := t.perModel[modelID]; ok {
		return price
	}
	return t.defaultPer1K
}

// DefaultPer1K returns the fallback per-1k-token price.
func (t *PriceTable) DefaultPer1K() float64 {
	return t.defaultPer1K
}

// ModelCount returns the number of explicitly priced models.
func (t *PriceTable) ModelCount() int {
	return len(t.perModel)
}

// LoadedAt returns the Unix timestamp when the table was loaded.
func (t *PriceTable) LoadedAt() int64 {
	return t.loadedAt
}

// Source reports where the table came from ("embedded" or "external").
func (t *PriceTable) Source() string {
	return t.source
}

// CountTokens estimates the token count of a text using the fixed
// byte-to-token ratio. Returns 0 for empty text.
func CountTokens(text string) int {
	return len(text) / BytesPerToken
}

// CostForTokens converts a token count to dollars for a model, rounded
// to micro-dollar precision.
func (t *PriceTable) CostForTokens(tokens int, modelID string) float64 {
	return roundCost(float64(tokens) / 1000.0 * t.PricePer1K(modelID))
}

// Estimate returns the estimated token count and dollar cost of a text
// for a model.
//
// Inputs:
//
//	text - The prompt or response text to estimate.
//	modelID - Model identifier used for the price lookup.
//
// Outputs:
//
//	int - Estimated token count (len(text) / BytesPerToken).
//	float64 - Estimated cost in dollars, rounded to micro-dollars.
func (t *PriceTable) Estimate(text, modelID string) (int, float64) {
	tokens := CountTokens(text)
	return tokens, t.CostForTokens(tokens, modelID)
}

// roundCost rounds a dollar amount to micro-dollar precision.
func roundCost(cost float64) float64 {
	return math.Round(cost*costPrecision) / costPrecision
}

// =============================================================================
// Singleton Table (sync.Once for thread-safe initialization)
// =============================================================================

var (
	pricingMu      sync.RWMutex
	pricingOnce    sync.Once
	cachedPricing  *PriceTable
	pricingLoadErr error
)

// GetPriceTable returns the cached price table.
//
// Description:
//
//	Loads the price table on first call and caches it for subsequent
//	calls. An external pricing file takes precedence over the embedded
//	default when one is configured and readable.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*PriceTable - The loaded table. Never nil on success.
//	error - Non-nil if loading failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetPriceTable(ctx context.Context) (*PriceTable, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetPriceTable: ctx must not be nil")
	}

	pricingMu.RLock()
	if cachedPricing != nil || pricingLoadErr != nil {
		table, err := cachedPricing, pricingLoadErr
		pricingMu.RUnlock()
		return table, err
	}
	pricingMu.RUnlock()

	pricingMu.Lock()
	defer pricingMu.Unlock()

	// Double-check after acquiring write lock
	if cachedPricing != nil || pricingLoadErr != nil {
		return cachedPricing, pricingLoadErr
	}

	pricingOnce.Do(func() {
		cachedPricing, pricingLoadErr = loadPriceTable(ctx)
	})

	return cachedPricing, pricingLoadErr
}

// ResetPriceTable clears the cached table and sync.Once state so the
// next GetPriceTable call re-loads.
//
// WARNING: Intended for testing and hot reload. Concurrent callers of
// GetPriceTable observe either the old or the new table, never a
// partially loaded one.
func ResetPriceTable() {
	pricingMu.Lock()
	defer pricingMu.Unlock()
	pricingOnce = sync.Once{}
	cachedPricing = nil
	pricingLoadErr = nil
}

// =============================================================================
// Loading Logic
// =============================================================================

// loadPriceTable loads the table from YAML, preferring an external file
// and falling back to the embedded default.
func loadPriceTable(ctx context.Context) (*PriceTable, error) {
	startTime := time.Now()
	defer func() {
		pricingLoadDuration.Observe(time.Since(startTime).Seconds())
	}()

	externalPath := externalPricingPath()
	var yamlData []byte
	var source string

	if externalPath != "" {
		data, err := loadExternalPricing(ctx, externalPath)
		if err == nil {
			yamlData = data
			source = "external"
			slog.Info("Loaded pricing table from external file",
				slog.String("path", externalPath))
		} else {
			slog.Warn("External pricing file not available, using embedded default",
				slog.String("path", externalPath),
				slog.String("error", err.Error()))
		}
	}

	if yamlData == nil {
		yamlData = defaultPricingYAML
		source = "embedded"
		slog.Debug("Using embedded pricing table")
	}

	table, err := parsePricingYAML(yamlData)
	if err != nil {
		pricingLoadErrors.Inc()
		return nil, fmt.Errorf("parsing pricing YAML: %w", err)
	}
	table.source = source

	slog.Info("Pricing table loaded",
		slog.Int("model_count", table.ModelCount()),
		slog.Float64("default_per_1k", table.defaultPer1K),
		slog.String("source", source))

	return table, nil
}

// ExternalPricingPath reports the external pricing file the loader
// would use, or empty when only the embedded table applies. Callers
// that want live reloads pass the result to WatchPricing.
func ExternalPricingPath() string {
	return externalPricingPath()
}

// externalPricingPath returns the path to an external pricing file.
// Returns empty string if no external path is configured.
func externalPricingPath() string {
	if path := os.Getenv("REFINERY_PRICING_PATH"); path != "" {
		return path
	}

	locations := []string{
		"./config/pricing.yaml",
		"./pricing.yaml",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			absPath, _ := filepath.Abs(loc)
			return absPath
		}
	}

	return ""
}

// loadExternalPricing loads YAML from an external file with path and
// size checks.
func loadExternalPricing(ctx context.Context, path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("loadExternalPricing: path traversal not allowed: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if info.Size() > MaxPricingFileSize {
		return nil, fmt.Errorf("pricing file too large: %d bytes (max %d)", info.Size(), MaxPricingFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}

// parsePricingYAML parses YAML data into a price table.
func parsePricingYAML(data []byte) (*PriceTable, error) {
	var file priceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if file.DefaultPer1K <= 0 {
		return nil, fmt.Errorf("default_per_1k must be positive, got %f", file.DefaultPer1K)
	}

	for model, price := range file.Models {
		if price < 0 {
			return nil, fmt.Errorf("model %q has negative price %f", model, price)
		}
	}

	perModel := make(map[string]float64, len(file.Models))
	for model, price := range file.Models {
		perModel[model] = price
	}

	return &PriceTable{
		perModel:     perModel,
		defaultPer1K: file.DefaultPer1K,
		loadedAt:     time.Now().Unix(),
	}, nil
}

// =============================================================================
// Hot Reload
// =============================================================================

// PriceWatcher reloads the cached price table when an external pricing
// file changes.
//
// Thread Safety: Safe for concurrent use. Reloads happen on a single
// goroutine; readers go through GetPriceTable as usual.
type PriceWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	notify   func(*PriceTable)
	done     chan struct{}
	stopOnce sync.Once
}

// WatchOption configures a PriceWatcher.
type WatchOption func(*PriceWatcher)

// WithReloadNotify registers a callback invoked with each successfully
// reloaded table. Ledgers built before the reload keep their original
// table, so long-lived holders subscribe here to pick up new prices.
// The callback runs on the watcher goroutine.
func WithReloadNotify(fn func(*PriceTable)) WatchOption {
	return func(w *PriceWatcher) {
		w.notify = fn
	}
}

// WatchPricing starts watching an external pricing file for changes.
//
// Description:
//
//	Watches the file's parent directory (editors often replace files by
//	rename) and reloads the singleton table after a short debounce
//	window. Reload failures keep the previous table and are logged.
//
// Inputs:
//
//	ctx - Context for cancellation. When canceled, watching stops.
//	path - Pricing file to watch. Must not be empty.
//	opts - Optional watcher configuration.
//
// Outputs:
//
//	*PriceWatcher - Active watcher. Call Stop to release it.
//	error - Non-nil if the watcher could not be created.
func WatchPricing(ctx context.Context, path string, opts ...WatchOption) (*PriceWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("WatchPricing: path must not be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(absPath), err)
	}

	w := &PriceWatcher{
		path:     absPath,
		watcher:  watcher,
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.loop(ctx)

	return w, nil
}

// Stop stops the watcher and releases its resources.
func (w *PriceWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// loop debounces change events and triggers reloads.
func (w *PriceWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Pricing watcher error", slog.String("error", err.Error()))
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(ctx)
		}
	}
}

// reload swaps in the new table, keeping the old one on failure.
func (w *PriceWatcher) reload(ctx context.Context) {
	table, err := loadPriceTable(ctx)
	if err != nil {
		slog.Warn("Pricing reload failed, keeping previous table",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	pricingMu.Lock()
	pricingOnce = sync.Once{}
	cachedPricing = table
	pricingLoadErr = nil
	pricingMu.Unlock()

	if w.notify != nil {
		w.notify(table)
	}

	pricingReloads.Inc()
	slog.Info("Pricing table reloaded",
		slog.String("path", w.path),
		slog.Int("model_count", table.ModelCount()))
}
