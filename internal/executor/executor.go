// Package executor walks a routing decision's candidate chain, attempting
// each model in order until one succeeds. It owns the per-provider adapter
// cache, charges circuit breakers according to the error taxonomy, and
// records every attempt for the request log.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/resilience"
	"github.com/modelgate/modelgate/internal/router"
	gwerrors "github.com/modelgate/modelgate/pkg/errors"
	"github.com/modelgate/modelgate/pkg/types"
)

// Executor tries a decision's candidates in order. Safe for concurrent
// use; adapters are shared across requests and rebuilt when the registry
// reloads.
type Executor struct {
	registry *registry.Manager
	breakers *resilience.Manager
	logger   *slog.Logger

	mu       sync.Mutex
	adapters map[string]provider.Adapter
}

// New creates an executor. The adapter cache is invalidated on every
// registry reload so credential and base URL changes take effect without
// a restart.
func New(reg *registry.Manager, breakers *resilience.Manager, logger *slog.Logger) *Executor {
	e := &Executor{
		registry: reg,
		breakers: breakers,
		logger:   logger.With("component", "executor"),
		adapters: make(map[string]provider.Adapter),
	}
	reg.OnChange(func(*registry.Snapshot) { e.invalidateAdapters() })
	return e
}

// StreamResult is a successfully opened stream plus the attempt history
// that led to it.
type StreamResult struct {
	Stream       provider.Stream
	ModelID      string
	Provider     string
	Attempts     []types.FallbackAttempt
	FallbackUsed bool
}

// Execute walks the candidate chain with one unary completion per
// candidate. The returned attempt slice is complete even on total
// failure; a chain where every candidate fails yields an
// all_fallbacks_failed error carrying it.
func (e *Executor) Execute(ctx context.Context, snap *registry.Snapshot, req *types.CompletionRequest, decision router.Decision) (*types.CompletionResponse, []types.FallbackAttempt, error) {
	var attempts []types.FallbackAttempt
	var lastErr *gwerrors.GatewayError

	for _, candidateID := range decision.Chain() {
		model, adapter, ok := e.prepare(ctx, snap, candidateID, &attempts)
		if !ok {
			if lastErr == nil && len(attempts) > 0 {
				lastErr = attemptError(attempts[len(attempts)-1])
			}
			continue
		}

		call := req.Clone()
		call.Model = candidateID
		call.Stream = false

		callCtx, cancel := context.WithTimeout(ctx, decision.Timeout())
		start := time.Now()
		resp, err := adapter.Complete(callCtx, call)
		latency := time.Since(start)
		cancel()

		if err == nil {
			e.breakers.RecordSuccess(model.Provider)
			attemptN := len(attempts) + 1
			if attemptN > 1 {
				attempts = append(attempts, types.FallbackAttempt{
					AttemptN:  attemptN,
					ModelID:   candidateID,
					Provider:  model.Provider,
					LatencyMs: latency.Milliseconds(),
				})
			}
			resp.Model = candidateID
			resp.Provider = model.Provider
			resp.FallbackUsed = attemptN > 1
			resp.Attempts = attempts
			return resp, attempts, nil
		}

		gerr := classify(err, model.Provider, candidateID)
		attempts = appendFailure(attempts, candidateID, model.Provider, gerr, latency)
		lastErr = gerr

		// The caller going away is not a provider fault: no breaker
		// charge, no further candidates. The probe slot is still
		// released so a half-open breaker is not stranded.
		if ctx.Err() != nil {
			e.breakers.RecordNeutral(model.Provider)
			return nil, attempts, gerr
		}

		if gwerrors.CountsForBreaker(gerr.Tag) {
			e.breakers.RecordFailure(model.Provider)
		} else {
			e.breakers.RecordNeutral(model.Provider)
		}
		e.logger.Warn("candidate attempt failed",
			"model", candidateID,
			"provider", model.Provider,
			"error_type", gerr.Tag,
			"status", gerr.StatusCode,
			"latency_ms", latency.Milliseconds(),
		)
	}

	return nil, attempts, exhausted(decision, lastErr)
}

// ExecuteStream walks the chain opening a streaming completion per
// candidate. Adapters validate the response status before returning, so
// every pre-first-byte failure still falls back; once a stream is open
// it belongs to the caller and later errors are terminal.
func (e *Executor) ExecuteStream(ctx context.Context, snap *registry.Snapshot, req *types.CompletionRequest, decision router.Decision) (*StreamResult, []types.FallbackAttempt, error) {
	var attempts []types.FallbackAttempt
	var lastErr *gwerrors.GatewayError

	for _, candidateID := range decision.Chain() {
		model, adapter, ok := e.prepare(ctx, snap, candidateID, &attempts)
		if !ok {
			if lastErr == nil && len(attempts) > 0 {
				lastErr = attemptError(attempts[len(attempts)-1])
			}
			continue
		}

		call := req.Clone()
		call.Model = candidateID
		call.Stream = true

		start := time.Now()
		stream, err := adapter.StreamComplete(ctx, call)
		latency := time.Since(start)

		if err == nil {
			e.breakers.RecordSuccess(model.Provider)
			attemptN := len(attempts) + 1
			if attemptN > 1 {
				attempts = append(attempts, types.FallbackAttempt{
					AttemptN:  attemptN,
					ModelID:   candidateID,
					Provider:  model.Provider,
					LatencyMs: latency.Milliseconds(),
				})
			}
			return &StreamResult{
				Stream:       stream,
				ModelID:      candidateID,
				Provider:     model.Provider,
				Attempts:     attempts,
				FallbackUsed: attemptN > 1,
			}, attempts, nil
		}

		gerr := classify(err, model.Provider, candidateID)
		attempts = appendFailure(attempts, candidateID, model.Provider, gerr, latency)
		lastErr = gerr

		if ctx.Err() != nil {
			e.breakers.RecordNeutral(model.Provider)
			return nil, attempts, gerr
		}

		if gwerrors.CountsForBreaker(gerr.Tag) {
			e.breakers.RecordFailure(model.Provider)
		} else {
			e.breakers.RecordNeutral(model.Provider)
		}
		e.logger.Warn("streaming candidate attempt failed",
			"model", candidateID,
			"provider", model.Provider,
			"error_type", gerr.Tag,
			"status", gerr.StatusCode,
		)
	}

	return nil, attempts, exhausted(decision, lastErr)
}

// prepare resolves a candidate to its model spec and adapter. Unknown
// models are skipped silently apart from a log line; breaker rejections
// and adapter build failures are recorded as attempts.
func (e *Executor) prepare(ctx context.Context, snap *registry.Snapshot, candidateID string, attempts *[]types.FallbackAttempt) (*registry.ModelSpec, provider.Adapter, bool) {
	model, ok := snap.Model(candidateID)
	if !ok {
		e.logger.Warn("candidate model not in registry, skipping", "model", candidateID)
		return nil, nil, false
	}

	if !e.breakers.Allow(model.Provider) {
		gerr := gwerrors.NewCircuitOpen(model.Provider, candidateID)
		*attempts = appendFailure(*attempts, candidateID, model.Provider, gerr, 0)
		e.logger.Warn("circuit breaker open, skipping candidate",
			"model", candidateID,
			"provider", model.Provider,
		)
		return nil, nil, false
	}

	adapter, err := e.adapter(ctx, snap, model.Provider)
	if err != nil {
		gerr := gwerrors.NewUnknown(model.Provider, candidateID, err.Error())
		*attempts = appendFailure(*attempts, candidateID, model.Provider, gerr, 0)
		e.logger.Error("adapter unavailable for provider",
			"provider", model.Provider,
			"error", err,
		)
		return nil, nil, false
	}

	return model, adapter, true
}

// adapter returns the cached adapter for a provider, building it from
// the snapshot's provider spec and resolved credentials on first use.
func (e *Executor) adapter(ctx context.Context, snap *registry.Snapshot, name string) (provider.Adapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a, ok := e.adapters[name]; ok {
		return a, nil
	}

	spec, ok := snap.Provider(name)
	if !ok {
		return nil, fmt.Errorf("provider %q not in registry", name)
	}
	creds, err := e.registry.Credentials(ctx, name)
	if err != nil {
		return nil, err
	}

	a, err := provider.New(name, provider.Config{
		Name:    name,
		BaseURL: creds.BaseURL,
		APIKey:  creds.APIKey,
		Timeout: time.Duration(spec.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	e.adapters[name] = a
	return a, nil
}

// invalidateAdapters drops every cached adapter. In-flight requests keep
// the instance they already hold.
func (e *Executor) invalidateAdapters() {
	e.mu.Lock()
	old := e.adapters
	e.adapters = make(map[string]provider.Adapter)
	e.mu.Unlock()

	for name, a := range old {
		if err := a.Close(); err != nil {
			e.logger.Warn("closing adapter", "provider", name, "error", err)
		}
	}
}

// Close releases every cached adapter.
func (e *Executor) Close() error {
	e.invalidateAdapters()
	return nil
}

func appendFailure(attempts []types.FallbackAttempt, modelID, providerName string, gerr *gwerrors.GatewayError, latency time.Duration) []types.FallbackAttempt {
	status := gerr.StatusCode
	errType := gerr.Tag
	short := gwerrors.Truncate(gerr.Message)
	return append(attempts, types.FallbackAttempt{
		AttemptN:   len(attempts) + 1,
		ModelID:    modelID,
		Provider:   providerName,
		StatusCode: &status,
		ErrorType:  &errType,
		ErrorShort: &short,
		LatencyMs:  latency.Milliseconds(),
	})
}

// classify normalizes an adapter error into the gateway taxonomy.
func classify(err error, providerName, modelID string) *gwerrors.GatewayError {
	var gerr *gwerrors.GatewayError
	if stderrors.As(err, &gerr) {
		return gerr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return gwerrors.NewTimeout(providerName, modelID, err.Error())
	}
	return gwerrors.NewUnknown(providerName, modelID, err.Error())
}

// attemptError reconstructs the taxonomy error recorded for an attempt,
// used when a chain ends on a synthesized failure.
func attemptError(a types.FallbackAttempt) *gwerrors.GatewayError {
	status, tag, msg := 0, gwerrors.TagUnknown, ""
	if a.StatusCode != nil {
		status = *a.StatusCode
	}
	if a.ErrorType != nil {
		tag = *a.ErrorType
	}
	if a.ErrorShort != nil {
		msg = *a.ErrorShort
	}
	return gwerrors.New(status, tag, a.Provider, a.ModelID, msg)
}

func exhausted(decision router.Decision, lastErr *gwerrors.GatewayError) error {
	msg := fmt.Sprintf("all %d candidate models failed", len(decision.Chain()))
	if lastErr != nil {
		msg = fmt.Sprintf("%s; last error: %s", msg, gwerrors.Truncate(lastErr.Message))
	}
	return gwerrors.NewAllFallbacksFailed(msg)
}
