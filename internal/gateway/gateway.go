// Package gateway orchestrates one completion end to end: correlation id,
// content analysis, optional RAG rerank and injection, routing, fallback
// execution, and telemetry. It is the only package that sees the whole
// pipeline; everything below it does one step.
package gateway

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelgate/modelgate/internal/executor"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/rag"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
	"github.com/modelgate/modelgate/internal/streaming"
	gwerrors "github.com/modelgate/modelgate/pkg/errors"
	"github.com/modelgate/modelgate/pkg/types"
)

// statusClientClosedRequest is nginx's non-standard status for a caller
// that went away mid-response; net/http has no constant for it.
const statusClientClosedRequest = 499

// Config tunes the per-request defaults the orchestrator applies.
type Config struct {
	RAGParams         rag.Params
	InjectionStrategy string
}

// Gateway runs the completion pipeline.
type Gateway struct {
	registry *registry.Manager
	analyzer *router.Analyzer
	router   *router.Router
	executor *executor.Executor
	recorder *observability.Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	cfg      Config
}

// New wires the pipeline. A nil recorder disables request logging, which
// only tests use.
func New(reg *registry.Manager, rt *router.Router, exec *executor.Executor, rec *observability.Recorder, tracer trace.Tracer, logger *slog.Logger, cfg Config) *Gateway {
	if cfg.InjectionStrategy == "" {
		cfg.InjectionStrategy = rag.StrategySystem
	}
	return &Gateway{
		registry: reg,
		analyzer: router.NewAnalyzer(nil),
		router:   rt,
		executor: exec,
		recorder: rec,
		tracer:   tracer,
		logger:   logger.With("component", "gateway"),
		cfg:      cfg,
	}
}

// ragOutcome is what the RAG step leaves behind for the response envelope
// and the logs.
type ragOutcome struct {
	attempted bool
	used      bool
	latency   time.Duration
	reranker  string
	topN      int
	topK      int
	query     string
	sources   []types.Source
	ranked    []rag.RankedChunk
	rawChunks []types.RAGChunk
	strategy  string
}

// Complete runs one unary completion.
func (g *Gateway) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	start := time.Now()
	id := uuid.NewString()

	ctx, span := g.tracer.Start(ctx, "gateway.complete", trace.WithAttributes(
		attribute.String("gateway.request_id", id),
		attribute.Bool("gateway.stream", false),
	))
	defer span.End()

	snap := g.registry.Current()
	rctx := g.analyzer.Analyze(req.Messages, req.Tools, req.ResponseFormat)

	call, ragRes := g.applyRAG(req, rctx)
	decision := g.router.Route(snap, rctx, req.Model)
	span.SetAttributes(
		attribute.String("gateway.route", decision.RouteName),
		attribute.String("gateway.primary", decision.Primary),
	)

	resp, attempts, err := g.executor.Execute(ctx, snap, call, decision)
	total := time.Since(start)

	g.recordAttempts(attempts, resp)

	if err != nil {
		gerr := asGatewayError(err)
		observability.RecordError(span, gerr)
		metrics.RecordRequest(gerr.Provider, decision.Primary, decision.RouteName, gerr.HTTPStatusCode(), total)
		g.logRequest(id, start, req, decision, ragRes, attempts, nil, total, gerr)
		return nil, gerr
	}

	resp.ID = id
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = start.Unix()
	}
	resp.RouteName = decision.RouteName
	resp.RouteReason = decision.Reason
	resp.Sources = ragRes.sources

	if resp.Usage != nil {
		observability.RecordLLMResponse(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.FinishReason)
		metrics.RecordTokens(resp.Provider, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	metrics.RecordRequest(resp.Provider, resp.Model, decision.RouteName, http.StatusOK, total)
	if resp.FallbackUsed {
		metrics.RecordFallback(decision.RouteName)
	}

	g.logRequest(id, start, req, decision, ragRes, attempts, resp, total, nil)
	return resp, nil
}

// CompleteStream runs one streaming completion, writing SSE frames to w.
// A non-nil error means nothing was written and the caller should render
// a JSON error; once forwarding starts the result is always nil.
func (g *Gateway) CompleteStream(ctx context.Context, req *types.CompletionRequest, w http.ResponseWriter) error {
	start := time.Now()
	id := uuid.NewString()

	ctx, span := g.tracer.Start(ctx, "gateway.complete_stream", trace.WithAttributes(
		attribute.String("gateway.request_id", id),
		attribute.Bool("gateway.stream", true),
	))
	defer span.End()

	snap := g.registry.Current()
	rctx := g.analyzer.Analyze(req.Messages, req.Tools, req.ResponseFormat)

	call, ragRes := g.applyRAG(req, rctx)
	decision := g.router.Route(snap, rctx, req.Model)
	span.SetAttributes(
		attribute.String("gateway.route", decision.RouteName),
		attribute.String("gateway.primary", decision.Primary),
	)

	sr, attempts, err := g.executor.ExecuteStream(ctx, snap, call, decision)
	if err != nil {
		total := time.Since(start)
		gerr := asGatewayError(err)
		observability.RecordError(span, gerr)
		g.recordAttempts(attempts, nil)
		metrics.RecordRequest(gerr.Provider, decision.Primary, decision.RouteName, gerr.HTTPStatusCode(), total)
		g.logRequest(id, start, req, decision, ragRes, attempts, nil, total, gerr)
		return gerr
	}

	fwd, err := streaming.NewForwarder(w, id, sr.ModelID, sr.Provider, ragRes.sources)
	if err != nil {
		sr.Stream.Close()
		return gwerrors.NewUnknown(sr.Provider, sr.ModelID, err.Error())
	}

	res, fwdErr := fwd.Forward(ctx, sr.Stream)
	total := time.Since(start)

	resp := &types.CompletionResponse{
		Model:        sr.ModelID,
		Provider:     sr.Provider,
		FinishReason: res.FinishReason,
		Usage:        res.Usage,
		FallbackUsed: sr.FallbackUsed,
		Attempts:     attempts,
	}

	g.recordAttempts(attempts, resp)
	if sr.FallbackUsed {
		metrics.RecordFallback(decision.RouteName)
	}
	if res.Usage != nil {
		observability.RecordLLMResponse(span, res.Usage.PromptTokens, res.Usage.CompletionTokens, res.FinishReason)
		metrics.RecordTokens(sr.Provider, sr.ModelID, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	}

	var gerr *gwerrors.GatewayError
	switch {
	case fwdErr == nil:
	case stderrors.Is(fwdErr, context.Canceled):
		// Not a provider fault, but the log must not read as a completed
		// stream either.
		gerr = gwerrors.New(statusClientClosedRequest, gwerrors.TagTimeout, sr.Provider, sr.ModelID,
			"client disconnected before stream completed")
		g.logger.Info("stream cancelled by client",
			"request_id", id,
			"provider", sr.Provider,
			"model", sr.ModelID,
			"deltas", res.Deltas,
		)
	default:
		gerr = asGatewayError(fwdErr)
		observability.RecordError(span, fwdErr)
		g.logger.Warn("stream ended with error",
			"request_id", id,
			"provider", sr.Provider,
			"model", sr.ModelID,
			"deltas", res.Deltas,
			"error", fwdErr,
		)
	}
	status := http.StatusOK
	if gerr != nil {
		status = gerr.HTTPStatusCode()
	}
	metrics.RecordRequest(sr.Provider, sr.ModelID, decision.RouteName, status, total)

	g.logRequest(id, start, req, decision, ragRes, attempts, resp, total, gerr)
	return nil
}

// applyRAG reranks and injects when the request asks for it. The returned
// request is a clone when messages were rewritten, the original otherwise.
func (g *Gateway) applyRAG(req *types.CompletionRequest, rctx *router.Context) (*types.CompletionRequest, *ragOutcome) {
	out := &ragOutcome{attempted: req.RAGEnabled}
	if !req.RAGEnabled || len(req.RAGChunks) == 0 {
		return req, out
	}

	params := g.cfg.RAGParams
	if req.RAGTopK > 0 {
		params.TopK = req.RAGTopK
	}
	strategy := req.InjectionStrategy
	if strategy == "" {
		strategy = g.cfg.InjectionStrategy
	}

	ragStart := time.Now()
	res := rag.Rerank(rctx.LastUserMessage, req.RAGChunks, params)
	metrics.RerankLatency.Observe(res.Latency.Seconds())

	call := req.Clone()
	call.Messages = rag.Inject(req.Messages, res.Chunks, strategy)
	rctx.RAGEnabled = true

	out.used = len(res.Chunks) > 0
	out.latency = time.Since(ragStart)
	out.reranker = res.RerankerType
	out.topN = len(req.RAGChunks)
	out.topK = params.TopK
	out.query = rctx.LastUserMessage
	out.sources = rag.Sources(res.Chunks)
	out.ranked = res.Chunks
	out.rawChunks = req.RAGChunks
	out.strategy = strategy
	return call, out
}

// recordAttempts updates per-attempt metrics. A unary first-try success
// has no attempt record, so it is counted off the response instead.
func (g *Gateway) recordAttempts(attempts []types.FallbackAttempt, resp *types.CompletionResponse) {
	for _, a := range attempts {
		outcome := "success"
		if a.ErrorType != nil {
			outcome = *a.ErrorType
		}
		metrics.RecordAttempt(a.Provider, a.ModelID, outcome)
	}
	if resp != nil && len(attempts) == 0 {
		metrics.RecordAttempt(resp.Provider, resp.Model, "success")
	}
}

// logRequest writes the request log and, when RAG ran, the RAG trace. Both
// go through the async recorder; failures are logged there, never here.
func (g *Gateway) logRequest(id string, start time.Time, req *types.CompletionRequest, decision router.Decision, ragRes *ragOutcome, attempts []types.FallbackAttempt, resp *types.CompletionResponse, total time.Duration, gerr *gwerrors.GatewayError) {
	if g.recorder == nil {
		return
	}

	entry := &observability.RequestLog{
		ID:             id,
		Timestamp:      start.UTC(),
		UserID:         req.User,
		ChatID:         req.ChatID,
		ModelID:        decision.Primary,
		RouteName:      decision.RouteName,
		RouteReason:    decision.Reason,
		TotalLatencyMs: total.Milliseconds(),
		RAGAttempted:   ragRes.attempted,
		RAGUsed:        ragRes.used,
		RerankerType:   ragRes.reranker,
	}
	if ragRes.used {
		entry.RAGLatencyMs = ragRes.latency.Milliseconds()
		entry.RerankLatencyMs = ragRes.latency.Milliseconds()
		entry.RAGTopN = ragRes.topN
		entry.RAGTopK = ragRes.topK
	}

	if len(attempts) > 0 {
		if chain, err := json.Marshal(attempts); err == nil {
			entry.FallbackChain = chain
		}
		entry.ProviderLatencyMs = attempts[len(attempts)-1].LatencyMs
	}
	if len(req.Metadata) > 0 {
		if meta, err := json.Marshal(req.Metadata); err == nil {
			entry.Metadata = meta
		}
	}

	if resp != nil {
		entry.Provider = resp.Provider
		entry.ModelID = resp.Model
		entry.FallbackUsed = resp.FallbackUsed
		if len(attempts) == 0 {
			entry.ProviderLatencyMs = total.Milliseconds()
		}
		if resp.Usage != nil {
			entry.TokensIn = resp.Usage.PromptTokens
			entry.TokensOut = resp.Usage.CompletionTokens
		}
	}
	if gerr != nil {
		if gerr.Provider != "" {
			entry.Provider = gerr.Provider
		}
		entry.ErrorType = gerr.Tag
		entry.ErrorShort = gwerrors.Truncate(gerr.Message)
	}

	var ragEntry *observability.RAGLog
	if ragRes.used {
		candidates, _ := json.Marshal(ragRes.rawChunks)
		selected, _ := json.Marshal(ragRes.ranked)
		ragEntry = &observability.RAGLog{
			ID:              uuid.NewString(),
			RequestID:       id,
			Timestamp:       start.UTC(),
			Query:           ragRes.query,
			KnowledgeBaseID: req.KnowledgeBaseID,
			Candidates:      candidates,
			RerankerType:    ragRes.reranker,
			SelectedChunks:  selected,
		}
	}
	g.recorder.Record(entry, ragEntry)
}

func asGatewayError(err error) *gwerrors.GatewayError {
	var gerr *gwerrors.GatewayError
	if stderrors.As(err, &gerr) {
		return gerr
	}
	return gwerrors.NewUnknown("", "", err.Error())
}
