// Package router selects the primary model and fallback chain for a
// request: it analyzes the message content, evaluates the registry's
// routing rules in order, and capability-filters every candidate so the
// executor only ever attempts feasible models.
package router

import (
	"regexp"

	"github.com/modelgate/modelgate/pkg/types"
)

// Context is the structured analysis of an incoming request that route
// predicates and capability validation run against.
type Context struct {
	LastUserMessage        string
	Messages               []types.ChatMessage
	HasCodeBlock           bool
	HasAttachments         bool
	RAGEnabled             bool
	ToolsEnabled           bool
	ResponseFormatRequired string // "json_schema", "json_object", or ""
	EstimatedTokens        int
}

// TokenEstimator estimates the context size of a message sequence.
// The default is deliberately coarse; swapping in a real tokenizer
// changes the numbers without disturbing routing semantics.
type TokenEstimator interface {
	Estimate(messages []types.ChatMessage) int
}

// CharEstimator estimates tokens as total textual content length
// divided by four.
type CharEstimator struct{}

// Estimate implements TokenEstimator.
func (CharEstimator) Estimate(messages []types.ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.FlattenText())
	}
	return total / 4
}

// Triple backtick with an optional language tag, then a newline.
var codeBlockPattern = regexp.MustCompile("```" + `\w*\n`)

// Analyzer derives routing contexts from raw requests.
type Analyzer struct {
	estimator TokenEstimator
}

// NewAnalyzer creates an analyzer. A nil estimator falls back to
// CharEstimator.
func NewAnalyzer(estimator TokenEstimator) *Analyzer {
	if estimator == nil {
		estimator = CharEstimator{}
	}
	return &Analyzer{estimator: estimator}
}

// Analyze builds the routing context. Empty messages produce a zero
// context with every flag false.
func (a *Analyzer) Analyze(messages []types.ChatMessage, tools []types.Tool, responseFormat *types.ResponseFormat) *Context {
	rctx := &Context{
		Messages:     messages,
		ToolsEnabled: len(tools) > 0,
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			rctx.LastUserMessage = messages[i].FlattenText()
			break
		}
	}

	rctx.HasCodeBlock = codeBlockPattern.MatchString(rctx.LastUserMessage)

	for _, msg := range messages {
		if msg.HasArrayContent() {
			rctx.HasAttachments = true
			break
		}
	}

	if responseFormat != nil {
		switch responseFormat.Type {
		case "json_schema", "json_object":
			rctx.ResponseFormatRequired = responseFormat.Type
		}
	}

	rctx.EstimatedTokens = a.estimator.Estimate(messages)

	return rctx
}
