// Package rag reranks pre-retrieved knowledge-base chunks and injects
// the survivors into the conversation. Scoring is BM25 over the query
// terms blended linearly with the caller's vector score; retrieval
// itself happens upstream of the gateway.
package rag

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/modelgate/modelgate/pkg/types"
)

// Reranker type tags recorded in logs.
const (
	RerankerBM25 = "lexical_bm25"
	RerankerNone = "none"
)

// Preview bounds: the first previewLimit characters of a chunk, with an
// ellipsis when truncated.
const (
	previewLimit    = 400
	previewEllipsis = "..."
)

// Params tunes the reranker. Zero values fall back to defaults.
type Params struct {
	K1            float64
	B             float64
	VectorWeight  float64
	LexicalWeight float64
	TopK          int
}

// DefaultParams returns the standard tuning.
func DefaultParams() Params {
	return Params{
		K1:            1.5,
		B:             0.75,
		VectorWeight:  0.3,
		LexicalWeight: 0.7,
		TopK:          5,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.K1 <= 0 {
		p.K1 = def.K1
	}
	if p.B <= 0 {
		p.B = def.B
	}
	if p.VectorWeight == 0 && p.LexicalWeight == 0 {
		p.VectorWeight = def.VectorWeight
		p.LexicalWeight = def.LexicalWeight
	}
	if p.TopK <= 0 {
		p.TopK = def.TopK
	}
	return p
}

// RankedChunk is a candidate chunk with its reranker scores attached.
type RankedChunk struct {
	types.RAGChunk
	LexicalScore float64 `json:"lexical_score"`
	FinalScore   float64 `json:"final_score"`
	Preview      string  `json:"preview"`
}

// Result is the outcome of one rerank pass.
type Result struct {
	Chunks       []RankedChunk
	RerankerType string
	Latency      time.Duration
}

var wordPattern = regexp.MustCompile(`\w+`)

// tokenize lowercases and extracts maximal word-character runs.
func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// termFrequencies counts token occurrences.
func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// Rerank scores candidates against the query and returns the top-k by
// blended score, highest first. It is pure: identical inputs produce
// identical ordering. Empty input yields an empty result tagged
// RerankerNone with zero latency.
func Rerank(query string, candidates []types.RAGChunk, params Params) Result {
	if len(candidates) == 0 {
		return Result{RerankerType: RerankerNone}
	}
	params = params.withDefaults()
	start := time.Now()

	queryTerms := termFrequencies(tokenize(query))

	docs := make([]map[string]int, len(candidates))
	lengths := make([]int, len(candidates))
	totalLen := 0
	for i, c := range candidates {
		tokens := tokenize(c.Content)
		docs[i] = termFrequencies(tokens)
		lengths[i] = len(tokens)
		totalLen += len(tokens)
	}
	avgLen := float64(totalLen) / float64(len(candidates))

	// IDF per query term; a term absent from every candidate scores 0.
	n := float64(len(candidates))
	idf := make(map[string]float64, len(queryTerms))
	idfSum := 0.0
	for term := range queryTerms {
		df := 0.0
		for _, doc := range docs {
			if doc[term] > 0 {
				df++
			}
		}
		if df == 0 {
			continue
		}
		v := math.Log((n - df + 0.5) / (df + 0.5))
		idf[term] = v
		idfSum += v
	}

	// Normalization ceiling: the score of a hypothetical document where
	// every query term saturates its tf factor.
	maxScore := idfSum * (params.K1 + 1)

	ranked := make([]RankedChunk, len(candidates))
	for i, c := range candidates {
		score := 0.0
		for term, termIDF := range idf {
			tf := float64(docs[i][term])
			if tf == 0 {
				continue
			}
			lengthFactor := 1.0
			if avgLen > 0 {
				lengthFactor = 1 - params.B + params.B*float64(lengths[i])/avgLen
			}
			score += termIDF * (tf * (params.K1 + 1)) / (tf + params.K1*lengthFactor)
		}

		lexical := 0.0
		if maxScore > 0 {
			lexical = math.Min(math.Max(score/maxScore, 0), 1)
		}

		ranked[i] = RankedChunk{
			RAGChunk:     c,
			LexicalScore: lexical,
			FinalScore:   params.VectorWeight*c.Score + params.LexicalWeight*lexical,
			Preview:      buildPreview(c.Content),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	if len(ranked) > params.TopK {
		ranked = ranked[:params.TopK]
	}

	return Result{
		Chunks:       ranked,
		RerankerType: RerankerBM25,
		Latency:      time.Since(start),
	}
}

// buildPreview returns the first 400 characters of content, with an
// ellipsis appended when the content was longer.
func buildPreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + previewEllipsis
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Sources converts ranked chunks into the caller-facing source list.
func Sources(ranked []RankedChunk) []types.Source {
	if len(ranked) == 0 {
		return nil
	}
	out := make([]types.Source, len(ranked))
	for i, c := range ranked {
		title := c.DocTitle
		if title == "" {
			title = "Unknown"
		}
		out[i] = types.Source{
			Rank:        i + 1,
			DocID:       c.DocID,
			DocTitle:    title,
			DocPath:     c.DocPath,
			ChunkID:     c.ChunkID,
			Preview:     c.Preview,
			VectorScore: round3(c.Score),
			RerankScore: round3(c.LexicalScore),
			FinalScore:  round3(c.FinalScore),
			Metadata:    c.Metadata,
		}
	}
	return out
}
