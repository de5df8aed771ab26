package types //nolint:revive // package name is intentional

import "github.com/goccy/go-json"

// RAGChunk is a pre-retrieved candidate chunk supplied by the caller.
// Score is the caller's vector similarity for the chunk; the reranker
// blends it with a lexical score.
type RAGChunk struct {
	DocID    string          `json:"doc_id"`
	DocTitle string          `json:"doc_title,omitempty"`
	DocPath  string          `json:"doc_path,omitempty"`
	ChunkID  string          `json:"chunk_id"`
	Content  string          `json:"content"`
	Score    float64         `json:"score"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Source describes one injected chunk in the form shown to end users.
// Scores are rounded to three decimals.
type Source struct {
	Rank        int             `json:"rank"`
	DocID       string          `json:"doc_id"`
	DocTitle    string          `json:"doc_title"`
	DocPath     string          `json:"doc_path,omitempty"`
	ChunkID     string          `json:"chunk_id"`
	Preview     string          `json:"preview"`
	VectorScore float64         `json:"vector_score"`
	RerankScore float64         `json:"rerank_score"`
	FinalScore  float64         `json:"final_score"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}
