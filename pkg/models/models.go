package models

import (
	"fmt"
	"time"
)

// Chunk is a bounded span of source text stored and embedded as one
// retrieval unit. Chunks are immutable; re-indexing a source replaces
// all of its chunks wholesale.
type Chunk struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Module     string    `json:"module"`
	Week       int       `json:"week"`
	Section    string    `json:"section"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// SourceLabel renders the human-readable attribution for a chunk,
// e.g. "Module 1 / Week 3".
func (c Chunk) SourceLabel() string {
	switch {
	case c.Module != "" && c.Week > 0:
		return fmt.Sprintf("%s / Week %d", c.Module, c.Week)
	case c.Module != "":
		return c.Module
	case c.Section != "":
		return c.Section
	default:
		return c.Source
	}
}

// RetrievalResult is one candidate chunk for a query.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Citation attributes part of an answer to a chunk that was actually
// retrieved for the same request.
type Citation struct {
	ChunkID     string  `json:"chunk_id"`
	SourceLabel string  `json:"source_label"`
	Score       float64 `json:"score"`
}

// AnswerMode distinguishes corpus-wide answers from selection-scoped ones.
type AnswerMode string

const (
	ModeGlobal    AnswerMode = "global"
	ModeSelection AnswerMode = "selection"
)

// AnswerResult is the generator output returned to callers. FallbackUsed
// is true exactly when no usable evidence backed the answer.
type AnswerResult struct {
	Answer       string     `json:"answer"`
	Citations    []Citation `json:"citations"`
	FallbackUsed bool       `json:"fallback_used"`
	Mode         AnswerMode `json:"mode"`
}

// Translation is the per-unit outcome of a batch translation. Error is
// set only when the backend failed for this unit after retries.
type Translation struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	Cached         bool   `json:"cached"`
	Error          string `json:"error,omitempty"`
}
