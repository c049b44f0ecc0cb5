package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opencourse/tutor/pkg/models"
)

const (
	// FallbackMessage is the canonical response when no usable evidence
	// exists in the indexed corpus.
	FallbackMessage = "I couldn't find relevant information in the course material to answer your question. Please try rephrasing or asking about a different topic covered in the course."

	// SelectionFallbackMessage is the canonical response when the
	// caller-supplied excerpt does not answer the question.
	SelectionFallbackMessage = "The selected text does not contain enough information to answer your question."

	// notFoundToken is what the model is instructed to emit when the
	// supplied evidence cannot answer the question.
	notFoundToken = "NOT_FOUND"
)

// ErrGenerationFailed is returned after the model call failed twice
// (one retry on timeout) with the same evidence set.
var ErrGenerationFailed = errors.New("generation failed")

// Retriever is the slice of the retrieval service the generator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]models.RetrievalResult, error)
}

// LLM is the slice of the AI client the generator needs.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Config holds the tunables of the generator. TopK and MinScore are
// deliberately configuration, not constants.
type Config struct {
	TopK       int
	MinScore   float64
	GenTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.TopK > 10 {
		c.TopK = 10
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.65
	}
	if c.GenTimeout <= 0 {
		c.GenTimeout = 30 * time.Second
	}
	return c
}

// Generator produces answers that are provably grounded in retrieved
// evidence, falling back to a canonical not-found response otherwise.
type Generator struct {
	retriever Retriever
	llm       LLM
	cfg       Config
}

// NewGenerator creates a grounded response generator.
func NewGenerator(retriever Retriever, llm LLM, cfg Config) *Generator {
	return &Generator{retriever: retriever, llm: llm, cfg: cfg.withDefaults()}
}

// Answer retrieves evidence for query and generates a cited answer.
// TopK overrides the configured value when positive.
func (g *Generator) Answer(ctx context.Context, query string, topK int) (models.AnswerResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.AnswerResult{}, errors.New("query must not be empty")
	}
	k := g.cfg.TopK
	if topK > 0 {
		k = topK
		if k > 10 {
			k = 10
		}
	}

	results, err := g.retriever.Retrieve(ctx, query, k, g.cfg.MinScore)
	if err != nil {
		return models.AnswerResult{}, err
	}
	if len(results) == 0 {
		// Short-circuit: no model call when there is no evidence.
		log.Info().Str("query", query).Msg("no evidence above threshold, returning fallback")
		return fallback(models.ModeGlobal), nil
	}

	raw, err := g.generateWithRetry(ctx, groundedSystemPrompt, buildGroundedPrompt(query, results))
	if err != nil {
		return models.AnswerResult{}, err
	}

	if isNotFound(raw) {
		return fallback(models.ModeGlobal), nil
	}

	citations, dropped := ParseCitations(raw, results)
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Str("query", query).Msg("model cited sources it was not given")
	}
	if len(citations) == 0 {
		// Evidence was retrieved but the model did not ground its answer
		// in any of it; treat as not found rather than trust the output.
		return fallback(models.ModeGlobal), nil
	}

	return models.AnswerResult{
		Answer:       stripCitationMarkers(raw),
		Citations:    citations,
		FallbackUsed: false,
		Mode:         models.ModeGlobal,
	}, nil
}

// AnswerFromSelection answers query using only the caller-supplied
// excerpt. No retrieval happens and no corpus citations are produced.
func (g *Generator) AnswerFromSelection(ctx context.Context, selection, query string) (models.AnswerResult, error) {
	selection = strings.TrimSpace(selection)
	query = strings.TrimSpace(query)
	if selection == "" {
		return models.AnswerResult{}, errors.New("selection must not be empty")
	}
	if query == "" {
		return models.AnswerResult{}, errors.New("query must not be empty")
	}

	raw, err := g.generateWithRetry(ctx, selectionSystemPrompt, buildSelectionPrompt(query, selection))
	if err != nil {
		return models.AnswerResult{}, err
	}

	if isNotFound(raw) {
		res := fallback(models.ModeSelection)
		res.Answer = SelectionFallbackMessage
		return res, nil
	}

	return models.AnswerResult{
		Answer:       strings.TrimSpace(raw),
		Citations:    []models.Citation{},
		FallbackUsed: false,
		Mode:         models.ModeSelection,
	}, nil
}

// generateWithRetry invokes the model under the configured deadline and
// retries once, with identical input, if the call timed out. A caller
// disconnect is not retried.
func (g *Generator) generateWithRetry(ctx context.Context, system, prompt string) (string, error) {
	attempt := func() (string, error) {
		gctx, cancel := context.WithTimeout(ctx, g.cfg.GenTimeout)
		defer cancel()
		return g.llm.Generate(gctx, system, prompt)
	}

	raw, err := attempt()
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("generation timed out, retrying once")
		raw, err = attempt()
		if err == nil {
			return raw, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
}

func fallback(mode models.AnswerMode) models.AnswerResult {
	msg := FallbackMessage
	if mode == models.ModeSelection {
		msg = SelectionFallbackMessage
	}
	return models.AnswerResult{
		Answer:       msg,
		Citations:    []models.Citation{},
		FallbackUsed: true,
		Mode:         mode,
	}
}

// isNotFound matches the protocol reply, not mere mentions: an answer
// that quotes the token mid-sentence is still an answer.
func isNotFound(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), notFoundToken)
}
