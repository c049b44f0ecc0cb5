package translate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opencourse/tutor/internal/ai"
)

var languageNames = map[string]string{
	"en": "English",
	"ur": "Urdu",
}

const backendSystemPrompt = "You are a professional translator specializing in technical education content. " +
	"Maintain the exact meaning and tone of the original text, keep URLs, file paths and code " +
	"blocks unchanged, preserve formatting, and do not add any explanations or notes."

// LLMBackend implements Backend on top of an ai.Client, packing every
// unit of a batch into one numbered-segment prompt and unpacking the
// response by the same markers.
type LLMBackend struct {
	client ai.Client
}

// NewLLMBackend wraps an AI client as a translation backend.
func NewLLMBackend(client ai.Client) *LLMBackend {
	return &LLMBackend{client: client}
}

var segmentRe = regexp.MustCompile(`(?m)^<<<SEGMENT (\d+)>>>[ \t]*$`)

func (b *LLMBackend) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string, preserveTerms []string) ([]string, error) {
	prompt := buildBatchPrompt(texts, sourceLang, targetLang, preserveTerms)
	raw, err := b.client.Generate(ctx, backendSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseSegments(raw, len(texts))
}

func buildBatchPrompt(texts []string, sourceLang, targetLang string, preserveTerms []string) string {
	source := languageNames[sourceLang]
	if source == "" {
		source = sourceLang
	}
	target := languageNames[targetLang]
	if target == "" {
		target = targetLang
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Translate each numbered segment below from %s to %s.\n", source, target)
	fmt.Fprintf(&b, "Preserve these specific terms in English, exactly as written: %s.\n", strings.Join(preserveTerms, ", "))
	b.WriteString("Return every segment translated, each preceded by its own unchanged marker line.\n\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "<<<SEGMENT %d>>>\n%s\n", i+1, t)
	}
	return b.String()
}

// parseSegments splits the model output back into per-unit
// translations. Missing or duplicated markers make the whole batch
// fail, which the pipeline treats as retryable.
func parseSegments(raw string, want int) ([]string, error) {
	matches := segmentRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) != want {
		return nil, fmt.Errorf("expected %d segment markers, found %d", want, len(matches))
	}

	out := make([]string, want)
	for i, m := range matches {
		n, err := strconv.Atoi(raw[m[2]:m[3]])
		if err != nil || n < 1 || n > want {
			return nil, fmt.Errorf("invalid segment marker %q", raw[m[0]:m[1]])
		}
		start := m[1]
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if out[n-1] != "" {
			return nil, fmt.Errorf("duplicate segment marker %d", n)
		}
		out[n-1] = strings.TrimSpace(raw[start:end])
	}
	for i, s := range out {
		if s == "" {
			return nil, fmt.Errorf("segment %d missing from response", i+1)
		}
	}
	return out, nil
}
