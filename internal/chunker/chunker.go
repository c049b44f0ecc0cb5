package chunker

import (
	"regexp"
	"strings"
)

// Config controls chunk sizing. All sizes are in estimated tokens.
type Config struct {
	TargetTokens  int // preferred chunk size
	OverlapTokens int // sentences re-carried into the next chunk
	MaxTokens     int // embedding model input limit per chunk
}

// Chunk is one bounded span of a source document. Position is 1-based
// and stable for unchanged input, which keeps derived chunk ids stable
// across re-indexing.
type Chunk struct {
	Text       string
	Position   int
	TokenCount int
}

var (
	sentenceRe = regexp.MustCompile(`(?mU)([^.!?]+[.!?]+)`)
	fenceRe    = regexp.MustCompile("(?ms)^```[\\w]*\\n.*?^```")
)

func (c Config) withDefaults() Config {
	if c.TargetTokens <= 0 {
		c.TargetTokens = 500
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.MaxTokens < c.TargetTokens {
		c.MaxTokens = c.TargetTokens
	}
	return c
}

// EstimateTokens approximates the token count of technical prose.
// Roughly 1.3 tokens per whitespace-separated word.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	n := int(float64(words) * 1.3)
	if n < 1 {
		n = 1
	}
	return n
}

// Split breaks text into overlapping chunks at sentence and paragraph
// boundaries. Fenced code blocks are kept intact as single units so code
// examples stay retrievable as a whole. Adjacent chunks share trailing
// sentences worth at least OverlapTokens, so answers spanning a chunk
// boundary remain retrievable from at least one chunk.
func Split(text string, cfg Config) []Chunk {
	cfg = cfg.withDefaults()

	units := splitUnits(text, cfg.MaxTokens)
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []string
	curTokens := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		body := strings.TrimSpace(strings.Join(cur, " "))
		if body == "" {
			cur, curTokens = nil, 0
			return
		}
		chunks = append(chunks, Chunk{
			Text:       body,
			Position:   len(chunks) + 1,
			TokenCount: EstimateTokens(body),
		})
		// Seed the next chunk with trailing sentences covering the overlap.
		var carry []string
		carryTokens := 0
		for i := len(cur) - 1; i >= 0 && carryTokens < cfg.OverlapTokens; i-- {
			carry = append([]string{cur[i]}, carry...)
			carryTokens += EstimateTokens(cur[i])
		}
		cur = carry
		curTokens = carryTokens
	}

	for _, u := range units {
		ut := EstimateTokens(u)
		if curTokens+ut > cfg.TargetTokens && curTokens > 0 {
			flush()
		}
		cur = append(cur, u)
		curTokens += ut
	}
	if curTokens > 0 {
		// Avoid emitting a chunk that is pure overlap of the previous one.
		body := strings.TrimSpace(strings.Join(cur, " "))
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1].Text, body) {
			chunks = append(chunks, Chunk{
				Text:       body,
				Position:   len(chunks) + 1,
				TokenCount: EstimateTokens(body),
			})
		}
	}
	return chunks
}

// splitUnits yields the atomic pieces chunks are assembled from: fenced
// code blocks, then sentences within the surrounding paragraphs. Units
// longer than maxTokens are hard-split by words.
func splitUnits(text string, maxTokens int) []string {
	var units []string

	emitProse := func(prose string) {
		for _, para := range strings.Split(prose, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			sentences := sentenceRe.FindAllString(para, -1)
			if len(sentences) == 0 {
				sentences = []string{para}
			}
			for _, s := range sentences {
				s = strings.TrimSpace(s)
				if s != "" {
					units = append(units, hardSplit(s, maxTokens)...)
				}
			}
		}
	}

	last := 0
	for _, loc := range fenceRe.FindAllStringIndex(text, -1) {
		emitProse(text[last:loc[0]])
		units = append(units, hardSplit(text[loc[0]:loc[1]], maxTokens)...)
		last = loc[1]
	}
	emitProse(text[last:])
	return units
}

func hardSplit(s string, maxTokens int) []string {
	if EstimateTokens(s) <= maxTokens {
		return []string{s}
	}
	words := strings.Fields(s)
	// Invert the token estimate to get a word budget per piece.
	perPiece := int(float64(maxTokens) / 1.3)
	if perPiece < 1 {
		perPiece = 1
	}
	var out []string
	for start := 0; start < len(words); start += perPiece {
		end := start + perPiece
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}
