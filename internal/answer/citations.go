package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opencourse/tutor/pkg/models"
)

const (
	groundedSystemPrompt = "You are a teaching assistant for a technical course. " +
		"Answer strictly and only from the numbered excerpts supplied in the prompt. " +
		"Never use outside knowledge. After every statement drawn from an excerpt, cite it " +
		"as [Source N]. If the excerpts do not answer the question, reply with exactly " +
		notFoundToken + " and nothing else."

	selectionSystemPrompt = "You are a teaching assistant for a technical course. " +
		"The student highlighted a passage and asked a question about it. Answer using only " +
		"the selected passage; never use outside knowledge and never reference other course " +
		"material. If the passage does not answer the question, reply with exactly " +
		notFoundToken + " and nothing else."
)

var citationRe = regexp.MustCompile(`\[Source\s+(\d+)\]`)

// buildGroundedPrompt tags every retrieved chunk with a number and its
// source label, then asks the question. The numbering is the contract
// the citation validator checks against.
func buildGroundedPrompt(query string, results []models.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Course excerpts:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n\n", i+1, r.Chunk.SourceLabel(), r.Chunk.Content)
	}
	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}

func buildSelectionPrompt(query, selection string) string {
	var b strings.Builder
	b.WriteString("Selected passage:\n\n")
	b.WriteString(selection)
	fmt.Fprintf(&b, "\n\nQuestion about the passage: %s\n", query)
	return b.String()
}

// ParseCitations extracts [Source N] markers from the model's raw
// output and validates each against the chunks that were actually
// supplied. The output is untrusted: markers referencing excerpts the
// model was never given are dropped, and the dropped count is returned
// so callers can log the violation. Valid citations are deduplicated in
// order of first appearance.
func ParseCitations(raw string, supplied []models.RetrievalResult) ([]models.Citation, int) {
	seen := make(map[int]bool)
	var citations []models.Citation
	dropped := 0

	for _, m := range citationRe.FindAllStringSubmatch(raw, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(supplied) {
			dropped++
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		r := supplied[n-1]
		citations = append(citations, models.Citation{
			ChunkID:     r.Chunk.ID,
			SourceLabel: r.Chunk.SourceLabel(),
			Score:       r.Score,
		})
	}
	return citations, dropped
}

var markerSpaceRe = regexp.MustCompile(`\s*\[Source\s+\d+\]`)

// stripCitationMarkers removes inline [Source N] markers from the
// answer text; the structured citation list carries the attribution.
func stripCitationMarkers(raw string) string {
	return strings.TrimSpace(markerSpaceRe.ReplaceAllString(raw, ""))
}
