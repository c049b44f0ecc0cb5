package translate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opencourse/tutor/pkg/models"
)

// DefaultPreserveTerms is the stock technical vocabulary that must stay
// untranslated. Callers extend it per request; they cannot shrink it.
var DefaultPreserveTerms = []string{
	"ROS 2", "ROS", "SLAM", "API", "SDK", "URDF", "YAML", "XML", "JSON",
	"Gazebo", "Isaac Sim", "NVIDIA", "Python", "C++", "JavaScript",
	"Docker", "Kubernetes", "Git", "GitHub", "Linux", "Ubuntu",
	"TensorFlow", "PyTorch", "OpenCV", "numpy", "pandas",
	"HTTP", "HTTPS", "REST", "GraphQL", "WebSocket",
	"AI", "ML", "DL", "CNN", "RNN", "LSTM", "GAN", "VAE",
	"RGB", "LIDAR", "IMU", "GPS", "USB", "TCP", "IP",
	"CPU", "GPU", "RAM", "SSD", "HDD",
	"VLA", "LLM", "Transformer", "BERT", "GPT",
}

// Backend translates a batch of texts in one call. The preserve list is
// passed through as an explicit constraint on the request.
type Backend interface {
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string, preserveTerms []string) ([]string, error)
}

// Config holds pipeline tunables.
type Config struct {
	BatchSize     int
	Retry         RetryPolicy
	PreserveTerms []string // merged with DefaultPreserveTerms
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	return c
}

// Pipeline batches page-level text units, deduplicates them through a
// content-hash cache, and guarantees protected terms survive the
// backend round trip.
type Pipeline struct {
	backend Backend
	cache   Cache
	cfg     Config
}

// NewPipeline creates a translation pipeline. The cache is an injected
// dependency, never a package-level singleton.
func NewPipeline(backend Backend, cache Cache, cfg Config) *Pipeline {
	return &Pipeline{backend: backend, cache: cache, cfg: cfg.withDefaults()}
}

// CacheKey derives the cache key for one unit: the hash of the content
// together with the language pair. Identical triples always map to the
// same key.
func CacheKey(text, sourceLang, targetLang string) string {
	h := sha1.Sum([]byte(text + ":" + sourceLang + ":" + targetLang))
	return hex.EncodeToString(h[:])
}

// TranslateBatch resolves every unit either from cache or from the
// backend. A backend failure never fails the whole request: the
// affected units carry a per-unit error status after retries are
// exhausted, while already-resolved units stay valid.
func (p *Pipeline) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string, preserveTerms []string) ([]models.Translation, error) {
	if sourceLang == "" || targetLang == "" {
		return nil, errors.New("source and target language are required")
	}
	results := make([]models.Translation, len(texts))

	// Same-language requests echo the input without caching.
	if sourceLang == targetLang {
		for i, t := range texts {
			results[i] = models.Translation{OriginalText: t, TranslatedText: t}
		}
		return results, nil
	}

	terms := mergeTerms(p.cfg.PreserveTerms, preserveTerms)

	var pending []int
	for i, t := range texts {
		key := CacheKey(t, sourceLang, targetLang)
		cached, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("translation cache read failed, treating as miss")
		}
		if ok {
			results[i] = models.Translation{OriginalText: t, TranslatedText: cached, Cached: true}
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		p.translateBatch(ctx, texts, results, pending[start:end], sourceLang, targetLang, terms)
	}

	return results, nil
}

func (p *Pipeline) translateBatch(ctx context.Context, texts []string, results []models.Translation, idx []int, sourceLang, targetLang string, terms []string) {
	batchID := uuid.NewString()
	fail := func(err error) {
		for _, i := range idx {
			results[i] = models.Translation{
				OriginalText: texts[i],
				Error:        fmt.Sprintf("translation failed: %v", err),
			}
		}
	}

	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	batch := make([]string, len(idx))
	for n, i := range idx {
		batch[n] = texts[i]
	}

	var out []string
	err := p.cfg.Retry.Do(ctx, func() error {
		var callErr error
		out, callErr = p.backend.TranslateBatch(ctx, batch, sourceLang, targetLang, terms)
		if callErr != nil {
			log.Warn().Err(callErr).Str("batch", batchID).Msg("translation backend call failed")
			return callErr
		}
		if len(out) != len(batch) {
			return fmt.Errorf("backend returned %d translations for %d units", len(out), len(batch))
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("batch", batchID).Int("units", len(idx)).Msg("translation batch exhausted retries")
		fail(err)
		return
	}

	for n, i := range idx {
		fixed, corrected := enforceTerms(texts[i], out[n], terms)
		for _, term := range corrected {
			log.Warn().Str("term", term).Str("batch", batchID).Msg("protected term was translated, restored")
		}
		// A canceled caller must not poison the cache with a result it
		// never observed completing.
		if ctx.Err() == nil {
			key := CacheKey(texts[i], sourceLang, targetLang)
			if serr := p.cache.Set(ctx, key, fixed); serr != nil {
				log.Warn().Err(serr).Msg("translation cache write failed")
			}
		}
		results[i] = models.Translation{OriginalText: texts[i], TranslatedText: fixed}
	}
}

// enforceTerms restores protected terms that the backend translated
// anyway: for every term present verbatim in the source but missing
// from the output, case-insensitive standalone occurrences in the
// output are replaced by the exact original term. Returns the
// corrected terms.
func enforceTerms(source, translated string, terms []string) (string, []string) {
	var corrected []string
	for _, term := range terms {
		if term == "" || !strings.Contains(source, term) {
			continue
		}
		if strings.Contains(translated, term) {
			continue
		}
		fixed, ok := restoreTerm(translated, term)
		if ok {
			translated = fixed
			corrected = append(corrected, term)
		} else {
			log.Warn().Str("term", term).Msg("protected term missing from translation, cannot restore")
		}
	}
	return translated, corrected
}

// restoreTerm rewrites case-insensitive matches of term back to its
// exact spelling. Only standalone occurrences are touched: a match
// flanked by a letter or digit sits inside another word ("AI" in
// "maintain") and is left alone. Checking the surrounding runes rather
// than using \b keeps terms like "C++" and "ROS 2" matchable.
func restoreTerm(translated, term string) (string, bool) {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term))

	var b strings.Builder
	last := 0
	restored := false
	for _, loc := range re.FindAllStringIndex(translated, -1) {
		if !standaloneAt(translated, loc[0], loc[1]) {
			continue
		}
		b.WriteString(translated[last:loc[0]])
		b.WriteString(term)
		last = loc[1]
		restored = true
	}
	if !restored {
		return translated, false
	}
	b.WriteString(translated[last:])
	return b.String(), true
}

// standaloneAt reports whether the [start,end) span is bounded by the
// string edges or by non-alphanumeric runes.
func standaloneAt(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func mergeTerms(base, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{DefaultPreserveTerms, base, extra} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
