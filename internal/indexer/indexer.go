package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/opencourse/tutor/internal/ai"
	"github.com/opencourse/tutor/internal/chunker"
	"github.com/opencourse/tutor/internal/store"
	"github.com/opencourse/tutor/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Indexer walks a course content tree and keeps the chunk index in sync
// with it, one source document at a time.
type Indexer struct {
	Store      store.ChunkStore
	DocsRoot   string
	Client     ai.Client
	Chunking   chunker.Config
	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates a new Indexer instance.
func New(s store.ChunkStore, docsRoot string, client ai.Client, chunking chunker.Config) *Indexer {
	return &Indexer{
		Store:      s,
		DocsRoot:   docsRoot,
		Client:     client,
		Chunking:   chunking,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(s store.ChunkStore, docsRoot string, client ai.Client, chunking chunker.Config, walker FileSystemWalker, fileReader FileReader) *Indexer {
	return &Indexer{
		Store:      s,
		DocsRoot:   docsRoot,
		Client:     client,
		Chunking:   chunking,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// workItem represents one source document to be processed
type workItem struct {
	path    string
	content string
}

var (
	moduleRe = regexp.MustCompile(`(?i)module[-_ ]?(\d+)`)
	weekRe   = regexp.MustCompile(`(?i)week[-_ ]?(\d+)`)
)

// sourceMeta derives module, week and section names from the document's
// relative path, e.g. "module-1/week-3/ros2-basics.md".
func sourceMeta(relPath string) (module string, week int, section string) {
	if m := moduleRe.FindStringSubmatch(relPath); m != nil {
		module = "Module " + m[1]
	}
	if m := weekRe.FindStringSubmatch(relPath); m != nil {
		week, _ = strconv.Atoi(m[1])
	}
	base := filepath.Base(relPath)
	section = strings.TrimSuffix(base, filepath.Ext(base))
	return module, week, section
}

// chunkID derives a stable chunk identity from the source path and the
// chunk's position within it.
func chunkID(source string, position int) string {
	h := sha1.Sum([]byte(source + "#" + strconv.Itoa(position)))
	return hex.EncodeToString(h[:])
}

// processWorkItem chunks and embeds one document, then swaps it into
// the store atomically. Returns the number of chunks indexed.
func (ix *Indexer) processWorkItem(ctx context.Context, item workItem) (int, error) {
	relPath := rel(ix.DocsRoot, item.path)
	module, week, section := sourceMeta(relPath)

	pieces := chunker.Split(item.content, ix.Chunking)
	chunks := make([]models.Chunk, 0, len(pieces))
	vectors := make([][]float32, 0, len(pieces))

	for _, p := range pieces {
		vec, err := ix.Client.Embed(ctx, p.Text)
		if err != nil {
			return 0, fmt.Errorf("embed %s chunk %d: %w", relPath, p.Position, err)
		}
		chunks = append(chunks, models.Chunk{
			ID:         chunkID(relPath, p.Position),
			Source:     relPath,
			Module:     module,
			Week:       week,
			Section:    section,
			Position:   p.Position,
			Content:    p.Text,
			TokenCount: p.TokenCount,
		})
		vectors = append(vectors, vec)
	}

	log.Info().Str("source", relPath).Int("chunks", len(chunks)).Msg("indexing source")
	if err := ix.Store.ReplaceSource(ctx, relPath, chunks, vectors); err != nil {
		return 0, fmt.Errorf("replace source %s: %w", relPath, err)
	}
	return len(chunks), nil
}

// Run indexes every markdown document under DocsRoot and returns the
// total number of chunks indexed. If the index was built with a
// different embedding model, the store is reset first so vectors from
// incompatible models never mix.
func (ix *Indexer) Run(ctx context.Context) (int, error) {
	current := ix.Client.EmbedModel()
	stored, ok, err := ix.Store.EmbedModelVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read embed model version: %w", err)
	}
	if ok && stored != current {
		log.Warn().Str("stored", stored).Str("current", current).Msg("embedding model changed, resetting index")
		if err := ix.Store.Reset(ctx); err != nil {
			return 0, fmt.Errorf("reset index: %w", err)
		}
	}
	if err := ix.Store.SetEmbedModelVersion(ctx, current); err != nil {
		return 0, fmt.Errorf("record embed model version: %w", err)
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8 // cap to avoid overwhelming the AI API
	}

	log.Info().Int("workers", numWorkers).Str("root", ix.DocsRoot).Msg("starting concurrent indexing")

	workChan := make(chan workItem, numWorkers*2)
	errorChan := make(chan error, 1)

	var indexed int64
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				n, err := ix.processWorkItem(ctx, item)
				if err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("path", item.path).Msg("worker processing error")
					}
					continue
				}
				atomic.AddInt64(&indexed, int64(n))
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := ix.Walker.Walk(ix.DocsRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de may be nil when a mock walker drives the callback
			if de != nil && de.IsDir() {
				return nil
			}
			if shouldSkip(path) {
				return nil
			}

			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, content: string(b)}:
			case <-ctx.Done():
				return ctx.Err()
			}

			return nil
		},
	})

	close(workChan)
	wg.Wait()
	close(errorChan)

	total := int(atomic.LoadInt64(&indexed))
	if err := <-errorChan; err != nil {
		return total, err
	}

	return total, walkErr
}

// shouldSkip returns true unless the path is a markdown course document.
func shouldSkip(path string) bool {
	p := strings.ToLower(path)
	if strings.Contains(p, "/.git/") ||
		strings.Contains(p, "/node_modules/") ||
		strings.Contains(p, "/build/") ||
		strings.Contains(p, "/.cache/") {
		return true
	}
	switch filepath.Ext(p) {
	case ".md", ".mdx":
		return false
	}
	return true
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
