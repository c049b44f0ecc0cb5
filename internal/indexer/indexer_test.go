package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/opencourse/tutor/internal/chunker"
	"github.com/opencourse/tutor/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	return "", nil
}

func (m *MockAIClient) Dim() int { return 3 }

func (m *MockAIClient) EmbedModel() string { return "test-embed-model" }

// MockChunkStore implements the store.ChunkStore interface for testing
type MockChunkStore struct {
	mu sync.Mutex

	ReplaceSourceFunc     func(ctx context.Context, source string, chunks []models.Chunk, vectors [][]float32) error
	EmbedModelVersionFunc func(ctx context.Context) (string, bool, error)

	replaced   map[string][]models.Chunk
	resetCalls int
	setVersion string
}

func (m *MockChunkStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockChunkStore) ReplaceSource(ctx context.Context, source string, chunks []models.Chunk, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplaceSourceFunc != nil {
		return m.ReplaceSourceFunc(ctx, source, chunks, vectors)
	}
	if m.replaced == nil {
		m.replaced = make(map[string][]models.Chunk)
	}
	m.replaced[source] = chunks
	return nil
}

func (m *MockChunkStore) Search(ctx context.Context, vec []float32, k int, minScore float64) ([]models.RetrievalResult, error) {
	return nil, nil
}

func (m *MockChunkStore) EmbedModelVersion(ctx context.Context) (string, bool, error) {
	if m.EmbedModelVersionFunc != nil {
		return m.EmbedModelVersionFunc(ctx)
	}
	return "", false, nil
}

func (m *MockChunkStore) SetEmbedModelVersion(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setVersion = version
	return nil
}

func (m *MockChunkStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++
	return nil
}

func (m *MockChunkStore) Ping(ctx context.Context) error { return nil }

// MockFileSystemWalker drives the callback with a fixed path list
type MockFileSystemWalker struct {
	paths []string
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	for _, p := range m.paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockFileReader serves file content from a map
type MockFileReader struct {
	files map[string]string
}

func (m *MockFileReader) ReadFile(filename string) ([]byte, error) {
	if content, ok := m.files[filename]; ok {
		return []byte(content), nil
	}
	return nil, errors.New("file not found")
}

func newTestIndexer(s *MockChunkStore, walker *MockFileSystemWalker, reader *MockFileReader) *Indexer {
	return NewWithDependencies(s, "/docs", &MockAIClient{}, chunker.Config{}, walker, reader)
}

func TestSourceMeta(t *testing.T) {
	tests := []struct {
		name        string
		relPath     string
		wantModule  string
		wantWeek    int
		wantSection string
	}{
		{
			name:        "module and week in path",
			relPath:     "module-1/week-3/ros2-basics.md",
			wantModule:  "Module 1",
			wantWeek:    3,
			wantSection: "ros2-basics",
		},
		{
			name:        "underscore separators",
			relPath:     "module_2/week_10/slam.md",
			wantModule:  "Module 2",
			wantWeek:    10,
			wantSection: "slam",
		},
		{
			name:        "no structure",
			relPath:     "intro.md",
			wantModule:  "",
			wantWeek:    0,
			wantSection: "intro",
		},
		{
			name:        "mdx extension stripped",
			relPath:     "module-4/overview.mdx",
			wantModule:  "Module 4",
			wantWeek:    0,
			wantSection: "overview",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, week, section := sourceMeta(tt.relPath)
			if module != tt.wantModule || week != tt.wantWeek || section != tt.wantSection {
				t.Errorf("sourceMeta(%q) = (%q, %d, %q), want (%q, %d, %q)",
					tt.relPath, module, week, section, tt.wantModule, tt.wantWeek, tt.wantSection)
			}
		})
	}
}

func TestChunkIDStable(t *testing.T) {
	a := chunkID("module-1/week-3/intro.md", 1)
	b := chunkID("module-1/week-3/intro.md", 1)
	if a != b {
		t.Errorf("same source/position must yield same ID: %q != %q", a, b)
	}
	if chunkID("module-1/week-3/intro.md", 2) == a {
		t.Error("different positions must yield different IDs")
	}
	if chunkID("other.md", 1) == a {
		t.Error("different sources must yield different IDs")
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/docs/module-1/intro.md", false},
		{"/docs/module-1/intro.mdx", false},
		{"/docs/module-1/diagram.png", true},
		{"/docs/notes.txt", true},
		{"/docs/.git/config.md", true},
		{"/docs/node_modules/pkg/readme.md", true},
	}
	for _, tt := range tests {
		if got := shouldSkip(tt.path); got != tt.want {
			t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRunIndexesMarkdownSources(t *testing.T) {
	s := &MockChunkStore{}
	walker := &MockFileSystemWalker{paths: []string{
		"/docs/module-1/week-3/ros2-basics.md",
		"/docs/module-1/week-3/diagram.png",
	}}
	reader := &MockFileReader{files: map[string]string{
		"/docs/module-1/week-3/ros2-basics.md": "ROS 2 is a robotics framework. It provides nodes and topics.",
	}}

	ix := newTestIndexer(s, walker, reader)
	n, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	chunks, ok := s.replaced["module-1/week-3/ros2-basics.md"]
	if !ok {
		t.Fatalf("expected source to be replaced, got %v", s.replaced)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if n != len(chunks) {
		t.Errorf("Run() reported %d chunks, store received %d", n, len(chunks))
	}
	c := chunks[0]
	if c.Module != "Module 1" || c.Week != 3 {
		t.Errorf("chunk metadata = module %q week %d, want Module 1 / 3", c.Module, c.Week)
	}
	if c.Position != 1 {
		t.Errorf("first chunk position = %d, want 1", c.Position)
	}
	if c.ID != chunkID("module-1/week-3/ros2-basics.md", 1) {
		t.Errorf("chunk ID not derived from source and position: %q", c.ID)
	}
	if s.setVersion != "test-embed-model" {
		t.Errorf("embed model version = %q, want test-embed-model", s.setVersion)
	}
}

func TestRunResetsOnModelChange(t *testing.T) {
	s := &MockChunkStore{
		EmbedModelVersionFunc: func(ctx context.Context) (string, bool, error) {
			return "old-model", true, nil
		},
	}
	walker := &MockFileSystemWalker{}
	reader := &MockFileReader{}

	ix := newTestIndexer(s, walker, reader)
	if _, err := ix.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.resetCalls != 1 {
		t.Errorf("expected one reset after model change, got %d", s.resetCalls)
	}
}

func TestRunKeepsIndexOnSameModel(t *testing.T) {
	s := &MockChunkStore{
		EmbedModelVersionFunc: func(ctx context.Context) (string, bool, error) {
			return "test-embed-model", true, nil
		},
	}
	ix := newTestIndexer(s, &MockFileSystemWalker{}, &MockFileReader{})
	if _, err := ix.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.resetCalls != 0 {
		t.Errorf("reset must not run when the model is unchanged, got %d", s.resetCalls)
	}
}

func TestRunReportsEmbedFailure(t *testing.T) {
	s := &MockChunkStore{}
	walker := &MockFileSystemWalker{paths: []string{"/docs/intro.md"}}
	reader := &MockFileReader{files: map[string]string{"/docs/intro.md": "Some content here."}}

	ix := newTestIndexer(s, walker, reader)
	ix.Client = &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("quota exhausted")
		},
	}

	if _, err := ix.Run(context.Background()); err == nil {
		t.Error("expected embed failure to surface from Run")
	}
}

func TestRunSkipsUnreadableFiles(t *testing.T) {
	s := &MockChunkStore{}
	walker := &MockFileSystemWalker{paths: []string{"/docs/missing.md"}}
	reader := &MockFileReader{files: map[string]string{}}

	ix := newTestIndexer(s, walker, reader)
	if n, err := ix.Run(context.Background()); err != nil || n != 0 {
		t.Fatalf("unreadable file should be skipped, got n=%d err=%v", n, err)
	}
	if len(s.replaced) != 0 {
		t.Errorf("nothing should be indexed, got %v", s.replaced)
	}
}
