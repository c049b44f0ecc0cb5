package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opencourse/tutor/internal/ai"
	"github.com/opencourse/tutor/internal/store"
	"github.com/opencourse/tutor/pkg/models"
)

var (
	// ErrUnavailable means the vector store (or the query embedding it
	// depends on) could not be reached. Callers must not degrade to
	// partial or stale results.
	ErrUnavailable = errors.New("retrieval unavailable")

	// ErrModelMismatch means the index was built with a different
	// embedding model than the one configured for queries.
	ErrModelMismatch = errors.New("embedding model version mismatch")
)

// Service embeds queries and runs nearest-neighbor search over the
// chunk store.
type Service struct {
	Client ai.Client
	Store  store.ChunkStore
}

// NewService creates a retrieval service with the provided AI client and store.
func NewService(client ai.Client, st store.ChunkStore) *Service {
	return &Service{Client: client, Store: st}
}

// Retrieve returns the topK chunks most similar to query, each scoring
// at least minScore. Results are sorted by descending score with a
// deterministic tie-break, enforced by the store.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	version, ok, err := s.Store.EmbedModelVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading index metadata: %v", ErrUnavailable, err)
	}
	if ok && version != s.Client.EmbedModel() {
		return nil, fmt.Errorf("%w: index built with %q, client uses %q",
			ErrModelMismatch, version, s.Client.EmbedModel())
	}

	vec, err := s.Client.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding failed: %v", ErrUnavailable, err)
	}

	res, err := s.Store.Search(ctx, vec, topK, minScore)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}
