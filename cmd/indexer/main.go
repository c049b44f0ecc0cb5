package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/opencourse/tutor/internal/ai"
	"github.com/opencourse/tutor/internal/chunker"
	"github.com/opencourse/tutor/internal/config"
	"github.com/opencourse/tutor/internal/indexer"
	"github.com/opencourse/tutor/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("tutor-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderOpenAI,
		}
	case "gemini", "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderGemini,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	if fi, err := os.Stat(cfg.DocsRoot); err != nil || !fi.IsDir() {
		log.Fatalf("docs root is not a directory: %s", cfg.DocsRoot)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	ix := indexer.New(st, cfg.DocsRoot, c, chunker.Config{
		TargetTokens:  cfg.ChunkTokens,
		OverlapTokens: cfg.OverlapTokens,
		MaxTokens:     cfg.MaxTokens,
	})

	n, err := ix.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("indexing complete: %d chunks indexed", n)
}
