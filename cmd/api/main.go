package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/opencourse/tutor/internal/ai"
	"github.com/opencourse/tutor/internal/answer"
	"github.com/opencourse/tutor/internal/auth"
	"github.com/opencourse/tutor/internal/config"
	"github.com/opencourse/tutor/internal/retrieval"
	"github.com/opencourse/tutor/internal/store"
	"github.com/opencourse/tutor/internal/translate"
	"github.com/opencourse/tutor/pkg/models"
)

type answerRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type selectionRequest struct {
	Question  string `json:"question"`
	Selection string `json:"selection"`
}

type answerResponse struct {
	Answer       string            `json:"answer"`
	Citations    []models.Citation `json:"citations"`
	FallbackUsed bool              `json:"fallback_used"`
	Mode         models.AnswerMode `json:"mode"`
}

type translateRequest struct {
	Texts         []string `json:"texts"`
	SourceLang    string   `json:"source_lang"`
	TargetLang    string   `json:"target_lang"`
	PreserveTerms []string `json:"preserve_terms,omitempty"`
}

type translateResponse struct {
	Translations []models.Translation `json:"translations"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "gemini", "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderGemini,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func supportedLang(cfg config.Specification, lang string) bool {
	for _, l := range cfg.Translate.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

func main() {
	fs := pflag.NewFlagSet("tutor-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting tutor api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatal(err)
	}

	auth.Initialize(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", c.EmbedModel()).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	retriever := retrieval.NewService(c, st)
	generator := answer.NewGenerator(retriever, c, answer.Config{
		TopK:       cfg.TopK,
		MinScore:   cfg.MinScore,
		GenTimeout: cfg.GenTimeout,
	})

	var cache translate.Cache
	switch strings.ToLower(cfg.Translate.CacheBackend) {
	case "redis":
		rc := translate.NewRedisCache(cfg.Translate.RedisAddr, cfg.Translate.CacheTTL)
		defer func() { _ = rc.Close() }()
		cache = rc
	case "memory", "":
		mc := translate.NewMemoryCache(cfg.Translate.CacheTTL, cfg.Translate.SweepInterval)
		defer mc.Stop()
		cache = mc
	default:
		log.Fatalf("unsupported translation cache backend: %s", cfg.Translate.CacheBackend)
	}

	pipeline := translate.NewPipeline(translate.NewLLMBackend(c), cache, translate.Config{
		BatchSize: cfg.Translate.BatchSize,
		Retry: translate.RetryPolicy{
			MaxAttempts:  cfg.Translate.MaxAttempts,
			InitialDelay: cfg.Translate.RetryDelay,
		},
		PreserveTerms: cfg.Translate.PreserveTerms,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	prober := ai.NewProber(c, time.Minute)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		storeUp := st.Ping(r.Context()) == nil
		genUp := prober.Up(r.Context())
		status := map[string]any{
			"status":             "ok",
			"retrieval_store_up": storeUp,
			"generator_up":       genUp,
		}
		code := http.StatusOK
		if !storeUp || !genUp {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": auth.IsEnabled()})
	})

	mux.HandleFunc("/answer", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}

		res, err := generator.Answer(r.Context(), req.Question, req.TopK)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, retrieval.ErrUnavailable) || errors.Is(err, retrieval.ErrModelMismatch) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}

		writeJSON(w, http.StatusOK, answerResponse{
			Answer:       res.Answer,
			Citations:    res.Citations,
			FallbackUsed: res.FallbackUsed,
			Mode:         res.Mode,
		})
		hlog.FromRequest(r).Info().Str("path", "/answer").Bool("fallback", res.FallbackUsed).Int("citations", len(res.Citations)).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("/answer/selection", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req selectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Selection) == "" {
			http.Error(w, "question and selection are required", http.StatusBadRequest)
			return
		}

		res, err := generator.AnswerFromSelection(r.Context(), req.Selection, req.Question)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, answerResponse{
			Answer:       res.Answer,
			Citations:    res.Citations,
			FallbackUsed: res.FallbackUsed,
			Mode:         res.Mode,
		})
		hlog.FromRequest(r).Info().Str("path", "/answer/selection").Bool("fallback", res.FallbackUsed).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("/translate/batch", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.Texts) == 0 {
			http.Error(w, "texts is required", http.StatusBadRequest)
			return
		}
		if len(req.Texts) > cfg.Translate.MaxBatchTexts {
			http.Error(w, fmt.Sprintf("too many texts: max %d", cfg.Translate.MaxBatchTexts), http.StatusBadRequest)
			return
		}
		if !supportedLang(cfg, req.SourceLang) || !supportedLang(cfg, req.TargetLang) {
			http.Error(w, fmt.Sprintf("unsupported language pair %q -> %q", req.SourceLang, req.TargetLang), http.StatusBadRequest)
			return
		}

		translations, err := pipeline.TranslateBatch(r.Context(), req.Texts, req.SourceLang, req.TargetLang, req.PreserveTerms)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		cached := 0
		for _, t := range translations {
			if t.Cached {
				cached++
			}
		}
		writeJSON(w, http.StatusOK, translateResponse{Translations: translations})
		hlog.FromRequest(r).Info().Str("path", "/translate/batch").Int("texts", len(req.Texts)).Int("cached", cached).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("/translate/cache/stats", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		n, err := cache.Len(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": n,
			"backend": cfg.Translate.CacheBackend,
			"ttl":     cfg.Translate.CacheTTL.String(),
		})
	}))

	mux.HandleFunc("/translate/cache/clear", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := cache.Clear(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
