package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/askrepo/askrepo/internal/ai"
	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/gh"
	"github.com/askrepo/askrepo/internal/indexing"
	"github.com/askrepo/askrepo/internal/retrieve"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/pkg/models"
)

type createProjectRequest struct {
	GithubRepoID         int64  `json:"githubRepoId"`
	GithubRepoFullName   string `json:"githubRepoFullName"`
	GithubInstallationID int64  `json:"githubInstallationId"`
	DefaultBranch        string `json:"defaultBranch"`
}

type statusResponse struct {
	IndexingStatus   models.IndexingStatus `json:"indexingStatus"`
	IndexingProgress int                   `json:"indexingProgress"`
	LastIndexedAt    *time.Time            `json:"lastIndexedAt"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type searchResult struct {
	FilePath   string  `json:"filePath"`
	Content    string  `json:"content"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	Language   string  `json:"language,omitempty"`
	Similarity float64 `json:"similarity"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("askrepo-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting askrepo api")

	// Create embedding client configuration
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "voyage":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderVoyage,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	embedder, err := ai.NewEmbedder(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}

	dim := embedder.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("embedding client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Installation tokens come from the GitHub App when one is configured;
	// a personal access token covers local development.
	var tokens gh.TokenProvider
	if cfg.GithubApp.AppID != 0 {
		pem, err := os.ReadFile(cfg.GithubApp.PrivateKeyPath)
		if err != nil {
			log.Fatalf("Failed to read GitHub App private key: %v", err)
		}
		tokens, err = gh.NewAppAuth(fmt.Sprint(cfg.GithubApp.AppID), pem)
		if err != nil {
			log.Fatalf("Failed to initialize GitHub App auth: %v", err)
		}
	} else {
		logger.Warn().Msg("no GitHub App configured, using static token")
		tokens = &gh.StaticTokenProvider{Token: cfg.GithubToken}
	}

	orch := indexing.New(st, st, embedder, &gh.Factory{Tokens: tokens})
	retriever := retrieve.New(embedder, st)
	webhookSecret := []byte(cfg.GithubApp.WebhookSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("POST /webhook/github", func(w http.ResponseWriter, r *http.Request) {
		payload, err := gh.ValidateWebhook(r, webhookSecret)
		if err != nil {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		push, err := gh.ParsePushEvent(r, payload)
		if err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		if push == nil {
			// Some other event type; acknowledge and move on.
			w.WriteHeader(http.StatusOK)
			return
		}

		changes := gh.ExtractPushChanges(push)
		projects, err := st.ProjectsByRepoID(r.Context(), changes.RepoID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		submitted := 0
		for _, p := range projects {
			if p.DefaultBranch != changes.Branch {
				continue
			}
			orch.SubmitIncrementalIndex(r.Context(), p.ID, changes.InstallationID,
				p.GithubRepoFullName, p.DefaultBranch, changes.ChangedFiles, changes.RemovedFiles)
			submitted++
		}
		hlog.FromRequest(r).Info().Int64("repo_id", changes.RepoID).Str("branch", changes.Branch).
			Int("changed", len(changes.ChangedFiles)).Int("removed", len(changes.RemovedFiles)).
			Int("projects", submitted).Msg("push received")
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /projects", func(w http.ResponseWriter, r *http.Request) {
		var req createProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.GithubRepoID == 0 || req.GithubRepoFullName == "" || req.GithubInstallationID == 0 {
			http.Error(w, "githubRepoId, githubRepoFullName and githubInstallationId are required", http.StatusBadRequest)
			return
		}

		p, err := st.CreateProject(r.Context(), models.Project{
			GithubRepoID:         req.GithubRepoID,
			GithubRepoFullName:   req.GithubRepoFullName,
			GithubInstallationID: req.GithubInstallationID,
			DefaultBranch:        req.DefaultBranch,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		orch.SubmitFullIndex(r.Context(), p.ID, p.GithubInstallationID, p.GithubRepoFullName, p.DefaultBranch)
		writeJSON(w, http.StatusCreated, p)
	})

	mux.HandleFunc("GET /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, found, err := st.GetProject(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	mux.HandleFunc("GET /projects/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		p, found, err := st.GetProject(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			IndexingStatus:   p.IndexingStatus,
			IndexingProgress: p.IndexingProgress,
			LastIndexedAt:    p.LastIndexedAt,
		})
	})

	mux.HandleFunc("POST /projects/{id}/reindex", func(w http.ResponseWriter, r *http.Request) {
		p, found, err := st.GetProject(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		orch.SubmitFullIndex(r.Context(), p.ID, p.GithubInstallationID, p.GithubRepoFullName, p.DefaultBranch)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("DELETE /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /projects/{id}/search", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.PathValue("id")

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Query == "" {
			http.Error(w, "query is required", http.StatusBadRequest)
			return
		}

		p, found, err := st.GetProject(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		if p.IndexingStatus != models.StatusReady {
			http.Error(w, fmt.Sprintf("project is %s, not ready for search", p.IndexingStatus), http.StatusConflict)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		ranked, err := retriever.Query(ctx, id, req.Query, req.TopK)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		out := make([]searchResult, 0, len(ranked))
		for _, rc := range ranked {
			out = append(out, searchResult{
				FilePath:   rc.Chunk.FilePath,
				Content:    rc.Chunk.Content,
				StartLine:  rc.Chunk.StartLine,
				EndLine:    rc.Chunk.EndLine,
				Language:   rc.Chunk.Language,
				Similarity: rc.Similarity,
			})
		}
		writeJSON(w, http.StatusOK, out)

		hlog.FromRequest(r).Info().Str("project_id", id).Str("q", req.Query).
			Int("results", len(out)).Dur("dur", time.Since(start)).Msg("served")
	})

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
