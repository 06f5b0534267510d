package main

import (
	"context"
	"log"
	"strings"

	"github.com/spf13/pflag"

	"github.com/askrepo/askrepo/internal/ai"
	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/gh"
	"github.com/askrepo/askrepo/internal/indexing"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/pkg/models"
)

// staticFactory hands every run the same pre-built source. Used for local
// checkouts, where there is no installation to open a source for.
type staticFactory struct {
	src indexing.Source
}

func (f staticFactory) Open(installationID int64, repoFullName string) indexing.Source {
	return f.src
}

func main() {
	fs := pflag.NewFlagSet("askrepo-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
	case "voyage":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderVoyage,
		}
	case "vertexai":
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
		log.Fatalf("unsupported provider: %s", provider)
	}

	embedder, err := ai.NewEmbedder(clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if embedder.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	// Either a remote repo (owner/name) or a local checkout, not both.
	var (
		sources  indexing.SourceFactory
		repoName string
	)
	switch {
	case cfg.Repo != "":
		sources = &gh.Factory{Tokens: &gh.StaticTokenProvider{Token: cfg.GithubToken}}
		repoName = cfg.Repo
	case cfg.RepoRoot != "":
		sources = staticFactory{src: indexing.NewLocalSource(cfg.RepoRoot)}
		repoName = "local:" + cfg.RepoRoot
	default:
		log.Fatal("either --repo or --repo-root is required")
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, embedder.Dim()); err != nil {
		log.Fatal(err)
	}

	p, err := st.CreateProject(ctx, models.Project{
		GithubRepoFullName: repoName,
		DefaultBranch:      cfg.Branch,
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("project %s created, indexing %s@%s", p.ID, repoName, p.DefaultBranch)

	orch := indexing.New(st, st, embedder, sources)
	orch.RunFullIndex(ctx, p.ID, p.GithubInstallationID, p.GithubRepoFullName, p.DefaultBranch)

	p, found, err := st.GetProject(ctx, p.ID)
	if err != nil || !found {
		log.Fatalf("project disappeared after run: %v", err)
	}
	if p.IndexingStatus != models.StatusReady {
		log.Fatalf("indexing finished with status %s", p.IndexingStatus)
	}
	log.Printf("indexing complete, project %s ready", p.ID)
}
