package gh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v80/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/askrepo/askrepo/pkg/models"
)

const (
	treeTimeout = 30 * time.Second
	fileTimeout = 15 * time.Second

	// fetchBatchSize bounds concurrent content fetches per batch to stay
	// clear of secondary rate limits.
	fetchBatchSize = 10
)

// Fetcher reads one repository's tree and file contents through the GitHub
// REST API, authenticated as an App installation. A Fetcher caches its
// installation token for its own lifetime only; build one per indexing run
// or per tool-resolution cycle.
type Fetcher struct {
	tokens         TokenProvider
	installationID int64
	owner          string
	repo           string
	limiter        *RateLimiter
	baseURL        string // test override, empty in production

	mu     sync.Mutex
	client *gogithub.Client
}

// NewFetcher creates a Fetcher for one (installation, repository) pair.
// repoFullName is "owner/name".
func NewFetcher(tokens TokenProvider, installationID int64, repoFullName string) *Fetcher {
	owner, repo, _ := strings.Cut(repoFullName, "/")
	return &Fetcher{
		tokens:         tokens,
		installationID: installationID,
		owner:          owner,
		repo:           repo,
		limiter:        NewRateLimiter(),
	}
}

// ensureClient exchanges the installation credential lazily, on first use.
func (f *Fetcher) ensureClient(ctx context.Context) (*gogithub.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}

	token, err := f.tokens.InstallationToken(ctx, f.installationID)
	if err != nil {
		return nil, fmt.Errorf("get installation token: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = treeTimeout

	client := gogithub.NewClient(tc)
	if f.baseURL != "" {
		client, err = client.WithEnterpriseURLs(f.baseURL, f.baseURL)
		if err != nil {
			return nil, err
		}
	}
	f.client = client
	return client, nil
}

// FetchTree returns every blob path at the given ref. A missing or empty
// tree yields an empty list, not an error; the repository may simply have
// no commits on that branch yet.
func (f *Fetcher) FetchTree(ctx context.Context, ref string) ([]string, error) {
	client, err := f.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, treeTimeout)
	defer cancel()

	tree, resp, err := client.Git.GetTree(ctx, f.owner, f.repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("get tree %s/%s@%s: %w", f.owner, f.repo, ref, err)
	}
	f.limiter.Update(resp)

	if tree == nil || len(tree.Entries) == 0 {
		log.Warn().Str("repo", f.owner+"/"+f.repo).Str("ref", ref).Msg("no tree returned")
		return []string{}, nil
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" && entry.GetPath() != "" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// FetchFile fetches and decodes one file at the given ref. Any per-file
// failure (not found, directory, decode error, network fault) returns
// ok=false; callers skip the file rather than aborting.
func (f *Fetcher) FetchFile(ctx context.Context, ref, path string) (string, bool) {
	client, err := f.ensureClient(ctx)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("fetch file: no client")
		return "", false
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, fileTimeout)
	defer cancel()

	content, _, resp, err := client.Repositories.GetContents(ctx, f.owner, f.repo, path,
		&gogithub.RepositoryContentGetOptions{Ref: ref})
	f.limiter.Update(resp)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Str("ref", ref).Msg("fetch file failed")
		return "", false
	}
	if content == nil {
		// Path resolved to a directory.
		return "", false
	}

	decoded, err := content.GetContent()
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("decode file content failed")
		return "", false
	}
	return decoded, true
}

// FetchMany fetches a set of paths with bounded concurrency. Files that fail
// to fetch are omitted from the result; callers must handle receiving fewer
// files than requested.
func (f *Fetcher) FetchMany(ctx context.Context, ref string, paths []string) []models.RepoFile {
	results := make([]models.RepoFile, 0, len(paths))

	for i := 0; i < len(paths); i += fetchBatchSize {
		end := i + fetchBatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[i:end]
		fetched := make([]*models.RepoFile, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for j, path := range batch {
			g.Go(func() error {
				if content, ok := f.FetchFile(gctx, ref, path); ok {
					fetched[j] = &models.RepoFile{Path: path, Content: content}
				}
				return nil
			})
		}
		_ = g.Wait() // individual failures already dropped

		for _, file := range fetched {
			if file != nil {
				results = append(results, *file)
			}
		}
	}
	return results
}
