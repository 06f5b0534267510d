package indexing

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/askrepo/askrepo/internal/ai"
	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/pkg/models"
)

// fileBatchSize is how many files one fetch+chunk+embed+insert cycle covers.
// Progress is persisted after every batch so a poller sees it move.
const fileBatchSize = 20

// Source is the repository view the orchestrator indexes from.
type Source interface {
	// FetchTree lists all blob paths at ref; empty when the ref has no tree.
	FetchTree(ctx context.Context, ref string) ([]string, error)
	// FetchMany fetches contents for paths; failed files are omitted.
	FetchMany(ctx context.Context, ref string, paths []string) []models.RepoFile
}

// SourceFactory opens a Source bound to one installation and repository.
// A fresh Source per run keeps credential lifetime scoped to that run.
type SourceFactory interface {
	Open(installationID int64, repoFullName string) Source
}

// Orchestrator drives full and incremental index runs, owning the project
// status state machine: pending -> indexing -> ready|failed, with ready and
// failed re-enterable on a new run.
type Orchestrator struct {
	projects store.ProjectStore
	chunks   store.ChunkStore
	embedder ai.Embedder
	sources  SourceFactory

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an Orchestrator.
func New(projects store.ProjectStore, chunks store.ChunkStore, embedder ai.Embedder, sources SourceFactory) *Orchestrator {
	return &Orchestrator{
		projects: projects,
		chunks:   chunks,
		embedder: embedder,
		sources:  sources,
		active:   make(map[string]struct{}),
	}
}

// acquire takes the per-project run slot. Runs never queue: a second run on
// a busy project is dropped, so concurrent runs cannot race on status
// writes and chunk delete/insert pairs.
func (o *Orchestrator) acquire(projectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[projectID]; busy {
		return false
	}
	o.active[projectID] = struct{}{}
	return true
}

func (o *Orchestrator) release(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, projectID)
}

// RunHandle identifies one submitted background run.
type RunHandle struct {
	ProjectID string
	done      chan struct{}
}

// Done is closed when the run finishes, regardless of outcome.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// SubmitFullIndex starts a full index run in the background and returns
// immediately. The run outlives the caller's request context.
func (o *Orchestrator) SubmitFullIndex(ctx context.Context, projectID string, installationID int64, repoFullName, branch string) *RunHandle {
	h := &RunHandle{ProjectID: projectID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		o.RunFullIndex(context.WithoutCancel(ctx), projectID, installationID, repoFullName, branch)
	}()
	return h
}

// SubmitIncrementalIndex starts an incremental run in the background.
func (o *Orchestrator) SubmitIncrementalIndex(ctx context.Context, projectID string, installationID int64, repoFullName, branch string, changedFiles, removedFiles []string) *RunHandle {
	h := &RunHandle{ProjectID: projectID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		o.RunIncrementalIndex(context.WithoutCancel(ctx), projectID, installationID, repoFullName, branch, changedFiles, removedFiles)
	}()
	return h
}

// RunFullIndex rebuilds a project's chunk set from scratch. Any error flips
// the project to failed and terminates the run; already-inserted chunks are
// not rolled back since ready is never reached on that path and a retry
// starts with a wholesale delete.
func (o *Orchestrator) RunFullIndex(ctx context.Context, projectID string, installationID int64, repoFullName, branch string) {
	if !o.acquire(projectID) {
		log.Warn().Str("project_id", projectID).Msg("full index already running, dropping run")
		return
	}
	defer o.release(projectID)

	if err := o.fullIndex(ctx, projectID, installationID, repoFullName, branch); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Str("repo", repoFullName).Msg("full index failed")
		if err := o.projects.SetFailed(ctx, projectID); err != nil {
			log.Error().Err(err).Str("project_id", projectID).Msg("failed to mark project failed")
		}
	}
}

func (o *Orchestrator) fullIndex(ctx context.Context, projectID string, installationID int64, repoFullName, branch string) error {
	if err := o.projects.SetIndexing(ctx, projectID); err != nil {
		return fmt.Errorf("mark indexing: %w", err)
	}

	src := o.sources.Open(installationID, repoFullName)

	tree, err := src.FetchTree(ctx, branch)
	if err != nil {
		return fmt.Errorf("fetch tree: %w", err)
	}

	var toIndex []string
	for _, path := range tree {
		if ShouldIndexFile(path) {
			toIndex = append(toIndex, path)
		}
	}

	// An empty or non-code repository is a valid terminal state, not an
	// error.
	if len(toIndex) == 0 {
		log.Info().Str("project_id", projectID).Str("repo", repoFullName).Msg("no indexable files")
		return o.projects.SetReady(ctx, projectID)
	}

	if err := o.chunks.DeleteChunks(ctx, projectID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}

	processed := 0
	for i := 0; i < len(toIndex); i += fileBatchSize {
		end := i + fileBatchSize
		if end > len(toIndex) {
			end = len(toIndex)
		}
		batch := toIndex[i:end]

		files := src.FetchMany(ctx, branch, batch)
		if err := o.indexFiles(ctx, projectID, files); err != nil {
			return err
		}

		processed += len(batch)
		progress := int(math.Round(float64(processed) / float64(len(toIndex)) * 100))
		if err := o.projects.SetProgress(ctx, projectID, progress); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		log.Debug().Str("project_id", projectID).Int("processed", processed).
			Int("total", len(toIndex)).Int("progress", progress).Msg("indexed batch")
	}

	log.Info().Str("project_id", projectID).Str("repo", repoFullName).
		Int("files", len(toIndex)).Msg("full index complete")
	return o.projects.SetReady(ctx, projectID)
}

// RunIncrementalIndex re-indexes only the files a push touched. Failures
// are logged and swallowed: a broken push update degrades to slightly stale
// answers, never to a visible failed status.
func (o *Orchestrator) RunIncrementalIndex(ctx context.Context, projectID string, installationID int64, repoFullName, branch string, changedFiles, removedFiles []string) {
	if !o.acquire(projectID) {
		log.Warn().Str("project_id", projectID).Msg("index run in flight, dropping incremental update")
		return
	}
	defer o.release(projectID)

	if err := o.incrementalIndex(ctx, projectID, installationID, repoFullName, branch, changedFiles, removedFiles); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Str("repo", repoFullName).Msg("incremental index failed")
	}
}

func (o *Orchestrator) incrementalIndex(ctx context.Context, projectID string, installationID int64, repoFullName, branch string, changedFiles, removedFiles []string) error {
	var toProcess []string
	for _, path := range changedFiles {
		if ShouldIndexFile(path) {
			toProcess = append(toProcess, path)
		}
	}

	// Changed files are deleted too: their old chunks are replaced, not
	// amended.
	toRemove := append(append([]string{}, removedFiles...), toProcess...)

	// A push that only touched ignored files is a valid no-op.
	if len(toProcess) == 0 {
		if len(toRemove) == 0 {
			return nil
		}
		return o.chunks.DeleteChunksForFiles(ctx, projectID, toRemove)
	}

	src := o.sources.Open(installationID, repoFullName)
	files := src.FetchMany(ctx, branch, toProcess)
	chunks, err := o.embedFiles(ctx, projectID, files)
	if err != nil {
		return err
	}

	// One replace call swaps out the touched paths; an embedding failure
	// above leaves the previous chunks intact.
	if err := o.chunks.ReplaceForFiles(ctx, projectID, toRemove, chunks); err != nil {
		return fmt.Errorf("replace chunks for changed files: %w", err)
	}

	log.Info().Str("project_id", projectID).Str("repo", repoFullName).
		Int("changed", len(toProcess)).Int("removed", len(removedFiles)).Msg("incremental index complete")
	return o.projects.TouchLastIndexed(ctx, projectID)
}

// indexFiles chunks, embeds, and inserts one batch of fetched files.
func (o *Orchestrator) indexFiles(ctx context.Context, projectID string, files []models.RepoFile) error {
	chunks, err := o.embedFiles(ctx, projectID, files)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := o.chunks.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// embedFiles chunks the fetched files and attaches embeddings. Embedding
// failures abort the run: a chunk stored without its vector would be
// unsearchable with no record of the gap.
func (o *Orchestrator) embedFiles(ctx context.Context, projectID string, files []models.RepoFile) ([]models.CodeChunk, error) {
	var chunks []models.CodeChunk
	for _, file := range files {
		for _, c := range Chunk(file.Path, file.Content, DetectLanguage(file.Path)) {
			c.ProjectID = projectID
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.FilePath + "\n\n" + c.Content
	}

	vecs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	return chunks, nil
}
