package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/askrepo/askrepo/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ProjectStore is the project-row surface consumed by the API layer and the
// indexing orchestrator.
type ProjectStore interface {
	CreateProject(ctx context.Context, p models.Project) (models.Project, error)
	GetProject(ctx context.Context, id string) (models.Project, bool, error)
	ProjectsByRepoID(ctx context.Context, repoID int64) ([]models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	SetIndexing(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, progress int) error
	SetReady(ctx context.Context, id string) error
	SetFailed(ctx context.Context, id string) error
	TouchLastIndexed(ctx context.Context, id string) error
}

// ChunkStore is the chunk persistence surface. Chunk rows are immutable:
// every update is a delete followed by an insert.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.CodeChunk) error
	DeleteChunks(ctx context.Context, projectID string) error
	DeleteChunksForFiles(ctx context.Context, projectID string, filePaths []string) error
	ReplaceAll(ctx context.Context, projectID string, chunks []models.CodeChunk) error
	ReplaceForFiles(ctx context.Context, projectID string, filePaths []string, chunks []models.CodeChunk) error
	NearestNeighbors(ctx context.Context, projectID string, queryVec []float32, k int) ([]models.RankedChunk, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, embeddingDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS projects (
  id                     UUID PRIMARY KEY,
  github_repo_id         BIGINT NOT NULL,
  github_repo_full_name  VARCHAR(255) NOT NULL,
  github_installation_id BIGINT NOT NULL,
  default_branch         VARCHAR(255) NOT NULL DEFAULT 'main',
  indexing_status        VARCHAR(20) NOT NULL DEFAULT 'pending',
  indexing_progress      INT NOT NULL DEFAULT 0,
  last_indexed_at        TIMESTAMP WITH TIME ZONE,
  created_at             TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  updated_at             TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS projects_github_repo_id_idx
  ON projects (github_repo_id);

CREATE TABLE IF NOT EXISTS code_chunks (
  id         UUID PRIMARY KEY,
  project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  file_path  VARCHAR(1000) NOT NULL,
  content    TEXT NOT NULL,
  start_line INT NOT NULL,
  end_line   INT NOT NULL,
  language   VARCHAR(50),
  embedding  vector(%d),
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS code_chunks_project_id_idx
  ON code_chunks (project_id);

CREATE INDEX IF NOT EXISTS code_chunks_project_path_idx
  ON code_chunks (project_id, file_path);

CREATE INDEX IF NOT EXISTS code_chunks_embedding_idx
  ON code_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embeddingDim))
	return err
}

// CreateProject inserts a new project row in the pending state.
func (s *Store) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DefaultBranch == "" {
		p.DefaultBranch = "main"
	}
	p.IndexingStatus = models.StatusPending
	p.IndexingProgress = 0

	const q = `
		INSERT INTO projects (
			id, github_repo_id, github_repo_full_name, github_installation_id,
			default_branch, indexing_status, indexing_progress
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, q,
		p.ID, p.GithubRepoID, p.GithubRepoFullName, p.GithubInstallationID,
		p.DefaultBranch, p.IndexingStatus, p.IndexingProgress,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Project{}, err
	}
	return p, nil
}

const projectColumns = `
	id, github_repo_id, github_repo_full_name, github_installation_id,
	default_branch, indexing_status, indexing_progress, last_indexed_at,
	created_at, updated_at`

func scanProject(row pgx.Row) (models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.GithubRepoID, &p.GithubRepoFullName, &p.GithubInstallationID,
		&p.DefaultBranch, &p.IndexingStatus, &p.IndexingProgress, &p.LastIndexedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (models.Project, bool, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, false, nil
		}
		return models.Project{}, false, err
	}
	return p, true, nil
}

// ProjectsByRepoID returns every project connected to a GitHub repository.
// A webhook delivery fans out to all of them.
func (s *Store) ProjectsByRepoID(ctx context.Context, repoID int64) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE github_repo_id = $1`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project; its chunks cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}

// SetIndexing marks a full-index run as started.
func (s *Store) SetIndexing(ctx context.Context, id string) error {
	return s.setStatus(ctx, id,
		`UPDATE projects SET indexing_status = 'indexing', indexing_progress = 0, updated_at = now() WHERE id = $1`)
}

// SetProgress records batch progress; writes are last-write-wins.
func (s *Store) SetProgress(ctx context.Context, id string, progress int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE projects SET indexing_progress = $2, updated_at = now() WHERE id = $1`, id, progress)
	return err
}

// SetReady marks a full-index run as completed.
func (s *Store) SetReady(ctx context.Context, id string) error {
	return s.setStatus(ctx, id,
		`UPDATE projects SET indexing_status = 'ready', indexing_progress = 100, last_indexed_at = now(), updated_at = now() WHERE id = $1`)
}

// SetFailed marks a full-index run as failed. Progress keeps its last
// observed value so a poller can see where the run died.
func (s *Store) SetFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id,
		`UPDATE projects SET indexing_status = 'failed', updated_at = now() WHERE id = $1`)
}

// TouchLastIndexed advances last_indexed_at without touching status or
// progress; incremental runs are invisible to the status UI.
func (s *Store) TouchLastIndexed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id,
		`UPDATE projects SET last_indexed_at = now(), updated_at = now() WHERE id = $1`)
}

func (s *Store) setStatus(ctx context.Context, id, query string) error {
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

// InsertChunks inserts chunk rows in one batch. Ids are assigned for chunks
// that arrive without one.
func (s *Store) InsertChunks(ctx context.Context, chunks []models.CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO code_chunks (
			id, project_id, file_path, content, start_line, end_line, language, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8)`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		var emb any
		if c.Embedding != nil {
			emb = pgvector.NewVector(c.Embedding)
		} else {
			emb = (*pgvector.Vector)(nil)
		}
		batch.Queue(q, id, c.ProjectID, c.FilePath, c.Content, c.StartLine, c.EndLine, c.Language, emb)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return nil
}

// DeleteChunks removes every chunk for a project.
func (s *Store) DeleteChunks(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM code_chunks WHERE project_id = $1`, projectID)
	return err
}

// DeleteChunksForFiles removes chunks only for the given file paths.
func (s *Store) DeleteChunksForFiles(ctx context.Context, projectID string, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM code_chunks WHERE project_id = $1 AND file_path = ANY($2)`,
		projectID, filePaths)
	return err
}

// ReplaceAll swaps a project's whole chunk set. Delete precedes insert so a
// concurrent reader sees the old chunk or nothing, never a duplicate.
func (s *Store) ReplaceAll(ctx context.Context, projectID string, chunks []models.CodeChunk) error {
	if err := s.DeleteChunks(ctx, projectID); err != nil {
		return err
	}
	return s.InsertChunks(ctx, chunks)
}

// ReplaceForFiles swaps chunks for the given paths only; untouched files'
// chunks survive. filePaths covers removed files too, so it may name paths
// that have no replacement chunks.
func (s *Store) ReplaceForFiles(ctx context.Context, projectID string, filePaths []string, chunks []models.CodeChunk) error {
	if err := s.DeleteChunksForFiles(ctx, projectID, filePaths); err != nil {
		return err
	}
	return s.InsertChunks(ctx, chunks)
}

// NearestNeighbors returns the project's top-k chunks by cosine similarity
// to the query vector, best first.
func (s *Store) NearestNeighbors(ctx context.Context, projectID string, queryVec []float32, k int) ([]models.RankedChunk, error) {
	const q = `
		SELECT id, project_id, file_path, content, start_line, end_line,
		       COALESCE(language, ''), created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM code_chunks
		WHERE project_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, projectID, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RankedChunk
	for rows.Next() {
		var rc models.RankedChunk
		if err := rows.Scan(
			&rc.Chunk.ID, &rc.Chunk.ProjectID, &rc.Chunk.FilePath, &rc.Chunk.Content,
			&rc.Chunk.StartLine, &rc.Chunk.EndLine, &rc.Chunk.Language, &rc.Chunk.CreatedAt,
			&rc.Similarity,
		); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
