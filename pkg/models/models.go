package models

import "time"

// IndexingStatus tracks where a project is in its indexing lifecycle.
type IndexingStatus string

const (
	StatusPending  IndexingStatus = "pending"
	StatusIndexing IndexingStatus = "indexing"
	StatusReady    IndexingStatus = "ready"
	StatusFailed   IndexingStatus = "failed"
)

// Project is one connected GitHub repository.
type Project struct {
	ID                   string         `json:"id"`
	GithubRepoID         int64          `json:"github_repo_id"`
	GithubRepoFullName   string         `json:"github_repo_full_name"`
	GithubInstallationID int64          `json:"github_installation_id"`
	DefaultBranch        string         `json:"default_branch"`
	IndexingStatus       IndexingStatus `json:"indexing_status"`
	IndexingProgress     int            `json:"indexing_progress"`
	LastIndexedAt        *time.Time     `json:"last_indexed_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// CodeChunk is a contiguous line range of one file at one point in time.
// Rows are never updated in place; re-indexing deletes and re-inserts.
type CodeChunk struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	FilePath  string    `json:"file_path"`
	Content   string    `json:"content"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Language  string    `json:"language,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// RepoFile is a fetched path/content pair. It is never persisted; it only
// carries fetcher output to the chunker.
type RepoFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RankedChunk is a chunk scored against a query by cosine similarity.
type RankedChunk struct {
	Chunk      CodeChunk `json:"chunk"`
	Similarity float64   `json:"similarity"`
}
