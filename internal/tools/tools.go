package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/askrepo/askrepo/internal/gh"
	"github.com/askrepo/askrepo/internal/indexing"
)

const (
	// maxListFiles bounds the file list a single tool call returns.
	maxListFiles = 500
	// maxReadBytes bounds the content a single readFile call returns.
	maxReadBytes = 100_000

	truncationNote = "File was truncated at ~100KB. Ask the user if you need to see more."
	searchFallback = "Code search is unavailable. Use listFiles to browse the directory structure and readFile to inspect specific files instead."
)

// Source is the live repository view the tools read from. Tools bypass the
// chunk store on purpose: answers reflect the current branch head, not the
// last index run.
type Source interface {
	FetchTree(ctx context.Context, ref string) ([]string, error)
	FetchFile(ctx context.Context, ref, path string) (string, bool)
	SearchCode(ctx context.Context, query string) (*gh.CodeSearchResult, error)
}

// ToolSet exposes the bounded repository operations one agent conversation
// turn may use, scoped to a single repository and branch. The tree fetched
// for listFiles is cached for the ToolSet's lifetime, so a set must not
// outlive the turn it was built for.
type ToolSet struct {
	src    Source
	branch string

	mu   sync.Mutex
	tree []string
}

// NewToolSet creates a ToolSet over one repository branch.
func NewToolSet(src Source, branch string) *ToolSet {
	return &ToolSet{src: src, branch: branch}
}

// indexableTree returns the filtered file tree, fetching it at most once.
func (t *ToolSet) indexableTree(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tree != nil {
		return t.tree, nil
	}

	all, err := t.src.FetchTree(ctx, t.branch)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	tree := make([]string, 0, len(all))
	for _, p := range all {
		if indexing.ShouldIndexFile(p) {
			tree = append(tree, p)
		}
	}
	t.tree = tree
	return tree, nil
}

// ListFilesResult is the listFiles response.
type ListFilesResult struct {
	Files      []string `json:"files"`
	TotalCount int      `json:"totalCount"`
	Truncated  bool     `json:"truncated"`
}

// ListFiles lists indexable files, optionally filtered by a path prefix.
// Only the first maxListFiles entries are returned; TotalCount reports the
// full match count.
func (t *ToolSet) ListFiles(ctx context.Context, pathPrefix string) (ListFilesResult, error) {
	tree, err := t.indexableTree(ctx)
	if err != nil {
		return ListFilesResult{}, err
	}

	filtered := tree
	if pathPrefix != "" {
		filtered = make([]string, 0, len(tree))
		for _, p := range tree {
			if strings.HasPrefix(p, pathPrefix) {
				filtered = append(filtered, p)
			}
		}
	}

	out := ListFilesResult{
		Files:      filtered,
		TotalCount: len(filtered),
		Truncated:  len(filtered) > maxListFiles,
	}
	if out.Truncated {
		out.Files = filtered[:maxListFiles]
	}
	return out, nil
}

// ReadFileResult is the readFile response. Exactly one of Content and Error
// is meaningful; a missing file is a result, not an error, so the agent
// loop can keep going.
type ReadFileResult struct {
	Content     string `json:"content,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	TotalLength int    `json:"totalLength,omitempty"`
	Note        string `json:"note,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ReadFile returns one file's content, truncated at maxReadBytes.
func (t *ToolSet) ReadFile(ctx context.Context, filePath string) ReadFileResult {
	content, ok := t.src.FetchFile(ctx, t.branch, filePath)
	if !ok {
		return ReadFileResult{Error: fmt.Sprintf("File not found: %s", filePath)}
	}
	if len(content) > maxReadBytes {
		return ReadFileResult{
			Content:     content[:maxReadBytes],
			Truncated:   true,
			TotalLength: len(content),
			Note:        truncationNote,
		}
	}
	return ReadFileResult{Content: content}
}

// SearchCodeResult is the searchCode response. A failed search carries an
// Error plus a Suggestion pointing the agent at the listFiles/readFile
// fallback path instead of aborting the turn.
type SearchCodeResult struct {
	Results    []gh.CodeMatch `json:"results,omitempty"`
	TotalCount int            `json:"totalCount"`
	Error      string         `json:"error,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// SearchCode runs a live code search scoped to the repository.
func (t *ToolSet) SearchCode(ctx context.Context, query string) SearchCodeResult {
	res, err := t.src.SearchCode(ctx, query)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("code search failed, suggesting fallback")
		return SearchCodeResult{Error: err.Error(), Suggestion: searchFallback}
	}
	return SearchCodeResult{Results: res.Matches, TotalCount: res.TotalCount}
}
