package indexing

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/askrepo/askrepo/pkg/models"
)

// LocalSource serves a repository checkout from the local filesystem. The
// ref argument on its methods is ignored: whatever is checked out is what
// gets indexed.
type LocalSource struct {
	Root string
}

// NewLocalSource creates a LocalSource rooted at dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{Root: dir}
}

// FetchTree walks the checkout and returns every regular file as a
// repo-relative, slash-separated path. The .git directory is never part of
// a repository tree and is skipped wholesale.
func (s *LocalSource) FetchTree(ctx context.Context, ref string) ([]string, error) {
	var paths []string
	err := godirwalk.Walk(s.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if de.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(s.Root, osPathname)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// FetchFile reads one file; ok is false when it cannot be read.
func (s *LocalSource) FetchFile(ctx context.Context, ref, path string) (string, bool) {
	if !validLocalPath(path) {
		log.Debug().Str("path", path).Msg("refusing path outside checkout")
		return "", false
	}
	b, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(path)))
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("failed to read file")
		return "", false
	}
	return string(b), true
}

// FetchMany reads the given paths, omitting any that fail.
func (s *LocalSource) FetchMany(ctx context.Context, ref string, paths []string) []models.RepoFile {
	var files []models.RepoFile
	for _, p := range paths {
		content, ok := s.FetchFile(ctx, ref, p)
		if !ok {
			continue
		}
		files = append(files, models.RepoFile{Path: p, Content: content})
	}
	return files
}

// validLocalPath rejects absolute paths and parent traversal so a caller
// cannot read outside the checkout.
func validLocalPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
