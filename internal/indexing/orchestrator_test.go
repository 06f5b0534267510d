package indexing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/askrepo/askrepo/internal/ai"
	"github.com/askrepo/askrepo/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// fakeStore implements store.ProjectStore and store.ChunkStore in memory.
type fakeStore struct {
	mu              sync.Mutex
	status          models.IndexingStatus
	progressHistory []int
	lastIndexed     int
	replaceCalls    int
	chunks          []models.CodeChunk

	failInsert   bool
	failProgress bool
}

func (f *fakeStore) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	return p, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (models.Project, bool, error) {
	return models.Project{}, false, nil
}

func (f *fakeStore) ProjectsByRepoID(ctx context.Context, repoID int64) ([]models.Project, error) {
	return nil, nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, id string) error { return nil }

func (f *fakeStore) SetIndexing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = models.StatusIndexing
	f.progressHistory = append(f.progressHistory, 0)
	return nil
}

func (f *fakeStore) SetProgress(ctx context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProgress {
		return errors.New("progress write failed")
	}
	f.progressHistory = append(f.progressHistory, progress)
	return nil
}

func (f *fakeStore) SetReady(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = models.StatusReady
	f.progressHistory = append(f.progressHistory, 100)
	f.lastIndexed++
	return nil
}

func (f *fakeStore) SetFailed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = models.StatusFailed
	return nil
}

func (f *fakeStore) TouchLastIndexed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIndexed++
	return nil
}

func (f *fakeStore) InsertChunks(ctx context.Context, chunks []models.CodeChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return errors.New("insert failed")
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeStore) DeleteChunks(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = nil
	return nil
}

func (f *fakeStore) DeleteChunksForFiles(ctx context.Context, projectID string, filePaths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[string]struct{}, len(filePaths))
	for _, p := range filePaths {
		drop[p] = struct{}{}
	}
	kept := f.chunks[:0]
	for _, c := range f.chunks {
		if _, ok := drop[c.FilePath]; !ok {
			kept = append(kept, c)
		}
	}
	f.chunks = kept
	return nil
}

func (f *fakeStore) ReplaceAll(ctx context.Context, projectID string, chunks []models.CodeChunk) error {
	if err := f.DeleteChunks(ctx, projectID); err != nil {
		return err
	}
	return f.InsertChunks(ctx, chunks)
}

func (f *fakeStore) ReplaceForFiles(ctx context.Context, projectID string, filePaths []string, chunks []models.CodeChunk) error {
	f.mu.Lock()
	f.replaceCalls++
	f.mu.Unlock()
	if err := f.DeleteChunksForFiles(ctx, projectID, filePaths); err != nil {
		return err
	}
	return f.InsertChunks(ctx, chunks)
}

func (f *fakeStore) NearestNeighbors(ctx context.Context, projectID string, queryVec []float32, k int) ([]models.RankedChunk, error) {
	return nil, nil
}

func (f *fakeStore) chunkPaths() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, c := range f.chunks {
		counts[c.FilePath]++
	}
	return counts
}

// fakeSource serves a fixed tree and content set.
type fakeSource struct {
	tree    []string
	files   map[string]string
	treeErr error
}

func (s *fakeSource) FetchTree(ctx context.Context, ref string) ([]string, error) {
	if s.treeErr != nil {
		return nil, s.treeErr
	}
	return s.tree, nil
}

func (s *fakeSource) FetchMany(ctx context.Context, ref string, paths []string) []models.RepoFile {
	var out []models.RepoFile
	for _, p := range paths {
		if content, ok := s.files[p]; ok {
			out = append(out, models.RepoFile{Path: p, Content: content})
		}
	}
	return out
}

type fakeFactory struct {
	source *fakeSource
}

func (f *fakeFactory) Open(installationID int64, repoFullName string) Source {
	return f.source
}

// failingEmbedder always errors on document embedding.
type failingEmbedder struct{ ai.StubEmbedder }

func (f *failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func newTestOrchestrator(st *fakeStore, src *fakeSource) *Orchestrator {
	return New(st, st, ai.NewStubEmbedder(4), &fakeFactory{source: src})
}

func nLines(n int) string {
	return strings.Repeat("x\n", n-1) + "x"
}

func TestRunFullIndex(t *testing.T) {
	st := &fakeStore{}
	src := &fakeSource{
		tree: []string{"src/app.ts", "node_modules/x/y.js", "README.md"},
		files: map[string]string{
			"src/app.ts":          nLines(50),
			"node_modules/x/y.js": nLines(100),
			"README.md":           nLines(10),
		},
	}
	o := newTestOrchestrator(st, src)

	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")

	if st.status != models.StatusReady {
		t.Fatalf("status = %s, want ready", st.status)
	}
	counts := st.chunkPaths()
	if len(counts) != 2 || counts["src/app.ts"] != 1 || counts["README.md"] != 1 {
		t.Errorf("chunk counts = %v, want one each for src/app.ts and README.md", counts)
	}
	if counts["node_modules/x/y.js"] != 0 {
		t.Error("ignored file was indexed")
	}

	// Progress must be monotonically non-decreasing and end at 100.
	last := -1
	for _, p := range st.progressHistory {
		if p < last {
			t.Fatalf("progress went backwards: %v", st.progressHistory)
		}
		last = p
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}

	// Every chunk carries its vector and project id.
	for _, c := range st.chunks {
		if c.Embedding == nil {
			t.Errorf("chunk %s has no embedding", c.FilePath)
		}
		if c.ProjectID != "p1" {
			t.Errorf("chunk %s has project id %q", c.FilePath, c.ProjectID)
		}
	}
}

func TestRunFullIndexManyBatches(t *testing.T) {
	src := &fakeSource{files: map[string]string{}}
	for i := 0; i < 45; i++ {
		path := fmt.Sprintf("src/file%02d.go", i)
		src.tree = append(src.tree, path)
		src.files[path] = nLines(5)
	}
	st := &fakeStore{}
	o := newTestOrchestrator(st, src)

	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")

	if st.status != models.StatusReady {
		t.Fatalf("status = %s, want ready", st.status)
	}
	if got := len(st.chunks); got != 45 {
		t.Errorf("got %d chunks, want 45", got)
	}
	// 45 files in batches of 20: progress 44, 89, 100, then the final 100.
	want := []int{0, 44, 89, 100, 100}
	if len(st.progressHistory) != len(want) {
		t.Fatalf("progress history = %v, want %v", st.progressHistory, want)
	}
	for i := range want {
		if st.progressHistory[i] != want[i] {
			t.Fatalf("progress history = %v, want %v", st.progressHistory, want)
		}
	}
}

func TestRunFullIndexEmptyRepo(t *testing.T) {
	st := &fakeStore{}
	src := &fakeSource{tree: []string{"image.png", "node_modules/a.js"}}
	o := newTestOrchestrator(st, src)

	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")

	if st.status != models.StatusReady {
		t.Fatalf("status = %s, want ready for repo with no indexable files", st.status)
	}
	if len(st.chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(st.chunks))
	}
}

func TestRunFullIndexTreeErrorFails(t *testing.T) {
	st := &fakeStore{}
	src := &fakeSource{treeErr: errors.New("boom")}
	o := newTestOrchestrator(st, src)

	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")

	if st.status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", st.status)
	}
}

func TestRunFullIndexEmbeddingFailureFails(t *testing.T) {
	st := &fakeStore{}
	src := &fakeSource{
		tree:  []string{"main.go"},
		files: map[string]string{"main.go": nLines(10)},
	}
	o := New(st, st, &failingEmbedder{}, &fakeFactory{source: src})

	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")

	if st.status != models.StatusFailed {
		t.Fatalf("status = %s, want failed on embedding error", st.status)
	}
	if len(st.chunks) != 0 {
		t.Errorf("chunks inserted despite embedding failure: %d", len(st.chunks))
	}
}

func preloadedStore() *fakeStore {
	return &fakeStore{
		status: models.StatusReady,
		chunks: []models.CodeChunk{
			{ProjectID: "p1", FilePath: "src/app.ts", Content: "old a"},
			{ProjectID: "p1", FilePath: "old.ts", Content: "old b"},
			{ProjectID: "p1", FilePath: "c.ts", Content: "old c"},
		},
	}
}

func TestRunIncrementalIndex(t *testing.T) {
	st := preloadedStore()
	src := &fakeSource{files: map[string]string{"src/app.ts": "new content"}}
	o := newTestOrchestrator(st, src)

	o.RunIncrementalIndex(context.Background(), "p1", 42, "acme/widgets", "main",
		[]string{"src/app.ts"}, []string{"old.ts"})

	counts := st.chunkPaths()
	if counts["old.ts"] != 0 {
		t.Error("removed file still has chunks")
	}
	if counts["src/app.ts"] != 1 {
		t.Errorf("changed file has %d chunks, want 1", counts["src/app.ts"])
	}
	if counts["c.ts"] != 1 {
		t.Error("untouched file's chunks were disturbed")
	}
	for _, c := range st.chunks {
		if c.FilePath == "src/app.ts" && c.Content != "new content" {
			t.Errorf("changed file content = %q, want new content", c.Content)
		}
	}
	if st.status != models.StatusReady {
		t.Errorf("status = %s, incremental runs must not touch status", st.status)
	}
	if st.lastIndexed != 1 {
		t.Errorf("lastIndexed touched %d times, want 1", st.lastIndexed)
	}
	// The touched paths go through one replace call, not separate
	// delete/insert steps.
	if st.replaceCalls != 1 {
		t.Errorf("replace called %d times, want 1", st.replaceCalls)
	}
}

func TestRunIncrementalIndexEmbedFailureKeepsOldChunks(t *testing.T) {
	st := preloadedStore()
	src := &fakeSource{files: map[string]string{"src/app.ts": "new content"}}
	o := New(st, st, &failingEmbedder{}, &fakeFactory{source: src})

	o.RunIncrementalIndex(context.Background(), "p1", 42, "acme/widgets", "main",
		[]string{"src/app.ts"}, nil)

	// The replace never ran, so the previous chunks survive.
	counts := st.chunkPaths()
	if counts["src/app.ts"] != 1 {
		t.Errorf("changed file has %d chunks, want the old one kept", counts["src/app.ts"])
	}
	for _, c := range st.chunks {
		if c.FilePath == "src/app.ts" && c.Content != "old a" {
			t.Errorf("changed file content = %q, want old a", c.Content)
		}
	}
	if st.status != models.StatusReady {
		t.Errorf("status = %s, incremental failure must not flip status", st.status)
	}
	if st.lastIndexed != 0 {
		t.Error("lastIndexed advanced on a failed run")
	}
}

func TestRunIncrementalIndexRemovalOnly(t *testing.T) {
	st := preloadedStore()
	src := &fakeSource{}
	o := newTestOrchestrator(st, src)

	o.RunIncrementalIndex(context.Background(), "p1", 42, "acme/widgets", "main",
		nil, []string{"old.ts"})

	counts := st.chunkPaths()
	if counts["old.ts"] != 0 {
		t.Error("removed file still has chunks")
	}
	if counts["src/app.ts"] != 1 || counts["c.ts"] != 1 {
		t.Errorf("untouched files disturbed: %v", counts)
	}
	if st.replaceCalls != 0 {
		t.Errorf("replace called %d times on a removal-only push, want 0", st.replaceCalls)
	}
}

func TestRunIncrementalIndexOnlyIgnoredFiles(t *testing.T) {
	st := preloadedStore()
	src := &fakeSource{}
	o := newTestOrchestrator(st, src)

	o.RunIncrementalIndex(context.Background(), "p1", 42, "acme/widgets", "main",
		[]string{"node_modules/dep/index.js"}, nil)

	if len(st.chunks) != 3 {
		t.Errorf("chunks changed on ignored-only push: %d", len(st.chunks))
	}
	if st.lastIndexed != 0 {
		t.Error("lastIndexed advanced without any work")
	}
}

func TestRunIncrementalIndexErrorLeavesStatusAlone(t *testing.T) {
	st := preloadedStore()
	st.failInsert = true
	src := &fakeSource{files: map[string]string{"src/app.ts": "new"}}
	o := newTestOrchestrator(st, src)

	o.RunIncrementalIndex(context.Background(), "p1", 42, "acme/widgets", "main",
		[]string{"src/app.ts"}, nil)

	if st.status != models.StatusReady {
		t.Errorf("status = %s, incremental failure must not flip status", st.status)
	}
}

func TestConcurrentFullIndexDropped(t *testing.T) {
	st := &fakeStore{}
	src := &fakeSource{tree: []string{"main.go"}, files: map[string]string{"main.go": "x"}}
	o := newTestOrchestrator(st, src)

	// Simulate a run already in flight.
	if !o.acquire("p1") {
		t.Fatal("could not take run slot")
	}
	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")

	// The dropped run must not have touched the state machine.
	if st.status != "" {
		t.Errorf("status = %s, want untouched", st.status)
	}
	o.release("p1")

	// Slot free again: the run proceeds.
	o.RunFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")
	if st.status != models.StatusReady {
		t.Errorf("status = %s after release, want ready", st.status)
	}
}

func TestSubmitFullIndexReturnsHandle(t *testing.T) {
	st := &fakeStore{}
	src := &fakeSource{tree: []string{"main.go"}, files: map[string]string{"main.go": "package main"}}
	o := newTestOrchestrator(st, src)

	h := o.SubmitFullIndex(context.Background(), "p1", 42, "acme/widgets", "main")
	if h.ProjectID != "p1" {
		t.Errorf("handle project id = %q", h.ProjectID)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if st.status != models.StatusReady {
		t.Errorf("status = %s, want ready", st.status)
	}
}
