package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// embedServer fakes the Voyage API. Each input gets a one-element vector
// carrying a running sequence number so ordering is observable.
type embedServer struct {
	mu       sync.Mutex
	requests []voyageRequest
	status   int
	next     float32
}

func (s *embedServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req voyageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.requests = append(s.requests, req)

	if s.status != 0 && s.status != http.StatusOK {
		http.Error(w, "upstream failure", s.status)
		return
	}

	type item struct {
		Embedding []float32 `json:"embedding"`
	}
	resp := struct {
		Data []item `json:"data"`
	}{}
	for range req.Input {
		resp.Data = append(resp.Data, item{Embedding: []float32{s.next}})
		s.next++
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func newVoyageTestClient(t *testing.T, srv *embedServer) *VoyageClient {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)

	c := NewVoyageClient(&ClientConfig{APIKey: "test-key", Provider: ProviderVoyage})
	c.baseURL = ts.URL
	return c
}

func TestEmbedDocumentsPreservesOrderAcrossBatches(t *testing.T) {
	srv := &embedServer{}
	c := newVoyageTestClient(t, srv)

	texts := make([]string, 300)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	vecs, err := c.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 300 {
		t.Fatalf("got %d vectors, want 300", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 1 || v[0] != float32(i) {
			t.Fatalf("vecs[%d] = %v, want [%d]", i, v, i)
		}
	}

	// 300 inputs with a batch size of 128 means 3 sequential calls.
	if len(srv.requests) != 3 {
		t.Fatalf("got %d requests, want 3", len(srv.requests))
	}
	sizes := []int{128, 128, 44}
	for i, req := range srv.requests {
		if len(req.Input) != sizes[i] {
			t.Errorf("request %d carried %d inputs, want %d", i, len(req.Input), sizes[i])
		}
		if req.InputType != "document" {
			t.Errorf("request %d input_type = %q, want document", i, req.InputType)
		}
	}
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	srv := &embedServer{}
	c := newVoyageTestClient(t, srv)

	vecs, err := c.EmbedDocuments(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 0 {
		t.Errorf("got %d vectors, want 0", len(vecs))
	}
	if len(srv.requests) != 0 {
		t.Errorf("made %d requests, want 0", len(srv.requests))
	}
}

func TestEmbedDocumentsFailsLoudlyOnNonSuccess(t *testing.T) {
	srv := &embedServer{status: http.StatusTooManyRequests}
	c := newVoyageTestClient(t, srv)

	if _, err := c.EmbedDocuments(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestEmbedQueryUsesQueryInputType(t *testing.T) {
	srv := &embedServer{}
	c := newVoyageTestClient(t, srv)

	vec, err := c.EmbedQuery(context.Background(), "how does auth work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 1 {
		t.Fatalf("got vector %v", vec)
	}
	if len(srv.requests) != 1 || srv.requests[0].InputType != "query" {
		t.Fatalf("query embedding did not use query input_type: %+v", srv.requests)
	}
}

func TestEmbedRequiresAPIKey(t *testing.T) {
	c := NewVoyageClient(&ClientConfig{Provider: ProviderVoyage})
	if _, err := c.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestVoyageDefaults(t *testing.T) {
	c := NewVoyageClient(&ClientConfig{Provider: ProviderVoyage})
	if c.config.EmbedModel != "voyage-code-3" {
		t.Errorf("default model = %q", c.config.EmbedModel)
	}
	if c.Dim() != 1024 {
		t.Errorf("default dim = %d, want 1024", c.Dim())
	}
}
