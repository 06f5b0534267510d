package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	voyageAPIURL = "https://api.voyageai.com/v1/embeddings"

	// voyageBatchSize bounds one request; larger inputs are split into
	// sequential calls whose results are concatenated in order.
	voyageBatchSize = 128
)

// VoyageClient embeds text through the Voyage AI embeddings API.
type VoyageClient struct {
	config  *ClientConfig
	http    *http.Client
	baseURL string
}

func NewVoyageClient(config *ClientConfig) *VoyageClient {
	if config.EmbedModel == "" {
		config.EmbedModel = "voyage-code-3"
	}
	if config.Dim == 0 {
		config.Dim = 1024
	}

	return &VoyageClient{
		config:  config,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: voyageAPIURL,
	}
}

type voyageRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedDocuments embeds texts with the document input type, preserving order
// across internal batches. A failed batch fails the whole call: a missing
// vector would corrupt retrieval silently if dropped.
func (c *VoyageClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += voyageBatchSize {
		end := i + voyageBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embed(ctx, texts[i:end], "document")
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/voyageBatchSize, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// EmbedQuery embeds a search query with the query input type.
func (c *VoyageClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := c.embed(ctx, []string{text}, "query")
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *VoyageClient) Dim() int {
	return c.config.Dim
}

func (c *VoyageClient) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("VOYAGE_API_KEY unset")
	}

	b, err := json.Marshal(voyageRequest{
		Model:     c.config.EmbedModel,
		Input:     texts,
		InputType: inputType,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("voyage embedding: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var out voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("voyage embedding: decode response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("voyage embedding: got %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, errors.New("voyage embedding: empty vector in response")
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
