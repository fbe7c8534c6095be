// Package vectorindex owns the product collection in Qdrant: lifecycle,
// point identity, batched writes and filtered similarity search.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/catalog"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/embedding"
)

// ErrUpstream indicates the vector index returned a non-success response
var ErrUpstream = errors.New("vector index unavailable")

const (
	collectionName = "products"

	// ScoreThreshold is the confidence gate for single-candidate keyword
	// search: a cosine score below this against a limited catalog is more
	// likely noise than a true match, so the hit is discarded. The
	// boundary is inclusive; exactly 0.82 passes.
	ScoreThreshold = 0.82
)

// Candidate is a retrieved index point with its similarity score
type Candidate struct {
	ID       string
	Score    float64
	Name     string
	Category string
	Price    float64
}

// Gateway is a REST client to Qdrant scoped to the products collection
type Gateway struct {
	url      string
	apiKey   string
	embedder embedding.Embedder
	client   *http.Client
}

// Config holds the Qdrant connection settings
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewGateway creates a new Gateway backed by the given embedder
func NewGateway(cfg Config, embedder embedding.Embedder) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		url:      strings.TrimSuffix(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		embedder: embedder,
		client:   &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the 1024-dim cosine collection if it is
// missing. With forceRecreate an existing collection is dropped first;
// that path is destructive and reserved for full reindexing. A text
// payload index on full_name is ensured either way so keyword filters
// can match name tokens.
func (g *Gateway) EnsureCollection(ctx context.Context, forceRecreate bool) error {
	exists, err := g.collectionExists(ctx)
	if err != nil {
		return err
	}

	if exists && forceRecreate {
		if err := g.do(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", collectionName), nil, nil); err != nil {
			return fmt.Errorf("dropping collection: %w", err)
		}
		exists = false
	}

	if !exists {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     embedding.Dimension,
				"distance": "Cosine",
			},
		}
		if err := g.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", collectionName), body, nil); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}

	indexBody := map[string]any{
		"field_name":   "full_name",
		"field_schema": "text",
	}
	if err := g.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", collectionName), indexBody, nil); err != nil {
		return fmt.Errorf("creating payload index: %w", err)
	}
	return nil
}

func (g *Gateway) collectionExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url+fmt.Sprintf("/collections/%s", collectionName), nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking collection: %w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: checking collection: %s", ErrUpstream, resp.Status)
	}
	return true, nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// UpsertBatch embeds every product title concurrently, then writes the
// whole batch in one call. A product whose embedding fails is logged and
// dropped so one bad item never aborts the batch. Upserts are idempotent
// by deterministic point id.
func (g *Gateway) UpsertBatch(ctx context.Context, products []catalog.Product) error {
	results := make([]*point, len(products))

	var wg sync.WaitGroup
	for i, product := range products {
		wg.Add(1)
		go func(i int, product catalog.Product) {
			defer wg.Done()
			vector, err := g.embedder.Embed(ctx, product.Title)
			if err != nil {
				slog.Error("Error embedding product", "title", product.Title, "error", err)
				return
			}
			results[i] = &point{
				ID:      PointID(product.Category, product.ExternalID).String(),
				Vector:  vector,
				Payload: productPayload(product),
			}
		}(i, product)
	}
	wg.Wait()

	points := make([]point, 0, len(results))
	for _, p := range results {
		if p != nil {
			points = append(points, *p)
		}
	}
	if len(points) == 0 {
		return nil
	}

	body := map[string]any{"points": points}
	if err := g.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", collectionName), body, nil); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

// PatchPayload rewrites the payload of the points for the given
// products by their deterministic ids, leaving the vectors untouched.
// Used for price corrections that must not pay the embedding cost again.
func (g *Gateway) PatchPayload(ctx context.Context, products []catalog.Product) error {
	for _, product := range products {
		id := PointID(product.Category, product.ExternalID).String()
		body := map[string]any{
			"payload": productPayload(product),
			"points":  []string{id},
		}
		if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/payload?wait=true", collectionName), body, nil); err != nil {
			return fmt.Errorf("patching payload for %q: %w", product.Title, err)
		}
	}
	return nil
}

func productPayload(product catalog.Product) map[string]any {
	return map[string]any{
		"full_name": product.Title,
		"price":     math.Round(product.Price*100) / 100,
		"category":  product.Category,
	}
}

// filter mirrors Qdrant's filter DSL; zero sections are omitted
type filter struct {
	Should []condition `json:"should,omitempty"`
	Must   []condition `json:"must,omitempty"`
}

type condition struct {
	Key   string      `json:"key"`
	Match *matchText  `json:"match,omitempty"`
	Range *valueRange `json:"range,omitempty"`
}

type matchText struct {
	Text string `json:"text"`
}

type valueRange struct {
	Gte float64 `json:"gte"`
	Lte float64 `json:"lte"`
}

// Search embeds the query and returns up to limit candidates by
// descending cosine similarity, unfiltered.
func (g *Gateway) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	return g.search(ctx, query, limit, nil)
}

// SearchByKeywords looks up the single best match for a receipt item
// name, constrained by a disjunctive text filter over the name's tokens,
// and applies the confidence gate: a hit below ScoreThreshold is treated
// as no match and (nil, nil) is returned. This is the hallucination
// guard for the single-candidate matching path.
func (g *Gateway) SearchByKeywords(ctx context.Context, name string) (*Candidate, error) {
	var should []condition
	for _, keyword := range strings.Fields(name) {
		if len(keyword) <= 2 {
			continue
		}
		should = append(should, condition{
			Key:   "full_name",
			Match: &matchText{Text: strings.ReplaceAll(keyword, ".", "")},
		})
	}

	var f *filter
	if len(should) > 0 {
		f = &filter{Should: should}
	}

	hits, err := g.search(ctx, name, 1, f)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	hit := hits[0]
	slog.Info("Match for receipt item", "name", name, "match", hit.Name, "score", hit.Score)

	if hit.Score < ScoreThreshold {
		return nil, nil
	}
	return &hit, nil
}

// SearchByPriceAndCategory returns up to 20 candidates whose payload
// price lies within ±0.50 of the given price and whose category text
// contains the given category.
func (g *Gateway) SearchByPriceAndCategory(ctx context.Context, name string, price float64, category string) ([]Candidate, error) {
	const margin = 0.50
	f := &filter{
		Must: []condition{
			{Key: "price", Range: &valueRange{Gte: price - margin, Lte: price + margin}},
			{Key: "category", Match: &matchText{Text: category}},
		},
	}
	return g.search(ctx, name, 20, f)
}

type searchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (g *Gateway) search(ctx context.Context, query string, limit int, f *filter) ([]Candidate, error) {
	vector, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f != nil {
		body["filter"] = f
	}

	var resp searchResponse
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", collectionName), body, &resp); err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	candidates := make([]Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		c := Candidate{ID: r.ID, Score: r.Score}
		if v, ok := r.Payload["full_name"].(string); ok {
			c.Name = v
		}
		if v, ok := r.Payload["category"].(string); ok {
			c.Category = v
		}
		if v, ok := r.Payload["price"].(float64); ok {
			c.Price = v
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// do issues a JSON request and decodes the response into out when given
func (g *Gateway) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.url+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: qdrant %s %s failed: %s: %s", ErrUpstream, method, path, resp.Status, string(respBody))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("api-key", g.apiKey)
	}
}
