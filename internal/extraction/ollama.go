package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama implements the Extractor interface against a local Ollama
// server's generate API. It is the primary backend and owns the
// verify-and-retry loop: an arithmetically inconsistent first attempt is
// retried exactly once with the detected mismatches appended to the
// prompt, as a fresh context-free call. The second attempt's result is
// returned verified or not.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Extractor instance.
// The model must be a vision model; qwen2.5vl:7b is the default and
// handles dense German receipts well.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl:7b"
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // Vision models are slow on consumer GPUs
		},
	}, nil
}

// ollamaGenerateRequest represents the request body for Ollama's generate API
type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format"`
	Images  []string      `json:"images"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumCtx      int     `json:"num_ctx"`
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ollamaGenerateResponse represents the response from Ollama's generate API
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Extract runs the self-verifying extraction against Ollama
func (o *Ollama) Extract(ctx context.Context, images [][]byte) (*Document, error) {
	encoded := encodeImages(images)

	doc, err := o.generate(ctx, extractionPrompt, encoded)
	if err != nil {
		return nil, err
	}

	diagnostics := verify(doc)
	if diagnostics == "" {
		return doc, nil
	}

	// One bounded retry with fresh memory; whatever it yields is final
	slog.Warn("Math error detected, retrying with fresh memory", "error", diagnostics)
	correctionPrompt := fmt.Sprintf(
		"%s\n\nIMPORTANT CORRECTION: In your last attempt, you made a math error: %s. Please fix the item quantity and prices in the JSON.",
		extractionPrompt, diagnostics)

	return o.generate(ctx, correctionPrompt, encoded)
}

func (o *Ollama) generate(ctx context.Context, prompt string, images []string) (*Document, error) {
	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
		Images: images,
		Options: ollamaOptions{
			NumCtx:      8192,
			Temperature: 0, // Critical for consistent OCR
			NumPredict:  1000,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama API error (status %d): %s", ErrUpstream, resp.StatusCode, string(body))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return parseDocument(genResp.Response), nil
}

// encodeImages base64-encodes page images for the wire
func encodeImages(images [][]byte) []string {
	encoded := make([]string, 0, len(images))
	for _, img := range images {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(img))
	}
	return encoded
}
