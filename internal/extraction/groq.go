package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Groq implements the Extractor interface using Groq's OpenAI-style
// chat completions API. It is a one-shot alternate to the Ollama
// backend: same prompt, same document shape, no verification loop.
type Groq struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewGroq creates a new Groq Extractor instance
func NewGroq(apiKey string, modelName string) (*Groq, error) {
	return NewGroqWithBaseURL("https://api.groq.com/openai/v1", apiKey, modelName)
}

// NewGroqWithBaseURL creates a Groq Extractor against a custom endpoint,
// used by tests and OpenAI-compatible proxies
func NewGroqWithBaseURL(baseURL string, apiKey string, modelName string) (*Groq, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("groq api key is required")
	}
	if modelName == "" {
		modelName = "meta-llama/llama-4-scout-17b-16e-instruct"
	}

	return &Groq{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type groqChatRequest struct {
	Model               string              `json:"model"`
	Messages            []groqMessage       `json:"messages"`
	Temperature         float64             `json:"temperature"`
	ResponseFormat      groqResponseFormat  `json:"response_format"`
	MaxCompletionTokens int                 `json:"max_completion_tokens"`
}

type groqMessage struct {
	Role    string        `json:"role"`
	Content []groqContent `json:"content"`
}

type groqContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *groqImageURL `json:"image_url,omitempty"`
}

type groqImageURL struct {
	URL string `json:"url"`
}

type groqChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract runs a one-shot extraction against Groq
func (g *Groq) Extract(ctx context.Context, images [][]byte) (*Document, error) {
	content := []groqContent{{Type: "text", Text: extractionPrompt}}
	for _, img := range images {
		content = append(content, groqContent{
			Type: "image_url",
			ImageURL: &groqImageURL{
				URL: fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(img)),
			},
		})
	}

	reqBody := groqChatRequest{
		Model:               g.model,
		Messages:            []groqMessage{{Role: "user", Content: content}},
		Temperature:         0.1,
		ResponseFormat:      groqResponseFormat{Type: "json_object"},
		MaxCompletionTokens: 4096,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.apiKey))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling groq API: %w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: groq API error (status %d): %s", ErrUpstream, resp.StatusCode, string(body))
	}

	var chatResp groqChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in groq response", ErrUpstream)
	}

	return parseDocument(chatResp.Choices[0].Message.Content), nil
}

type groqResponseFormat struct {
	Type string `json:"type"`
}
