package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/rolechat/internal/prompt"
)

const defaultOllamaURL = "http://localhost:11434"

var errOllamaResponse = errors.New("ollama returned error")

// ollamaRequest is the body of POST /api/generate.
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Raw     bool           `json:"raw"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// ollamaChunk is one NDJSON line of a streamed generate response.
type ollamaChunk struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// OllamaClient generates through an Ollama server in raw-prompt mode, so the
// ChatML prompt is rendered here rather than by the server's template.
type OllamaClient struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
// The HTTP client has no timeout: streams are bounded by request contexts.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		HTTPClient: &http.Client{},
		logger:     logger,
	}
}

// Name implements Backend.
func (c *OllamaClient) Name() string { return BackendOllama }

// Load verifies that the model is present on the server.
func (c *OllamaClient) Load(ctx context.Context) error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	resp, err := c.post(ctx, "/api/show", map[string]string{"model": c.Model})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model %q not available (status %d): %s", c.Model, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Info("Ollama model available", "model", c.Model, "base_url", c.BaseURL)
	return nil
}

// Generate implements Generator.
func (c *OllamaClient) Generate(ctx context.Context, messages []prompt.Message, params Params) iter.Seq2[string, error] {
	req := &ollamaRequest{
		Model:  c.Model,
		Prompt: prompt.Render(messages),
		Raw:    true,
		Stream: true,
		Options: &ollamaOptions{
			Temperature:   params.Temperature,
			TopP:          params.TopP,
			TopK:          params.TopK,
			RepeatPenalty: params.RepetitionPenalty,
			NumPredict:    params.MaxNewTokens,
			Stop:          params.Stop,
		},
	}

	return runWorker(ctx, func(ctx context.Context, emit emitFunc) error {
		resp, err := c.post(ctx, "/api/generate", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var chunk ollamaChunk
				if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
					return fmt.Errorf("failed to unmarshal stream chunk: %w", jsonErr)
				}
				if chunk.Error != "" {
					return fmt.Errorf("%w: %s", errOllamaResponse, chunk.Error)
				}
				if chunk.Response != "" {
					if emitErr := emit(chunk.Response); emitErr != nil {
						return emitErr
					}
				}
				if chunk.Done {
					return nil
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("stream read error: %w", err)
			}
		}
	})
}

// Close implements Backend.
func (c *OllamaClient) Close() error {
	c.HTTPClient.CloseIdleConnections()
	return nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
