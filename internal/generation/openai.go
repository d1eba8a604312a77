package generation

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ashureev/rolechat/internal/prompt"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// placeholderToken is sent when the server does not check API keys
// (vLLM and TGI accept any bearer token).
const placeholderToken = "EMPTY"

// OpenAIClient generates through an OpenAI-compatible chat completions
// server. The server applies the chat template.
type OpenAIClient struct {
	baseURL string
	model   string
	token   string
	logger  *slog.Logger

	llm llms.Model
}

// NewOpenAIClient creates a client for the server at baseURL. An empty
// baseURL targets api.openai.com.
func NewOpenAIClient(baseURL, model, apiKey string, logger *slog.Logger) *OpenAIClient {
	if apiKey == "" {
		apiKey = placeholderToken
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL: baseURL,
		model:   model,
		token:   apiKey,
		logger:  logger,
	}
}

// Name implements Backend.
func (c *OpenAIClient) Name() string { return BackendOpenAI }

// Load constructs the underlying client.
func (c *OpenAIClient) Load(_ context.Context) error {
	if c.model == "" {
		return fmt.Errorf("model is required")
	}
	opts := []openai.Option{
		openai.WithModel(c.model),
		openai.WithToken(c.token),
	}
	if c.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(c.baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return fmt.Errorf("create openai client: %w", err)
	}
	c.llm = llm
	c.logger.Info("OpenAI-compatible client ready", "model", c.model, "base_url", c.baseURL)
	return nil
}

// Generate implements Generator.
func (c *OpenAIClient) Generate(ctx context.Context, messages []prompt.Message, params Params) iter.Seq2[string, error] {
	if c.llm == nil {
		return func(yield func(string, error) bool) {
			yield("", ErrNotLoaded)
		}
	}

	content := toMessageContent(messages)
	return runWorker(ctx, func(ctx context.Context, emit emitFunc) error {
		_, err := c.llm.GenerateContent(ctx, content,
			llms.WithTemperature(params.Temperature),
			llms.WithTopP(params.TopP),
			llms.WithTopK(params.TopK),
			llms.WithMaxTokens(params.MaxNewTokens),
			llms.WithRepetitionPenalty(params.RepetitionPenalty),
			llms.WithStopWords(params.Stop),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				return emit(string(chunk))
			}),
		)
		if err != nil {
			return fmt.Errorf("chat completion failed: %w", err)
		}
		return nil
	})
}

// Close implements Backend.
func (c *OpenAIClient) Close() error { return nil }

func toMessageContent(messages []prompt.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case prompt.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case prompt.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
