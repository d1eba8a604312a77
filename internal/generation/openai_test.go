package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/rolechat/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeLLM replays chunks through the streaming callback.
type fakeLLM struct {
	chunks   []string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	for _, c := range f.chunks {
		if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{}, nil
}

func (f *fakeLLM) Call(ctx context.Context, p string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func TestOpenAIGenerate(t *testing.T) {
	fake := &fakeLLM{chunks: []string{"你", "", "好"}}
	c := NewOpenAIClient("http://vllm:8000/v1", "qwen", "", nil)
	c.llm = fake

	msgs := []prompt.Message{
		{Role: prompt.RoleSystem, Content: "sys"},
		{Role: prompt.RoleUser, Content: "u"},
		{Role: prompt.RoleAssistant, Content: "a"},
	}
	params := DefaultParams()
	params.Temperature = 0.3

	var chunks []string
	for chunk, err := range c.Generate(context.Background(), msgs, params) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, []string{"你", "好"}, chunks)
	require.Len(t, fake.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, fake.messages[2].Role)
	assert.Equal(t, llms.TextContent{Text: "u"}, fake.messages[1].Parts[0])

	assert.Equal(t, 0.3, fake.opts.Temperature)
	assert.Equal(t, 0.95, fake.opts.TopP)
	assert.Equal(t, 50, fake.opts.TopK)
	assert.Equal(t, 512, fake.opts.MaxTokens)
	assert.Equal(t, 1.1, fake.opts.RepetitionPenalty)
}

func TestOpenAIGenerateError(t *testing.T) {
	c := NewOpenAIClient("", "qwen", "key", nil)
	c.llm = &fakeLLM{chunks: []string{"partial"}, err: errors.New("rate limited")}

	var gotErr error
	var chunks []string
	for chunk, err := range c.Generate(context.Background(), nil, DefaultParams()) {
		if err != nil {
			gotErr = err
			continue
		}
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, []string{"partial"}, chunks)
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "rate limited")
}

func TestOpenAIGenerateBeforeLoad(t *testing.T) {
	c := NewOpenAIClient("", "qwen", "", nil)
	for _, err := range c.Generate(context.Background(), nil, DefaultParams()) {
		assert.ErrorIs(t, err, ErrNotLoaded)
	}
}

func TestOpenAILoad(t *testing.T) {
	c := NewOpenAIClient("http://localhost:8000/v1", "qwen", "", nil)
	require.NoError(t, c.Load(context.Background()))
	assert.NotNil(t, c.llm)
	assert.Equal(t, placeholderToken, c.token)

	require.Error(t, NewOpenAIClient("", "", "", nil).Load(context.Background()))
}
