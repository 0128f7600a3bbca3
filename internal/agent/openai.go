package agent

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
)

// OpenAIClient implements Categorizer against any OpenAI-compatible chat
// endpoint, including local servers (ollama, llama.cpp) via BaseURL.
type OpenAIClient struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIClient builds the backend. baseURL may be empty for the
// hosted API.
func NewOpenAIClient(apiKey, baseURL string, opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (c *OpenAIClient) generateOnce(ctx context.Context, prompt string) (string, TokenUsage, error) {
	var usage TokenUsage
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", usage, fmt.Errorf("chat completion: %w", err)
	}
	usage.Input = resp.Usage.PromptTokens
	usage.Output = resp.Usage.CompletionTokens
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", usage, fmt.Errorf("empty response from model")
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func (c *OpenAIClient) generate(ctx context.Context, prompt string) (string, TokenUsage, error) {
	var text string
	var usage TokenUsage
	err := withRetry(ctx, c.opts.MaxRetries, c.opts.RetryBaseDelay, func() error {
		t, u, err := c.generateOnce(ctx, prompt)
		usage.Input += u.Input
		usage.Output += u.Output
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	return text, usage, err
}

// CategorizeBatch implements Categorizer.
func (c *OpenAIClient) CategorizeBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	log := logger.FromContext(ctx)
	prompt := buildBatchPrompt(req)

	var result BatchResult
	err := withRetry(ctx, c.opts.MaxRetries, c.opts.RetryBaseDelay, func() error {
		text, usage, err := c.generateOnce(ctx, prompt)
		result.Usage.Input += usage.Input
		result.Usage.Output += usage.Output
		if err != nil {
			return err
		}
		parsed, err := parseBatchResponse(text)
		if err != nil {
			log.Warn().Err(err).Msg("categorize batch: malformed model reply")
			return err
		}
		result.Categorizations = parsed.Categorizations
		result.NewCategories = parsed.NewCategoriesCreated
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}
	return result, nil
}

// DetectStructure implements Categorizer.
func (c *OpenAIClient) DetectStructure(ctx context.Context, req StructureRequest) (*domain.FileStructure, TokenUsage, error) {
	text, usage, err := c.generate(ctx, buildStructurePrompt(req))
	if err != nil {
		return nil, usage, fmt.Errorf("DetectStructure: %w", err)
	}
	var roles map[string]string
	if err := parseJSONObject(text, &roles); err != nil {
		return nil, usage, fmt.Errorf("DetectStructure: %w", err)
	}
	return structureFromRoles(roles, req.Columns), usage, nil
}

// ValidateRule implements Categorizer.
func (c *OpenAIClient) ValidateRule(ctx context.Context, text string, categories []string) (RuleValidation, error) {
	reply, usage, err := c.generate(ctx, buildRulePrompt(text, categories))
	if err != nil {
		return RuleValidation{}, fmt.Errorf("ValidateRule: %w", err)
	}
	var v RuleValidation
	if err := parseJSONObject(reply, &v); err != nil {
		return RuleValidation{}, fmt.Errorf("ValidateRule: %w", err)
	}
	v.Usage = usage
	vetRuleValidation(&v)
	return v, nil
}

// Embed implements match.Embedder via the embeddings endpoint.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	model := openai.EmbeddingModel(c.opts.EmbeddingModel)
	if c.opts.EmbeddingModel == "" {
		model = openai.SmallEmbedding3
	}
	resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	})
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("Embed: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

var _ Categorizer = (*OpenAIClient)(nil)
