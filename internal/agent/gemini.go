package agent

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
)

// Options configures a model backend.
type Options struct {
	Model          string
	EmbeddingModel string
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

// GeminiClient implements Categorizer and the matcher's Embedder on top of
// the Gen AI SDK. Vertex vs Gemini Dev is controlled via env vars
// (GOOGLE_GENAI_USE_VERTEXAI, GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION).
type GeminiClient struct {
	client *genai.Client
	opts   Options
}

// NewGeminiClient creates the client once at process start; it is injected
// into the pipeline, never constructed lazily.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	return &GeminiClient{client: client, opts: opts}, nil
}

// generate runs one prompt with timeout and retry and returns the raw text.
func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, TokenUsage, error) {
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

// CategorizeBatch implements Categorizer. A reply that fails defensive
// parsing counts as a failed attempt and is retried like a network error.
func (c *GeminiClient) CategorizeBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
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

// generateOnce is a single non-retried model call, used where the retry
// loop lives in the caller.
func (c *GeminiClient) generateOnce(ctx context.Context, prompt string) (string, TokenUsage, error) {
	var usage TokenUsage
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	resp, err := c.client.Models.GenerateContent(callCtx, c.opts.Model, contents, nil)
	if err != nil {
		return "", usage, fmt.Errorf("generate content: %w", err)
	}
	if resp.UsageMetadata != nil {
		usage.Input = int(resp.UsageMetadata.PromptTokenCount)
		usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	text := resp.Text()
	if text == "" {
		return "", usage, fmt.Errorf("empty response from model")
	}
	return text, usage, nil
}

// DetectStructure implements Categorizer.
func (c *GeminiClient) DetectStructure(ctx context.Context, req StructureRequest) (*domain.FileStructure, TokenUsage, error) {
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
func (c *GeminiClient) ValidateRule(ctx context.Context, text string, categories []string) (RuleValidation, error) {
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

// Embed implements match.Embedder.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: text}}},
	}
	resp, err := c.client.Models.EmbedContent(callCtx, c.opts.EmbeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("Embed: empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

var _ Categorizer = (*GeminiClient)(nil)
