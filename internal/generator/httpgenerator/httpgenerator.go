// Package httpgenerator is a generator.Generator backed by a real chat
// completion endpoint, using the same client-construction and
// message-building idiom as a typical OpenAI API wrapper, so a production
// deployment can swap the static demo generator for a live model without
// touching the pipeline.
package httpgenerator

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// Config configures Generator.
type Config struct {
	APIKey  string
	BaseURL string // optional; empty uses the client default
	Model   string
}

// Generator calls a chat completion endpoint with the prompt and the
// clean documents' content folded into a single grounding message.
type Generator struct {
	client *openai.Client
	model  string
}

// New builds a Generator from cfg.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("httpgenerator: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("httpgenerator: model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Generator{client: &client, model: cfg.Model}, nil
}

// Generate implements generator.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string, docs []*docmodel.Document) (string, error) {
	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(groundingContext(docs)),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("httpgenerator: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("httpgenerator: empty completion for prompt %q", prompt)
	}

	return completion.Choices[0].Message.Content, nil
}

func groundingContext(docs []*docmodel.Document) string {
	var b strings.Builder
	b.WriteString("Answer using only the following trusted sources:\n")
	for _, doc := range docs {
		if doc.Metadata.IsQuarantined {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", doc.ID, doc.Content)
	}
	return b.String()
}
