package gen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = openai.GPT4oMini
	requestTimeout = 30 * time.Second
)

const systemPrompt = `You rewrite raw car classified ads into clean, structured listings.
Keep every fact from the source: brand, model, year, mileage, VIN, engine,
city, contacts, price. Use short lines, a few fitting emoji, no markdown.
Never invent details that are not in the source text.`

// OpenAI implements Generator over the OpenAI chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI creates a generator. model may be empty to use the default.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("gen: OpenAI API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Generate implements Generator.
func (g *OpenAI) Generate(ctx context.Context, source, instruction string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildPrompt(source, instruction)},
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("gen: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("gen: empty completion response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("gen: completion returned empty text")
	}
	return text, nil
}

func buildPrompt(source, instruction string) string {
	if instruction == "" {
		return "Rewrite this ad:\n\n" + source
	}
	return fmt.Sprintf("Here is the current ad text:\n\n%s\n\nApply this correction and return the full updated ad:\n%s", source, instruction)
}
