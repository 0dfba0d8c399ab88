package integrations

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.0-flash"

var ErrEmptyTitle = errors.New("title is required")

// DescriptionGenerator writes a short task description from a task title.
type DescriptionGenerator struct {
	service *generativelanguage.Service
	model   string
}

func NewDescriptionGenerator(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*DescriptionGenerator, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}
	srv, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gemini client: %w", err)
	}
	return &DescriptionGenerator{service: srv, model: model}, nil
}

func descriptionPrompt(title string) string {
	return fmt.Sprintf(`Write ONE short, funny description of at most 20 words for the task titled %q.
Do not repeat the title.
Do not start with "%s:" and do not use quotation marks.
Reply with the description only.`, title, title)
}

func (g *DescriptionGenerator) Generate(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}

	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: descriptionPrompt(title)}},
		}},
	}
	resp, err := g.service.Models.GenerateContent("models/"+g.model, req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to generate description: %w", err)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	description := CleanDescription(title, text.String())
	zap.L().Debug("Generated task description", zap.String("title", title), zap.Int("length", len(description)))
	return description, nil
}

var surroundingQuotes = regexp.MustCompile(`^["']|["']$`)

// CleanDescription removes one pair of surrounding quotes and a leading
// "<title>:" from generated text.
func CleanDescription(title, raw string) string {
	s := surroundingQuotes.ReplaceAllString(strings.TrimSpace(raw), "")
	prefix := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(title) + `\s*[:：-]\s*`)
	s = prefix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
