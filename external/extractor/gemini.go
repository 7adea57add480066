package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const prompt = `Split this voice note transcript into tasks, notes and ideas.
Language of the transcript: %s. Keep every item text in that language.

Transcript:
%s

Respond ONLY with JSON in exactly this shape:
{"items":[{"kind":"task"|"note"|"idea","text":"...","due":"today"|"tomorrow"|"day_after_tomorrow"|"next_week"|""}]}

Rules:
- task: something the speaker must do.
- idea: a proposal or "what if".
- note: any other fact worth keeping.
- Do not invent items that are not in the transcript.`

type generator func(ctx context.Context, text string) (string, error)

// GeminiExtractor asks a Gemini model for structured items.
type GeminiExtractor struct {
	client   *genai.Client
	generate generator
}

func NewGeminiExtractor(ctx context.Context, apiKey, modelName string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.SetTopP(0.9)
	model.ResponseMIMEType = "application/json"

	return &GeminiExtractor{
		client: client,
		generate: func(ctx context.Context, text string) (string, error) {
			resp, err := model.GenerateContent(ctx, genai.Text(text))
			if err != nil {
				return "", err
			}
			return responseText(resp)
		},
	}, nil
}

func (g *GeminiExtractor) Extract(ctx context.Context, transcript, language string) ([]monitor.Item, error) {
	out, err := g.generate(ctx, fmt.Sprintf(prompt, language, transcript))
	if err != nil {
		return nil, fmt.Errorf("failed to generate items: %w", err)
	}
	return parseItems(out)
}

func (g *GeminiExtractor) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("model returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("model returned no text")
	}
	return b.String(), nil
}

// parseItems tolerates markdown fences around the JSON body and drops items
// with an unknown kind or empty text.
func parseItems(raw string) ([]monitor.Item, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	if start := strings.Index(body, "{"); start > 0 {
		body = body[start:]
	}

	var decoded struct {
		Items []monitor.Item `json:"items"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	items := make([]monitor.Item, 0, len(decoded.Items))
	for _, it := range decoded.Items {
		it.Text = strings.TrimSpace(it.Text)
		switch it.Kind {
		case monitor.ItemTask, monitor.ItemNote, monitor.ItemIdea:
		default:
			continue
		}
		if it.Text == "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
