package parser

import (
	"context"
	"encoding/json"
	"log"
	"regexp"

	"github.com/kiranatap/kirana/internal/order"
	"github.com/tmc/langchaingo/llms"
)

// Parser turns a free-text grocery list into structured items. An empty
// result with a nil error means the text could not be understood at all.
type Parser interface {
	Parse(ctx context.Context, text string) ([]order.GroceryItem, error)
}

const systemPrompt = `You are a grocery assistant. Parse the user's grocery list into structured items.
Return ONLY a JSON array with objects containing: name, quantity, unit, category.

IMPORTANT: The 'name' field should be the search term for the grocery store, without quantity/unit.

Examples:
- "I need 2 kg potatoes, 1 dozen eggs, and 3 packets of bread"
- Output: [{"name": "potatoes", "quantity": 2, "unit": "kg", "category": "vegetables"}, {"name": "eggs", "quantity": 1, "unit": "dozen", "category": "dairy"}, {"name": "bread", "quantity": 3, "unit": "packets", "category": "bakery"}]

- "one packet amul toned milk"
- Output: [{"name": "amul toned milk", "quantity": 1, "unit": "packet", "category": "dairy"}]

Keep categories simple: vegetables, fruits, dairy, grains, bakery, snacks, beverages, household, personal_care

The 'name' field should be clean and searchable (e.g., "amul toned milk" not "one packet amul toned milk").`

var jsonArray = regexp.MustCompile(`(?s)\[.*\]`)

// ModelEventLogger receives prompt/response pairs for audit logging.
type ModelEventLogger interface {
	LogLLM(orderID string, prompt any, response string)
}

// LLMParser asks a chat model to structure the list and falls back to the
// lexical parser when the model call or its output cannot be used.
type LLMParser struct {
	Model    llms.Model
	Fallback *FallbackParser
	Events   ModelEventLogger
}

func NewLLMParser(model llms.Model) *LLMParser {
	return &LLMParser{Model: model, Fallback: NewFallbackParser()}
}

func (p *LLMParser) Parse(ctx context.Context, text string) ([]order.GroceryItem, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}

	resp, err := p.Model.GenerateContent(ctx, messages,
		llms.WithTemperature(0.1),
		llms.WithMaxTokens(500),
	)
	if err != nil {
		log.Printf("AI parsing error: %v, using fallback parser", err)
		return p.Fallback.Parse(ctx, text)
	}
	if len(resp.Choices) == 0 {
		return p.Fallback.Parse(ctx, text)
	}
	content := resp.Choices[0].Content
	if p.Events != nil {
		p.Events.LogLLM("", text, content)
	}

	raw := jsonArray.FindString(content)
	if raw == "" {
		return p.Fallback.Parse(ctx, text)
	}

	var items []order.GroceryItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Printf("AI response decode error: %v, using fallback parser", err)
		return p.Fallback.Parse(ctx, text)
	}

	// Quantities must be positive. A model is free to emit zero or negative
	// numbers; such entries never reach an order.
	valid := items[:0]
	for _, it := range items {
		if it.Quantity <= 0 {
			log.Printf("dropping item %q with non-positive quantity %v", it.Name, it.Quantity)
			continue
		}
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return p.Fallback.Parse(ctx, text)
	}

	return order.Dedupe(valid), nil
}
