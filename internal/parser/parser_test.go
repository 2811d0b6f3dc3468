package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel returns a canned completion or error.
type fakeModel struct {
	content string
	err     error
	calls   int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.content}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func TestLLMParser_StructuredResponse(t *testing.T) {
	model := &fakeModel{content: `Here is the list:
[{"name": "potatoes", "quantity": 2, "unit": "kg", "category": "vegetables"},
 {"name": "eggs", "quantity": 1, "unit": "dozen", "category": "dairy"}]`}
	p := NewLLMParser(model)

	items, err := p.Parse(context.Background(), "I need 2 kg potatoes and 1 dozen eggs")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Name != "potatoes" || items[0].Quantity != 2 || items[0].Unit != "kg" {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Category != "dairy" {
		t.Errorf("second item category = %q", items[1].Category)
	}
}

func TestLLMParser_FallsBackOnModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	p := NewLLMParser(model)

	items, err := p.Parse(context.Background(), "2 kg onions, 1 kg tomatoes")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("fallback items = %+v", items)
	}
	if items[0].Name != "onions" || items[1].Name != "tomatoes" {
		t.Errorf("fallback items = %+v", items)
	}
}

func TestLLMParser_FallsBackOnGarbageOutput(t *testing.T) {
	model := &fakeModel{content: "Sorry, I can't help with that."}
	p := NewLLMParser(model)

	items, err := p.Parse(context.Background(), "one packet milk")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Name != "milk" || items[0].Quantity != 1 {
		t.Errorf("fallback items = %+v", items)
	}
}

type recordedCall struct {
	prompt   any
	response string
}

type recordingEvents struct {
	calls []recordedCall
}

func (r *recordingEvents) LogLLM(orderID string, prompt any, response string) {
	r.calls = append(r.calls, recordedCall{prompt, response})
}

func TestLLMParser_DropsNonPositiveQuantities(t *testing.T) {
	model := &fakeModel{content: `[{"name": "milk", "quantity": 0, "unit": "liter", "category": "dairy"},
 {"name": "bread", "quantity": -1, "unit": "packets", "category": "bakery"},
 {"name": "eggs", "quantity": 2, "unit": "dozen", "category": "dairy"}]`}
	p := NewLLMParser(model)

	items, err := p.Parse(context.Background(), "milk, bread, 2 dozen eggs")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Name != "eggs" {
		t.Errorf("items = %+v, want only eggs", items)
	}
}

func TestLLMParser_AllQuantitiesInvalidFallsBack(t *testing.T) {
	model := &fakeModel{content: `[{"name": "milk", "quantity": 0, "unit": "liter", "category": "dairy"}]`}
	p := NewLLMParser(model)

	items, err := p.Parse(context.Background(), "one packet milk")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Name != "milk" || items[0].Quantity != 1 {
		t.Errorf("fallback items = %+v", items)
	}
}

func TestLLMParser_EmitsModelEvents(t *testing.T) {
	model := &fakeModel{content: `[{"name": "milk", "quantity": 1, "unit": "liter", "category": "dairy"}]`}
	events := &recordingEvents{}
	p := NewLLMParser(model)
	p.Events = events

	if _, err := p.Parse(context.Background(), "1 liter milk"); err != nil {
		t.Fatal(err)
	}
	if len(events.calls) != 1 {
		t.Fatalf("events = %d, want 1", len(events.calls))
	}
	if events.calls[0].prompt != "1 liter milk" || events.calls[0].response != model.content {
		t.Errorf("event = %+v", events.calls[0])
	}
}

func TestLLMParser_DedupesModelOutput(t *testing.T) {
	model := &fakeModel{content: `[{"name": "milk", "quantity": 1, "unit": "liter", "category": "dairy"},
 {"name": "packet milk", "quantity": 2, "unit": "packets", "category": "dairy"}]`}
	p := NewLLMParser(model)

	items, err := p.Parse(context.Background(), "milk, milk again")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("duplicates not folded: %+v", items)
	}
}
