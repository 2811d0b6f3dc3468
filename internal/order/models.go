package order

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of an order. Transitions are monotonic:
// pending -> processing -> completed|failed. Terminal states never change.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// GroceryItem is one parsed entry of a grocery list. Name is the search term
// for the store, without quantity or unit. Immutable once attached to an order.
type GroceryItem struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
}

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Stage     string    `json:"stage"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is a confirmed-or-pending grocery order.
type Order struct {
	ID        string        `json:"id"`
	Items     []GroceryItem `json:"items"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Stages    []StageResult `json:"stages,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

var unitWords = regexp.MustCompile(`\b(packet|packets|piece|pieces|kg|g|liter|liters|dozen|bottle|bottles|can|cans)\b`)
var multiSpace = regexp.MustCompile(`\s+`)

// NormalizeName strips unit words and collapses whitespace so two phrasings of
// the same product fold together ("packet milk" and "milk").
func NormalizeName(name string) string {
	clean := strings.ToLower(strings.TrimSpace(name))
	clean = unitWords.ReplaceAllString(clean, "")
	clean = multiSpace.ReplaceAllString(clean, " ")
	return strings.TrimSpace(clean)
}

// Dedupe drops items whose normalized name was already seen, keeping the first.
func Dedupe(items []GroceryItem) []GroceryItem {
	seen := make(map[string]bool)
	var out []GroceryItem
	for _, it := range items {
		key := NormalizeName(it.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

// Summary renders a human-readable recap of the order's items.
func Summary(items []GroceryItem) string {
	items = Dedupe(items)
	if len(items) == 0 {
		return "I couldn't understand your grocery list. Please try again with a clearer format."
	}

	var b strings.Builder
	b.WriteString("I've understood your order! Here's what I'll get for you:\n\n")
	for _, it := range items {
		qty := strings.TrimSuffix(fmt.Sprintf("%.2f", it.Quantity), ".00")
		b.WriteString(fmt.Sprintf("- %s %s of %s (%s)\n", qty, it.Unit, titleCase(it.Name), it.Category))
	}
	b.WriteString("\nReady to place your order? Confirm to proceed, or send a new list to start over.")
	return b.String()
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
