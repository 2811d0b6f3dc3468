package parser

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranatap/kirana/internal/order"
)

// FallbackParser is a deterministic lexical parser used when the model is
// unavailable or returns garbage. It only understands simple quantity-unit-name
// shapes; anything it cannot match is dropped.
type FallbackParser struct{}

func NewFallbackParser() *FallbackParser {
	return &FallbackParser{}
}

var wordToNum = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

const numberWords = `one|two|three|four|five|six|seven|eight|nine|ten`
const unitTokens = `packets?|kg|g|liters?|pieces?|dozen|bottles?|cans?`

// Patterns are ordered most-specific first; each segment is consumed by the
// first pattern that matches it.
var fallbackPatterns = []*regexp.Regexp{
	// "three packets heritage milk"
	regexp.MustCompile(`(?i)^(` + numberWords + `)\s+(` + unitTokens + `)\s+(?:of\s+)?([a-z][a-z\s]*)$`),
	// "2 kg potatoes" / "3 packets of bread"
	regexp.MustCompile(`(?i)^(\d+)\s*(` + unitTokens + `)\s+(?:of\s+)?([a-z][a-z\s]*)$`),
	// "one milk"
	regexp.MustCompile(`(?i)^(` + numberWords + `)\s+([a-z][a-z\s]*)$`),
	// "5 bananas"
	regexp.MustCompile(`(?i)^(\d+)\s+([a-z][a-z\s]*)$`),
}

var segmentSplit = regexp.MustCompile(`(?i)\s*(?:,|\band\b|\n)\s*`)

func (p *FallbackParser) Parse(_ context.Context, text string) ([]order.GroceryItem, error) {
	var items []order.GroceryItem

	for _, segment := range segmentSplit.Split(text, -1) {
		segment = strings.TrimSpace(segment)
		segment = strings.TrimPrefix(segment, "I need ")
		segment = strings.TrimPrefix(segment, "i need ")
		if segment == "" {
			continue
		}

		for _, re := range fallbackPatterns {
			m := re.FindStringSubmatch(segment)
			if m == nil {
				continue
			}

			qty := parseQuantity(m[1])
			if qty <= 0 {
				break
			}

			item := order.GroceryItem{Quantity: qty, Category: "general"}
			if len(m) == 4 {
				item.Unit = normalizeUnit(m[2])
				item.Name = strings.ToLower(strings.TrimSpace(m[3]))
			} else {
				item.Unit = "pieces"
				item.Name = strings.ToLower(strings.TrimSpace(m[2]))
			}

			if item.Name != "" {
				items = append(items, item)
			}
			break
		}
	}

	return order.Dedupe(items), nil
}

func parseQuantity(tok string) float64 {
	tok = strings.ToLower(tok)
	if n, ok := wordToNum[tok]; ok {
		return n
	}
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0
	}
	return n
}

func normalizeUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}
