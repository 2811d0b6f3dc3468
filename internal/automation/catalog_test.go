package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allElements = []string{
	ElemSearchTrigger, ElemSearchInput, ElemSearchResults,
	ElemProductCard, ElemProductUnavailable, ElemAddToCart,
	ElemCartCount, ElemCartButton, ElemCartPage,
	ElemProceedToPay, ElemPaymentPage, ElemPayNow, ElemOrderSuccess,
	ElemLoggedInIndicator, ElemLoggedOutIndicator, ElemPageBody,
	ElemAlternativeContainer,
}

func TestDefaultCatalog_CoversEveryElement(t *testing.T) {
	cat := DefaultCatalog()
	for _, elem := range allElements {
		cands := cat.Candidates(elem)
		if len(cands) == 0 {
			t.Errorf("no candidates for %s", elem)
			continue
		}
		for i, c := range cands {
			if c.Selector == "" {
				t.Errorf("%s[%d]: empty selector", elem, i)
			}
			if c.Timeout <= 0 {
				t.Errorf("%s[%d]: non-positive timeout", elem, i)
			}
			if c.By == ByXPath && !strings.HasPrefix(c.Selector, "/") && !strings.HasPrefix(c.Selector, "(") {
				t.Errorf("%s[%d]: xpath candidate with non-xpath selector %q", elem, i, c.Selector)
			}
		}
	}
}

func TestCatalog_CandidatesIsACopy(t *testing.T) {
	cat := DefaultCatalog()
	cands := cat.Candidates(ElemPayNow)
	cands[0].Selector = "#mutated"
	if cat.Candidates(ElemPayNow)[0].Selector == "#mutated" {
		t.Error("Candidates exposed internal state")
	}
}

func writeCatalogFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCatalog_NoPathReturnsDefaults(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Candidates(ElemSearchTrigger)) == 0 {
		t.Error("defaults missing")
	}
}

func TestLoadCatalog_OverrideReplacesNamedElementOnly(t *testing.T) {
	path := writeCatalogFile(t, `
pay_now:
  - selector: "#custom-pay"
    by: css
    kind: interactable
    timeout: 12s
  - selector: "//button[@id='pay']"
    by: xpath
`)
	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}

	cands := cat.Candidates(ElemPayNow)
	if len(cands) != 2 {
		t.Fatalf("pay_now candidates = %d, want 2", len(cands))
	}
	if cands[0].Selector != "#custom-pay" || cands[0].Kind != WaitInteractable || cands[0].Timeout != 12*time.Second {
		t.Errorf("cands[0] = %+v", cands[0])
	}
	if cands[1].By != ByXPath || cands[1].Kind != WaitPresent {
		t.Errorf("cands[1] = %+v", cands[1])
	}

	// Elements the file does not name keep their defaults.
	def := DefaultCatalog().Candidates(ElemSearchTrigger)
	got := cat.Candidates(ElemSearchTrigger)
	if len(got) != len(def) {
		t.Errorf("search_trigger was disturbed by an unrelated override")
	}
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "::::{{{"},
		{"empty selector", "pay_now:\n  - selector: \"\"\n"},
		{"unknown by", "pay_now:\n  - selector: \"#x\"\n    by: magic\n"},
		{"unknown kind", "pay_now:\n  - selector: \"#x\"\n    kind: hover\n"},
		{"bad timeout", "pay_now:\n  - selector: \"#x\"\n    timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalogFile(t, tt.body)
			if _, err := LoadCatalog(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
