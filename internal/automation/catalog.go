package automation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Element names the catalog knows about. Locator fragility is isolated here:
// when the target site ships a redesign, the candidate lists change, not the
// pipeline code.
const (
	ElemSearchTrigger        = "search_trigger"
	ElemSearchInput          = "search_input"
	ElemSearchResults        = "search_results"
	ElemProductCard          = "product_card"
	ElemProductUnavailable   = "product_unavailable"
	ElemAddToCart            = "add_to_cart"
	ElemCartCount            = "cart_count"
	ElemCartButton           = "cart_button"
	ElemCartPage             = "cart_page"
	ElemProceedToPay         = "proceed_to_pay"
	ElemPaymentPage          = "payment_page"
	ElemPayNow               = "pay_now"
	ElemOrderSuccess         = "order_success"
	ElemLoggedInIndicator    = "logged_in_indicator"
	ElemLoggedOutIndicator   = "logged_out_indicator"
	ElemPageBody             = "page_body"
	ElemAlternativeContainer = "alternative_container"
)

// Catalog maps logical element names to their ordered candidate lists.
type Catalog struct {
	elements map[string][]Candidate
}

// Candidates returns a copy of the candidate list for an element, or nil if
// unknown.
func (c *Catalog) Candidates(element string) []Candidate {
	cands, ok := c.elements[element]
	if !ok {
		return nil
	}
	return append([]Candidate(nil), cands...)
}

// DefaultCatalog returns the built-in candidate lists for the target site.
func DefaultCatalog() *Catalog {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }

	return &Catalog{elements: map[string][]Candidate{
		ElemPageBody: {
			{Selector: "body", By: ByCSS, Kind: WaitPresent, Timeout: sec(15)},
		},
		ElemSearchTrigger: {
			{Selector: `//a[contains(@class, 'SearchBar__Button-sc-16lps2d-4')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//a[contains(@class, 'SearchBar__Button')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//a[@href='/s/']`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//a[contains(@class, 'SearchBar') and contains(@class, 'Button')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
		},
		ElemSearchInput: {
			{Selector: `input[placeholder*="Search"]`, By: ByCSS, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `input[type="text"]`, By: ByCSS, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `input[class*="search"]`, By: ByCSS, Kind: WaitInteractable, Timeout: sec(3)},
			{Selector: `input[name="search"]`, By: ByCSS, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `input[id="search"]`, By: ByCSS, Kind: WaitPresent, Timeout: sec(3)},
		},
		ElemSearchResults: {
			{Selector: `//div[contains(@class, 'product') or contains(@class, 'Product')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(8)},
			{Selector: `//div[contains(@class, 'plp-product')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(5)},
			{Selector: `//div[contains(@class, 'item') or contains(@class, 'card')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(5)},
		},
		ElemProductCard: {
			{Selector: `//div[contains(@class, 'Product__UpdatedTitle')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(5)},
			{Selector: `//div[contains(@class, 'product')]//div[string-length(text()) > 3]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(5)},
		},
		ElemProductUnavailable: {
			{Selector: `//div[contains(text(), 'Out of Stock') or contains(text(), 'out of stock')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(2)},
			{Selector: `//div[contains(text(), 'No products found') or contains(text(), 'not found')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(2)},
			{Selector: `//div[contains(text(), 'currently unavailable')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(2)},
		},
		ElemAddToCart: {
			{Selector: `div.tw-border-base-green.tw-text-base-green`, By: ByCSS, Kind: WaitInteractable, Timeout: sec(8)},
			{Selector: `//div[text()='ADD' or text()='Add']`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//button[contains(text(), 'ADD') or contains(text(), 'Add')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
		},
		ElemCartCount: {
			{Selector: `//div[contains(@class, 'CartButton__Text') and contains(text(), 'item')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(6)},
			{Selector: `//div[contains(text(), 'item') and contains(text(), '₹')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(4)},
		},
		ElemCartButton: {
			{Selector: `//div[contains(@class, 'CartButton__Container')]//div[contains(@class, 'CartButton__Button')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(6)},
			{Selector: `//div[contains(@class, 'CartButton__Container')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//div[contains(@class, 'CartButton__Button')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//div[contains(text(), 'items')]/ancestor::div[contains(@class, 'CartButton__Button')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
		},
		ElemCartPage: {
			{Selector: `//div[contains(text(), 'My Cart') or contains(text(), 'Cart')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(6)},
			{Selector: `//div[contains(@class, 'cart') or contains(@class, 'Cart')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(4)},
			{Selector: `//div[contains(text(), 'items') and contains(text(), '₹')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(4)},
		},
		ElemProceedToPay: {
			{Selector: `//div[contains(@class, 'CheckoutStrip__CTAText') and contains(text(), 'Proceed To Pay')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(6)},
			{Selector: `//div[contains(@class, 'CheckoutStrip__Container')]//div[contains(text(), 'Proceed To Pay')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//div[contains(text(), 'Proceed To Pay')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//div[contains(@class, 'CheckoutStrip__Container')]//div[contains(@class, 'CheckoutStrip__CTAText')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
		},
		ElemPaymentPage: {
			{Selector: `//div[contains(text(), 'Payment') or contains(text(), 'payment')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(6)},
			{Selector: `//div[contains(text(), 'Select Payment') or contains(text(), 'Choose Payment')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(4)},
			{Selector: `//div[contains(text(), 'Cash on Delivery') or contains(text(), 'COD')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(4)},
		},
		ElemPayNow: {
			{Selector: `//div[contains(@class, 'Zpayments__PayNowButtonContainer')]//div[contains(@class, 'Zpayments__Button') and contains(text(), 'Pay Now')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(8)},
			{Selector: `//div[contains(@class, 'Zpayments__PayNowButtonContainer')]//div[contains(text(), 'Pay Now')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//div[contains(@class, 'Zpayments__Button') and contains(text(), 'Pay Now')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
			{Selector: `//div[contains(text(), 'Pay Now')]`, By: ByXPath, Kind: WaitInteractable, Timeout: sec(5)},
		},
		ElemOrderSuccess: {
			{Selector: `//div[contains(text(), 'Order Placed') or contains(text(), 'Order Confirmed')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(10)},
			{Selector: `//div[contains(text(), 'Payment Successful') or contains(text(), 'Payment Complete')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(8)},
			{Selector: `//div[contains(text(), 'Thank you') or contains(text(), 'Order ID')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(8)},
			{Selector: `//div[contains(@class, 'success') or contains(@class, 'Success')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(6)},
		},
		ElemLoggedInIndicator: {
			{Selector: `//div[contains(@class, 'profile') or contains(@class, 'Profile')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `//div[contains(@class, 'account') or contains(@class, 'Account')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `//img[contains(@alt, 'profile') or contains(@alt, 'Profile')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `//span[contains(text(), 'Hi') or contains(text(), 'Hello')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
		},
		ElemLoggedOutIndicator: {
			{Selector: `//button[contains(text(), 'Login') or contains(text(), 'Sign In')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `//a[contains(text(), 'Login') or contains(text(), 'Sign In')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `//div[contains(text(), 'Login') or contains(text(), 'Sign In')]`, By: ByXPath, Kind: WaitPresent, Timeout: sec(3)},
		},
		// CSS only: alternatives are scraped from captured HTML, not waited on
		// in the live page.
		ElemAlternativeContainer: {
			{Selector: `div[class*="alternative"], div[class*="suggestion"], div[class*="similar"]`, By: ByCSS, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `div[class*="Product__UpdatedTitle"]`, By: ByCSS, Kind: WaitPresent, Timeout: sec(3)},
			{Selector: `div[class*="product"], div[class*="item"]`, By: ByCSS, Kind: WaitPresent, Timeout: sec(3)},
		},
	}}
}

type candidateSpec struct {
	Selector string `yaml:"selector"`
	By       string `yaml:"by"`
	Kind     string `yaml:"kind"`
	Timeout  string `yaml:"timeout"`
}

// LoadCatalog returns the default catalog with per-element overrides applied
// from a YAML file. An override replaces the named element's candidate list
// wholesale; built-in elements it does not name remain untouched.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector catalog: %w", err)
	}

	var raw map[string][]candidateSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse selector catalog: %w", err)
	}

	for elem, specs := range raw {
		cands := make([]Candidate, 0, len(specs))
		for i, s := range specs {
			c, err := s.toCandidate()
			if err != nil {
				return nil, fmt.Errorf("selector catalog %s[%d]: %w", elem, i, err)
			}
			cands = append(cands, c)
		}
		if len(cands) > 0 {
			cat.elements[elem] = cands
		}
	}
	return cat, nil
}

func (s candidateSpec) toCandidate() (Candidate, error) {
	if s.Selector == "" {
		return Candidate{}, fmt.Errorf("selector must not be empty")
	}

	c := Candidate{Selector: s.Selector, By: ByCSS, Kind: WaitPresent}

	switch s.By {
	case "", "css":
		c.By = ByCSS
	case "xpath":
		c.By = ByXPath
	default:
		return Candidate{}, fmt.Errorf("unknown query kind %q", s.By)
	}

	switch s.Kind {
	case "", "present":
		c.Kind = WaitPresent
	case "interactable":
		c.Kind = WaitInteractable
	default:
		return Candidate{}, fmt.Errorf("unknown wait kind %q", s.Kind)
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return Candidate{}, fmt.Errorf("bad timeout %q: %w", s.Timeout, err)
		}
		c.Timeout = d
	}
	return c, nil
}
