package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kiranatap/kirana/internal/order"
)

// Stage names, in pipeline order. Failed is a parallel terminal state
// reachable from any non-terminal stage.
const (
	StageInit             = "Init"
	StageNavigated        = "Navigated"
	StageAuthenticated    = "Authenticated"
	StageSearched         = "Searched"
	StageProductSelected  = "ProductSelected"
	StageAddedToCart      = "AddedToCart"
	StageCartOpened       = "CartOpened"
	StageCheckoutStarted  = "CheckoutStarted"
	StagePaymentConfirmed = "PaymentConfirmed"
	StageCompleted        = "Completed"
	StageFailed           = "Failed"
)

const (
	defaultSettle     = 2 * time.Second
	defaultLoginWait  = 2 * time.Minute
	maxStageRetries   = 2 // attempts = retries + 1
	maxAlternatives   = 3
	successWait       = 25 * time.Second
	searchURLFragment = "/s/"
)

// authSession is the slice of Session the pipeline needs.
type authSession interface {
	LoggedIn(ctx context.Context) bool
	AwaitLogin(ctx context.Context, timeout time.Duration) error
}

// Pipeline drives one order through the purchase workflow. Stages run
// strictly sequentially; every stage performs its action, waits a settle
// period, then verifies success through indicator locators independent of the
// locator that triggered the action.
type Pipeline struct {
	driver  PageDriver
	catalog *Catalog
	auth    authSession
	baseURL string

	settle    time.Duration
	loginWait time.Duration
	sleep     func(time.Duration)
	events    EventLogger

	sanitizer *bluemonday.Policy

	results          []order.StageResult
	paymentSubmitted bool
}

// PipelineOption adjusts pipeline timing, mainly for tests.
type PipelineOption func(*Pipeline)

func WithSettle(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.settle = d }
}

func WithLoginWait(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.loginWait = d }
}

func WithSleepFunc(f func(time.Duration)) PipelineOption {
	return func(p *Pipeline) { p.sleep = f }
}

// WithEvents routes locator resolutions and login-wait transitions to ev.
func WithEvents(ev EventLogger) PipelineOption {
	return func(p *Pipeline) {
		if ev != nil {
			p.events = ev
		}
	}
}

func NewPipeline(driver PageDriver, catalog *Catalog, auth authSession, baseURL string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		driver:    driver,
		catalog:   catalog,
		auth:      auth,
		baseURL:   baseURL,
		settle:    defaultSettle,
		loginWait: defaultLoginWait,
		sleep:     time.Sleep,
		events:    nopEvents{},
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Results returns the stage results recorded so far, in pipeline order.
func (p *Pipeline) Results() []order.StageResult {
	return append([]order.StageResult(nil), p.results...)
}

// Run places the order and returns the user-facing result message. A nil
// error means the order completed; any error has already been classified into
// the failure taxonomy.
func (p *Pipeline) Run(ctx context.Context, items []order.GroceryItem) (string, error) {
	p.record(StageInit, true, fmt.Sprintf("pipeline started with %d item(s)", len(items)))

	if err := p.navigateStage(ctx); err != nil {
		return "", p.fail(StageNavigated, err)
	}
	p.authenticateStage(ctx)

	for _, item := range items {
		if err := p.searchStage(ctx, item); err != nil {
			return "", p.fail(StageSearched, err)
		}
		if err := p.selectProductStage(ctx, item); err != nil {
			return "", p.fail(StageProductSelected, err)
		}
		if err := p.addToCartStage(ctx, item); err != nil {
			return "", p.fail(StageAddedToCart, err)
		}
	}

	if err := p.openCartStage(ctx); err != nil {
		return "", p.fail(StageCartOpened, err)
	}
	if err := p.checkoutStage(ctx); err != nil {
		return "", p.fail(StageCheckoutStarted, err)
	}

	msg, err := p.paymentStage(ctx)
	if err != nil {
		return "", p.fail(StagePaymentConfirmed, err)
	}

	p.record(StageCompleted, true, msg)
	return msg, nil
}

// runStage executes action+verify with the per-stage retry bound. Retries
// stop the moment payment has been submitted: that side effect cannot be
// safely repeated.
func (p *Pipeline) runStage(ctx context.Context, stage string, action, verify func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxStageRetries; attempt++ {
		if err := p.boundaryCheck(ctx); err != nil {
			return err
		}
		if attempt > 0 {
			log.Printf("stage %s attempt %d after: %v", stage, attempt+1, lastErr)
		}

		if err := action(ctx); err != nil {
			lastErr = err
			if p.paymentSubmitted {
				return err
			}
			continue
		}
		p.sleep(p.settle)
		if verify == nil {
			p.record(stage, true, "ok")
			return nil
		}
		if err := verify(ctx); err != nil {
			lastErr = err
			if p.paymentSubmitted {
				return err
			}
			continue
		}
		p.record(stage, true, "ok")
		return nil
	}
	return lastErr
}

// boundaryCheck honors cancellation at stage boundaries only, and never once
// payment has been submitted.
func (p *Pipeline) boundaryCheck(ctx context.Context) error {
	if p.paymentSubmitted {
		return nil
	}
	return ctx.Err()
}

func (p *Pipeline) record(stage string, success bool, message string) {
	p.results = append(p.results, order.StageResult{
		Stage:     stage,
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// fail records the terminal failure and wraps unclassified errors so the
// original diagnostic text always survives to the user.
func (p *Pipeline) fail(stage string, err error) error {
	p.record(stage, false, err.Error())
	p.record(StageFailed, false, fmt.Sprintf("order failed at %s", stage))

	var (
		setupErr   *SetupError
		navErr     *NavigationError
		locErr     *LocatorNotFoundError
		availErr   *AvailabilityError
		payErr     *PaymentError
		unknownErr *UnknownFailure
	)
	switch {
	case errors.As(err, &setupErr),
		errors.As(err, &navErr),
		errors.As(err, &locErr),
		errors.As(err, &availErr),
		errors.As(err, &payErr),
		errors.As(err, &unknownErr):
		return err
	default:
		return &UnknownFailure{Diagnostic: err.Error(), Err: err}
	}
}

func (p *Pipeline) resolve(ctx context.Context, element string, overall time.Duration) (*Match, error) {
	m, err := Resolve(ctx, p.driver, element, p.catalog.Candidates(element), overall)
	if err == nil {
		p.events.LogLocator(m.Element, m.Candidate.Selector, m.Index)
	}
	return m, err
}

func (p *Pipeline) navigateStage(ctx context.Context) error {
	action := func(ctx context.Context) error {
		if err := p.driver.Navigate(ctx, p.baseURL); err != nil {
			return &NavigationError{URL: p.baseURL, Err: err}
		}
		return nil
	}
	verify := func(ctx context.Context) error {
		_, err := p.resolve(ctx, ElemPageBody, 20*time.Second)
		return err
	}
	return p.runStage(ctx, StageNavigated, action, verify)
}

// authenticateStage never fails the pipeline: a positive login check is
// trusted, otherwise the bounded manual-login wait runs and its timeout is
// merely recorded.
func (p *Pipeline) authenticateStage(ctx context.Context) {
	if p.auth == nil {
		p.record(StageAuthenticated, true, "no session attached, skipping login check")
		return
	}
	if p.auth.LoggedIn(ctx) {
		p.record(StageAuthenticated, true, "already logged in")
		return
	}

	log.Printf("not logged in; waiting up to %s for manual authentication", p.loginWait)
	p.events.LogSession("login-wait", fmt.Sprintf("waiting up to %s for manual login", p.loginWait))
	err := p.auth.AwaitLogin(ctx, p.loginWait)
	switch {
	case err == nil:
		p.events.LogSession("login-detected", "manual login completed")
		p.record(StageAuthenticated, true, "manual login completed")
	default:
		p.events.LogSession("login-timeout", err.Error())
		var timeout *AuthenticationTimeout
		if errors.As(err, &timeout) {
			p.record(StageAuthenticated, true, timeout.Error())
		} else {
			p.record(StageAuthenticated, true, fmt.Sprintf("login wait interrupted: %v, continuing", err))
		}
	}
}

func (p *Pipeline) searchStage(ctx context.Context, item order.GroceryItem) error {
	action := func(ctx context.Context) error {
		return p.performSearch(ctx, item.Name)
	}
	verify := func(ctx context.Context) error {
		_, err := p.resolve(ctx, ElemSearchResults, 15*time.Second)
		return err
	}
	return p.runStage(ctx, StageSearched, action, verify)
}

// performSearch follows the site's two-step search: click the decoy search
// bar on the landing page, then type into the real input on the search page.
func (p *Pipeline) performSearch(ctx context.Context, query string) error {
	trigger, err := p.resolve(ctx, ElemSearchTrigger, 20*time.Second)
	if err != nil {
		return err
	}
	if err := p.driver.Click(ctx, trigger.Candidate.Selector, trigger.Candidate.By); err != nil {
		return fmt.Errorf("click search trigger: %w", err)
	}
	p.sleep(p.settle)

	if loc, err := p.driver.CurrentURL(ctx); err == nil && !strings.Contains(loc, searchURLFragment) {
		// Navigation can lag; give it one more settle period.
		p.sleep(p.settle)
	}

	input, err := p.resolve(ctx, ElemSearchInput, 20*time.Second)
	if err != nil {
		return err
	}
	if err := p.driver.Clear(ctx, input.Candidate.Selector, input.Candidate.By); err != nil {
		return fmt.Errorf("clear search input: %w", err)
	}
	if err := p.driver.SendKeys(ctx, input.Candidate.Selector, input.Candidate.By, query); err != nil {
		return fmt.Errorf("type search query: %w", err)
	}
	if err := p.driver.PressEnter(ctx); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	return nil
}

var unavailablePattern = regexp.MustCompile(`(?i)not available|not found|out of stock|unavailable`)

// IsUnavailableMessage reports whether a verification message belongs to the
// unavailable/not-found class that triggers the alternatives lookup.
func IsUnavailableMessage(msg string) bool {
	return unavailablePattern.MatchString(msg)
}

// selectProductStage verifies a product card for the item is present. If the
// page instead shows an unavailable indicator, alternatives are collected and
// attached; they are suggestions only, never auto-selected.
func (p *Pipeline) selectProductStage(ctx context.Context, item order.GroceryItem) error {
	verify := func(ctx context.Context) error {
		if _, err := p.resolve(ctx, ElemProductUnavailable, 5*time.Second); err == nil {
			return fmt.Errorf("product %q appears unavailable on results page", item.Name)
		}
		_, err := p.resolve(ctx, ElemProductCard, 15*time.Second)
		return err
	}

	err := p.runStage(ctx, StageProductSelected, func(context.Context) error { return nil }, verify)
	if err == nil {
		return nil
	}
	if IsUnavailableMessage(err.Error()) {
		alts, altErr := p.collectAlternatives(ctx)
		if altErr != nil {
			log.Printf("alternatives lookup failed: %v", altErr)
		}
		return &AvailabilityError{Item: item.Name, Alternatives: alts}
	}
	return err
}

func (p *Pipeline) addToCartStage(ctx context.Context, item order.GroceryItem) error {
	action := func(ctx context.Context) error {
		match, err := p.resolve(ctx, ElemAddToCart, 15*time.Second)
		if err != nil {
			return err
		}
		return p.driver.Click(ctx, match.Candidate.Selector, match.Candidate.By)
	}
	verify := func(ctx context.Context) error {
		_, err := p.resolve(ctx, ElemCartCount, 10*time.Second)
		return err
	}
	return p.runStage(ctx, StageAddedToCart, action, verify)
}

func (p *Pipeline) openCartStage(ctx context.Context) error {
	action := func(ctx context.Context) error {
		match, err := p.resolve(ctx, ElemCartButton, 15*time.Second)
		if err != nil {
			return err
		}
		return p.driver.Click(ctx, match.Candidate.Selector, match.Candidate.By)
	}
	verify := func(ctx context.Context) error {
		_, err := p.resolve(ctx, ElemCartPage, 10*time.Second)
		return err
	}
	return p.runStage(ctx, StageCartOpened, action, verify)
}

func (p *Pipeline) checkoutStage(ctx context.Context) error {
	action := func(ctx context.Context) error {
		match, err := p.resolve(ctx, ElemProceedToPay, 15*time.Second)
		if err != nil {
			return err
		}
		return p.driver.Click(ctx, match.Candidate.Selector, match.Candidate.By)
	}
	verify := func(ctx context.Context) error {
		_, err := p.resolve(ctx, ElemPaymentPage, 15*time.Second)
		return err
	}
	return p.runStage(ctx, StageCheckoutStarted, action, verify)
}

// paymentStage submits the payment exactly once. Once the pay action has been
// invoked the stage never retries and never fails outright on a missing
// confirmation: the side effect already happened, so an unobserved
// confirmation yields a qualified success instead.
func (p *Pipeline) paymentStage(ctx context.Context) (string, error) {
	if err := p.boundaryCheck(ctx); err != nil {
		return "", err
	}

	match, err := p.resolve(ctx, ElemPayNow, 20*time.Second)
	if err != nil {
		return "", &PaymentError{Stage: StagePaymentConfirmed, Err: err}
	}
	if err := p.driver.Click(ctx, match.Candidate.Selector, match.Candidate.By); err != nil {
		return "", &PaymentError{Stage: StagePaymentConfirmed, Err: fmt.Errorf("click pay action: %w", err)}
	}
	p.paymentSubmitted = true
	p.sleep(p.settle)

	if _, err := p.resolve(ctx, ElemOrderSuccess, successWait); err != nil {
		msg := "Payment submitted, but the confirmation screen was not observed in time. The order is assumed to have been placed; please verify in your account."
		p.record(StagePaymentConfirmed, true, msg)
		return msg, nil
	}

	msg := "Order placed successfully!"
	if summary := p.confirmationSummary(ctx); summary != "" {
		msg = fmt.Sprintf("Order placed successfully! %s", summary)
	}
	p.record(StagePaymentConfirmed, true, msg)
	return msg, nil
}

// confirmationSummary extracts a short readable excerpt from the confirmation
// page. Best effort only.
func (p *Pipeline) confirmationSummary(ctx context.Context) string {
	html, err := p.driver.HTML(ctx)
	if err != nil {
		return ""
	}
	pageURL, err := url.Parse(p.baseURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return ""
	}

	text := p.sanitizer.Sanitize(article.Excerpt)
	if text == "" {
		text = p.sanitizer.Sanitize(article.TextContent)
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

// Alternatives searches for name and returns up to three substitute
// suggestions scraped from the results page.
func (p *Pipeline) Alternatives(ctx context.Context, name string) ([]string, error) {
	if err := p.performSearch(ctx, name); err != nil {
		return nil, err
	}
	p.sleep(p.settle)
	return p.collectAlternatives(ctx)
}

// collectAlternatives parses the current page for product suggestions, using
// the catalog's alternative-container candidates (CSS only; the HTML is
// parsed offline with goquery). Text comes from an untrusted page, so it is
// sanitized before it can reach a user-facing message.
func (p *Pipeline) collectAlternatives(ctx context.Context) ([]string, error) {
	html, err := p.driver.HTML(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var selectors []string
	for _, c := range p.catalog.Candidates(ElemAlternativeContainer) {
		if c.By == ByCSS {
			selectors = append(selectors, c.Selector)
		}
	}

	seen := make(map[string]bool)
	var alts []string
	for _, sel := range selectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.Join(strings.Fields(p.sanitizer.Sanitize(s.Text())), " ")
			if len(text) <= 3 || len(text) > 120 || seen[text] {
				return true
			}
			seen[text] = true
			alts = append(alts, text)
			return len(alts) < maxAlternatives
		})
		if len(alts) >= maxAlternatives {
			break
		}
	}
	return alts, nil
}
