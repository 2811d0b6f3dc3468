package automation

import (
	"context"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

// By selects the query language of a selector expression.
type By string

const (
	ByCSS   By = "css"
	ByXPath By = "xpath"
)

// PageDriver is the browser surface the engine drives. The production
// implementation wraps a chromedp tab; tests substitute scripted fakes.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	WaitPresent(ctx context.Context, selector string, by By) error
	WaitInteractable(ctx context.Context, selector string, by By) error
	Click(ctx context.Context, selector string, by By) error
	Clear(ctx context.Context, selector string, by By) error
	SendKeys(ctx context.Context, selector string, by By, text string) error
	PressEnter(ctx context.Context) error
	Eval(ctx context.Context, js string, out any) error
	CurrentURL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
}

// chromeDriver drives one chromedp tab. The tab context owns the browser
// lifetime; the caller context only bounds individual operations.
type chromeDriver struct {
	tabCtx context.Context
}

func newChromeDriver(tabCtx context.Context) *chromeDriver {
	return &chromeDriver{tabCtx: tabCtx}
}

func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx := d.tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func queryOption(by By) chromedp.QueryOption {
	if by == ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (d *chromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *chromeDriver) WaitPresent(ctx context.Context, selector string, by By) error {
	return d.run(ctx, chromedp.WaitReady(selector, queryOption(by)))
}

func (d *chromeDriver) WaitInteractable(ctx context.Context, selector string, by By) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, queryOption(by)),
		chromedp.WaitEnabled(selector, queryOption(by)),
	)
}

func (d *chromeDriver) Click(ctx context.Context, selector string, by By) error {
	return d.run(ctx, chromedp.Click(selector, queryOption(by)))
}

func (d *chromeDriver) Clear(ctx context.Context, selector string, by By) error {
	return d.run(ctx, chromedp.Clear(selector, queryOption(by)))
}

func (d *chromeDriver) SendKeys(ctx context.Context, selector string, by By, text string) error {
	return d.run(ctx, chromedp.SendKeys(selector, text, queryOption(by)))
}

func (d *chromeDriver) PressEnter(ctx context.Context) error {
	return d.run(ctx, chromedp.KeyEvent("\r"))
}

func (d *chromeDriver) Eval(ctx context.Context, js string, out any) error {
	return d.run(ctx, chromedp.Evaluate(js, out))
}

func (d *chromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, chromedp.Location(&url))
	return url, err
}

func (d *chromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return html, err
}
