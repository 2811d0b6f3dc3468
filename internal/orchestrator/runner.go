package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/kiranatap/kirana/internal/automation"
	"github.com/kiranatap/kirana/internal/order"
)

// BrowserRunner executes purchases through a real browser session. Every run
// sets up a fresh session from the manager and tears it down on return, so a
// crashed run never leaks a Chrome process.
type BrowserRunner struct {
	Manager *automation.SessionManager
	BaseURL string

	// Isolated gives every run its own profile directory instead of the
	// manager's shared one. Isolated runs have no saved login.
	Isolated bool

	Opts []automation.PipelineOption
}

func NewBrowserRunner(manager *automation.SessionManager, baseURL string, isolated bool, opts ...automation.PipelineOption) *BrowserRunner {
	return &BrowserRunner{Manager: manager, BaseURL: baseURL, Isolated: isolated, Opts: opts}
}

// managerFor returns the session manager a run should use. Under isolation
// that is a copy pointed at a unique profile directory, so two concurrent
// runs never contend for one Chrome profile.
func (r *BrowserRunner) managerFor() *automation.SessionManager {
	if !r.Isolated {
		return r.Manager
	}
	m := *r.Manager
	m.ProfileDir = r.Manager.ProfileDir + "-" + uuid.NewString()[:8]
	return &m
}

func (r *BrowserRunner) Place(ctx context.Context, items []order.GroceryItem) (string, []order.StageResult, error) {
	mgr := r.managerFor()
	sess, err := mgr.Setup(ctx)
	if err != nil {
		return "", nil, err
	}
	defer sess.Teardown()

	p := automation.NewPipeline(sess.Driver(), mgr.Catalog, sess, r.BaseURL, r.Opts...)
	msg, err := p.Run(ctx, items)
	return msg, p.Results(), err
}

func (r *BrowserRunner) Alternatives(ctx context.Context, name string) ([]string, error) {
	mgr := r.managerFor()
	sess, err := mgr.Setup(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Teardown()

	if err := sess.Driver().Navigate(ctx, r.BaseURL); err != nil {
		return nil, &automation.NavigationError{URL: r.BaseURL, Err: err}
	}
	p := automation.NewPipeline(sess.Driver(), mgr.Catalog, sess, r.BaseURL, r.Opts...)
	return p.Alternatives(ctx, name)
}
