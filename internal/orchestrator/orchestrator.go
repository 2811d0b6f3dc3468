package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/kiranatap/kirana/internal/automation"
	"github.com/kiranatap/kirana/internal/order"
	"github.com/kiranatap/kirana/pkg/config"
)

// Sink receives order lifecycle events. Implementations must tolerate being
// called from multiple goroutines.
type Sink interface {
	Push(orderID string, status order.Status, message string)
}

// Runner executes one purchase attempt against the store. It owns whatever
// browser session the attempt needs and releases it before returning.
type Runner interface {
	Place(ctx context.Context, items []order.GroceryItem) (string, []order.StageResult, error)
	Alternatives(ctx context.Context, name string) ([]string, error)
}

// Orchestrator owns order execution: it is the only writer of order status,
// enforces one in-flight run per order, and serializes browser access when
// orders share a profile.
type Orchestrator struct {
	registry *order.Registry
	runner   Runner
	sink     Sink
	policy   config.ProfilePolicy

	mu     sync.Mutex
	active map[string]context.CancelFunc

	// profileGate serializes runs under the shared profile policy. A single
	// Chrome profile can back only one live browser at a time.
	profileGate sync.Mutex

	wg sync.WaitGroup
}

func New(registry *order.Registry, runner Runner, sink Sink, policy config.ProfilePolicy) *Orchestrator {
	if sink == nil {
		sink = noopSink{}
	}
	return &Orchestrator{
		registry: registry,
		runner:   runner,
		sink:     sink,
		policy:   policy,
		active:   make(map[string]context.CancelFunc),
	}
}

type noopSink struct{}

func (noopSink) Push(string, order.Status, string) {}

var (
	ErrUnknownOrder   = errors.New("unknown order")
	ErrAlreadyRunning = errors.New("order is already being processed")
	ErrNotPending     = errors.New("order is not awaiting confirmation")
)

// Submit starts executing a confirmed order in the background. Only a pending
// order can be submitted, and each order at most once.
func (o *Orchestrator) Submit(ctx context.Context, orderID string) error {
	ord, ok := o.registry.Get(orderID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	// The run must outlive the submitting request: the caller's context dies
	// with its connection, while the purchase keeps going. Cancellation is
	// only available through the explicit per-order token held in active.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	if _, running := o.active[orderID]; running {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, orderID)
	}
	if ord.Status != order.StatusPending {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s is %s", ErrNotPending, orderID, ord.Status)
	}
	o.active[orderID] = cancel
	o.mu.Unlock()

	if err := o.registry.SetStatus(orderID, order.StatusProcessing, "placing your order"); err != nil {
		o.mu.Lock()
		delete(o.active, orderID)
		o.mu.Unlock()
		cancel()
		return err
	}
	o.sink.Push(orderID, order.StatusProcessing, "Got it! Placing your order now...")

	o.wg.Add(1)
	go o.run(runCtx, orderID, ord.Items)
	return nil
}

// Cancel requests cancellation of an in-flight order and reports whether one
// was running. The pipeline honors the request at stage boundaries only, and
// ignores it entirely once payment has been submitted.
func (o *Orchestrator) Cancel(orderID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[orderID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) run(ctx context.Context, orderID string, items []order.GroceryItem) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		cancel, ok := o.active[orderID]
		delete(o.active, orderID)
		o.mu.Unlock()
		if ok {
			cancel()
		}
	}()

	if o.policy == config.ProfileShared {
		o.profileGate.Lock()
		defer o.profileGate.Unlock()
	}

	msg, stages, err := o.runner.Place(ctx, items)
	if rerr := o.registry.AppendStageResults(orderID, stages); rerr != nil {
		log.Printf("order %s: record stages: %v", orderID, rerr)
	}

	if err != nil {
		status, userMsg := classifyFailure(err)
		if serr := o.registry.SetStatus(orderID, status, userMsg); serr != nil {
			log.Printf("order %s: record failure: %v", orderID, serr)
		}
		o.sink.Push(orderID, status, userMsg)
		return
	}

	if serr := o.registry.SetStatus(orderID, order.StatusCompleted, msg); serr != nil {
		log.Printf("order %s: record completion: %v", orderID, serr)
	}
	o.sink.Push(orderID, order.StatusCompleted, msg)
}

// classifyFailure maps an execution error to a terminal status and a message
// fit for the end user.
func classifyFailure(err error) (order.Status, string) {
	var availErr *automation.AvailabilityError
	if errors.As(err, &availErr) {
		msg := fmt.Sprintf("Sorry, %q is currently unavailable.", availErr.Item)
		if len(availErr.Alternatives) > 0 {
			msg += " You could try instead: " + strings.Join(availErr.Alternatives, ", ") + "."
		}
		return order.StatusFailed, msg
	}

	var setupErr *automation.SetupError
	if errors.As(err, &setupErr) {
		return order.StatusFailed, "Could not start the store session. Please try again in a moment."
	}

	var payErr *automation.PaymentError
	if errors.As(err, &payErr) {
		return order.StatusFailed, "Payment step failed before any money moved. Your cart is untouched; please try again."
	}

	return order.StatusFailed, fmt.Sprintf("Order failed: %v", err)
}

// maxAlternativeSuggestions bounds how many substitutes a caller is offered.
const maxAlternativeSuggestions = 3

// CheckAlternatives looks up substitute suggestions for an item without
// creating an order. At most maxAlternativeSuggestions are returned, whatever
// the runner produced.
func (o *Orchestrator) CheckAlternatives(ctx context.Context, name string) ([]string, error) {
	if o.policy == config.ProfileShared {
		o.profileGate.Lock()
		defer o.profileGate.Unlock()
	}
	alts, err := o.runner.Alternatives(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(alts) > maxAlternativeSuggestions {
		alts = alts[:maxAlternativeSuggestions]
	}
	return alts, nil
}

// Active reports whether an order is currently being executed.
func (o *Orchestrator) Active(orderID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[orderID]
	return ok
}

// ActiveCount returns how many orders are currently executing.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Wait blocks until all in-flight orders finish. Used on shutdown so a
// submitted payment is never abandoned mid-run.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
