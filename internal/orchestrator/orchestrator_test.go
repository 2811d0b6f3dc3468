package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranatap/kirana/internal/automation"
	"github.com/kiranatap/kirana/internal/order"
	"github.com/kiranatap/kirana/pkg/config"
)

type fakeRunner struct {
	mu       sync.Mutex
	placeErr error
	msg      string
	stages   []order.StageResult
	alts     []string
	altsErr  error

	calls   int
	running int
	maxSeen int
	block   chan struct{} // when set, Place blocks until closed
}

func (f *fakeRunner) Place(ctx context.Context, items []order.GroceryItem) (string, []order.StageResult, error) {
	f.mu.Lock()
	f.calls++
	f.running++
	if f.running > f.maxSeen {
		f.maxSeen = f.running
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.running--
	f.mu.Unlock()
	return f.msg, f.stages, f.placeErr
}

func (f *fakeRunner) Alternatives(ctx context.Context, name string) ([]string, error) {
	return f.alts, f.altsErr
}

// ctxRunner fails when its context is already dead, or, with waitCancel set,
// blocks until the context is canceled.
type ctxRunner struct {
	waitCancel bool
}

func (r *ctxRunner) Place(ctx context.Context, items []order.GroceryItem) (string, []order.StageResult, error) {
	if r.waitCancel {
		<-ctx.Done()
		return "", nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return "Order placed successfully!", nil, nil
}

func (r *ctxRunner) Alternatives(ctx context.Context, name string) ([]string, error) {
	return nil, nil
}

type event struct {
	orderID string
	status  order.Status
	message string
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) Push(orderID string, status order.Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{orderID, status, message})
}

func (s *recordingSink) forOrder(orderID string) []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event
	for _, e := range s.events {
		if e.orderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func items(names ...string) []order.GroceryItem {
	out := make([]order.GroceryItem, 0, len(names))
	for _, n := range names {
		out = append(out, order.GroceryItem{Name: n, Quantity: 1, Unit: "pieces", Category: "general"})
	}
	return out
}

func TestOrchestrator_CompletedOrderLifecycle(t *testing.T) {
	reg := order.NewRegistry()
	runner := &fakeRunner{
		msg: "Order placed successfully!",
		stages: []order.StageResult{
			{Stage: automation.StageInit, Success: true, Timestamp: time.Now()},
			{Stage: automation.StageCompleted, Success: true, Timestamp: time.Now()},
		},
	}
	sink := &recordingSink{}
	orch := New(reg, runner, sink, config.ProfileShared)

	ord, err := reg.Create(items("milk"))
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Submit(context.Background(), ord.ID); err != nil {
		t.Fatal(err)
	}
	orch.Wait()

	got, _ := reg.Get(ord.ID)
	if got.Status != order.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if len(got.Stages) != 2 {
		t.Errorf("stages = %d, want 2", len(got.Stages))
	}

	events := sink.forOrder(ord.ID)
	if len(events) != 2 {
		t.Fatalf("events = %d, want processing + completed", len(events))
	}
	if events[0].status != order.StatusProcessing {
		t.Errorf("first event = %s, want processing", events[0].status)
	}
	if events[1].status != order.StatusCompleted {
		t.Errorf("second event = %s, want completed", events[1].status)
	}
}

func TestOrchestrator_FailureWithAlternatives(t *testing.T) {
	reg := order.NewRegistry()
	runner := &fakeRunner{
		placeErr: &automation.AvailabilityError{
			Item:         "dragon fruit",
			Alternatives: []string{"Kiwi 3pc", "Pomegranate 1pc"},
		},
	}
	sink := &recordingSink{}
	orch := New(reg, runner, sink, config.ProfileShared)

	ord, _ := reg.Create(items("dragon fruit"))
	if err := orch.Submit(context.Background(), ord.ID); err != nil {
		t.Fatal(err)
	}
	orch.Wait()

	got, _ := reg.Get(ord.ID)
	if got.Status != order.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Message, "dragon fruit") || !strings.Contains(got.Message, "Kiwi 3pc") {
		t.Errorf("message = %q", got.Message)
	}

	events := sink.forOrder(ord.ID)
	if len(events) != 2 || events[1].status != order.StatusFailed {
		t.Errorf("events = %+v", events)
	}
}

func TestOrchestrator_SubmitUnknownOrder(t *testing.T) {
	orch := New(order.NewRegistry(), &fakeRunner{}, nil, config.ProfileShared)
	err := orch.Submit(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("error = %v, want ErrUnknownOrder", err)
	}
}

func TestOrchestrator_SubmitExclusivity(t *testing.T) {
	reg := order.NewRegistry()
	block := make(chan struct{})
	runner := &fakeRunner{msg: "done", block: block}
	orch := New(reg, runner, &recordingSink{}, config.ProfileShared)

	ord, _ := reg.Create(items("milk"))
	if err := orch.Submit(context.Background(), ord.ID); err != nil {
		t.Fatal(err)
	}

	// Second submit of the same order while in flight is rejected.
	err := orch.Submit(context.Background(), ord.ID)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("error = %v, want ErrAlreadyRunning", err)
	}

	close(block)
	orch.Wait()

	// Re-submit after completion is rejected too: the order is terminal.
	err = orch.Submit(context.Background(), ord.ID)
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("error = %v, want ErrNotPending", err)
	}
	if runner.calls != 1 {
		t.Errorf("runner ran %d times, want 1", runner.calls)
	}
}

func TestOrchestrator_SharedProfileSerializesRuns(t *testing.T) {
	reg := order.NewRegistry()
	block := make(chan struct{})
	runner := &fakeRunner{msg: "done", block: block}
	orch := New(reg, runner, &recordingSink{}, config.ProfileShared)

	a, _ := reg.Create(items("milk"))
	b, _ := reg.Create(items("bread"))
	if err := orch.Submit(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if err := orch.Submit(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	// Give the second goroutine a chance to (incorrectly) enter Place.
	time.Sleep(20 * time.Millisecond)
	runner.mu.Lock()
	maxSeen := runner.maxSeen
	runner.mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("concurrent runs under shared profile = %d, want 1", maxSeen)
	}

	close(block)
	orch.Wait()
	if runner.calls != 2 {
		t.Errorf("runner ran %d times, want 2", runner.calls)
	}
}

func TestOrchestrator_IsolatedProfileRunsConcurrently(t *testing.T) {
	reg := order.NewRegistry()
	block := make(chan struct{})
	runner := &fakeRunner{msg: "done", block: block}
	orch := New(reg, runner, &recordingSink{}, config.ProfileIsolated)

	a, _ := reg.Create(items("milk"))
	b, _ := reg.Create(items("bread"))
	if err := orch.Submit(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if err := orch.Submit(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		runner.mu.Lock()
		maxSeen := runner.maxSeen
		runner.mu.Unlock()
		if maxSeen == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("isolated-profile orders never overlapped")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(block)
	orch.Wait()
}

func TestOrchestrator_RunOutlivesCallerContext(t *testing.T) {
	reg := order.NewRegistry()
	orch := New(reg, &ctxRunner{}, &recordingSink{}, config.ProfileShared)

	ord, _ := reg.Create(items("milk"))

	// A request-scoped context is dead the moment the handler returns; the
	// purchase must not die with it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := orch.Submit(ctx, ord.ID); err != nil {
		t.Fatal(err)
	}
	orch.Wait()

	got, _ := reg.Get(ord.ID)
	if got.Status != order.StatusCompleted {
		t.Errorf("status = %s (%q), want completed", got.Status, got.Message)
	}
}

func TestOrchestrator_CancelStopsRun(t *testing.T) {
	reg := order.NewRegistry()
	orch := New(reg, &ctxRunner{waitCancel: true}, &recordingSink{}, config.ProfileShared)

	ord, _ := reg.Create(items("milk"))
	if err := orch.Submit(context.Background(), ord.ID); err != nil {
		t.Fatal(err)
	}
	if !orch.Cancel(ord.ID) {
		t.Fatal("expected an in-flight order to be cancelable")
	}
	orch.Wait()

	got, _ := reg.Get(ord.ID)
	if got.Status != order.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Message, "context canceled") {
		t.Errorf("message = %q", got.Message)
	}

	if orch.Cancel(ord.ID) {
		t.Error("cancel of a finished order should report nothing running")
	}
}

func TestOrchestrator_CheckAlternatives(t *testing.T) {
	runner := &fakeRunner{alts: []string{"a one", "b two", "c three"}}
	orch := New(order.NewRegistry(), runner, nil, config.ProfileShared)

	alts, err := orch.CheckAlternatives(context.Background(), "rice")
	if err != nil {
		t.Fatal(err)
	}
	if len(alts) != 3 {
		t.Errorf("alternatives = %v", alts)
	}
}

func TestOrchestrator_CheckAlternativesCapped(t *testing.T) {
	runner := &fakeRunner{alts: []string{"a", "b", "c", "d", "e"}}
	orch := New(order.NewRegistry(), runner, nil, config.ProfileShared)

	alts, err := orch.CheckAlternatives(context.Background(), "rice")
	if err != nil {
		t.Fatal(err)
	}
	if len(alts) != 3 {
		t.Errorf("alternatives = %v, want the first 3", alts)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantSub string
	}{
		{"availability", &automation.AvailabilityError{Item: "milk"}, "unavailable"},
		{"setup", &automation.SetupError{Reason: "launch failed"}, "store session"},
		{"payment", &automation.PaymentError{Stage: "PaymentConfirmed", Err: errors.New("x")}, "Payment step failed"},
		{"generic", errors.New("something odd"), "Order failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := classifyFailure(tt.err)
			if status != order.StatusFailed {
				t.Errorf("status = %s", status)
			}
			if !strings.Contains(msg, tt.wantSub) {
				t.Errorf("msg = %q, want substring %q", msg, tt.wantSub)
			}
		})
	}
}
