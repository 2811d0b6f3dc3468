package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/kiranatap/kirana/internal/orchestrator"
	"github.com/kiranatap/kirana/internal/order"
	"github.com/kiranatap/kirana/pkg/config"
)

func TestIsConfirmation(t *testing.T) {
	yes := []string{"yes", "Yes", " YES ", "y", "ok", "okay", "sure", "confirm", "go ahead", "place it", "yep!", "yeah."}
	no := []string{"yes please add milk", "2 litres of milk", "no", "cancel", "", "confirm order 12ab"}

	for _, s := range yes {
		if !IsConfirmation(s) {
			t.Errorf("IsConfirmation(%q) = false, want true", s)
		}
	}
	for _, s := range no {
		if IsConfirmation(s) {
			t.Errorf("IsConfirmation(%q) = true, want false", s)
		}
	}
}

func TestService_ConfirmLatestPicksNewestPending(t *testing.T) {
	reg := order.NewRegistry()
	orch := orchestrator.New(reg, instantRunner{msg: "done"}, nil, config.ProfileShared)
	svc := NewService(stubParser{}, reg, orch)

	a, _ := reg.Create([]order.GroceryItem{{Name: "milk", Quantity: 1, Unit: "pieces", Category: "dairy"}})
	b, _ := reg.Create([]order.GroceryItem{{Name: "eggs", Quantity: 12, Unit: "pieces", Category: "dairy"}})

	reply, err := svc.ConfirmLatest(context.Background(), []string{a.ID, b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, b.ID) {
		t.Errorf("reply = %q, want newest order %s confirmed", reply, b.ID)
	}
	orch.Wait()

	gotA, _ := reg.Get(a.ID)
	gotB, _ := reg.Get(b.ID)
	if gotA.Status != order.StatusPending {
		t.Errorf("older order status = %s, want still pending", gotA.Status)
	}
	if gotB.Status == order.StatusPending {
		t.Errorf("newest order was never submitted")
	}
}

func TestService_ConfirmLatestWithNothingPending(t *testing.T) {
	reg := order.NewRegistry()
	orch := orchestrator.New(reg, instantRunner{}, nil, config.ProfileShared)
	svc := NewService(stubParser{}, reg, orch)

	reply, err := svc.ConfirmLatest(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "nothing waiting") {
		t.Errorf("reply = %q", reply)
	}
}

func TestService_ParseOrderSummaryReply(t *testing.T) {
	reg := order.NewRegistry()
	orch := orchestrator.New(reg, instantRunner{}, nil, config.ProfileShared)
	p := stubParser{items: []order.GroceryItem{
		{Name: "milk", Quantity: 2, Unit: "litres", Category: "dairy"},
		{Name: "bread", Quantity: 1, Unit: "pieces", Category: "bakery"},
	}}
	svc := NewService(p, reg, orch)

	ord, reply, err := svc.ParseOrder(context.Background(), "2 litres milk and bread")
	if err != nil {
		t.Fatal(err)
	}
	if ord == nil {
		t.Fatal("no order created")
	}
	if !strings.Contains(reply, ord.ID) || !strings.Contains(strings.ToLower(reply), "milk") {
		t.Errorf("reply = %q", reply)
	}
}
