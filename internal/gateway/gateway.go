package gateway

import (
	"sync"

	"github.com/kiranatap/kirana/internal/orchestrator"
	"github.com/kiranatap/kirana/internal/order"
)

// Messenger is a conversational gateway (Telegram, Discord, websocket hub).
type Messenger interface {
	// Start begins the message listening loop.
	Start() error
	// Stop gracefully shuts down the gateway.
	Stop() error
}

// FanOut fans order lifecycle events out to every attached sink. Sinks may
// be added after the fan-out is already wired into the orchestrator, which
// breaks the construction cycle between gateways and the orchestrator.
type FanOut struct {
	mu    sync.Mutex
	sinks []orchestrator.Sink
}

func (f *FanOut) Add(s orchestrator.Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *FanOut) Push(orderID string, status order.Status, message string) {
	f.mu.Lock()
	sinks := append([]orchestrator.Sink(nil), f.sinks...)
	f.mu.Unlock()
	for _, s := range sinks {
		s.Push(orderID, status, message)
	}
}
