package observability

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseOrdering Phase = "ORDERING"
	PhaseWaiting  Phase = "LOGIN-WAIT"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentPhase  Phase
	ActiveOrder   string
	ActiveOrders  int
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	CurrentPhase:  PhaseIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(phase Phase, activeOrder string, activeOrders int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentPhase = phase
	globalStatus.ActiveOrder = activeOrder
	globalStatus.ActiveOrders = activeOrders
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Phase, string, int, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentPhase, globalStatus.ActiveOrder, globalStatus.ActiveOrders, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
