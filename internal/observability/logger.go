package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeOrder     EventType = "order"
	EventTypeStage     EventType = "stage"
	EventTypeSession   EventType = "session"
	EventTypeLocator   EventType = "locator"
	EventTypeGateway   EventType = "gateway"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"order_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. Stage events additionally go to a JSONL
// audit file so a purchase can be reconstructed after the fact.
type Logger struct {
	stageLogPath string
	maxSize      int64
}

func NewLogger() *Logger {
	return &Logger{
		stageLogPath: filepath.Join("logs", "stages.jsonl"),
		maxSize:      10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event to stdout.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	if evt.Type == EventTypeStage {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.stageLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.stageLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.stageLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.stageLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.stageLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogOrder(orderID, status, message string) {
	l.Log(Event{
		Type:    EventTypeOrder,
		OrderID: orderID,
		Data: map[string]string{
			"status":  status,
			"message": message,
		},
	})
}

func (l *Logger) LogStage(orderID, stage string, success bool, message string) {
	l.Log(Event{
		Type:    EventTypeStage,
		OrderID: orderID,
		Data: map[string]any{
			"stage":   stage,
			"success": success,
			"message": message,
		},
	})
}

func (l *Logger) LogSession(event, detail string) {
	l.Log(Event{
		Type: EventTypeSession,
		Data: map[string]string{
			"event":  event,
			"detail": detail,
		},
	})
}

func (l *Logger) LogLocator(element, selector string, index int) {
	l.Log(Event{
		Type: EventTypeLocator,
		Data: map[string]any{
			"element":  element,
			"selector": selector,
			"index":    index,
		},
	})
}

func (l *Logger) LogGateway(channel, detail string) {
	l.Log(Event{
		Type: EventTypeGateway,
		Data: map[string]string{
			"channel": channel,
			"detail":  detail,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(orderID string, prompt any, response string) {
	l.Log(Event{
		Type:    EventTypeLLM,
		OrderID: orderID,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}
