package automation

// EventLogger receives session lifecycle and locator resolution events.
// Implementations must be safe for concurrent use.
type EventLogger interface {
	LogSession(event, detail string)
	LogLocator(element, selector string, index int)
}

type nopEvents struct{}

func (nopEvents) LogSession(string, string) {}

func (nopEvents) LogLocator(string, string, int) {}
