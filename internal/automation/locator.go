package automation

import (
	"context"
	"fmt"
	"time"
)

// WaitKind is the condition a candidate must satisfy before it counts as a
// match.
type WaitKind string

const (
	// WaitPresent requires the element to exist in the DOM.
	WaitPresent WaitKind = "present"
	// WaitInteractable requires the element to be visible and enabled.
	WaitInteractable WaitKind = "interactable"
)

// Candidate is one strategy for locating a logical UI element: a selector,
// the condition it must satisfy, and how long to wait for it. Candidates are
// grouped into ordered lists; earlier entries are more specific and more
// fragile, later entries are broader.
type Candidate struct {
	Selector string
	By       By
	Kind     WaitKind
	Timeout  time.Duration
}

// Match identifies the candidate that resolved a logical element.
type Match struct {
	Element   string
	Candidate Candidate
	Index     int
}

const defaultCandidateTimeout = 5 * time.Second

// Resolve tries candidates strictly in order and returns on the first whose
// wait condition holds. It has no side effects beyond driver queries, so it is
// safe to call repeatedly. On exhaustion it returns a LocatorNotFoundError
// carrying every candidate's failure reason.
func Resolve(ctx context.Context, d PageDriver, element string, candidates []Candidate, overall time.Duration) (*Match, error) {
	if len(candidates) == 0 {
		return nil, &LocatorNotFoundError{Element: element}
	}

	if overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, overall)
		defer cancel()
	}

	failures := make([]CandidateFailure, 0, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			failures = append(failures, CandidateFailure{
				Selector: c.Selector,
				Reason:   fmt.Sprintf("not attempted: %v", err),
			})
			continue
		}

		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultCandidateTimeout
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := waitFor(waitCtx, d, c)
		cancel()

		if err == nil {
			return &Match{Element: element, Candidate: c, Index: i}, nil
		}
		failures = append(failures, CandidateFailure{
			Selector: c.Selector,
			Reason:   err.Error(),
		})
	}

	return nil, &LocatorNotFoundError{Element: element, Attempts: failures}
}

func waitFor(ctx context.Context, d PageDriver, c Candidate) error {
	if c.Kind == WaitInteractable {
		return d.WaitInteractable(ctx, c.Selector, c.By)
	}
	return d.WaitPresent(ctx, c.Selector, c.By)
}
