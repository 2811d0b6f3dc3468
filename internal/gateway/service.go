package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kiranatap/kirana/internal/orchestrator"
	"github.com/kiranatap/kirana/internal/order"
	"github.com/kiranatap/kirana/internal/parser"
)

// Service is the conversation logic shared by every gateway: turn free text
// into a pending order, and confirmations into submitted ones. Gateways own
// the channel-specific part, which pending order a bare "yes" refers to.
type Service struct {
	Parser   parser.Parser
	Registry *order.Registry
	Orch     *orchestrator.Orchestrator
}

func NewService(p parser.Parser, reg *order.Registry, orch *orchestrator.Orchestrator) *Service {
	return &Service{Parser: p, Registry: reg, Orch: orch}
}

var confirmPattern = regexp.MustCompile(`^(yes|y|yeah|yep|sure|ok|okay|confirm|confirmed|go ahead|place it|place order)[.!]?$`)

// IsConfirmation reports whether a message is a bare confirmation rather than
// a new order request.
func IsConfirmation(text string) bool {
	return confirmPattern.MatchString(strings.ToLower(strings.TrimSpace(text)))
}

// ParseOrder extracts grocery items from free text and creates a pending
// order awaiting confirmation. A nil order with a non-empty reply means the
// text contained nothing actionable.
func (s *Service) ParseOrder(ctx context.Context, text string) (*order.Order, string, error) {
	items, err := s.Parser.Parse(ctx, text)
	if err != nil {
		return nil, "", fmt.Errorf("parse order text: %w", err)
	}
	if len(items) == 0 {
		return nil, "I couldn't find any grocery items in that. Try something like \"2 litres of milk and a dozen eggs\".", nil
	}

	ord, err := s.Registry.Create(items)
	if err != nil {
		return nil, "", err
	}

	reply := fmt.Sprintf("Here's what I got:\n%s\nReply \"yes\" to place the order (ref %s).", order.Summary(items), ord.ID)
	return ord, reply, nil
}

// Confirm submits a specific pending order for execution.
func (s *Service) Confirm(ctx context.Context, orderID string) (string, error) {
	if err := s.Orch.Submit(ctx, orderID); err != nil {
		return "", err
	}
	return fmt.Sprintf("On it! Placing order %s now. I'll keep you posted.", orderID), nil
}

// ConfirmLatest resolves a bare confirmation against the caller's own pending
// orders: the most recently created one wins.
func (s *Service) ConfirmLatest(ctx context.Context, ownedIDs []string) (string, error) {
	ord, ok := s.Registry.LatestPending(ownedIDs)
	if !ok {
		return "There's nothing waiting for confirmation. Tell me what you need first.", nil
	}
	return s.Confirm(ctx, ord.ID)
}

// Status returns the current state of an order.
func (s *Service) Status(orderID string) (*order.Order, bool) {
	return s.Registry.Get(orderID)
}
