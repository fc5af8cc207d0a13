package domain

import (
	"errors"
	"fmt"
	"strings"
)

type TicketType string

const (
	TicketBug           TicketType = "bug"
	TicketChangeRequest TicketType = "change_request"
	TicketFeedback      TicketType = "feedback"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// TicketAction is a validated request to file a support ticket.
type TicketAction struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        TicketType `json:"type"`
	Priority    Priority   `json:"priority,omitempty"`
	PageURL     string     `json:"pageUrl,omitempty"`
	Screenshot  string     `json:"screenshot,omitempty"`
}

// Validate reports whether the action carries every required field with
// values drawn from the enumerated sets. An empty priority is allowed.
func (a TicketAction) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return errors.New("domain: ticket title is required")
	}
	if strings.TrimSpace(a.Description) == "" {
		return errors.New("domain: ticket description is required")
	}
	switch a.Type {
	case TicketBug, TicketChangeRequest, TicketFeedback:
	default:
		return fmt.Errorf("domain: unknown ticket type %q", a.Type)
	}
	switch a.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("domain: unknown ticket priority %q", a.Priority)
	}
	return nil
}

// EffectivePriority returns the priority, defaulting to medium.
func (a TicketAction) EffectivePriority() Priority {
	if a.Priority == "" {
		return PriorityMedium
	}
	return a.Priority
}
