// Package extract pulls structured action blocks out of model replies and
// returns the text that is safe to show the user.
package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"support-agent/internal/domain"
)

const createTicketAction = "create_ticket"

// blockPattern matches a fenced json block up to the next closing fence.
var blockPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// TicketResult is the display text plus the ticket action, if the reply
// carried a valid one.
type TicketResult struct {
	Display string
	Action  *domain.TicketAction
}

// BriefResult is the display text plus the brief update, if any.
type BriefResult struct {
	Display string
	Update  domain.BriefUpdate
}

type ticketBlock struct {
	Action      string            `json:"action"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Type        domain.TicketType `json:"type"`
	Priority    domain.Priority   `json:"priority"`
	PageURL     string            `json:"pageUrl"`
	Screenshot  string            `json:"screenshot"`
}

// Ticket strips every json block from reply and parses the first one as a
// create_ticket action. Malformed or invalid blocks yield no action.
func Ticket(reply string) TicketResult {
	body, display := split(reply)
	res := TicketResult{Display: display}
	if body == nil {
		return res
	}

	var block ticketBlock
	if err := json.Unmarshal(jsonc.ToJSON(body), &block); err != nil {
		return res
	}
	if block.Action != createTicketAction {
		return res
	}
	action := domain.TicketAction{
		Title:       strings.TrimSpace(block.Title),
		Description: strings.TrimSpace(block.Description),
		Type:        block.Type,
		Priority:    block.Priority,
		PageURL:     strings.TrimSpace(block.PageURL),
		Screenshot:  strings.TrimSpace(block.Screenshot),
	}
	if action.Validate() != nil {
		return res
	}
	res.Action = &action
	return res
}

// Brief strips every json block from reply and parses the first one as a
// brief update. The payload is the brief_update member when present,
// otherwise the object itself.
func Brief(reply string) BriefResult {
	body, display := split(reply)
	res := BriefResult{Display: display}
	if body == nil {
		return res
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(body), &obj); err != nil || obj == nil {
		return res
	}
	if inner, ok := obj["brief_update"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err != nil || nested == nil {
			return res
		}
		obj = nested
	}
	if len(obj) == 0 {
		return res
	}
	res.Update = domain.BriefUpdate(obj)
	return res
}

// Confirm appends the ticket acknowledgement to display.
func Confirm(display, title string) string {
	note := "✅ Ticket created: **" + title + "**\nYou can track it in the \"My Tickets\" tab."
	if strings.TrimSpace(display) == "" {
		return note
	}
	return display + "\n\n" + note
}

// split returns the body of the first block and the reply with all blocks
// removed. A reply without blocks is returned unchanged with a nil body.
func split(reply string) ([]byte, string) {
	m := blockPattern.FindStringSubmatch(reply)
	if m == nil {
		return nil, reply
	}
	body := bytes.TrimSpace([]byte(m[1]))
	display := reply
	for blockPattern.MatchString(display) {
		display = blockPattern.ReplaceAllString(display, "")
	}
	return body, strings.TrimSpace(display)
}
