// Package prompt assembles the system message and chat history sent to the
// model gateway.
package prompt

import (
	"fmt"
	"strings"

	"support-agent/internal/domain"
)

// MaxOverrideLen caps the tenant-supplied instruction override, in runes.
const MaxOverrideLen = 2000

// Compose builds the system message: the tenant override (if any), the base
// instructions, and a trailing context line with the tenant metadata.
// Tenant values are operator-controlled and are interpolated as-is.
func Compose(base string, tenant domain.TenantContext) string {
	var b strings.Builder
	if override := capRunes(strings.TrimSpace(tenant.PromptOverride), MaxOverrideLen); override != "" {
		b.WriteString(override)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(base))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Context: Site ID: %s, Site: %s, Current page: %s",
		orUnknown(tenant.SiteID), orUnknown(tenant.SiteName), orUnknown(tenant.PageURL))
	return b.String()
}

// Messages returns [system, ...transcript]. Images are carried only by the
// most recent user turn.
func Messages(system string, transcript []domain.Turn) []domain.ChatMessage {
	last := domain.LastUserIndex(transcript)
	messages := make([]domain.ChatMessage, 0, len(transcript)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	for i, turn := range transcript {
		msg := domain.ChatMessage{Role: turn.Role, Content: turn.Content}
		if i == last && len(turn.Images) > 0 {
			msg.Images = append([]string(nil), turn.Images...)
		}
		messages = append(messages, msg)
	}
	return messages
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
