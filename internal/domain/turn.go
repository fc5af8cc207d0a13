package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// MaxImages is the number of inline images a single user turn may carry.
	MaxImages = 3
)

// Turn is one message in a caller-supplied transcript.
type Turn struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// TenantContext is operator-controlled metadata about the site the agent is
// serving. It is interpolated into the system prompt as plain text.
type TenantContext struct {
	SiteID         string
	SiteName       string
	PageURL        string
	PromptOverride string
}

// LastUserIndex returns the index of the most recent user turn, or -1.
func LastUserIndex(transcript []Turn) int {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
