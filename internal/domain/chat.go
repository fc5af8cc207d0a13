package domain

// ChatMessage is the provider-agnostic chat message shape used by the prompt
// composer and LLM integrations. Images holds inline data URLs and is only
// populated for the latest user turn.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"-"`
}
