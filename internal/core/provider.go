package core

import "context"

// Prompt carries everything a provider needs to draft an answer.
type Prompt struct {
	SystemPrompt string
	Question     string
	ImageURL     string
	History      string
}

// ResponseProvider produces response text for a prompt. Implementations
// return an error for any transport, auth or provider-side failure.
type ResponseProvider interface {
	Name() string
	Produce(ctx context.Context, p Prompt) (string, error)
}

// withHistory appends the conversation history to the persona text the same
// way for every provider.
func withHistory(systemPrompt, history string) string {
	return systemPrompt + " Here is the conversation history: " + history
}
