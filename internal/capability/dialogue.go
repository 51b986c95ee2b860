package capability

import "context"

// ConversationHandle is the opaque reference for one dialogue conversation.
type ConversationHandle string

// DialogueConfig seeds a conversation with caller context.
type DialogueConfig struct {
	PersonaID string         `json:"persona_id,omitempty"`
	Locale    string         `json:"locale,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Message is one user utterance sent to the dialogue capability.
type Message struct {
	Content string `json:"content"`
}

// DialogueResult is the dialogue capability's answer to one message.
type DialogueResult struct {
	Response        DialogueResponse `json:"response"`
	Analysis        map[string]any   `json:"analysis,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Actions         []string         `json:"actions,omitempty"`
}

// DialogueResponse carries the assistant text plus optional sentiment
// metadata used for emotion selection.
type DialogueResponse struct {
	Content   string `json:"content"`
	Sentiment string `json:"sentiment,omitempty"`
}

// DialogueProvider is the dialogue / NLU capability.
type DialogueProvider interface {
	HealthReporter

	CreateConversation(ctx context.Context, userID string, cfg DialogueConfig) (ConversationHandle, error)
	ProcessMessage(ctx context.Context, h ConversationHandle, msg Message) (DialogueResult, error)
	EndConversation(ctx context.Context, h ConversationHandle) error
}
