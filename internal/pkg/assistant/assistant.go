package assistant

import "context"

// PromptContext is everything the generation backend needs for one step: the
// accumulated conversation of the session plus the step's instruction.
type PromptContext struct {
	SessionID   string   `json:"session_id"`
	StepName    string   `json:"step_name"`
	Instruction string   `json:"instruction"`
	History     []string `json:"history"`
	ProfileInfo string   `json:"profile_info,omitempty"`
}

// Generator is the external generation capability. Implementations may be
// slow or rate-limited and must tolerate the same request being issued more
// than once; the caller never assumes idempotent side effects on the far end.
type Generator interface {
	Generate(ctx context.Context, prompt PromptContext) (string, error)
}
