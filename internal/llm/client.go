// Package llm defines the model client contract used by the planner and the
// placeholder resolvers, plus an OpenAI-compatible HTTP implementation and a
// scripted mock for tests.
package llm

import "context"

// Task names the calling subsystem so providers can route or log per use.
type Task string

const (
	TaskPlanStep         Task = "plan_step"
	TaskResolveSecrets   Task = "resolve_secrets"
	TaskResolveVariables Task = "resolve_variables"
	TaskTTSEnhance       Task = "tts_enhance"
)

// Attachment is a compressed image attached to a request.
type Attachment struct {
	MimeType string
	Data     []byte
}

// Request is one completion request.
type Request struct {
	System      string
	Prompt      string
	Images      []Attachment
	MaxTokens   int
	Temperature float64
}

// Response is the model reply.
type Response struct {
	Content string
	Model   string
}

// Client is the single dependency injected into planners and resolvers.
type Client interface {
	// Execute runs one completion for the given task.
	Execute(ctx context.Context, task Task, req Request) (Response, error)
	// ExecuteTTSEnhancement is the narration-specialized variant; providers
	// may route it to a different model.
	ExecuteTTSEnhancement(ctx context.Context, req Request) (Response, error)
}
