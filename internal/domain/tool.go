package domain

import "context"

// ToolParam describes a single tool argument.
type ToolParam struct {
	Type        string
	Description string
	Required    bool
	Enum        []string
	ItemType    string // element type when Type is "array"
}

// ToolResult is what a tool hands back to the research step.
type ToolResult struct {
	// Output is stored as the JSON content of the tool message.
	Output any
	// Failure is set when the tool degraded to an empty result. It is a
	// user-facing sentence describing what went wrong.
	Failure string
}

// Tool is a capability the model may call during research.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]ToolParam
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}
