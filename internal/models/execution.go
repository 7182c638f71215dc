package models

type ToolEventKind string

const (
	ToolCallStart ToolEventKind = "tool_call_start"
	ToolCallEnd   ToolEventKind = "tool_call_end"
	MessageStart  ToolEventKind = "message_start"
	MessageEnd    ToolEventKind = "message_end"
)

// ToolEvent is a notification from a worker's live event stream.
type ToolEvent struct {
	Kind     ToolEventKind  `json:"kind"`
	CallID   string         `json:"call_id,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	IsError  bool           `json:"is_error,omitempty"`
	Result   string         `json:"result,omitempty"`
}

// Write-capable tool names after normalisation.
const (
	ToolEdit  = "edit"
	ToolWrite = "write"
)

func IsWriteTool(name string) bool {
	return name == ToolEdit || name == ToolWrite
}
