package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mpataki/tandem/internal/models"
)

// claude tool names to the normalised vocabulary used by the tracker.
var claudeToolNames = map[string]string{
	"Edit":      models.ToolEdit,
	"MultiEdit": models.ToolEdit,
	"Write":     models.ToolWrite,
	"Read":      "read",
	"Grep":      "grep",
	"Glob":      "find",
	"LS":        "ls",
	"Bash":      "bash",
}

func normalizeToolName(name string) string {
	if n, ok := claudeToolNames[name]; ok {
		return n
	}
	return strings.ToLower(name)
}

// claudeTools expands normalised tool names into the CLI's names.
func claudeTools(tools []string) []string {
	var out []string
	for _, t := range tools {
		switch t {
		case models.ToolEdit:
			out = append(out, "Edit", "MultiEdit")
		case models.ToolWrite:
			out = append(out, "Write")
		case "read":
			out = append(out, "Read")
		case "grep":
			out = append(out, "Grep")
		case "find":
			out = append(out, "Glob")
		case "ls":
			out = append(out, "LS")
		case "bash":
			out = append(out, "Bash")
		}
	}
	return out
}

type streamLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   *streamMessage  `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Errors    json.RawMessage `json:"errors"`
}

type streamMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// streamDecoder turns claude stream-json output lines into tool events and
// terminal results.
type streamDecoder struct {
	onEvent   func(models.ToolEvent)
	pending   map[string]string
	sessionID string
	results   int
	last      Result
	lastText  string
}

func newStreamDecoder(onEvent func(models.ToolEvent)) *streamDecoder {
	if onEvent == nil {
		onEvent = func(models.ToolEvent) {}
	}
	return &streamDecoder{onEvent: onEvent, pending: make(map[string]string)}
}

// Feed decodes one line. It reports true when the line was a result message.
func (d *streamDecoder) Feed(line []byte) (bool, error) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return false, nil
	}
	var msg streamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return false, fmt.Errorf("decode stream line: %w", err)
	}
	if msg.SessionID != "" {
		d.sessionID = msg.SessionID
	}

	switch msg.Type {
	case "assistant":
		if msg.Message == nil {
			return false, nil
		}
		d.onEvent(models.ToolEvent{Kind: models.MessageStart})
		for _, b := range msg.Message.Content {
			switch b.Type {
			case "text":
				d.lastText = b.Text
			case "tool_use":
				name := normalizeToolName(b.Name)
				d.pending[b.ID] = name
				d.onEvent(models.ToolEvent{Kind: models.ToolCallStart, CallID: b.ID, ToolName: name, Args: b.Input})
			}
		}
		d.onEvent(models.ToolEvent{Kind: models.MessageEnd})
	case "user":
		if msg.Message == nil {
			return false, nil
		}
		for _, b := range msg.Message.Content {
			if b.Type != "tool_result" {
				continue
			}
			name := d.pending[b.ToolUseID]
			delete(d.pending, b.ToolUseID)
			d.onEvent(models.ToolEvent{
				Kind:     models.ToolCallEnd,
				CallID:   b.ToolUseID,
				ToolName: name,
				IsError:  b.IsError,
				Result:   resultText(b.Content),
			})
		}
	case "result":
		d.results++
		d.last = Result{SessionID: d.sessionID, StopReason: StopEnd, Text: msg.Result}
		if msg.IsError || (msg.Subtype != "" && msg.Subtype != "success") {
			d.last.StopReason = StopError
			d.last.ErrorMessage = msg.Subtype
			if msg.Result != "" {
				d.last.ErrorMessage = msg.Result
			}
		}
		if d.last.Text == "" && d.last.StopReason == StopEnd {
			d.last.Text = d.lastText
		}
		return true, nil
	}
	return false, nil
}

func (d *streamDecoder) Results() int { return d.results }

func (d *streamDecoder) Result() Result { return d.last }

// resultText flattens a tool_result content field, which is either a string
// or a list of text blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type userLine struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string         `json:"role"`
	Content []contentInput `json:"content"`
}

type contentInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func encodeUserMessage(text string) ([]byte, error) {
	data, err := json.Marshal(userLine{
		Type:    "user",
		Message: userMessage{Role: "user", Content: []contentInput{{Type: "text", Text: text}}},
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
