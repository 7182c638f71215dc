package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input).String())
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info", "json")
	l.Debug("hidden")
	l.Info("round finished", "round", 2, "driver", "A")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "round finished", rec["msg"])
	assert.Equal(t, "tandem", rec["service"])
	assert.Equal(t, float64(2), rec["round"])
	assert.Equal(t, "A", rec["driver"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug", "")
	l.Debug("swap", "reason", "alternate_each_round")

	assert.Contains(t, buf.String(), "msg=swap")
	assert.Contains(t, buf.String(), "reason=alternate_each_round")
}

func TestNewAndDiscard(t *testing.T) {
	assert.NotNil(t, New("info", "text"))
	Discard().Error("dropped")
}
