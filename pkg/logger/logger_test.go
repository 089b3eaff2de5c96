package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fieldsErr struct{}

func (fieldsErr) Error() string      { return "сбой" }
func (fieldsErr) LogFields() []Field { return []Field{String("error_code", "E42")} }

func newBufferLogger(level LogLevel) (*LogrusLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(Config{Level: level, JSON: true, Output: buf}), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestLogrusLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Debug(context.Background(), "debug")
	l.Info(context.Background(), "info")
	l.Warn(context.Background(), "warn")
	l.Error(context.Background(), "error")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["msg"])
	assert.Equal(t, "error", lines[1]["msg"])

	assert.False(t, l.IsEnabled(LogLevelInfo))
	l.SetLevel(LogLevelDebug)
	assert.True(t, l.IsEnabled(LogLevelDebug))
}

func TestLogrusLogger_ComponentAndFields(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	child := l.WithComponent("provider").WithFields(String("user", "alice"))
	ctx := ContextWithCallID(context.Background(), "call-1")
	child.Info(ctx, "готово", Int("port", 5061), Bool("secure", true))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "provider", entry["component"])
	assert.Equal(t, "alice", entry["user"])
	assert.Equal(t, "call-1", entry["call_id"])
	assert.Equal(t, float64(5061), entry["port"])
	assert.Equal(t, true, entry["secure"])
}

func TestLogrusLogger_LogErrorAddsCarrierFields(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	err := errors.Join(errors.New("внешняя"), fieldsErr{})
	l.LogError(context.Background(), err, "не удалось")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "E42", lines[0]["error_code"])
	assert.Contains(t, lines[0]["error"], "сбой")
	assert.Equal(t, "error", lines[0]["level"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	lvl, err = ParseLevel("Warning")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	l := Nop()
	l.WithComponent("x").WithFields(String("a", "b")).Info(context.Background(), "ничего")
	assert.False(t, l.IsEnabled(LogLevelError))
}
