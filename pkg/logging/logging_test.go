package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault(&buf)

	log.Info("hello", "key", "value")
	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key")
	assert.Contains(t, out, "value")
}

func TestErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault(&buf)

	log.Error("failed", errors.New("boom"))
	assert.Contains(t, buf.String(), "boom")
}

func TestWithAttachesFieldsToSubsequentLines(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault(&buf).With("session_id", 42)

	log.Debug("tick")
	assert.Contains(t, buf.String(), "42")
}

func TestNewSessionCorrelatedAttachesSessionAndTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := NewDefault(&buf)
	log := NewSessionCorrelated(base, 7)

	log.Info("opened")
	out := buf.String()
	assert.True(t, strings.Contains(out, "session_id"))
	assert.True(t, strings.Contains(out, "trace_id"))
}

func TestNopDiscardsOutput(t *testing.T) {
	log := Nop()
	assert.NotPanics(t, func() { log.Info("anything") })
}
