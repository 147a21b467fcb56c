package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogLevelsWriteToOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Debug("Test", "debug %s", "msg")
	Info("Test", "info msg")
	Warn("Test", "warn msg")
	Error("Test", assertErr{}, "error msg")

	out := buf.String()
	for _, want := range []string{"debug msg", "info msg", "warn msg", "error msg"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestPluginFailureIncludesKindAndPlugin(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	PluginFailure("redactor", "request", "timeout", assertErr{})

	out := buf.String()
	for _, want := range []string{"redactor", "request", "timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected plugin failure log to contain %q, got: %s", want, out)
		}
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
