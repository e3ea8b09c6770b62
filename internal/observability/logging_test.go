package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info(context.Background(), "resolved key", "detail", "api_key=abcdef1234567890abcdef")
	out := buf.String()
	if strings.Contains(out, "abcdef1234567890abcdef") {
		t.Errorf("api key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[redacted]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestLoggerRedactsNationalID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Output: &buf})

	logger.Info(context.Background(), "customer said 12345678901 on the phone")
	if strings.Contains(buf.String(), "12345678901") {
		t.Errorf("national ID leaked into log output: %s", buf.String())
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := WithSessionID(WithBusinessID(context.Background(), "biz-1"), "sess-1")
	logger.Info(ctx, "turn complete")

	out := buf.String()
	for _, want := range []string{"sess-1", "biz-1", "session_id", "business_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output: %s", want, out)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info(context.Background(), "should not appear")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level: %s", buf.String())
	}
	logger.Warn(context.Background(), "should appear")
	if buf.Len() == 0 {
		t.Error("warn should pass at warn level")
	}
}
