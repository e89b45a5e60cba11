package redact_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/hydrosense/hydrochat/internal/redact"
)

func newCaptureLogger(secret string) (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	inner := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(redact.NewHandler(inner, secret)), buf
}

func TestHandlerMasksNRICInMessageAndAttrs(t *testing.T) {
	t.Parallel()

	logger, buf := newCaptureLogger("")
	logger.Info("created patient S1234567A",
		"nric", "T7654321K",
		"count", 2,
	)

	out := buf.String()
	if strings.Contains(out, "S1234567A") || strings.Contains(out, "T7654321K") {
		t.Fatalf("raw NRIC leaked into log output: %s", out)
	}
	if !strings.Contains(out, "S******7A") || !strings.Contains(out, "T******1K") {
		t.Fatalf("masked NRIC missing from log output: %s", out)
	}
	if !strings.Contains(out, "count=2") {
		t.Fatalf("non-string attr mangled: %s", out)
	}
}

func TestHandlerRedactsBearerToken(t *testing.T) {
	t.Parallel()

	logger, buf := newCaptureLogger("tok-abcdef-123456")
	logger.Warn("request failed", "detail", "auth tok-abcdef-123456 rejected")

	out := buf.String()
	if strings.Contains(out, "tok-abcdef-123456") {
		t.Fatalf("raw bearer token leaked: %s", out)
	}
	if !strings.Contains(out, "tok-***") {
		t.Fatalf("redacted token missing: %s", out)
	}
}

func TestHandlerWithAttrsScrubs(t *testing.T) {
	t.Parallel()

	logger, buf := newCaptureLogger("")
	logger = logger.With("patient", "S1234567A")
	logger.Info("cache refreshed")

	out := buf.String()
	if strings.Contains(out, "S1234567A") {
		t.Fatalf("raw NRIC leaked via WithAttrs: %s", out)
	}
	if !strings.Contains(out, "S******7A") {
		t.Fatalf("masked NRIC missing via WithAttrs: %s", out)
	}
}

func TestHandlerScrubsGroupedAttrs(t *testing.T) {
	t.Parallel()

	logger, buf := newCaptureLogger("")
	logger.Info("tool call",
		slog.Group("request", slog.String("body", `{"nric":"S1234567A"}`)),
	)

	out := buf.String()
	if strings.Contains(out, "S1234567A") {
		t.Fatalf("raw NRIC leaked inside group: %s", out)
	}
}
