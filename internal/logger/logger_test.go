package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf)

	log.Info().Str("upload_id", "u-1").Msg("claimed")

	out := buf.String()
	if !strings.Contains(out, "claimed") {
		t.Errorf("log output missing message: %s", out)
	}
	if !strings.Contains(out, "u-1") {
		t.Errorf("log output missing field: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf)

	ctx := WithContext(context.Background(), log)
	got := FromContext(ctx)

	got.Info().Msg("through context")
	if !strings.Contains(buf.String(), "through context") {
		t.Error("logger retrieved from context did not write to the injected writer")
	}
}

func TestFromContextFallback(t *testing.T) {
	// A bare context must still yield a usable logger.
	log := FromContext(context.Background())
	log.Debug().Msg("fallback")
}
