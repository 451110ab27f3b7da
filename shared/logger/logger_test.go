package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			check.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewTagsService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Service: "bid-worker", Output: &buf})
	l.Info("hello", slog.String("auction_id", "a1"))

	var rec map[string]any
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	check.Equal(t, "bid-worker", rec["service"])
	check.Equal(t, "a1", rec["auction_id"])
	check.Equal(t, "hello", rec["msg"])
}

func TestLogPassLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Format: "text", Output: &buf})

	LogPass(l, "closure", 3, 0, time.Millisecond)
	check.True(t, strings.Contains(buf.String(), "level=INFO"))

	buf.Reset()
	LogPass(l, "closure", 3, 1, time.Millisecond)
	check.True(t, strings.Contains(buf.String(), "level=WARN"))
	check.True(t, strings.Contains(buf.String(), "failed=1"))
}
