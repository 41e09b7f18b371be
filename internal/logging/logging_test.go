package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFanoutDeliversToAll(t *testing.T) {
	t.Parallel()
	var a, b bytes.Buffer
	f := fanout{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	log := slog.New(f)
	log.Info("hello")
	log.Warn("problem")

	if !strings.Contains(a.String(), "hello") || !strings.Contains(a.String(), "problem") {
		t.Fatalf("first handler missed records: %q", a.String())
	}
	if strings.Contains(b.String(), "hello") {
		t.Fatalf("level filter ignored: %q", b.String())
	}
	if !strings.Contains(b.String(), "problem") {
		t.Fatalf("second handler missed warn: %q", b.String())
	}
}

func TestSwapHandlerRedirects(t *testing.T) {
	t.Parallel()
	var before, after bytes.Buffer
	root := &swapHandler{}
	root.Swap(slog.NewTextHandler(&before, nil))
	log := slog.New(root)

	log.Info("one")
	root.Swap(slog.NewTextHandler(&after, nil))
	log.Info("two")

	if !strings.Contains(before.String(), "one") || strings.Contains(before.String(), "two") {
		t.Fatalf("pre-swap output: %q", before.String())
	}
	if !strings.Contains(after.String(), "two") {
		t.Fatalf("post-swap output: %q", after.String())
	}
	if !root.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Enabled not delegated")
	}
}
