package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageShortPassesThrough(t *testing.T) {
	chunks := splitMessage("hello", 4096)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("got %v", chunks)
	}
}

func TestSplitMessagePrefersNewlineBoundaries(t *testing.T) {
	text := strings.Repeat("paragraph line\n", 20)
	chunks := splitMessage(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d", i, len(chunk))
		}
		if strings.Contains(chunk, "paragraph line") && !strings.HasSuffix(chunk, "paragraph line") {
			t.Fatalf("chunk %d cut mid-line: %q", i, chunk)
		}
	}
}

func TestSplitMessageHardCutsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := splitMessage(text, 100)
	total := 0
	for _, chunk := range chunks {
		if len(chunk) > 100 {
			t.Fatalf("chunk exceeds limit: %d", len(chunk))
		}
		total += len(chunk)
	}
	if total != 250 {
		t.Fatalf("lost bytes: %d", total)
	}
}
