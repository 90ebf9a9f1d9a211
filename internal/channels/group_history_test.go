package channels

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRecordTrimsToLimit(t *testing.T) {
	h := NewPendingHistory()
	for i := 0; i < 10; i++ {
		h.Record("chat", HistoryEntry{Sender: "a", Body: fmt.Sprintf("msg-%d", i), Timestamp: time.Now()}, 3)
	}
	if got := h.Len("chat"); got != 3 {
		t.Fatalf("expected 3 buffered entries, got %d", got)
	}
	ctxStr := h.BuildContext("chat", "current", 3)
	if !strings.Contains(ctxStr, "msg-9") || strings.Contains(ctxStr, "msg-6") {
		t.Errorf("expected newest entries only:\n%s", ctxStr)
	}
}

func TestBuildContextEmptyBufferPassesThrough(t *testing.T) {
	h := NewPendingHistory()
	if got := h.BuildContext("chat", "hello", 5); got != "hello" {
		t.Fatalf("expected pass-through, got %q", got)
	}
}

func TestBuildContextPrependsChatter(t *testing.T) {
	h := NewPendingHistory()
	h.Record("chat", HistoryEntry{Sender: "ana", Body: "lunch?"}, 5)
	h.Record("chat", HistoryEntry{Sender: "bo", Body: "sure"}, 5)

	got := h.BuildContext("chat", "bot, pick a place", 5)
	if !strings.HasPrefix(got, "[Recent group messages]\nana: lunch?\nbo: sure\n") {
		t.Errorf("unexpected prefix:\n%s", got)
	}
	if !strings.HasSuffix(got, "bot, pick a place") {
		t.Errorf("current message must come last:\n%s", got)
	}
}

func TestClearDropsBuffer(t *testing.T) {
	h := NewPendingHistory()
	h.Record("chat", HistoryEntry{Sender: "a", Body: "x"}, 5)
	h.Clear("chat")
	if h.Len("chat") != 0 {
		t.Fatal("buffer should be empty after Clear")
	}
}

func TestRecordZeroLimitDisablesBuffering(t *testing.T) {
	h := NewPendingHistory()
	h.Record("chat", HistoryEntry{Sender: "a", Body: "x"}, 0)
	if h.Len("chat") != 0 {
		t.Fatal("zero limit must not buffer")
	}
}
