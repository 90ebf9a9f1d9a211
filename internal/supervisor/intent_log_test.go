package supervisor

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
)

func TestIntentLoggerAppendsJSONLPerDay(t *testing.T) {
	ws := t.TempDir()
	logger := NewIntentLogger(ws)

	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := logger.Append(IntentRecord{Timestamp: ts, Event: "intent_created", EntityID: "u1", Decision: "created"}); err != nil {
		t.Fatal(err)
	}
	if err := logger.Append(IntentRecord{Timestamp: ts.Add(time.Hour), Event: "intent_policy_denied", EntityID: "u1", Decision: "denied", Reason: "blocked by security policy: action limit exceeded"}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(ws, "action_intents", "2025-03-14.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("ledger file missing: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record IntentRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 records, got %d", lines)
	}
}

func TestAttachIntentLoggerRecordsLifecycleEvents(t *testing.T) {
	ws := t.TempDir()
	logger := NewIntentLogger(ws)
	msgBus := bus.NewMessageBus(8)
	AttachIntentLogger(msgBus, logger)

	msgBus.Broadcast(bus.Event{Name: "intent_policy_denied", Payload: map[string]string{
		"entity_id": "u9", "reason": "blocked by security policy: cost limit",
	}})
	msgBus.Broadcast(bus.Event{Name: "unrelated_event"})

	entries, err := os.ReadDir(filepath.Join(ws, "action_intents"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one ledger file, err=%v entries=%v", err, entries)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "action_intents", entries[0].Name()))
	var record IntentRecord
	if err := json.Unmarshal(data[:len(data)-1], &record); err != nil {
		t.Fatal(err)
	}
	if record.EntityID != "u9" || record.Decision != "denied" {
		t.Fatalf("record = %+v", record)
	}
}
