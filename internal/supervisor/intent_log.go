package supervisor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
)

// IntentRecord is one line of the action-intent ledger: what the runtime
// intended to do, for whom, and how the policy layer disposed of it.
type IntentRecord struct {
	Timestamp time.Time         `json:"ts"`
	Event     string            `json:"event"`
	EntityID  string            `json:"entity_id,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// IntentLogger appends intent records to a per-day JSONL file under
// {workspace}/action_intents/. Append failures are logged and dropped; the
// ledger is an audit aid, never the forward path.
type IntentLogger struct {
	mu  sync.Mutex
	dir string
}

func NewIntentLogger(workspaceDir string) *IntentLogger {
	return &IntentLogger{dir: filepath.Join(workspaceDir, "action_intents")}
}

// Append writes one record to today's ledger file.
func (l *IntentLogger) Append(record IntentRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("intent log: encode: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("intent log: create dir: %w", err)
	}
	path := filepath.Join(l.dir, record.Timestamp.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("intent log: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("intent log: write: %w", err)
	}
	return nil
}

// intentLedgerEvents maps turn lifecycle event names to the ledger decision
// they record.
var intentLedgerEvents = map[string]string{
	"intent_created":           "created",
	"intent_policy_denied":     "denied",
	"verify_repair_escalated":  "escalated",
}

// AttachIntentLogger subscribes logger to the event bus so the lifecycle
// events listed in intentLedgerEvents land in the ledger; other events are
// ignored.
func AttachIntentLogger(msgBus *bus.MessageBus, logger *IntentLogger) {
	msgBus.Subscribe("intent-ledger", func(e bus.Event) {
		decision, ok := intentLedgerEvents[e.Name]
		if !ok {
			return
		}
		record := IntentRecord{Event: e.Name, Decision: decision}
		if payload, ok := e.Payload.(map[string]string); ok {
			record.EntityID = payload["entity_id"]
			record.Reason = payload["reason"]
			detail := make(map[string]string)
			for k, v := range payload {
				if k != "entity_id" && k != "reason" {
					detail[k] = v
				}
			}
			if len(detail) > 0 {
				record.Detail = detail
			}
		}
		if err := logger.Append(record); err != nil {
			slog.Warn("intent ledger append failed", "event", e.Name, "error", err)
		}
	})
}
