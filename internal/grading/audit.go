package grading

import (
	"sync"
	"time"
)

// Audit event types, in the order they normally appear for a batch.
const (
	EventBatchStart       = "batch_start"
	EventQuestionStart    = "question_start"
	EventAgentScore       = "agent_score"
	EventAgentFailure     = "agent_failure"
	EventGateCheck        = "gate_check"
	EventRoundStart       = "round_start"
	EventRoundEnd         = "round_end"
	EventArbitration      = "arbitration"
	EventQuestionComplete = "question_complete"
	EventQuestionFailed   = "question_failed"
	EventEnrichment       = "enrichment"
	EventBatchComplete    = "batch_complete"
)

// AuditEvent is one ordered, timestamped step of the grading process.
type AuditEvent struct {
	Seq         int                    `json:"seq"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	QuestionNum int                    `json:"question_num,omitempty"`
	Round       int                    `json:"round,omitempty"`
	Agent       string                 `json:"agent,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// AuditLog collects events for one batch. A nil log discards everything.
type AuditLog struct {
	mu     sync.Mutex
	clock  Clock
	events []AuditEvent
}

// NewAuditLog creates an empty log stamped with clock.
func NewAuditLog(clock Clock) *AuditLog {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AuditLog{clock: clock}
}

// Record appends an event, assigning its sequence number and timestamp.
func (l *AuditLog) Record(event AuditEvent) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event.Seq = len(l.events) + 1
	event.Timestamp = l.clock.Now()
	l.events = append(l.events, event)
}

// Events returns a copy of the recorded events.
func (l *AuditLog) Events() []AuditEvent {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}
