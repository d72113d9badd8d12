package dispatch

import "time"

// State is the dispatcher's position in the command lifecycle.
type State int32

const (
	StateIdle State = iota
	StateAcknowledging
	StateParsing
	StateExecuting
	StatePostProcessing
	// StateCancelling is entered only on shutdown while a command is running.
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAcknowledging:
		return "ACKNOWLEDGING"
	case StateParsing:
		return "PARSING"
	case StateExecuting:
		return "EXECUTING"
	case StatePostProcessing:
		return "POST_PROCESSING"
	case StateCancelling:
		return "CANCELLING"
	}
	return "UNKNOWN"
}

// ExecutionRecord summarises one processed utterance.
type ExecutionRecord struct {
	UtteranceID string        `json:"utterance_id"`
	Action      string        `json:"action"`
	Kind        string        `json:"kind,omitempty"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
	Duration    time.Duration `json:"duration"`
}

// execLog is a fixed-size ring of the most recent executions.
type execLog struct {
	buf   []ExecutionRecord
	next  int
	count int
}

func newExecLog(size int) *execLog {
	if size <= 0 {
		size = 100
	}
	return &execLog{buf: make([]ExecutionRecord, size)}
}

func (l *execLog) add(r ExecutionRecord) {
	l.buf[l.next] = r
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// recent returns the stored records oldest first.
func (l *execLog) recent() []ExecutionRecord {
	out := make([]ExecutionRecord, 0, l.count)
	start := (l.next - l.count + len(l.buf)) % len(l.buf)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}
