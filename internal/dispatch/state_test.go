package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecLogKeepsNewest(t *testing.T) {
	l := newExecLog(3)
	assert.Empty(t, l.recent())

	for i := 0; i < 5; i++ {
		l.add(ExecutionRecord{Action: string(rune('a' + i)), Started: time.Unix(int64(i), 0)})
	}

	got := l.recent()
	var actions []string
	for _, r := range got {
		actions = append(actions, r.Action)
	}
	assert.Equal(t, []string{"c", "d", "e"}, actions)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "POST_PROCESSING", StatePostProcessing.String())
	assert.Equal(t, "CANCELLING", StateCancelling.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
