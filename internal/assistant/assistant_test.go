package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUtteranceTrimsAndAssignsID(t *testing.T) {
	a := NewUtterance(SourceText, "  take a screenshot \n")
	b := NewUtterance(SourceText, "take a screenshot")

	assert.Equal(t, "take a screenshot", a.RawText)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.ReceivedAt.IsZero())
}

func TestErrorRecordPassesCheck(t *testing.T) {
	rec := ErrorRecord("")
	require.NoError(t, rec.Check())
	assert.Equal(t, ActionError, rec.Action)
	assert.Empty(t, rec.Parameters)
	assert.NotEmpty(t, rec.Description)
}

func TestActionRecordCheck(t *testing.T) {
	high := 1.5
	tests := []struct {
		name string
		rec  ActionRecord
		ok   bool
	}{
		{"plain", ActionRecord{Action: "screenshot"}, true},
		{"missing action", ActionRecord{Description: "x"}, false},
		{"error with params", ActionRecord{Action: ActionError, Description: "x", Parameters: map[string]any{"a": 1}}, false},
		{"error without description", ActionRecord{Action: ActionError}, false},
		{"confidence out of range", ActionRecord{Action: "chat", Confidence: &high}, false},
		{"bad step", ActionRecord{Action: "open_app", Steps: []Step{{Action: ""}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Check()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestErrorKindReplyKind(t *testing.T) {
	assert.Equal(t, ReplyOK, KindNone.ReplyKind())
	assert.Equal(t, ReplyWarn, KindConfirmationDeclined.ReplyKind())
	assert.Equal(t, ReplyWarn, KindBusy.ReplyKind())
	assert.Equal(t, ReplyErr, KindParseInvalid.ReplyKind())
	assert.Equal(t, ReplyErr, KindHandlerCrashed.ReplyKind())
}
