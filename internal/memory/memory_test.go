package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boi/internal/assistant"
)

func turn(i int, action string) assistant.MemoryTurn {
	return assistant.MemoryTurn{
		UtteranceID: fmt.Sprintf("u%d", i),
		UserText:    fmt.Sprintf("user %d", i),
		ReplyText:   fmt.Sprintf("reply %d", i),
		ActionTaken: action,
	}
}

func TestRecentOrderAndBound(t *testing.T) {
	m := New(3, nil, nil)
	assert.Nil(t, m.Recent(3))

	for i := 1; i <= 5; i++ {
		m.Append(turn(i, "chat"))
	}

	assert.Equal(t, 3, m.Len())

	recent := m.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "u3", recent[0].UtteranceID)
	assert.Equal(t, "u5", recent[2].UtteranceID)

	last := m.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "u5", last[0].UtteranceID)

	assert.Len(t, m.Recent(10), 3)
	assert.False(t, recent[0].TS.IsZero())
}

func TestStats(t *testing.T) {
	m := New(10, nil, nil)
	m.Append(turn(1, "screenshot"))
	m.Append(turn(2, assistant.ActionError))
	failed := turn(3, "delete_path")
	failed.Tags = []string{TagFailed}
	m.Append(failed)
	m.Append(turn(4, "screenshot"))

	s := m.Stats()
	assert.Equal(t, 4, s.Turns)
	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, 2, s.PerAction["screenshot"])
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)

	m := New(2, store, nil)
	for i := 1; i <= 3; i++ {
		tt := turn(i, "chat")
		tt.Tags = []string{"text"}
		m.Append(tt)
	}
	require.NoError(t, m.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	restored := New(2, store, nil)
	require.NoError(t, restored.Restore(context.Background()))

	recent := restored.Recent(5)
	require.Len(t, recent, 2)
	assert.Equal(t, "u2", recent[0].UtteranceID)
	assert.Equal(t, "u3", recent[1].UtteranceID)
	assert.Equal(t, []string{"text"}, recent[1].Tags)
}
