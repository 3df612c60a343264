package unread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-sync/internal/directory"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
)

func seedThread(t *testing.T, ch *remote.MemoryChannel, id string, extra map[string]any) {
	t.Helper()
	fields := map[string]any{
		"id":           id,
		"type":         "direct",
		"participants": []string{"alice", "bob"},
		"updated_at":   time.Now().UTC(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	require.NoError(t, ch.WriteOnce(context.Background(), remote.CollectionThreads, id, fields))
}

func setup(t *testing.T, ch *remote.MemoryChannel) (*directory.Directory, *Accountant) {
	t.Helper()
	coord := optimistic.NewCoordinator()
	dir := directory.New(ch, coord)
	require.NoError(t, dir.StartForUser(context.Background(), "alice"))
	t.Cleanup(dir.Stop)
	return dir, New(dir, ch, coord)
}

func TestTotalUnreadSumsAcrossThreads(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", map[string]any{"unread_counts": map[string]int{"alice": 2}})
	seedThread(t, ch, "t2", map[string]any{"unread_counts": map[string]int{"alice": 3, "bob": 9}})
	_, acct := setup(t, ch)

	assert.Equal(t, 5, acct.TotalUnread("alice"))
}

func TestTotalUnreadSkipsMutedAndDeleted(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", map[string]any{"unread_counts": map[string]int{"alice": 2}})
	seedThread(t, ch, "muted", map[string]any{
		"unread_counts": map[string]int{"alice": 4},
		"muted_by":      []string{"alice"},
	})
	seedThread(t, ch, "gone", map[string]any{
		"unread_counts": map[string]int{"alice": 8},
		"deleted_by":    []string{"alice"},
	})
	_, acct := setup(t, ch)

	assert.Equal(t, 2, acct.TotalUnread("alice"))
	// The muted thread keeps its own count for in-list display.
	assert.Equal(t, 4, acct.ThreadUnread("muted", "alice"))
}

func TestMarkThreadReadZeroesAndPersists(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", map[string]any{"unread_counts": map[string]int{"alice": 5, "bob": 1}})
	dir, acct := setup(t, ch)

	require.NoError(t, acct.MarkThreadRead(context.Background(), "t1", "alice"))

	th, _ := dir.Thread("t1")
	assert.Equal(t, 0, th.UnreadFor("alice"))
	// The other participant's count is untouched.
	assert.Equal(t, 1, th.UnreadFor("bob"))
	assert.Equal(t, 0, acct.TotalUnread("alice"))
}

func TestMarkThreadReadKeepsZeroOnWriteFailure(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", map[string]any{"unread_counts": map[string]int{"alice": 5}})
	dir, acct := setup(t, ch)

	ch.SetWriteErr(assert.AnError)
	err := acct.MarkThreadRead(context.Background(), "t1", "alice")
	require.Error(t, err)

	// The local zero sticks: a resurrected badge would be worse.
	th, _ := dir.Thread("t1")
	assert.Equal(t, 0, th.UnreadFor("alice"))
}

func TestMarkThreadUnreadSetsSentinel(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", nil)
	dir, acct := setup(t, ch)

	require.NoError(t, acct.MarkThreadUnread(context.Background(), "t1", "alice"))

	th, _ := dir.Thread("t1")
	assert.Greater(t, th.UnreadFor("alice"), 0)
	assert.Greater(t, acct.TotalUnread("alice"), 0)
}

func TestMarkThreadUnreadRollsBackOnWriteFailure(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", nil)
	dir, acct := setup(t, ch)

	ch.SetWriteErr(assert.AnError)
	err := acct.MarkThreadUnread(context.Background(), "t1", "alice")
	require.Error(t, err)

	th, _ := dir.Thread("t1")
	assert.Equal(t, 0, th.UnreadFor("alice"))
}
