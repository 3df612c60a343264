package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-sync/internal/models"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
)

func seedThread(t *testing.T, ch *remote.MemoryChannel, id string, participants []string, extra map[string]any) {
	t.Helper()
	fields := map[string]any{
		"id":           id,
		"type":         "direct",
		"participants": participants,
		"updated_at":   time.Now().UTC(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	require.NoError(t, ch.WriteOnce(context.Background(), remote.CollectionThreads, id, fields))
}

func startDirectory(t *testing.T, ch *remote.MemoryChannel, userID string) *Directory {
	t.Helper()
	d := New(ch, optimistic.NewCoordinator())
	require.NoError(t, d.StartForUser(context.Background(), userID))
	t.Cleanup(d.Stop)
	return d
}

func TestStartForUserLoadsScopedThreads(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice", "bob"}, nil)
	seedThread(t, ch, "t2", []string{"carol", "dave"}, nil)

	d := startDirectory(t, ch, "alice")

	_, ok := d.Thread("t1")
	assert.True(t, ok)
	_, ok = d.Thread("t2")
	assert.False(t, ok)

	status, lastErr := d.Status()
	assert.Equal(t, StatusReady, status)
	assert.NoError(t, lastErr)
}

func TestStartForUserIsIdempotentForSameUser(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, nil)

	d := startDirectory(t, ch, "alice")
	require.NoError(t, d.StartForUser(context.Background(), "alice"))

	assert.Len(t, d.Snapshot(), 1)
}

func TestDuplicatePushEventsAreIdempotent(t *testing.T) {
	ch := remote.NewMemoryChannel()
	d := startDirectory(t, ch, "alice")

	seedThread(t, ch, "t1", []string{"alice", "bob"}, map[string]any{"title": "x"})
	seedThread(t, ch, "t1", []string{"alice", "bob"}, map[string]any{"title": "x"})

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "x", snap[0].Title)
}

func TestRemovalDropsThreadAndNotifies(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, nil)
	d := startDirectory(t, ch, "alice")

	var removed []string
	d.SetOnChange(func(ev models.SyncEvent) {
		if ev.Type == models.SyncThreadRemoved {
			removed = append(removed, ev.ThreadID)
		}
	})

	ch.Remove(remote.CollectionThreads, "t1")

	_, ok := d.Thread("t1")
	assert.False(t, ok)
	assert.Equal(t, []string{"t1"}, removed)
}

func TestApplyVisibilityWritesOnlyTouchedFlag(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice", "bob"}, map[string]any{"hidden_by": []string{"bob"}})
	d := startDirectory(t, ch, "alice")

	require.NoError(t, d.ApplyVisibility(context.Background(), "t1", "alice", MutationArchive))

	th, ok := d.Thread("t1")
	require.True(t, ok)
	assert.True(t, th.ArchivedBy.Has("alice"))
	// Bob's hidden flag from another writer stays intact.
	assert.True(t, th.HiddenBy.Has("bob"))
}

func TestApplyVisibilityRollsBackOnWriteFailure(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, nil)
	d := startDirectory(t, ch, "alice")

	ch.FailWriteFor(remote.CollectionThreads, "t1", assert.AnError)
	err := d.ApplyVisibility(context.Background(), "t1", "alice", MutationArchive)
	require.Error(t, err)

	th, ok := d.Thread("t1")
	require.True(t, ok)
	assert.False(t, th.ArchivedBy.Has("alice"))
}

func TestSoftDeleteIsTerminal(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice", "bob"}, nil)
	d := startDirectory(t, ch, "alice")

	require.NoError(t, d.ApplyVisibility(context.Background(), "t1", "alice", MutationSoftDelete))

	// Repeating the delete is a silent no-op; anything else is rejected.
	require.NoError(t, d.ApplyVisibility(context.Background(), "t1", "alice", MutationSoftDelete))
	err := d.ApplyVisibility(context.Background(), "t1", "alice", MutationArchive)
	require.ErrorIs(t, err, ErrThreadDeleted)

	// The other participant is unaffected.
	require.NoError(t, d.ApplyVisibility(context.Background(), "t1", "bob", MutationArchive))
}

func TestApplyVisibilityUnknownThread(t *testing.T) {
	ch := remote.NewMemoryChannel()
	d := startDirectory(t, ch, "alice")

	err := d.ApplyVisibility(context.Background(), "nope", "alice", MutationMute)
	require.ErrorIs(t, err, ErrUnknownThread)
}

func TestMarkUnreadSetsSentinelCount(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, nil)
	d := startDirectory(t, ch, "alice")

	require.NoError(t, d.ApplyVisibility(context.Background(), "t1", "alice", MutationMarkUnread))

	th, _ := d.Thread("t1")
	assert.Greater(t, th.UnreadFor("alice"), 0)
}

func TestApplyVisibilityBatchIsIndependent(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, nil)
	seedThread(t, ch, "t2", []string{"alice"}, nil)
	d := startDirectory(t, ch, "alice")

	ch.FailWriteFor(remote.CollectionThreads, "t2", assert.AnError)
	failed := d.ApplyVisibilityBatch(context.Background(), []string{"t1", "t2", "t3"}, "alice", MutationArchive)

	require.Len(t, failed, 2)
	assert.Error(t, failed["t2"])
	assert.ErrorIs(t, failed["t3"], ErrUnknownThread)

	th, _ := d.Thread("t1")
	assert.True(t, th.ArchivedBy.Has("alice"))
	th, _ = d.Thread("t2")
	assert.False(t, th.ArchivedBy.Has("alice"))
}

func TestEnsureDirectThreadConverges(t *testing.T) {
	ch := remote.NewMemoryChannel()
	d := startDirectory(t, ch, "alice")

	th, err := d.EnsureDirectThread(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.DirectThreadID("bob", "alice"), th.ID)
	assert.Equal(t, []string{"alice", "bob"}, th.Participants)

	again, err := d.EnsureDirectThread(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, th.ID, again.ID)
	assert.Len(t, d.Snapshot(), 1)
}

func TestEnsureDirectThreadRejectsSelf(t *testing.T) {
	ch := remote.NewMemoryChannel()
	d := startDirectory(t, ch, "alice")

	_, err := d.EnsureDirectThread(context.Background(), "alice", "alice")
	require.Error(t, err)
}

func TestCreateThreadRequiresTitleForGroups(t *testing.T) {
	ch := remote.NewMemoryChannel()
	d := startDirectory(t, ch, "alice")

	_, err := d.CreateThread(context.Background(), "alice", "", []string{"bob"}, models.ThreadGroup)
	require.ErrorIs(t, err, ErrTitleRequired)

	th, err := d.CreateThread(context.Background(), "alice", "Trip", []string{"bob", "carol"}, models.ThreadGroup)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, th.Participants)
}

func TestCreateThreadRollsBackOnWriteFailure(t *testing.T) {
	ch := remote.NewMemoryChannel()
	d := startDirectory(t, ch, "alice")

	ch.SetWriteErr(assert.AnError)
	_, err := d.CreateThread(context.Background(), "alice", "Trip", []string{"bob"}, models.ThreadGroup)
	require.Error(t, err)
	assert.Empty(t, d.Snapshot())
}

func TestSetUnreadReturnsPriorValue(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, map[string]any{"unread_counts": map[string]int{"alice": 4}})
	d := startDirectory(t, ch, "alice")

	prev, ok := d.SetUnread("t1", "alice", 0)
	require.True(t, ok)
	assert.Equal(t, 4, prev)

	th, _ := d.Thread("t1")
	assert.Equal(t, 0, th.UnreadFor("alice"))
}

func TestStartForUserClassifiesSubscribeErrors(t *testing.T) {
	ch := remote.NewMemoryChannel()
	ch.SetSubscribeErr(remote.ErrIndexNotReady)

	d := New(ch, optimistic.NewCoordinator())
	err := d.StartForUser(context.Background(), "alice")
	require.Error(t, err)

	status, lastErr := d.Status()
	assert.Equal(t, StatusIndexBuilding, status)
	assert.ErrorIs(t, lastErr, remote.ErrIndexNotReady)
}

func TestStopClearsState(t *testing.T) {
	ch := remote.NewMemoryChannel()
	seedThread(t, ch, "t1", []string{"alice"}, nil)
	d := startDirectory(t, ch, "alice")

	d.Stop()

	assert.Empty(t, d.Snapshot())
	status, _ := d.Status()
	assert.Equal(t, StatusIdle, status)
	assert.Equal(t, "", d.UserID())
}
