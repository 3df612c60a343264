// Package unread derives badge totals and per-thread unread counts from
// directory state.
package unread

import (
	"context"

	"thread-sync/internal/directory"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
)

// Accountant recomputes unread totals from the directory on demand and
// owns the read-receipt write paths.
type Accountant struct {
	dir     *directory.Directory
	channel remote.Channel
	coord   *optimistic.Coordinator
}

// New constructs an Accountant over the directory.
func New(dir *directory.Directory, channel remote.Channel, coord *optimistic.Coordinator) *Accountant {
	return &Accountant{dir: dir, channel: channel, coord: coord}
}

// TotalUnread sums unread counts over threads that are neither deleted nor
// muted for the user. Muted threads keep their own count for in-list
// display; they just stay off the badge.
func (a *Accountant) TotalUnread(userID string) int {
	total := 0
	for _, t := range a.dir.Snapshot() {
		if t.DeletedBy.Has(userID) || t.MutedBy.Has(userID) {
			continue
		}
		total += t.UnreadFor(userID)
	}
	return total
}

// ThreadUnread returns one thread's count for the user.
func (a *Accountant) ThreadUnread(threadID, userID string) int {
	t, ok := a.dir.Thread(threadID)
	if !ok {
		return 0
	}
	return t.UnreadFor(userID)
}

// MarkThreadRead zeroes the user's count optimistically and issues the
// remote write. A failed write is surfaced but never rolled back: reviving
// an unread badge after the user has seen the content is worse than the
// user having to re-open the thread.
func (a *Accountant) MarkThreadRead(ctx context.Context, threadID, userID string) error {
	return a.coord.Run(ctx, optimistic.Mutation{
		Name:          "mark_read",
		KeepOnFailure: true,
		Apply: func() func() {
			a.dir.SetUnread(threadID, userID, 0)
			return nil
		},
		Write: func(ctx context.Context) error {
			fields, ok := a.dir.UnreadFields(threadID)
			if !ok {
				return directory.ErrUnknownThread
			}
			return a.channel.WriteOnce(ctx, remote.CollectionThreads, threadID, fields)
		},
	})
}

// MarkThreadUnread flags the thread as having unread content. The exact
// count is a sentinel; only "> 0" is guaranteed from this path. Unlike
// read receipts this follows the normal rollback contract.
func (a *Accountant) MarkThreadUnread(ctx context.Context, threadID, userID string) error {
	return a.dir.ApplyVisibility(ctx, threadID, userID, directory.MutationMarkUnread)
}
