// Package directory maintains the authoritative in-memory set of
// conversation threads for one signed-in user, merging remote push events
// with optimistic local mutations and per-user overlay visibility flags.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"thread-sync/internal/models"
	"thread-sync/internal/observability"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
)

var (
	ErrUnknownThread = errors.New("directory: unknown thread")
	ErrThreadDeleted = errors.New("directory: thread deleted for user")
	ErrTitleRequired = errors.New("directory: title required")
)

// Status reflects the health of the live thread subscription.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusConnecting       Status = "connecting"
	StatusReady            Status = "ready"
	StatusIndexBuilding    Status = "index_building"
	StatusPermissionDenied Status = "permission_denied"
	StatusError            Status = "error"
)

// VisibilityMutation names the overlay flag transitions.
type VisibilityMutation string

const (
	MutationArchive    VisibilityMutation = "archive"
	MutationUnarchive  VisibilityMutation = "unarchive"
	MutationHide       VisibilityMutation = "hide"
	MutationUnhide     VisibilityMutation = "unhide"
	MutationMute       VisibilityMutation = "mute"
	MutationUnmute     VisibilityMutation = "unmute"
	MutationSoftDelete VisibilityMutation = "soft_delete"
	MutationMarkUnread VisibilityMutation = "mark_unread"
)

// markedUnreadCount is the sentinel written by mark-unread. Only "> 0" is
// meaningful from that path.
const markedUnreadCount = 1

// Directory owns exactly one live thread subscription at a time. All state
// access serializes on mu; lifecycle transitions serialize on lifeMu so a
// start racing a stop cannot leak a subscription.
type Directory struct {
	channel remote.Channel
	coord   *optimistic.Coordinator

	lifeMu sync.Mutex

	mu       sync.RWMutex
	userID   string
	threads  map[string]models.Thread
	sub      remote.Subscription
	status   Status
	lastErr  error
	onChange func(models.SyncEvent)
}

// New constructs a stopped directory.
func New(channel remote.Channel, coord *optimistic.Coordinator) *Directory {
	return &Directory{
		channel: channel,
		coord:   coord,
		threads: make(map[string]models.Thread),
		status:  StatusIdle,
	}
}

// SetOnChange registers the sync event sink. Events fire after the state
// change, outside the directory lock.
func (d *Directory) SetOnChange(fn func(models.SyncEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// StartForUser opens the live query scoped to the user's threads. Calling
// it again for the same user is a no-op; a different user tears the old
// subscription down first so no state leaks across sessions.
func (d *Directory) StartForUser(ctx context.Context, userID string) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.userID == userID && d.sub != nil {
		d.mu.Unlock()
		return nil
	}
	d.teardownLocked()
	d.userID = userID
	d.status = StatusConnecting
	d.lastErr = nil
	d.mu.Unlock()

	sub, err := d.channel.Subscribe(ctx, remote.ThreadsFor(userID), d.handleThreadEvent, d.handleSubError)
	if err != nil {
		d.mu.Lock()
		d.status = classify(err)
		d.lastErr = err
		d.mu.Unlock()
		d.notify(models.SyncEvent{Type: models.SyncStatusChanged, Status: string(classify(err))})
		return fmt.Errorf("start directory: %w", err)
	}

	d.mu.Lock()
	d.sub = sub
	if d.status == StatusConnecting {
		d.status = StatusReady
	}
	d.mu.Unlock()
	observability.IncSubscription(string(remote.CollectionThreads))
	d.notify(models.SyncEvent{Type: models.SyncStatusChanged, Status: string(StatusReady)})
	return nil
}

// Stop cancels the subscription and clears all state. Must run on sign-out.
func (d *Directory) Stop() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	d.teardownLocked()
	d.userID = ""
	d.status = StatusIdle
	d.lastErr = nil
	d.mu.Unlock()
}

func (d *Directory) teardownLocked() {
	if d.sub != nil {
		d.sub.Unsubscribe()
		d.sub = nil
		observability.DecSubscription(string(remote.CollectionThreads))
	}
	d.threads = make(map[string]models.Thread)
}

// Status reports the subscription state and the last error, if any.
func (d *Directory) Status() (Status, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status, d.lastErr
}

// UserID returns the user the directory is started for.
func (d *Directory) UserID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userID
}

// Thread returns an independent copy of one thread.
func (d *Directory) Thread(id string) (models.Thread, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.threads[id]
	if !ok {
		return models.Thread{}, false
	}
	return t.Clone(), true
}

// Snapshot returns independent copies of all threads.
func (d *Directory) Snapshot() []models.Thread {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Thread, 0, len(d.threads))
	for _, t := range d.threads {
		out = append(out, t.Clone())
	}
	return out
}

// handleThreadEvent merges one push event. An update for a known id
// replaces the record in place, so duplicate delivery is idempotent.
func (d *Directory) handleThreadEvent(ev remote.Event) {
	if ev.Collection != remote.CollectionThreads {
		return
	}

	if ev.Kind == remote.EventRemoved {
		d.mu.Lock()
		_, existed := d.threads[ev.ID]
		delete(d.threads, ev.ID)
		d.mu.Unlock()
		if existed {
			d.notify(models.SyncEvent{Type: models.SyncThreadRemoved, ThreadID: ev.ID})
		}
		return
	}

	var t models.Thread
	if err := json.Unmarshal(ev.Doc, &t); err != nil {
		log.Printf("directory: bad thread doc %s: %v", ev.ID, err)
		return
	}
	if t.ID == "" {
		t.ID = ev.ID
	}

	d.mu.Lock()
	if d.threads == nil {
		d.mu.Unlock()
		return
	}
	d.threads[t.ID] = t
	d.mu.Unlock()
	d.notifyThread(t)
}

func (d *Directory) handleSubError(err error) {
	status := classify(err)
	d.mu.Lock()
	d.status = status
	d.lastErr = err
	d.mu.Unlock()
	log.Printf("directory: subscription error: %v", err)
	d.notify(models.SyncEvent{Type: models.SyncStatusChanged, Status: string(status)})
}

// ApplyVisibility runs one overlay flag transition through the optimistic
// contract: local apply, remote write, rollback on failure.
func (d *Directory) ApplyVisibility(ctx context.Context, threadID, userID string, mut VisibilityMutation) error {
	if err := d.CanMutate(threadID, userID); err != nil {
		if errors.Is(err, ErrThreadDeleted) && mut == MutationSoftDelete {
			return nil
		}
		return err
	}

	var fields map[string]any

	return d.coord.Run(ctx, optimistic.Mutation{
		Name: "visibility_" + string(mut),
		Apply: func() func() {
			d.mu.Lock()
			t, ok := d.threads[threadID]
			if !ok {
				d.mu.Unlock()
				fields = nil
				return nil
			}
			prior := t.Clone()
			next := t.Clone()
			applyOverlay(&next, userID, mut)
			d.threads[threadID] = next
			fields = overlayFields(next, mut)
			d.mu.Unlock()

			d.notifyThread(next)
			return func() {
				d.mu.Lock()
				d.threads[threadID] = prior
				d.mu.Unlock()
				d.notifyThread(prior)
			}
		},
		Write: func(ctx context.Context) error {
			if fields == nil {
				return ErrUnknownThread
			}
			return d.channel.WriteOnce(ctx, remote.CollectionThreads, threadID, fields)
		},
	})
}

// ApplyVisibilityBatch applies the mutation to each thread independently.
// One failure never blocks the rest; the result maps failed ids to errors.
func (d *Directory) ApplyVisibilityBatch(ctx context.Context, threadIDs []string, userID string, mut VisibilityMutation) map[string]error {
	failed := make(map[string]error)
	for _, id := range threadIDs {
		if err := d.ApplyVisibility(ctx, id, userID, mut); err != nil {
			failed[id] = err
		}
	}
	return failed
}

// CanMutate reports whether overlay mutations are still meaningful for the
// user: once soft-deleted, the thread is terminal from their perspective.
func (d *Directory) CanMutate(threadID, userID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.threads[threadID]
	if !ok {
		return ErrUnknownThread
	}
	if t.DeletedBy.Has(userID) {
		return ErrThreadDeleted
	}
	return nil
}

// SetUnread overwrites the unread count for one user and returns the prior
// value. The accountant composes this with the optimistic coordinator.
func (d *Directory) SetUnread(threadID, userID string, n int) (prev int, ok bool) {
	d.mu.Lock()
	t, exists := d.threads[threadID]
	if !exists {
		d.mu.Unlock()
		return 0, false
	}
	next := t.Clone()
	prev = next.UnreadCounts[userID]
	if next.UnreadCounts == nil {
		next.UnreadCounts = make(map[string]int)
	}
	next.UnreadCounts[userID] = n
	d.threads[threadID] = next
	d.mu.Unlock()

	d.notifyThread(next)
	return prev, true
}

// UnreadFields returns the remote field set for the thread's current unread
// counts.
func (d *Directory) UnreadFields(threadID string) (map[string]any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.threads[threadID]
	if !ok {
		return nil, false
	}
	counts := make(map[string]int, len(t.UnreadCounts))
	for id, n := range t.UnreadCounts {
		counts[id] = n
	}
	return map[string]any{"unread_counts": counts}, true
}

// ApplyMessageSent updates the local thread record for a just-sent message
// and returns the remote field set plus a rollback restoring the prior
// record. Unread counts bump for every participant except the sender.
func (d *Directory) ApplyMessageSent(threadID, senderID string, snap models.LastMessage) (map[string]any, func(), bool) {
	d.mu.Lock()
	t, ok := d.threads[threadID]
	if !ok {
		d.mu.Unlock()
		return nil, nil, false
	}
	prior := t.Clone()
	next := t.Clone()
	copySnap := snap
	next.LastMessage = &copySnap
	next.UpdatedAt = snap.SentAt
	if next.UnreadCounts == nil {
		next.UnreadCounts = make(map[string]int)
	}
	for _, p := range next.Participants {
		if p != senderID {
			next.UnreadCounts[p]++
		}
	}
	d.threads[threadID] = next
	counts := make(map[string]int, len(next.UnreadCounts))
	for id, n := range next.UnreadCounts {
		counts[id] = n
	}
	d.mu.Unlock()

	d.notifyThread(next)

	fields := map[string]any{
		"last_message":  copySnap,
		"updated_at":    next.UpdatedAt,
		"unread_counts": counts,
	}
	rollback := func() {
		d.mu.Lock()
		d.threads[threadID] = prior
		d.mu.Unlock()
		d.notifyThread(prior)
	}
	return fields, rollback, true
}

// EnsureDirectThread returns the direct thread between two users, creating
// it optimistically on first message intent. The id is deterministic, so
// both sides converge on one record.
func (d *Directory) EnsureDirectThread(ctx context.Context, userID, otherID string) (models.Thread, error) {
	if userID == otherID {
		return models.Thread{}, errors.New("directory: cannot start thread with self")
	}

	id := models.DirectThreadID(userID, otherID)
	if existing, ok := d.Thread(id); ok {
		return existing, nil
	}

	participants := []string{userID, otherID}
	sort.Strings(participants)
	t := models.Thread{
		ID:           id,
		Type:         models.ThreadDirect,
		Participants: participants,
		UpdatedAt:    time.Now().UTC(),
		UnreadCounts: map[string]int{},
	}
	if err := d.createThread(ctx, t); err != nil {
		return models.Thread{}, err
	}
	return t, nil
}

// CreateThread creates a group, event or support thread. Titles are
// required for group and event threads.
func (d *Directory) CreateThread(ctx context.Context, creatorID, title string, participants []string, typ models.ThreadType) (models.Thread, error) {
	if title == "" && (typ == models.ThreadGroup || typ == models.ThreadEvent) {
		return models.Thread{}, ErrTitleRequired
	}

	members := append([]string(nil), participants...)
	if !contains(members, creatorID) {
		members = append(members, creatorID)
	}
	sort.Strings(members)

	t := models.Thread{
		ID:           uuid.NewString(),
		Type:         typ,
		Participants: members,
		Title:        title,
		UpdatedAt:    time.Now().UTC(),
		UnreadCounts: map[string]int{},
	}
	if err := d.createThread(ctx, t); err != nil {
		return models.Thread{}, err
	}
	return t, nil
}

func (d *Directory) createThread(ctx context.Context, t models.Thread) error {
	return d.coord.Run(ctx, optimistic.Mutation{
		Name: "create_thread",
		Apply: func() func() {
			d.mu.Lock()
			d.threads[t.ID] = t.Clone()
			d.mu.Unlock()
			d.notifyThread(t)
			return func() {
				d.mu.Lock()
				delete(d.threads, t.ID)
				d.mu.Unlock()
				d.notify(models.SyncEvent{Type: models.SyncThreadRemoved, ThreadID: t.ID})
			}
		},
		Write: func(ctx context.Context) error {
			return d.channel.WriteOnce(ctx, remote.CollectionThreads, t.ID, threadFields(t))
		},
	})
}

func (d *Directory) notify(ev models.SyncEvent) {
	d.mu.RLock()
	fn := d.onChange
	d.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// notifyThread emits a thread update projected for the session user. The
// raw record carries every participant's overlay flags; only the viewer's
// own flags may go out.
func (d *Directory) notifyThread(t models.Thread) {
	d.mu.RLock()
	fn := d.onChange
	viewer := d.userID
	d.mu.RUnlock()
	if fn == nil {
		return
	}
	view := t.ViewFor(viewer)
	fn(models.SyncEvent{Type: models.SyncThreadUpdated, Thread: &view})
}

func applyOverlay(t *models.Thread, userID string, mut VisibilityMutation) {
	switch mut {
	case MutationArchive:
		t.ArchivedBy = t.ArchivedBy.With(userID)
	case MutationUnarchive:
		t.ArchivedBy = t.ArchivedBy.Without(userID)
	case MutationHide:
		t.HiddenBy = t.HiddenBy.With(userID)
	case MutationUnhide:
		t.HiddenBy = t.HiddenBy.Without(userID)
	case MutationMute:
		t.MutedBy = t.MutedBy.With(userID)
	case MutationUnmute:
		t.MutedBy = t.MutedBy.Without(userID)
	case MutationSoftDelete:
		t.DeletedBy = t.DeletedBy.With(userID)
	case MutationMarkUnread:
		if t.UnreadCounts == nil {
			t.UnreadCounts = make(map[string]int)
		}
		t.UnreadCounts[userID] = markedUnreadCount
	}
}

// overlayFields writes back only the flag the mutation touched, so
// concurrent mutations of other flags are never clobbered.
func overlayFields(t models.Thread, mut VisibilityMutation) map[string]any {
	switch mut {
	case MutationArchive, MutationUnarchive:
		return map[string]any{"archived_by": t.ArchivedBy.IDs()}
	case MutationHide, MutationUnhide:
		return map[string]any{"hidden_by": t.HiddenBy.IDs()}
	case MutationMute, MutationUnmute:
		return map[string]any{"muted_by": t.MutedBy.IDs()}
	case MutationSoftDelete:
		return map[string]any{"deleted_by": t.DeletedBy.IDs()}
	case MutationMarkUnread:
		return map[string]any{"unread_counts": t.UnreadCounts}
	default:
		return nil
	}
}

func threadFields(t models.Thread) map[string]any {
	raw, err := json.Marshal(t)
	if err != nil {
		return map[string]any{"id": t.ID}
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]any{"id": t.ID}
	}
	return fields
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func classify(err error) Status {
	switch {
	case errors.Is(err, remote.ErrIndexNotReady):
		return StatusIndexBuilding
	case errors.Is(err, remote.ErrPermissionDenied):
		return StatusPermissionDenied
	default:
		return StatusError
	}
}
