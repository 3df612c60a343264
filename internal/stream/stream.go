// Package stream owns the live ordered message log for the one thread the
// user currently has open.
package stream

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

	"thread-sync/internal/blob"
	"thread-sync/internal/models"
	"thread-sync/internal/observability"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
)

var ErrNoOpenThread = errors.New("stream: no open thread")

// ThreadUpdater is the directory hook a send uses to bump the thread's
// last-message snapshot, updatedAt and peer unread counts optimistically.
type ThreadUpdater interface {
	ApplyMessageSent(threadID, senderID string, snap models.LastMessage) (fields map[string]any, rollback func(), ok bool)
}

// Stream buffers the open thread's messages in display order. At most one
// thread is live-observed at a time; opening another closes the previous
// subscription. This is a deliberate resource bound. Lifecycle transitions
// serialize on lifeMu so an open racing another open or a close cannot
// leak a subscription.
type Stream struct {
	channel  remote.Channel
	coord    *optimistic.Coordinator
	uploader blob.Uploader
	threads  ThreadUpdater
	markRead func(ctx context.Context, threadID string)

	lifeMu sync.Mutex

	mu       sync.Mutex
	threadID string
	messages []models.Message
	sub      remote.Subscription
	onChange func(models.SyncEvent)
}

// New constructs a closed stream. threads and markRead may be nil when the
// caller wires the thread snapshot path elsewhere.
func New(channel remote.Channel, coord *optimistic.Coordinator, uploader blob.Uploader, threads ThreadUpdater, markRead func(ctx context.Context, threadID string)) *Stream {
	return &Stream{
		channel:  channel,
		coord:    coord,
		uploader: uploader,
		threads:  threads,
		markRead: markRead,
	}
}

// SetOnChange registers the sync event sink.
func (s *Stream) SetOnChange(fn func(models.SyncEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Open closes any previously open stream, starts a live query for the
// thread, and marks it read for the opener. It returns the buffered
// messages in display order.
func (s *Stream) Open(ctx context.Context, threadID string) ([]models.Message, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	s.closeLocked()
	s.threadID = threadID
	s.mu.Unlock()

	sub, err := s.channel.Subscribe(ctx, remote.MessagesIn(threadID), s.handleMessageEvent, s.handleSubError)
	if err != nil {
		s.mu.Lock()
		s.threadID = ""
		s.mu.Unlock()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	msgs := s.snapshotLocked()
	s.mu.Unlock()
	observability.IncSubscription(string(remote.CollectionMessages))

	if s.markRead != nil {
		s.markRead(ctx, threadID)
	}
	return msgs, nil
}

// Close cancels the subscription and clears the buffer.
func (s *Stream) Close() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
		observability.DecSubscription(string(remote.CollectionMessages))
	}
	s.threadID = ""
	s.messages = nil
}

// ThreadID returns the open thread, if any.
func (s *Stream) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Messages returns the buffered log in display order.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stream) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Send constructs a message with a fresh id and a client-assigned
// timestamp, appends it optimistically, and issues the remote writes. On
// failure the message is NOT removed: it stays buffered, flagged failed,
// and retry is left to explicit user action.
func (s *Stream) Send(ctx context.Context, threadID, senderID string, body models.MessageBody) (models.Message, error) {
	now := time.Now().UTC()
	msg := models.Message{
		ID:              uuid.NewString(),
		ThreadID:        threadID,
		SenderID:        senderID,
		Body:            body,
		CreatedAt:       now,
		ClientTimestamp: &now,
		ReadBy:          models.NewUserSet(senderID),
	}

	var threadFields map[string]any
	err := s.coord.Run(ctx, optimistic.Mutation{
		Name:          "send_message",
		KeepOnFailure: true,
		Apply: func() func() {
			s.mu.Lock()
			if s.threadID == threadID {
				s.insertLocked(msg)
			}
			s.mu.Unlock()
			s.notify(models.SyncEvent{Type: models.SyncMessage, Message: &msg})

			var rollbackThread func()
			if s.threads != nil {
				snap := models.LastMessage{Text: body.Preview(), SenderID: senderID, SentAt: now}
				threadFields, rollbackThread, _ = s.threads.ApplyMessageSent(threadID, senderID, snap)
			}
			return rollbackThread
		},
		Write: func(ctx context.Context) error {
			if err := s.channel.WriteOnce(ctx, remote.CollectionMessages, msg.ID, messageFields(msg)); err != nil {
				return err
			}
			if threadFields != nil {
				if err := s.channel.WriteOnce(ctx, remote.CollectionThreads, threadID, threadFields); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		s.mu.Lock()
		for i := range s.messages {
			if s.messages[i].ID == msg.ID {
				s.messages[i].Failed = true
			}
		}
		s.mu.Unlock()
		msg.Failed = true
		s.notify(models.SyncEvent{Type: models.SyncMessage, Message: &msg})
		return msg, err
	}
	return msg, nil
}

// SendAttachment uploads the bytes first and only then constructs the
// message, so a broken-link message can never appear.
func (s *Stream) SendAttachment(ctx context.Context, threadID, senderID string, data []byte, path string, kind models.BodyKind, caption string) (models.Message, error) {
	url, err := s.uploader.Upload(ctx, data, path)
	if err != nil {
		return models.Message{}, fmt.Errorf("upload attachment: %w", err)
	}
	return s.Send(ctx, threadID, senderID, models.MessageBody{Kind: kind, Text: caption, URL: url})
}

// handleMessageEvent merges one push event into the buffer. Known ids are
// replaced in place, so duplicate and out-of-order delivery is harmless.
func (s *Stream) handleMessageEvent(ev remote.Event) {
	if ev.Collection != remote.CollectionMessages || ev.Kind == remote.EventRemoved {
		return
	}

	var msg models.Message
	if err := json.Unmarshal(ev.Doc, &msg); err != nil {
		log.Printf("stream: bad message doc %s: %v", ev.ID, err)
		return
	}
	if msg.ID == "" {
		msg.ID = ev.ID
	}

	s.mu.Lock()
	if s.threadID == "" || msg.ThreadID != s.threadID {
		s.mu.Unlock()
		return
	}
	s.insertLocked(msg)
	s.mu.Unlock()
	s.notify(models.SyncEvent{Type: models.SyncMessage, Message: &msg})
}

func (s *Stream) handleSubError(err error) {
	log.Printf("stream: subscription error: %v", err)
	s.notify(models.SyncEvent{Type: models.SyncStatusChanged, Status: "stream_error"})
}

// insertLocked replaces by id or inserts, then restores display order.
func (s *Stream) insertLocked(msg models.Message) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			s.sortLocked()
			return
		}
	}
	s.messages = append(s.messages, msg)
	s.sortLocked()
}

func (s *Stream) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return models.LessMessages(s.messages[i], s.messages[j])
	})
}

func (s *Stream) notify(ev models.SyncEvent) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func messageFields(msg models.Message) map[string]any {
	raw, err := json.Marshal(msg)
	if err != nil {
		return map[string]any{"id": msg.ID, "thread_id": msg.ThreadID}
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]any{"id": msg.ID, "thread_id": msg.ThreadID}
	}
	delete(fields, "failed")
	return fields
}
