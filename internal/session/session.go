// Package session wires one user's directory, message stream and unread
// accountant together and pins their lifecycle to sign-in/sign-out.
package session

import (
	"context"
	"log"
	"sync"

	"thread-sync/internal/blob"
	"thread-sync/internal/directory"
	"thread-sync/internal/models"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
	"thread-sync/internal/stream"
	"thread-sync/internal/unread"
)

// Session is the per-user sync engine instance.
type Session struct {
	UserID    string
	Directory *directory.Directory
	Stream    *stream.Stream
	Unread    *unread.Accountant
}

// Manager owns the active sessions, one per signed-in user.
type Manager struct {
	channel  remote.Channel
	coord    *optimistic.Coordinator
	uploader blob.Uploader
	onEvent  func(userID string, ev models.SyncEvent)

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs an empty Manager.
func NewManager(channel remote.Channel, coord *optimistic.Coordinator, uploader blob.Uploader) *Manager {
	return &Manager{
		channel:  channel,
		coord:    coord,
		uploader: uploader,
		sessions: make(map[string]*Session),
	}
}

// SetOnEvent registers the fan-out sink for all sessions' sync events.
func (m *Manager) SetOnEvent(fn func(userID string, ev models.SyncEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// StartForUser returns the user's session, creating and starting it on
// first use. Idempotent for an already-started user.
func (m *Manager) StartForUser(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	onEvent := m.onEvent
	m.mu.Unlock()

	dir := directory.New(m.channel, m.coord)
	acct := unread.New(dir, m.channel, m.coord)
	markRead := func(ctx context.Context, threadID string) {
		if err := acct.MarkThreadRead(ctx, threadID, userID); err != nil {
			log.Printf("session %s: mark read on open failed: %v", userID, err)
		}
	}
	str := stream.New(m.channel, m.coord, m.uploader, dir, markRead)

	if onEvent != nil {
		dir.SetOnChange(func(ev models.SyncEvent) { onEvent(userID, ev) })
		str.SetOnChange(func(ev models.SyncEvent) { onEvent(userID, ev) })
	}

	if err := dir.StartForUser(ctx, userID); err != nil {
		return nil, err
	}

	s := &Session{UserID: userID, Directory: dir, Stream: str, Unread: acct}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		dir.Stop()
		return existing, nil
	}
	m.sessions[userID] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session for an already signed-in user.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Stop tears down the user's session so no state leaks into the next one.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Stream.Close()
	s.Directory.Stop()
}

// StopAll tears down every session, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Stream.Close()
		s.Directory.Stop()
	}
}
