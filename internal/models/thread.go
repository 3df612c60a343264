package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// ThreadType distinguishes conversation kinds.
type ThreadType string

const (
	ThreadDirect  ThreadType = "direct"
	ThreadGroup   ThreadType = "group"
	ThreadEvent   ThreadType = "event"
	ThreadSupport ThreadType = "support"
)

// UserSet is a per-user overlay flag set. It marshals as a sorted JSON array
// of user ids so documents stay stable across writers.
type UserSet map[string]struct{}

// NewUserSet builds a set from the given ids.
func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s UserSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// With returns a copy of the set including id.
func (s UserSet) With(id string) UserSet {
	out := s.Clone()
	if out == nil {
		out = UserSet{}
	}
	out[id] = struct{}{}
	return out
}

// Without returns a copy of the set excluding id.
func (s UserSet) Without(id string) UserSet {
	out := s.Clone()
	delete(out, id)
	return out
}

// Clone returns an independent copy.
func (s UserSet) Clone() UserSet {
	if s == nil {
		return nil
	}
	out := make(UserSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the members in sorted order.
func (s UserSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewUserSet(ids...)
	return nil
}

// LastMessage is the denormalized snapshot of the most recent message,
// kept on the thread so lists render without loading the full log.
type LastMessage struct {
	Text     string    `json:"text"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Thread is a conversation record shared by all participants, with per-user
// overlay flags layered on top.
type Thread struct {
	ID           string         `json:"id"`
	Type         ThreadType     `json:"type"`
	Participants []string       `json:"participants"`
	Title        string         `json:"title,omitempty"`
	LastMessage  *LastMessage   `json:"last_message,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	UnreadCounts map[string]int `json:"unread_counts,omitempty"`
	ArchivedBy   UserSet        `json:"archived_by,omitempty"`
	HiddenBy     UserSet        `json:"hidden_by,omitempty"`
	MutedBy      UserSet        `json:"muted_by,omitempty"`
	DeletedBy    UserSet        `json:"deleted_by,omitempty"`
}

// DirectThreadID derives the deterministic id for a direct thread between
// two users. Both sides compute the same id regardless of who starts.
func DirectThreadID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// HasParticipant reports whether the user belongs to the thread.
func (t Thread) HasParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// UnreadFor returns the unread count for the user. Users who are not
// participants never hold a count.
func (t Thread) UnreadFor(userID string) int {
	if !t.HasParticipant(userID) {
		return 0
	}
	return t.UnreadCounts[userID]
}

// DisplayTitle resolves the name shown in a list for the viewer: the stored
// title when present, otherwise the other participants joined together.
func (t Thread) DisplayTitle(viewerID string) string {
	if t.Title != "" {
		return t.Title
	}
	others := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p != viewerID {
			others = append(others, p)
		}
	}
	sort.Strings(others)
	return strings.Join(others, ", ")
}

// ThreadView is a thread projected for one viewer: overlay flags and the
// unread count collapse to that viewer's values, so flags set by other
// participants never leave the server.
type ThreadView struct {
	ID           string       `json:"id"`
	Type         ThreadType   `json:"type"`
	Title        string       `json:"title"`
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Unread       int          `json:"unread"`
	Archived     bool         `json:"archived"`
	Hidden       bool         `json:"hidden"`
	Muted        bool         `json:"muted"`
}

// ViewFor projects the thread for one viewer.
func (t Thread) ViewFor(viewerID string) ThreadView {
	return ThreadView{
		ID:           t.ID,
		Type:         t.Type,
		Title:        t.DisplayTitle(viewerID),
		Participants: t.Participants,
		LastMessage:  t.LastMessage,
		UpdatedAt:    t.UpdatedAt.UTC(),
		Unread:       t.UnreadFor(viewerID),
		Archived:     t.ArchivedBy.Has(viewerID),
		Hidden:       t.HiddenBy.Has(viewerID),
		Muted:        t.MutedBy.Has(viewerID),
	}
}

// Clone returns a deep copy. Rollbacks depend on captured values staying
// independent of later mutation.
func (t Thread) Clone() Thread {
	out := t
	if t.Participants != nil {
		out.Participants = append([]string(nil), t.Participants...)
	}
	if t.LastMessage != nil {
		snap := *t.LastMessage
		out.LastMessage = &snap
	}
	if t.UnreadCounts != nil {
		out.UnreadCounts = make(map[string]int, len(t.UnreadCounts))
		for id, n := range t.UnreadCounts {
			out.UnreadCounts[id] = n
		}
	}
	out.ArchivedBy = t.ArchivedBy.Clone()
	out.HiddenBy = t.HiddenBy.Clone()
	out.MutedBy = t.MutedBy.Clone()
	out.DeletedBy = t.DeletedBy.Clone()
	return out
}
