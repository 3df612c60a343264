package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectThreadIDOrderIndependent(t *testing.T) {
	require.Equal(t, DirectThreadID("alice", "bob"), DirectThreadID("bob", "alice"))
	require.Equal(t, "dm:alice:bob", DirectThreadID("bob", "alice"))
}

func TestUserSetMarshalsSorted(t *testing.T) {
	s := NewUserSet("carol", "alice", "bob")
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["alice","bob","carol"]`, string(raw))

	var back UserSet
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Has("bob"))
	assert.False(t, back.Has("dave"))
}

func TestUserSetWithWithoutDoNotMutate(t *testing.T) {
	base := NewUserSet("alice")

	with := base.With("bob")
	assert.False(t, base.Has("bob"))
	assert.True(t, with.Has("bob"))

	without := with.Without("alice")
	assert.True(t, with.Has("alice"))
	assert.False(t, without.Has("alice"))
}

func TestThreadCloneIsIndependent(t *testing.T) {
	sent := time.Now().UTC()
	orig := Thread{
		ID:           "t1",
		Participants: []string{"alice", "bob"},
		LastMessage:  &LastMessage{Text: "hi", SenderID: "alice", SentAt: sent},
		UnreadCounts: map[string]int{"bob": 2},
		ArchivedBy:   NewUserSet("bob"),
	}

	clone := orig.Clone()
	clone.Participants[0] = "mallory"
	clone.LastMessage.Text = "changed"
	clone.UnreadCounts["bob"] = 9
	clone.ArchivedBy = clone.ArchivedBy.With("alice")

	assert.Equal(t, "alice", orig.Participants[0])
	assert.Equal(t, "hi", orig.LastMessage.Text)
	assert.Equal(t, 2, orig.UnreadCounts["bob"])
	assert.False(t, orig.ArchivedBy.Has("alice"))
}

func TestUnreadForNonParticipantIsZero(t *testing.T) {
	th := Thread{
		Participants: []string{"alice", "bob"},
		UnreadCounts: map[string]int{"alice": 3, "mallory": 7},
	}
	assert.Equal(t, 3, th.UnreadFor("alice"))
	assert.Equal(t, 0, th.UnreadFor("mallory"))
}

func TestDisplayTitle(t *testing.T) {
	titled := Thread{Title: "Trip planning", Participants: []string{"alice", "bob"}}
	assert.Equal(t, "Trip planning", titled.DisplayTitle("alice"))

	direct := Thread{Participants: []string{"alice", "bob"}}
	assert.Equal(t, "bob", direct.DisplayTitle("alice"))
	assert.Equal(t, "alice", direct.DisplayTitle("bob"))

	group := Thread{Participants: []string{"carol", "alice", "bob"}}
	assert.Equal(t, "bob, carol", group.DisplayTitle("alice"))
}
