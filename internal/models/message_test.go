package models

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(sec int) time.Time {
	return time.Date(2026, 8, 1, 12, 0, sec, 0, time.UTC)
}

func tsp(sec int) *time.Time {
	v := ts(sec)
	return &v
}

func TestLessMessagesPrefersClientTimestamp(t *testing.T) {
	// Server stamped b earlier, but the client stamps say a came first.
	a := Message{ID: "a", CreatedAt: ts(10), ClientTimestamp: tsp(1)}
	b := Message{ID: "b", CreatedAt: ts(5), ClientTimestamp: tsp(2)}

	assert.True(t, LessMessages(a, b))
	assert.False(t, LessMessages(b, a))
}

func TestLessMessagesFallsBackToCreatedAt(t *testing.T) {
	a := Message{ID: "a", CreatedAt: ts(5)}
	b := Message{ID: "b", CreatedAt: ts(10), ClientTimestamp: tsp(1)}

	assert.True(t, LessMessages(a, b))
}

func TestLessMessagesBreaksTiesByID(t *testing.T) {
	a := Message{ID: "a", CreatedAt: ts(5), ClientTimestamp: tsp(3)}
	b := Message{ID: "b", CreatedAt: ts(5), ClientTimestamp: tsp(3)}

	assert.True(t, LessMessages(a, b))
	assert.False(t, LessMessages(b, a))
}

func TestLessMessagesOrdersMixedLog(t *testing.T) {
	msgs := []Message{
		{ID: "d", CreatedAt: ts(30)},
		{ID: "b", CreatedAt: ts(40), ClientTimestamp: tsp(10)},
		{ID: "a", CreatedAt: ts(40), ClientTimestamp: tsp(5)},
		{ID: "c", CreatedAt: ts(20)},
	}
	sort.SliceStable(msgs, func(i, j int) bool { return LessMessages(msgs[i], msgs[j]) })

	got := make([]string, 0, len(msgs))
	for _, m := range msgs {
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, got)
}

func TestBodyPreview(t *testing.T) {
	assert.Equal(t, "hello", TextBody("hello").Preview())
	assert.Equal(t, "[photo]", MessageBody{Kind: BodyImage, URL: "u"}.Preview())
	assert.Equal(t, "[event]", MessageBody{Kind: BodyEventCard, RefID: "e1"}.Preview())
	assert.Equal(t, "[post]", MessageBody{Kind: BodyPostCard, RefID: "p1"}.Preview())
	assert.Equal(t, "nice!", MessageBody{Kind: BodyStoryReply, Text: "nice!", RefID: "s1"}.Preview())
}
