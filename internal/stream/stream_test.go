package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"thread-sync/internal/directory"
	"thread-sync/internal/mocks"
	"thread-sync/internal/models"
	"thread-sync/internal/optimistic"
	"thread-sync/internal/remote"
)

func seedMessage(t *testing.T, ch *remote.MemoryChannel, id, threadID string, at time.Time) {
	t.Helper()
	require.NoError(t, ch.WriteOnce(context.Background(), remote.CollectionMessages, id, map[string]any{
		"id":         id,
		"thread_id":  threadID,
		"sender_id":  "bob",
		"body":       map[string]any{"kind": "text", "text": "hi"},
		"created_at": at,
	}))
}

func newStream(ch *remote.MemoryChannel) *Stream {
	return New(ch, optimistic.NewCoordinator(), nil, nil, nil)
}

func TestOpenReturnsBufferedLogInOrder(t *testing.T) {
	ch := remote.NewMemoryChannel()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedMessage(t, ch, "m2", "t1", base.Add(time.Minute))
	seedMessage(t, ch, "m1", "t1", base)
	seedMessage(t, ch, "other", "t2", base)

	s := newStream(ch)
	msgs, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestOpenMarksThreadRead(t *testing.T) {
	ch := remote.NewMemoryChannel()
	var marked []string
	s := New(ch, optimistic.NewCoordinator(), nil, nil, func(ctx context.Context, threadID string) {
		marked = append(marked, threadID)
	})

	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"t1"}, marked)
}

func TestOpenSecondThreadClosesFirst(t *testing.T) {
	ch := remote.NewMemoryChannel()
	s := newStream(ch)

	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	_, err = s.Open(context.Background(), "t2")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "t2", s.ThreadID())

	// Traffic on the first thread no longer lands in the buffer.
	seedMessage(t, ch, "m1", "t1", time.Now().UTC())
	assert.Empty(t, s.Messages())
}

func TestConcurrentOpensLeaveOneSubscription(t *testing.T) {
	ch := remote.NewMemoryChannel()
	s := newStream(ch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		threadID := fmt.Sprintf("t%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Open(context.Background(), threadID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Whichever open won, every loser's subscription must be gone.
	assert.Equal(t, 1, ch.SubCount())
	s.Close()
	assert.Equal(t, 0, ch.SubCount())
}

func TestDuplicateEventsReplaceInPlace(t *testing.T) {
	ch := remote.NewMemoryChannel()
	s := newStream(ch)
	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	at := time.Now().UTC()
	seedMessage(t, ch, "m1", "t1", at)
	seedMessage(t, ch, "m1", "t1", at)

	assert.Len(t, s.Messages(), 1)
}

func TestSendAppendsAndBumpsThread(t *testing.T) {
	ch := remote.NewMemoryChannel()
	require.NoError(t, ch.WriteOnce(context.Background(), remote.CollectionThreads, "t1", map[string]any{
		"id":           "t1",
		"type":         "direct",
		"participants": []string{"alice", "bob"},
		"updated_at":   time.Now().UTC(),
	}))

	coord := optimistic.NewCoordinator()
	dir := directory.New(ch, coord)
	require.NoError(t, dir.StartForUser(context.Background(), "alice"))
	defer dir.Stop()

	s := New(ch, coord, nil, dir, nil)
	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	msg, err := s.Send(context.Background(), "t1", "alice", models.TextBody("hello"))
	require.NoError(t, err)
	assert.False(t, msg.Failed)
	assert.True(t, msg.ReadBy.Has("alice"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)

	th, ok := dir.Thread("t1")
	require.True(t, ok)
	require.NotNil(t, th.LastMessage)
	assert.Equal(t, "hello", th.LastMessage.Text)
	assert.Equal(t, "alice", th.LastMessage.SenderID)
	assert.Equal(t, 1, th.UnreadFor("bob"))
	assert.Equal(t, 0, th.UnreadFor("alice"))
}

func TestSendFailureKeepsFlaggedMessage(t *testing.T) {
	ch := remote.NewMemoryChannel()
	s := newStream(ch)
	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	ch.SetWriteErr(assert.AnError)
	msg, err := s.Send(context.Background(), "t1", "alice", models.TextBody("hello"))
	require.Error(t, err)
	assert.True(t, msg.Failed)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
}

func TestSendAttachmentUploadsFirst(t *testing.T) {
	ch := remote.NewMemoryChannel()
	uploader := new(mocks.UploaderMock)
	s := New(ch, optimistic.NewCoordinator(), uploader, nil, nil)
	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	uploader.On("Upload", mock.Anything, []byte("img"), "t1/pic.jpg").Return("/blobs/t1/pic.jpg", nil).Once()

	msg, err := s.SendAttachment(context.Background(), "t1", "alice", []byte("img"), "t1/pic.jpg", models.BodyImage, "caption")
	require.NoError(t, err)
	assert.Equal(t, "/blobs/t1/pic.jpg", msg.Body.URL)
	assert.Equal(t, models.BodyImage, msg.Body.Kind)
	uploader.AssertExpectations(t)
}

func TestSendAttachmentUploadFailureBuffersNothing(t *testing.T) {
	ch := remote.NewMemoryChannel()
	uploader := new(mocks.UploaderMock)
	s := New(ch, optimistic.NewCoordinator(), uploader, nil, nil)
	_, err := s.Open(context.Background(), "t1")
	require.NoError(t, err)
	defer s.Close()

	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError).Once()

	_, err = s.SendAttachment(context.Background(), "t1", "alice", []byte("img"), "t1/pic.jpg", models.BodyImage, "")
	require.Error(t, err)
	assert.Empty(t, s.Messages())
	uploader.AssertExpectations(t)
}

func TestSendToUnopenedThreadStillWrites(t *testing.T) {
	ch := remote.NewMemoryChannel()
	s := newStream(ch)

	var got []remote.Event
	sub, err := ch.Subscribe(context.Background(), remote.MessagesIn("t9"), func(ev remote.Event) { got = append(got, ev) }, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = s.Send(context.Background(), "t9", "alice", models.TextBody("bg"))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Empty(t, s.Messages())
}
