package eventbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "events.jsonl"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishRejectsUnknownCode(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Publish(Code("RAG-9999"), LevelInfo, "bogus", "test", "", nil)
	require.Error(t, err)

	var unknown *ErrUnknownCode
	assert.ErrorAs(t, err, &unknown)
}

func TestPublishAssignsMonotonicEventIDs(t *testing.T) {
	b := newTestBus(t)

	id1, err := b.Publish(CodeQueryReceived, LevelInfo, "q1", "pipeline", "query-1", nil)
	require.NoError(t, err)
	id2, err := b.Publish(CodeQueryReceived, LevelInfo, "q2", "pipeline", "query-2", nil)
	require.NoError(t, err)

	assert.Less(t, id1, id2)
}

func TestRecentReturnsReverseChronological(t *testing.T) {
	b := newTestBus(t)

	_, _ = b.Publish(CodeQueryReceived, LevelInfo, "first", "pipeline", "", nil)
	_, _ = b.Publish(CodeRetrievalCompleted, LevelInfo, "second", "pipeline", "", nil)
	_, _ = b.Publish(CodeGenerationCompleted, LevelInfo, "third", "pipeline", "", nil)

	require.Eventually(t, func() bool {
		return len(b.Recent(10)) == 3
	}, time.Second, time.Millisecond)

	recent := b.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "third", recent[0].Message)
	assert.Equal(t, "second", recent[1].Message)
	assert.Equal(t, "first", recent[2].Message)
}

func TestSubscribeReceivesFutureEventsOnly(t *testing.T) {
	b := newTestBus(t)

	_, _ = b.Publish(CodeQueryReceived, LevelInfo, "before subscribe", "pipeline", "", nil)

	sub := b.Subscribe()
	defer sub.Close()

	_, _ = b.Publish(CodeRetrievalCompleted, LevelInfo, "after subscribe", "pipeline", "", nil)

	select {
	case ev := <-sub.Events:
		assert.Equal(t, "after subscribe", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the event published after subscribing")
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	b := newTestBus(t)

	sub := b.Subscribe()

	// Flood well past the subscriber's bounded buffer without ever draining
	// sub.Events; publish must still return promptly for every call.
	for i := 0; i < defaultSubscriberBurst*4; i++ {
		_, err := b.Publish(CodeQueryReceived, LevelInfo, "flood", "pipeline", "", nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		_, open := <-sub.Events
		return !open
	}, 2*time.Second, time.Millisecond, "dropped subscriber's channel should eventually close")
}

func TestDurableLogPersistsAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	b1, err := Open(path, nil)
	require.NoError(t, err)
	_, err = b1.Publish(CodeQueryReceived, LevelInfo, "persisted", "pipeline", "", nil)
	require.NoError(t, err)
	require.NoError(t, b1.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted")
}
