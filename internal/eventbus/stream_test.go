package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/sse"
)

// nonFlushableWriter satisfies http.ResponseWriter but deliberately not
// http.Flusher, so StreamHTTP's type assertion fails.
type nonFlushableWriter struct{}

func (nonFlushableWriter) Header() http.Header       { return http.Header{} }
func (nonFlushableWriter) Write([]byte) (int, error) { return 0, nil }
func (nonFlushableWriter) WriteHeader(int)           {}

func TestStreamHTTPRejectsNonFlushableWriter(t *testing.T) {
	b := newTestBus(t)

	err := b.StreamHTTP(context.Background(), nonFlushableWriter{})
	require.ErrorIs(t, err, sse.ErrNotFlushable)
}

func TestStreamHTTPWritesPublishedEventsAsSSEFrames(t *testing.T) {
	b := newTestBus(t)

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.StreamHTTP(ctx, rec) }()

	// Give the subscriber goroutine a moment to register before publishing,
	// or the event could be dropped as "before subscribe".
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs) == 1
	}, time.Second, time.Millisecond)

	_, err := b.Publish(CodeQueryReceived, LevelInfo, "streamed", "pipeline", "corr-1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "streamed")
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "event: "+string(CodeQueryReceived))
	assert.Contains(t, body, "id: 1")
	assert.Contains(t, body, "data: ")
}
