package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Tangerg/ragguard/internal/sse"
)

// StreamHTTP subscribes to the bus and writes every subsequent event to w as
// an SSE stream, until the request context is canceled or the subscriber is
// dropped. This is the implementation behind GET /api/events/stream.
//
// The event's id field carries its EventID, and its event field carries the
// taxonomy Code so the client can dispatch on event type without parsing the
// payload. A Last-Event-ID sent by a reconnecting client is not read: the
// stream never replays events published before the subscription.
func (b *Bus) StreamHTTP(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return sse.ErrNotFlushable
	}

	sub := b.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	frame := sse.NewFrame()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-sub.Events:
			if !open {
				return nil
			}

			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			out := frame.
				ID(strconv.FormatUint(ev.EventID, 10)).
				Event(string(ev.Code)).
				Data(data).
				Bytes()
			if out == nil {
				continue
			}
			if _, err := w.Write(out); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
