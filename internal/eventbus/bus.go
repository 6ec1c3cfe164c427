// Package eventbus is an append-only, structured event log that also fans
// events out to live subscribers, including the HTTP SSE feed.
//
// Persistence and fan-out are deliberately decoupled: publish() enqueues and
// returns without waiting for the disk write, a single background goroutine
// serializes every append to events.jsonl, and that same goroutine fans the
// just-persisted event out to subscribers through a bounded worker pool so
// one slow subscriber can never stall another.
package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Tangerg/ragguard/internal/ids"
)

// codeIOFailure marks the internal, best-effort CRITICAL event raised when
// the durable sink itself cannot be written. It intentionally falls outside
// the normative taxonomy validated by Publish — it is never accepted as
// caller input, only ever emitted by the bus itself.
const codeIOFailure Code = "RAG-9001"

const (
	defaultQueueSize       = 4096
	defaultSubscriberBurst = 256
	defaultRecentCap       = 10000
	defaultFanoutWorkers   = 8
	defaultEnqueueTimeout  = 100 * time.Millisecond
)

// Subscription is a live handle on the bus's event stream. Events is closed
// when the bus drops the subscriber (slow-consumer policy) or when Close is
// called.
type Subscription struct {
	Events <-chan *Event
	bus    *Bus
	id     uint64
}

// Close unsubscribes, stopping further delivery to this subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id uint64
	ch chan *Event
}

// Bus is the durable event log plus its live fan-out set.
type Bus struct {
	logger *slog.Logger

	file   *os.File
	writer *bufio.Writer

	counter *ids.EventCounter
	queue   chan *Event

	pool *ants.Pool

	mu      sync.Mutex
	recent  []*Event
	subs    map[uint64]*subscriber
	nextSub uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Open creates or appends to the events log at path and starts the
// background writer/fan-out goroutine.
func Open(path string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open log: %w", err)
	}

	pool, err := ants.NewPool(defaultFanoutWorkers, ants.WithNonblocking(false))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("eventbus: create fan-out pool: %w", err)
	}

	b := &Bus{
		logger:  logger,
		file:    f,
		writer:  bufio.NewWriter(f),
		counter: ids.NewEventCounter(),
		queue:   make(chan *Event, defaultQueueSize),
		pool:    pool,
		subs:    make(map[uint64]*subscriber),
		done:    make(chan struct{}),
	}

	go b.run()
	return b, nil
}

// Publish enqueues a new event for durable persistence and live delivery,
// returning its event ID. Publish itself never blocks on disk I/O; it only
// blocks briefly if the internal queue is momentarily full. If the queue is
// still full after a short timeout, the event is written to the logger
// instead and never reaches the durable log or live subscribers.
func (b *Bus) Publish(code Code, level Level, message, category, correlationID string, payload map[string]any) (uint64, error) {
	if _, ok := knownCodes[code]; !ok {
		return 0, &ErrUnknownCode{Code: code}
	}

	ev := &Event{
		EventID:       b.counter.Next(),
		Code:          code,
		Level:         level,
		Category:      category,
		Message:       message,
		CorrelationID: correlationID,
		Payload:       payload,
	}
	ev.Timestamp = nowUTC()

	select {
	case b.queue <- ev:
	default:
		// Queue momentarily saturated: wait a short while for room, then fall
		// back to the logger so the caller is never held indefinitely.
		b.logger.Warn("eventbus: queue saturated, waiting to enqueue", "code", code)
		select {
		case b.queue <- ev:
		case <-time.After(defaultEnqueueTimeout):
			b.logger.Error("eventbus: queue full, event logged but not persisted",
				"event_id", ev.EventID, "code", ev.Code, "level", ev.Level,
				"category", ev.Category, "message", ev.Message, "correlation_id", ev.CorrelationID)
		}
	}

	return ev.EventID, nil
}

// Subscribe registers a new live subscriber and returns its handle. The
// stream only carries future events; callers wanting history should also
// call Recent.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	id := b.nextSub
	sub := &subscriber{id: id, ch: make(chan *Event, defaultSubscriberBurst)}
	b.subs[id] = sub

	return &Subscription{Events: sub.ch, bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Recent returns up to limit of the most recently appended events, newest
// first.
func (b *Bus) Recent(limit int) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.recent)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.recent[n-1-i]
	}
	return out
}

// Reset truncates the durable log and clears the in-memory recent-events
// cache, backing POST /api/demo/reset. Live subscribers are left attached;
// they simply stop seeing history predating the reset.
func (b *Bus) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.writer.Flush(); err != nil {
		return fmt.Errorf("eventbus: flush before reset: %w", err)
	}
	if err := b.file.Truncate(0); err != nil {
		return fmt.Errorf("eventbus: truncate log: %w", err)
	}
	if _, err := b.file.Seek(0, 0); err != nil {
		return fmt.Errorf("eventbus: seek after truncate: %w", err)
	}
	b.writer = bufio.NewWriter(b.file)
	b.recent = nil
	return nil
}

// Close waits for every already-queued event to be persisted and fanned out,
// then flushes and closes the durable log and releases the fan-out pool.
// Any subscriber still attached is closed.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.queue)
		<-b.done

		b.mu.Lock()
		for id, sub := range b.subs {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()

		b.pool.Release()

		if ferr := b.writer.Flush(); ferr != nil {
			err = ferr
		}
		if cerr := b.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// run is the bus's single serialized appender: it drains the queue, persists
// each event, and fans it out. Running this as the only appender, with b.mu
// held around each write so Reset cannot swap b.writer mid-append, is what
// makes the durable log totally ordered. It closes b.done once the queue has
// been closed and drained.
func (b *Bus) run() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.Lock()
		err := b.persist(ev)
		b.mu.Unlock()
		if err != nil {
			b.logger.Error("eventbus: durable write failed", "error", err)
			b.emitIOFailure(err)
		}

		b.mu.Lock()
		b.recent = append(b.recent, ev)
		if len(b.recent) > defaultRecentCap {
			b.recent = b.recent[len(b.recent)-defaultRecentCap:]
		}
		subs := make([]*subscriber, 0, len(b.subs))
		for _, s := range b.subs {
			subs = append(subs, s)
		}
		b.mu.Unlock()

		b.fanOut(ev, subs)
	}
}

func (b *Bus) persist(ev *Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := b.writer.Write(line); err != nil {
		return err
	}
	if err := b.writer.Flush(); err != nil {
		return err
	}
	return b.file.Sync()
}

// emitIOFailure delivers a best-effort CRITICAL notice directly to live
// subscribers, bypassing the durable queue entirely (it is, definitionally,
// what announces that the durable queue is broken).
func (b *Bus) emitIOFailure(cause error) {
	ev := &Event{
		EventID:   b.counter.Next(),
		Code:      codeIOFailure,
		Level:     LevelCritical,
		Category:  "io",
		Message:   fmt.Sprintf("event sink unwritable: %v", cause),
		Timestamp: nowUTC(),
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	b.fanOut(ev, subs)
}

// fanOut delivers ev to each subscriber concurrently through the bounded
// pool; a subscriber whose buffer is full is dropped rather than allowed to
// stall delivery to everyone else.
func (b *Bus) fanOut(ev *Event, subs []*subscriber) {
	var wg sync.WaitGroup
	wg.Add(len(subs))

	for _, s := range subs {
		s := s
		_ = b.pool.Submit(func() {
			defer wg.Done()
			select {
			case s.ch <- ev:
			default:
				b.logger.Warn("eventbus: dropping slow subscriber", "subscriber_id", s.id)
				b.dropSubscriber(s.id)
			}
		})
	}

	wg.Wait()
}

func (b *Bus) dropSubscriber(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}
