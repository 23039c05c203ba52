package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// DefaultSubscriberBuffer is how many undelivered events a slow subscriber
// may accumulate before it is disconnected.
const DefaultSubscriberBuffer = 1024

// DefaultTerminalHold is how long a topic stays available for replay after
// the session reaches a terminal status.
const DefaultTerminalHold = 60 * time.Second

// Broker owns the per-session topics. One instance per process.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic

	bufferSize   int
	terminalHold time.Duration
	// afterFunc is swapped in tests to control eviction timing.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// topic is one session's event stream. Event append and subscriber
// dispatch happen under the same mutex so every subscriber observes the
// same order.
type topic struct {
	mu       sync.Mutex
	events   []Event
	nextSeq  int64
	subs     map[int]*subscriber
	nextSub  int
	terminal bool
}

type subscriber struct {
	ch chan Event
}

// NewBroker creates a broker with default buffering and hold.
func NewBroker() *Broker {
	return &Broker{
		topics:       make(map[string]*topic),
		bufferSize:   DefaultSubscriberBuffer,
		terminalHold: DefaultTerminalHold,
		afterFunc:    time.AfterFunc,
	}
}

func (b *Broker) topicFor(sessionID string, create bool) *topic {
	b.mu.RLock()
	t, ok := b.topics[sessionID]
	b.mu.RUnlock()
	if ok || !create {
		return t
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[sessionID]; ok {
		return t
	}
	t = &topic{subs: make(map[int]*subscriber)}
	b.topics[sessionID] = t
	return t
}

// PublishStatus appends a status-transition event. Terminal statuses start
// the eviction hold.
func (b *Broker) PublishStatus(sessionID string, status models.Status) {
	b.publish(sessionID, Event{
		Type:      EventStatus,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Status:    status,
	})
	if status.IsTerminal() {
		b.scheduleEviction(sessionID)
	}
}

// PublishLog appends a log event.
func (b *Broker) PublishLog(entry models.LogEntry) {
	b.publish(entry.SessionID, Event{
		Type:      EventLog,
		SessionID: entry.SessionID,
		Timestamp: entry.Timestamp,
		Log:       &entry,
	})
}

// publish appends the event to the topic and dispatches to every
// subscriber under one critical section. Slow subscribers whose buffers
// are full are disconnected.
func (b *Broker) publish(sessionID string, evt Event) {
	t := b.topicFor(sessionID, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	evt.Seq = t.nextSeq
	t.events = append(t.events, evt)

	for id, sub := range t.subs {
		select {
		case sub.ch <- evt:
		default:
			slog.Warn("Disconnecting slow progress subscriber",
				"session_id", sessionID, "subscriber", id)
			delete(t.subs, id)
			close(sub.ch)
		}
	}
}

// Subscribe attaches to a session's topic. When replay is true, every
// event published so far is delivered first, in order. The returned cancel
// must be called to release the subscription. ok is false when the topic
// has already been evicted; callers then read the terminal snapshot from
// storage instead.
func (b *Broker) Subscribe(sessionID string, replay bool) (events <-chan Event, cancel func(), ok bool) {
	t := b.topicFor(sessionID, false)
	if t == nil {
		return nil, nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	size := b.bufferSize
	if replay && len(t.events) > size/2 {
		// Leave headroom for live events after a large replay.
		size = len(t.events) + b.bufferSize
	}
	ch := make(chan Event, size)
	if replay {
		for _, evt := range t.events {
			ch <- evt
		}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = &subscriber{ch: ch}

	cancel = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel, true
}

// Open creates the topic for a session so subscribers can join before the
// first event.
func (b *Broker) Open(sessionID string) {
	b.topicFor(sessionID, true)
}

// scheduleEviction removes the topic after the terminal hold so late
// subscribers fall back to the stored snapshot.
func (b *Broker) scheduleEviction(sessionID string) {
	t := b.topicFor(sessionID, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	already := t.terminal
	t.terminal = true
	t.mu.Unlock()
	if already {
		return
	}

	b.afterFunc(b.terminalHold, func() {
		b.evict(sessionID)
	})
}

// evict closes all subscribers and drops the topic.
func (b *Broker) evict(sessionID string) {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	if ok {
		delete(b.topics, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.ch)
	}
	t.events = nil
}

// ActiveTopics returns the number of live topics, for the health endpoint.
func (b *Broker) ActiveTopics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (b *Broker) subscriberCount(sessionID string) int {
	t := b.topicFor(sessionID, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
