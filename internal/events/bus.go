package events

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/coordsim/internal/clock"
)

const (
	defaultQueueSize      = 256
	defaultReplaySize     = 200
	defaultMaxTopics      = 1024
	defaultRetainFinished = 5 * time.Minute
)

// Options configures a Bus.
type Options struct {
	// QueueSize bounds each subscriber's buffer. When full, the oldest
	// undelivered event is dropped.
	QueueSize int

	// ReplaySize bounds the per-topic backlog kept for Replay.
	ReplaySize int

	// MaxTopics bounds how many topics keep a backlog. The topic created
	// longest ago is dropped first.
	MaxTopics int

	// RetainFinished is how long a session topic keeps its backlog after
	// the session's final event.
	RetainFinished time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Bus is an asynchronous pub-sub fan-out. Publishing never blocks on slow
// subscribers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	backlog   map[string]*list.List
	topics    *list.List // topic names in creation order
	nextSubID uint64
	seq       int64

	queueSize      int
	replaySize     int
	maxTopics      int
	retainFinished time.Duration
	clock          clock.Clock
	logger         *slog.Logger
}

// NewBus creates a bus.
func NewBus(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = defaultReplaySize
	}
	if opts.MaxTopics <= 0 {
		opts.MaxTopics = defaultMaxTopics
	}
	if opts.RetainFinished <= 0 {
		opts.RetainFinished = defaultRetainFinished
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bus{
		subs:           make(map[uint64]*Subscription),
		backlog:        make(map[string]*list.List),
		topics:         list.New(),
		queueSize:      opts.QueueSize,
		replaySize:     opts.ReplaySize,
		maxTopics:      opts.MaxTopics,
		retainFinished: opts.RetainFinished,
		clock:          opts.Clock,
		logger:         opts.Logger.With("component", "event_bus"),
	}
}

// PublishEvent publishes ev on its session topic.
func (b *Bus) PublishEvent(ev Event) {
	b.publish(SessionTopic(ev.SessionID), ev)
}

// Notify publishes ev on a participant channel.
func (b *Bus) Notify(channel string, ev Event) {
	b.publish(channel, ev)
}

func (b *Bus) publish(topic string, ev Event) {
	b.mu.Lock()
	b.seq++
	d := Delivery{ID: b.seq, Topic: topic, Event: ev}

	l, ok := b.backlog[topic]
	if !ok {
		l = list.New()
		b.backlog[topic] = l
		b.topics.PushBack(topic)
		for b.topics.Len() > b.maxTopics {
			oldest := b.topics.Remove(b.topics.Front()).(string)
			delete(b.backlog, oldest)
		}
	}
	l.PushBack(d)
	for l.Len() > b.replaySize {
		l.Remove(l.Front())
	}

	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(d) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.offer(d, b.logger)
	}

	if ev.Type.Final() && strings.HasPrefix(topic, SessionTopicPrefix) {
		b.clock.AfterFunc(b.retainFinished, func() { b.Prune(topic) })
	}
}

// Subscribe registers a subscription for deliveries matching f.
func (b *Bus) Subscribe(f Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	s := &Subscription{
		id:     b.nextSubID,
		filter: f,
		ch:     make(chan Delivery, b.queueSize),
		done:   make(chan struct{}),
		bus:    b,
	}
	b.subs[s.id] = s
	return s
}

// Replay returns backlog deliveries on topic with an id greater than afterID.
func (b *Bus) Replay(topic string, afterID int64) []Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()

	l, ok := b.backlog[topic]
	if !ok {
		return nil
	}
	var missed []Delivery
	for e := l.Front(); e != nil; e = e.Next() {
		d := e.Value.(Delivery)
		if d.ID > afterID {
			missed = append(missed, d)
		}
	}
	return missed
}

// Prune drops the replay backlog of a topic.
func (b *Bus) Prune(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.backlog[topic]; !ok {
		return
	}
	delete(b.backlog, topic)
	for e := b.topics.Front(); e != nil; e = e.Next() {
		if e.Value.(string) == topic {
			b.topics.Remove(e)
			break
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription receives deliveries from a Bus until closed.
type Subscription struct {
	id        uint64
	filter    Filter
	ch        chan Delivery
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
	bus       *Bus
}

// C returns the delivery channel. It is never closed; select on Done too.
func (s *Subscription) C() <-chan Delivery {
	return s.ch
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many deliveries were discarded due to backpressure.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s.id)
		close(s.done)
	})
}

// offer queues d without blocking, evicting the oldest queued delivery when
// the buffer is full.
func (s *Subscription) offer(d Delivery, logger *slog.Logger) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.ch <- d:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- d:
	default:
		s.dropped.Add(1)
	}
	logger.Warn("Subscriber queue full, dropped oldest event",
		"subscription", s.id,
		"dropped_total", s.dropped.Load(),
	)
}
