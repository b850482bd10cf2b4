package timeclock

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the per-observer buffer when none is configured.
const DefaultQueueSize = 64

// Broker fans events out to observers. Each observer has its own bounded
// queue and worker; Publish never blocks, and a full queue drops the event.
type Broker struct {
	queueSize int
	log       *logrus.Entry
	metrics   *Metrics

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	name string
	ch   chan Event
	fn   func(Event)
}

func NewBroker(queueSize int, log *logrus.Entry, metrics *Metrics) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broker{
		queueSize: queueSize,
		log:       log,
		metrics:   metrics,
		subs:      make(map[uint64]*subscription),
	}
}

// Subscribe registers fn under name and returns a func that removes it.
// Events already queued for the observer are still delivered.
func (b *Broker) Subscribe(name string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	sub := &subscription{name: name, ch: make(chan Event, b.queueSize), fn: fn}
	b.subs[id] = sub

	b.wg.Add(1)
	go b.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.metrics.RecordDrop(sub.name)
			b.log.WithFields(logrus.Fields{
				"observer": sub.name,
				"event":    ev.Type,
				"user_id":  ev.UserID,
			}).Warn("observer queue full, event dropped")
		}
	}
}

// Close stops accepting observers, delivers what is queued and waits for
// the workers to exit.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Broker) run(sub *subscription) {
	defer b.wg.Done()
	for ev := range sub.ch {
		b.deliver(sub, ev)
	}
}

func (b *Broker) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("observer", sub.name).Errorf("observer panic: %v", r)
		}
	}()
	sub.fn(ev)
}
