// Package events fans run progress out to live subscribers such as the
// websocket feed.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

const defaultBuffer = 64

// Bus delivers events to per-run subscribers. Slow subscribers lose events
// instead of blocking the pipeline.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	all    map[*subscription]struct{}
	buffer int
	logger *zap.Logger
}

type subscription struct {
	ch   chan pipeline.Event
	once sync.Once
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string]map[*subscription]struct{}),
		all:    make(map[*subscription]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Observe implements pipeline.Observer.
func (b *Bus) Observe(e pipeline.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[e.RunID] {
		b.deliver(s, e)
	}
	for s := range b.all {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscription, e pipeline.Event) {
	select {
	case s.ch <- e:
	default:
		b.logger.Debug("dropping event for slow subscriber", zap.String("run_id", e.RunID), zap.String("type", e.Type))
	}
}

// Subscribe returns a channel of events for runID ("" for every run) and a
// cancel func that closes it.
func (b *Bus) Subscribe(runID string) (<-chan pipeline.Event, func()) {
	s := &subscription{ch: make(chan pipeline.Event, b.buffer)}
	b.mu.Lock()
	if runID == "" {
		b.all[s] = struct{}{}
	} else {
		if b.subs[runID] == nil {
			b.subs[runID] = make(map[*subscription]struct{})
		}
		b.subs[runID][s] = struct{}{}
	}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			if runID == "" {
				delete(b.all, s)
			} else {
				delete(b.subs[runID], s)
				if len(b.subs[runID]) == 0 {
					delete(b.subs, runID)
				}
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Subscribers reports how many subscriptions are open for runID.
func (b *Bus) Subscribers(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[runID])
}

// Fanout combines observers into one.
func Fanout(observers ...pipeline.Observer) pipeline.Observer {
	return pipeline.ObserverFunc(func(e pipeline.Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}
