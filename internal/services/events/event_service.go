package events

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// Service implements EventService with topic-keyed bounded subscriptions.
// Publishers never block: a full subscriber queue drops its oldest event and
// records a single overflow marker in its place.
type Service struct {
	queueCapacity int
	subscribers   map[string][]*subscription
	mu            sync.RWMutex
	closed        bool
	logger        arbor.ILogger
}

// NewService creates a new event service
func NewService(queueCapacity int, logger arbor.ILogger) interfaces.EventService {
	if queueCapacity < 1 {
		queueCapacity = 64
	}
	return &Service{
		queueCapacity: queueCapacity,
		subscribers:   make(map[string][]*subscription),
		logger:        logger,
	}
}

type subscription struct {
	topic   string
	service *Service

	mu       sync.Mutex
	queue    []interfaces.Event
	overflow bool
	notify   chan struct{}
	done     chan struct{}
	out      chan interfaces.Event
	once     sync.Once
}

// Events returns the subscription's ordered event stream.
func (s *subscription) Events() <-chan interfaces.Event {
	return s.out
}

// Close detaches the subscription from the bus. The Events channel closes
// once buffered events are drained.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.service.unsubscribe(s)
		close(s.done)
	})
}

// enqueue adds an event to the subscription's bounded queue. Called with the
// service lock held for reads; the subscription has its own lock.
func (s *subscription) enqueue(event interfaces.Event, capacity int) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= capacity {
		dropped = true
		// Drop the oldest real event; an overflow marker at the head sticks.
		if s.queue[0].Type == models.EventQueueOverflow && len(s.queue) > 1 {
			s.queue = append(s.queue[:1], s.queue[2:]...)
		} else {
			s.queue = s.queue[1:]
		}
		// Collapse repeated overflows into one marker per episode.
		if !s.overflow {
			s.overflow = true
			s.queue = append([]interfaces.Event{{
				Topic: s.topic,
				Type:  models.EventQueueOverflow,
			}}, s.queue...)
			if len(s.queue) >= capacity && len(s.queue) > 1 {
				// The marker consumed the freed slot; make room again.
				s.queue = append(s.queue[:1], s.queue[2:]...)
			}
		}
	}

	s.queue = append(s.queue, event)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pump moves events from the queue to the out channel, preserving order.
func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next *interfaces.Event
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if ev.Type == models.EventQueueOverflow {
				// Marker delivered; the next overflow episode gets a new one.
				s.overflow = false
			}
			next = &ev
		}
		s.mu.Unlock()

		if next != nil {
			select {
			case s.out <- *next:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			// Drain what is already buffered, then exit.
			s.mu.Lock()
			remaining := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, ev := range remaining {
				select {
				case s.out <- ev:
				default:
					return
				}
			}
			return
		}
	}
}

// Subscribe creates a bounded subscription for the topic
func (s *Service) Subscribe(topic string) interfaces.Subscription {
	sub := &subscription{
		topic:   topic,
		service: s,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan interfaces.Event),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.out)
		return sub
	}
	s.subscribers[topic] = append(s.subscribers[topic], sub)
	count := len(s.subscribers[topic])
	s.mu.Unlock()

	common.SafeGo(s.logger, "event-pump:"+topic, sub.pump)

	s.logger.Debug().
		Str("topic", topic).
		Int("subscriber_count", count).
		Msg("Subscription created")

	return sub
}

// Publish delivers the event to every subscriber of its topic. Never blocks.
func (s *Service) Publish(event interfaces.Event) {
	s.mu.RLock()
	subs := s.subscribers[event.Topic]
	capacity := s.queueCapacity
	s.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		if sub.enqueue(event, capacity) {
			s.logger.Warn().
				Str("topic", event.Topic).
				Str("event_type", event.Type).
				Msg("Subscriber queue full, oldest event dropped")
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a topic
func (s *Service) SubscriberCount(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[topic])
}

// Shutdown closes every subscription and rejects further subscribes
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var all []*subscription
	for _, subs := range s.subscribers {
		all = append(all, subs...)
	}
	s.subscribers = make(map[string][]*subscription)
	s.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}

	s.logger.Info().Msg("Event service closed")
}

func (s *Service) unsubscribe(target *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[target.topic]
	for i, sub := range subs {
		if sub == target {
			s.subscribers[target.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subscribers[target.topic]) == 0 {
		delete(s.subscribers, target.topic)
	}
}
