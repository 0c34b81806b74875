package events

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// Service fans engine events out to subscribers over buffered channels.
// Slow subscribers drop events rather than blocking the engine.
type Service struct {
	mu          sync.RWMutex
	subscribers map[int64]chan *models.Event
	nextID      int64
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[int64]chan *models.Event),
		logger:      logger,
	}
}

// Publish sends an event to all subscribers without blocking
func (s *Service) Publish(event *models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Warn().
				Int64("subscriber_id", id).
				Str("event_type", string(event.Type)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel with a
// cancel function. Cancel closes the channel.
func (s *Service) Subscribe(bufferSize int) (<-chan *models.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *models.Event, bufferSize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts down the event service and all subscriber channels
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.logger.Info().Msg("Event service closed")
}
