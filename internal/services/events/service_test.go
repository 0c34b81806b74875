package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/models"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	chA, cancelA := svc.Subscribe(4)
	defer cancelA()
	chB, cancelB := svc.Subscribe(4)
	defer cancelB()

	svc.Publish(&models.Event{Type: models.EventUnitServed, JobID: 1})

	for _, ch := range []<-chan *models.Event{chA, chB} {
		select {
		case event := <-ch:
			assert.Equal(t, models.EventUnitServed, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	ch, cancel := svc.Subscribe(4)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic
	svc.Publish(&models.Event{Type: models.EventJobCreated})
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	ch, cancel := svc.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Publish(&models.Event{Type: models.EventJobCreated})
		svc.Publish(&models.Event{Type: models.EventJobCreated})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
	require.Len(t, ch, 1)
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ch, _ := svc.Subscribe(1)
	svc.Close()

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel
	late, _ := svc.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
