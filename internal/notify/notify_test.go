package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHub_DeliversToUser(t *testing.T) {
	hub := NewHub(4, quietLogger())
	sub := hub.Subscribe("user-1")
	other := hub.Subscribe("user-2")
	defer hub.Unsubscribe(sub)
	defer hub.Unsubscribe(other)

	hub.Publish("user-1", EventBookingUpdated, map[string]string{"id": "b-1"})

	select {
	case env := <-sub.C:
		assert.Equal(t, EventBookingUpdated, env.Event)
		assert.Equal(t, "user-1", env.UserID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	assert.Empty(t, other.C)
}

func TestHub_FullBufferDrops(t *testing.T) {
	logger, hook := test.NewNullLogger()
	hub := NewHub(1, logger)
	sub := hub.Subscribe("user-1")
	defer hub.Unsubscribe(sub)

	hub.Publish("user-1", EventBookingCreated, nil)
	hub.Publish("user-1", EventBookingUpdated, nil)

	assert.Len(t, sub.C, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(1, quietLogger())
	sub := hub.Subscribe("user-1")
	assert.Equal(t, 1, hub.Subscribers("user-1"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Subscribers("user-1"))

	_, open := <-sub.C
	assert.False(t, open)

	// publishing with no subscribers is a no-op
	hub.Publish("user-1", EventBookingCreated, nil)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func TestBrokerFanout_Publishes(t *testing.T) {
	producer := &MockProducer{}
	var wg sync.WaitGroup
	wg.Add(2)
	producer.On("Publish", mock.Anything, "notifications", "user-1", mock.MatchedBy(func(v interface{}) bool {
		env, ok := v.(Envelope)
		return ok && env.Event == EventPaymentSucceeded
	})).Return(nil).Run(func(mock.Arguments) { wg.Done() }).Once()
	producer.On("Publish", mock.Anything, "notifications", "user-2", mock.Anything).
		Return(errors.New("broker down")).Run(func(mock.Arguments) { wg.Done() }).Once()

	f := NewBrokerFanout(producer, "notifications", 8, time.Second, quietLogger())
	defer f.Close()

	f.Publish("user-1", EventPaymentSucceeded, nil)
	f.Publish("user-2", EventBookingUpdated, nil)

	waitOrFail(t, &wg)
	producer.AssertExpectations(t)
}

func TestBrokerFanout_NeverBlocks(t *testing.T) {
	producer := &MockProducer{}
	block := make(chan struct{})
	producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Run(func(mock.Arguments) { <-block })

	f := NewBrokerFanout(producer, "notifications", 1, time.Second, quietLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			f.Publish("user-1", EventBookingUpdated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled broker")
	}
	close(block)
	f.Close()
}

// Тест: событие, принятое до Close, отправляется, остальные отбрасываются с записью в лог
func TestBrokerFanout_CloseRace(t *testing.T) {
	for round := 0; round < 20; round++ {
		producer := &MockProducer{}
		var sent atomic.Int64
		producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil).Run(func(mock.Arguments) { sent.Add(1) })

		logger, hook := test.NewNullLogger()
		f := NewBrokerFanout(producer, "notifications", 1024, time.Second, logger)

		const publishers, perPublisher = 8, 25
		var wg sync.WaitGroup
		for p := 0; p < publishers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perPublisher; i++ {
					f.Publish("user-1", EventBookingUpdated, i)
				}
			}()
		}
		f.Close()
		wg.Wait()

		select {
		case <-f.stopped:
		case <-time.After(time.Second):
			t.Fatal("fanout did not finish draining")
		}

		dropped := 0
		for _, e := range hook.AllEntries() {
			if e.Message == "fanout closed, dropping event" {
				dropped++
			}
		}
		require.Equal(t, publishers*perPublisher, int(sent.Load())+dropped, "round %d", round)
	}
}

type recordingFanout struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingFanout) Publish(userID, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, userID+":"+event)
}

func TestMulti(t *testing.T) {
	a, b := &recordingFanout{}, &recordingFanout{}
	Multi{a, nil, b}.Publish("user-1", EventBookingCreated, nil)

	assert.Equal(t, []string{"user-1:booking-created"}, a.events)
	assert.Equal(t, []string{"user-1:booking-created"}, b.events)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publishes")
	}
}
