package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Producer matches the kafka and rabbitmq publishers.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// BrokerFanout queues envelopes and publishes them from a single goroutine,
// so callers never wait on the broker.
type BrokerFanout struct {
	producer Producer
	topic    string
	timeout  time.Duration
	queue    chan Envelope
	log      logrus.FieldLogger
	now      func() time.Time

	// mu orders enqueues before Close so the final drain sees every accepted envelope.
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	stopped chan struct{}
}

func NewBrokerFanout(producer Producer, topic string, queueSize int, timeout time.Duration, log logrus.FieldLogger) *BrokerFanout {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &BrokerFanout{
		producer: producer,
		topic:    topic,
		timeout:  timeout,
		queue:    make(chan Envelope, queueSize),
		log:      log,
		now:      time.Now,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *BrokerFanout) Publish(userID, event string, payload any) {
	env := Envelope{Event: event, UserID: userID, Payload: payload, OccurredAt: f.now().UTC()}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.log.WithField("event", event).Warn("fanout closed, dropping event")
		return
	}
	select {
	case f.queue <- env:
	default:
		f.log.WithFields(logrus.Fields{"user_id": userID, "event": event}).Warn("fanout queue full, dropping event")
	}
}

func (f *BrokerFanout) run() {
	defer close(f.stopped)
	for {
		select {
		case env := <-f.queue:
			f.send(env)
		case <-f.done:
			// flush what is already queued
			for {
				select {
				case env := <-f.queue:
					f.send(env)
				default:
					return
				}
			}
		}
	}
}

func (f *BrokerFanout) send(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.producer.Publish(ctx, f.topic, env.UserID, env); err != nil {
		f.log.WithFields(logrus.Fields{"user_id": env.UserID, "event": env.Event}).WithError(err).Error("failed to publish notification")
	}
}

// Close stops accepting events and drains the queue in the background.
func (f *BrokerFanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

var _ Fanout = (*BrokerFanout)(nil)
