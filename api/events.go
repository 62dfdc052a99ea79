package api

import (
	"io"
	"time"

	"github.com/Domenick1991/stagebook/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Subscriber interface {
	Subscribe(userID string) *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

// EventsHandler streams the caller's notifications as server-sent events.
type EventsHandler struct {
	hub       Subscriber
	heartbeat time.Duration
	log       logrus.FieldLogger
}

func NewEventsHandler(hub Subscriber, heartbeat time.Duration, log logrus.FieldLogger) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{hub: hub, heartbeat: heartbeat, log: log}
}

func (h *EventsHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.stream)
}

func (h *EventsHandler) stream(c *gin.Context) {
	actor := actorFrom(c)
	sub := h.hub.Subscribe(actor.ID)
	defer h.hub.Unsubscribe(sub)

	log := h.log.WithField("user_id", actor.ID)
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"userId": actor.ID})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(io.Writer) bool {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(env.Event, env)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case <-done:
			return false
		}
	})
}
