package realtime

import (
	"go.uber.org/zap"
)

// Dispatcher bridges committed mutation events to the hub. The envelope
// is serialized once per publish; every subscriber receives the same
// bytes.
type Dispatcher struct {
	hub    *Hub
	logger *zap.Logger
}

// NewDispatcher constructs a dispatcher over the hub.
func NewDispatcher(hub *Hub, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{hub: hub, logger: logger}
}

// Publish fans the event out to the topic's active connections. Clients
// connecting afterwards do not receive it; there is no replay.
func (d *Dispatcher) Publish(event ChangeEvent) {
	if d == nil || d.hub == nil {
		return
	}
	payload, err := event.Marshal()
	if err != nil {
		d.logger.Error("failed to serialize change event",
			zap.String("event_type", event.MessageType()),
			zap.Error(err))
		return
	}
	d.hub.Broadcast(event.Topic, payload)
}
