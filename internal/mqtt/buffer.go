package mqtt

import "log/slog"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages that could not be sent. Transitions and lifecycle
// events are kept in order up to capacity, oldest dropped first. Status
// documents supersede each other, so only the newest is kept and it is
// replayed after the events.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	events   []bufferedMsg
	status   *bufferedMsg
	capacity int
	overflow bool // warned since the last drain
	dropped  int
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.topic == TopicStatus {
		if o.status != nil {
			o.dropped++
		}
		o.status = &msg
		return
	}
	if len(o.events) == o.capacity {
		if !o.overflow {
			slog.Warn("mqtt buffer full, dropping oldest", "capacity", o.capacity)
			o.overflow = true
		}
		copy(o.events, o.events[1:])
		o.events = o.events[:len(o.events)-1]
		o.dropped++
	}
	o.events = append(o.events, msg)
}

// drain returns everything held, events first, and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	out := o.events
	if o.status != nil {
		out = append(out, *o.status)
	}
	o.events = nil
	o.status = nil
	o.overflow = false
	if len(out) == 0 {
		return nil
	}
	return out
}

func (o *outbox) len() int {
	n := len(o.events)
	if o.status != nil {
		n++
	}
	return n
}

// requeue puts msgs back ahead of anything pushed since they were drained.
func (o *outbox) requeue(msgs []bufferedMsg) {
	newer := o.drain()
	for _, m := range msgs {
		o.push(m)
	}
	for _, m := range newer {
		o.push(m)
	}
}
