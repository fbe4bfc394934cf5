package main

import (
	"sync"

	"github.com/RobertMe/hdmi2mqtt/messages"
	log "github.com/sirupsen/logrus"
)

// ActiveInputPublisher publishes active input changes in the order the store committed
// them. Both the request handlers and the translator commit changes, so a change can
// reach the publisher after a newer one for the same input; it is dropped then.
type ActiveInputPublisher struct {
	fanout *Fanout

	mux       sync.Mutex
	published map[int]uint64
}

func NewActiveInputPublisher(fanout *Fanout) *ActiveInputPublisher {
	return &ActiveInputPublisher{
		fanout:    fanout,
		published: make(map[int]uint64),
	}
}

// Publish sends the "off" for the previous active input followed by the "on" for the
// new one. Either may be nil. seq is the store's sequence number for the commit.
func (publisher *ActiveInputPublisher) Publish(previous *int, next *int, seq uint64) {
	if previous != nil && next != nil && *previous == *next {
		return
	}

	publisher.mux.Lock()
	defer publisher.mux.Unlock()

	if previous != nil {
		publisher.publish(*previous, false, seq)
	}

	if next != nil {
		publisher.publish(*next, true, seq)
	}
}

func (publisher *ActiveInputPublisher) publish(id int, active bool, seq uint64) {
	if seq <= publisher.published[id] {
		log.WithFields(log.Fields{
			"device.id": id,
			"active":    active,
			"seq":       seq,
		}).Debug("Dropping superseded active input change")
		return
	}

	publisher.published[id] = seq
	publisher.fanout.Publish(&messages.ActiveInputChangedMessage{
		DeviceId: messages.DeviceId(id),
		Active:   active,
	})
}
