package main

import (
	"fmt"
	"sync"

	"github.com/RobertMe/hdmi2mqtt/messages"
	log "github.com/sirupsen/logrus"
)

// Subscriber receives published notifications. Deliver must not block for long; a
// subscriber that cannot keep up should fail the delivery instead.
type Subscriber interface {
	Id() string
	Deliver(message messages.Message) error
}

type Fanout struct {
	mux         sync.RWMutex
	subscribers map[string]Subscriber
}

func NewFanout() *Fanout {
	return &Fanout{
		subscribers: make(map[string]Subscriber),
	}
}

// Subscribe adds subscriber for all following publishes. Subscribing the same id twice
// replaces the earlier subscriber.
func (fanout *Fanout) Subscribe(subscriber Subscriber) {
	log.WithFields(log.Fields{
		"subscriber": subscriber.Id(),
	}).Debug("Adding notification subscriber")

	fanout.mux.Lock()
	defer fanout.mux.Unlock()
	fanout.subscribers[subscriber.Id()] = subscriber
}

func (fanout *Fanout) Unsubscribe(id string) {
	fanout.mux.Lock()
	_, existed := fanout.subscribers[id]
	delete(fanout.subscribers, id)
	fanout.mux.Unlock()

	if existed {
		log.WithFields(log.Fields{
			"subscriber": id,
		}).Debug("Removed notification subscriber")
	}
}

func (fanout *Fanout) SubscriberCount() int {
	fanout.mux.RLock()
	defer fanout.mux.RUnlock()
	return len(fanout.subscribers)
}

// Publish delivers message once to every subscriber registered at the time of the call.
// Delivery failures are logged and never returned.
func (fanout *Fanout) Publish(message messages.Message) {
	fanout.mux.RLock()
	subscribers := make([]Subscriber, 0, len(fanout.subscribers))
	for _, subscriber := range fanout.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	fanout.mux.RUnlock()

	for _, subscriber := range subscribers {
		if err := deliver(subscriber, message); err != nil {
			log.WithFields(log.Fields{
				"subscriber": subscriber.Id(),
				"event":      message.Event(),
				"error":      err,
			}).Warn("Failed to deliver notification")
		}
	}
}

func deliver(subscriber Subscriber, message messages.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()

	return subscriber.Deliver(message)
}
