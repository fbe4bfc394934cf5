package main

import (
	"fmt"
	"sync"

	"github.com/RobertMe/hdmi2mqtt/messages"
	log "github.com/sirupsen/logrus"
)

const translatorQueueSize = 64

type hotplugEvent struct {
	deviceId  int
	connected bool
	resync    bool
}

// EventTranslator is the single consumer of hot-plug events. The adapter enqueues events
// from its own goroutine; Run applies them to the store one at a time, in order, and
// publishes a notification for every genuine transition.
type EventTranslator struct {
	adapter      HardwareAdapter
	store        *DeviceStore
	fanout       *Fanout
	activeInputs *ActiveInputPublisher

	events   chan hotplugEvent
	quit     chan struct{}
	stopOnce sync.Once

	transitionHandlers []func()
}

func NewEventTranslator(adapter HardwareAdapter, store *DeviceStore, fanout *Fanout, activeInputs *ActiveInputPublisher) *EventTranslator {
	return &EventTranslator{
		adapter:      adapter,
		store:        store,
		fanout:       fanout,
		activeInputs: activeInputs,
		events:       make(chan hotplugEvent, translatorQueueSize),
		quit:         make(chan struct{}),
	}
}

// RegisterTransitionHandler adds a callback invoked after each published transition.
// Handlers must be registered before Run is started.
func (translator *EventTranslator) RegisterTransitionHandler(handler func()) {
	translator.transitionHandlers = append(translator.transitionHandlers, handler)
}

// Enqueue is the adapter's hot-plug callback. It blocks while the queue is full, so a
// burst of events slows the adapter down instead of being dropped.
func (translator *EventTranslator) Enqueue(deviceId int, connected bool) {
	select {
	case translator.events <- hotplugEvent{deviceId: deviceId, connected: connected}:
	case <-translator.quit:
		log.WithFields(log.Fields{
			"device.id": deviceId,
			"connected": connected,
		}).Debug("Translator stopped, dropping hot-plug event")
	}
}

// RequestResync asks Run to compare the adapter's enumeration with the store. Requests
// made while the queue is full are dropped; the queued events are processed anyway.
func (translator *EventTranslator) RequestResync() {
	select {
	case translator.events <- hotplugEvent{resync: true}:
	default:
	}
}

func (translator *EventTranslator) Run() {
	for {
		select {
		case event := <-translator.events:
			if event.resync {
				translator.resync()
			} else {
				translator.Handle(event.deviceId, event.connected)
			}
		case <-translator.quit:
			return
		}
	}
}

func (translator *EventTranslator) Stop() {
	translator.stopOnce.Do(func() {
		close(translator.quit)
	})
}

// Seed fills the store from the adapter without publishing anything.
func (translator *EventTranslator) Seed() error {
	devices, err := translator.adapter.Enumerate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	for _, device := range devices {
		translator.store.UpsertDevice(device.Id, device.Connected)
	}

	log.WithFields(log.Fields{
		"devices": len(devices),
	}).Info("Seeded device state from adapter")

	return nil
}

func (translator *EventTranslator) resync() {
	devices, err := translator.adapter.Enumerate()
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Failed to enumerate devices for resync")
		return
	}

	for _, device := range devices {
		translator.Handle(device.Id, device.Connected)
	}
}

// Handle applies a single hot-plug event. Errors are logged and never returned, as
// there is no caller to report them to.
func (translator *EventTranslator) Handle(deviceId int, connected bool) {
	fields := log.Fields{
		"device.id": deviceId,
		"connected": connected,
	}

	if deviceId < 0 || deviceId >= translator.adapter.PortCount() {
		fields["error"] = ErrMalformedEvent
		fields["ports"] = translator.adapter.PortCount()
		log.WithFields(fields).Warn("Dropping hot-plug event for out of range input")
		return
	}

	changed, clearedActive, seq := translator.store.ApplyHotplug(deviceId, connected)
	if !changed {
		log.WithFields(fields).Trace("Suppressing duplicate hot-plug event")
		return
	}

	log.WithFields(fields).Info("Input connection changed")

	translator.fanout.Publish(&messages.DevicesChangedMessage{
		DeviceId:  messages.DeviceId(deviceId),
		Connected: connected,
	})

	if clearedActive {
		log.WithFields(fields).Info("Active input disconnected")
		translator.activeInputs.Publish(&deviceId, nil, seq)
	}

	for _, handler := range translator.transitionHandlers {
		handler()
	}
}
