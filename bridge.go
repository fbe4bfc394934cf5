package main

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	resyncShortInterval = 5 * time.Second
	resyncShortDuration = time.Minute
)

// Bridge owns the device state and everything that reads or writes it. One Bridge is
// created per adapter and handed to the transports.
type Bridge struct {
	config  *Config
	adapter HardwareAdapter

	Store      *DeviceStore
	Fanout     *Fanout
	Translator *EventTranslator
	Handlers   *Handlers
	Dispatcher *Dispatcher

	monitor *Monitor
}

func NewBridge(config *Config, adapter HardwareAdapter) *Bridge {
	store := NewDeviceStore()
	fanout := NewFanout()
	activeInputs := NewActiveInputPublisher(fanout)
	translator := NewEventTranslator(adapter, store, fanout, activeInputs)
	handlers := NewHandlers(config.Inputs, adapter, store, activeInputs, translator)

	return &Bridge{
		config:     config,
		adapter:    adapter,
		Store:      store,
		Fanout:     fanout,
		Translator: translator,
		Handlers:   handlers,
		Dispatcher: NewDispatcher(handlers),
	}
}

// Start seeds the store, hooks the translator up to the adapter and starts the
// periodic resync.
func (bridge *Bridge) Start() {
	if err := bridge.Translator.Seed(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Unable to read initial device state")
	}

	bridge.monitor = CreateMonitor(
		bridge.Translator.RequestResync,
		bridge.config.Inputs.ResyncInterval,
		resyncShortInterval,
		resyncShortDuration,
	)
	bridge.Translator.RegisterTransitionHandler(bridge.monitor.Reset)

	bridge.adapter.RegisterHotplugHandler(bridge.Translator.Enqueue)

	go bridge.Translator.Run()
}

func (bridge *Bridge) Stop() {
	if bridge.monitor != nil {
		bridge.monitor.Stop()
	}

	bridge.Translator.Stop()
}
