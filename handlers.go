package main

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handlers implements the operations exposed to remote clients. Adapter calls are made
// without holding the store lock; selection changes are serialised by selectMux so two
// start requests can never both end up active.
type Handlers struct {
	adapter      HardwareAdapter
	store        *DeviceStore
	activeInputs *ActiveInputPublisher
	translator   *EventTranslator

	preemptActive   bool
	defaultEdidPort int

	selectMux sync.Mutex
	// selected is the input last selected on the adapter. It stays set when a
	// disconnect clears the active input, as the adapter still has it selected.
	selected    int
	hasSelected bool
}

func NewHandlers(config InputsConfig, adapter HardwareAdapter, store *DeviceStore, activeInputs *ActiveInputPublisher, translator *EventTranslator) *Handlers {
	return &Handlers{
		adapter:         adapter,
		store:           store,
		activeInputs:    activeInputs,
		translator:      translator,
		preemptActive:   config.PreemptActive,
		defaultEdidPort: config.DefaultEdidPort,
	}
}

// ListDevices returns the adapter's enumeration, ordered by id. The store is left
// alone; when it has not seen a port or disagrees about one a resync is requested, so
// the translator records the difference and publishes it as a hot-plug transition.
func (handlers *Handlers) ListDevices() ([]Device, error) {
	reported, err := handlers.adapter.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	devices := make([]Device, 0, len(reported))
	needsResync := false
	for _, device := range reported {
		known, err := handlers.store.GetDevice(device.Id)
		if err != nil || known.Connected != device.Connected {
			needsResync = true
		}

		devices = append(devices, Device{Id: device.Id, Connected: device.Connected})
	}

	sortDevices(devices)

	if needsResync && handlers.translator != nil {
		handlers.translator.RequestResync()
	}

	return devices, nil
}

// ReadEdid reads the EDID of deviceId, or of the active input when deviceId is nil. With
// no active input the configured default port is read.
func (handlers *Handlers) ReadEdid(deviceId *int) (string, error) {
	var target int
	if deviceId != nil {
		target = *deviceId
	} else if active, ok := handlers.store.ActiveInput(); ok {
		target = active
	} else {
		target = handlers.defaultEdidPort
	}

	if err := handlers.validateId(target); err != nil {
		return "", err
	}

	edid, err := handlers.adapter.ReadEdid(target)
	if err != nil {
		return "", fmt.Errorf("%w: device %d: %v", ErrEdidReadFailure, target, err)
	}

	if len(edid) == 0 {
		return "", fmt.Errorf("%w: device %d returned no data", ErrEdidReadFailure, target)
	}

	return encodeEdid(edid), nil
}

func (handlers *Handlers) WriteEdid(deviceId int, encoded string) error {
	if err := handlers.validateDevice(deviceId); err != nil {
		return err
	}

	edid, err := decodeEdid(encoded)
	if err != nil {
		return err
	}

	if err := handlers.adapter.WriteEdid(deviceId, edid); err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrEdidWriteFailure, deviceId, err)
	}

	log.WithFields(log.Fields{
		"device.id": deviceId,
		"size":      len(edid),
	}).Info("Wrote EDID")

	return nil
}

func (handlers *Handlers) StartInput(deviceId int) error {
	if err := handlers.validateId(deviceId); err != nil {
		return err
	}

	handlers.selectMux.Lock()
	defer handlers.selectMux.Unlock()

	device, err := handlers.store.GetDevice(deviceId)
	if err != nil {
		return err
	}

	if !device.Connected {
		return fmt.Errorf("%w: device %d", ErrDeviceNotConnected, deviceId)
	}

	active, hasActive := handlers.store.ActiveInput()
	if hasActive && active == deviceId {
		return nil
	}

	if hasActive && !handlers.preemptActive {
		return fmt.Errorf("%w: device %d is active", ErrInputBusy, active)
	}

	released, hasReleased := handlers.selected, handlers.hasSelected && handlers.selected != deviceId
	if hasReleased {
		if err := handlers.adapter.Deselect(released); err != nil {
			return fmt.Errorf("%w: deselect device %d: %v", ErrAdapterUnavailable, released, err)
		}
		handlers.hasSelected = false
	}

	if err := handlers.adapter.Select(deviceId); err != nil {
		handlers.hasSelected = false
		if hasReleased {
			handlers.clearActive(released)
		}
		return fmt.Errorf("%w: select device %d: %v", ErrAdapterUnavailable, deviceId, err)
	}
	handlers.selected, handlers.hasSelected = deviceId, true

	previous, hadPrevious, seq, err := handlers.store.SetActiveInput(deviceId)
	if err != nil {
		// Disconnected while selecting.
		if deselectErr := handlers.adapter.Deselect(deviceId); deselectErr != nil {
			log.WithFields(log.Fields{
				"device.id": deviceId,
				"error":     deselectErr,
			}).Warn("Failed to deselect input after failed start")
		} else {
			handlers.hasSelected = false
		}
		if hasReleased {
			handlers.clearActive(released)
		}
		return err
	}

	log.WithFields(log.Fields{
		"device.id": deviceId,
	}).Info("Started input")

	if hadPrevious {
		handlers.activeInputs.Publish(&previous, &deviceId, seq)
	} else {
		handlers.activeInputs.Publish(nil, &deviceId, seq)
	}

	return nil
}

func (handlers *Handlers) StopInput(deviceId int) error {
	if err := handlers.validateId(deviceId); err != nil {
		return err
	}

	handlers.selectMux.Lock()
	defer handlers.selectMux.Unlock()

	active, hasActive := handlers.store.ActiveInput()
	if !hasActive || active != deviceId {
		return fmt.Errorf("%w: device %d", ErrNotActive, deviceId)
	}

	if err := handlers.adapter.Deselect(deviceId); err != nil {
		return fmt.Errorf("%w: deselect device %d: %v", ErrAdapterUnavailable, deviceId, err)
	}
	handlers.hasSelected = false

	log.WithFields(log.Fields{
		"device.id": deviceId,
	}).Info("Stopped input")

	handlers.clearActive(deviceId)

	return nil
}

// clearActive clears id as the active input and publishes it, unless a disconnect
// already did both.
func (handlers *Handlers) clearActive(id int) {
	if seq, cleared := handlers.store.ClearActiveInput(id); cleared {
		handlers.activeInputs.Publish(&id, nil, seq)
	}
}

func (handlers *Handlers) validateId(id int) error {
	if id < 0 || id >= handlers.adapter.PortCount() {
		return fmt.Errorf("%w: device %d out of range", ErrInvalidDevice, id)
	}

	return nil
}

func (handlers *Handlers) validateDevice(id int) error {
	if err := handlers.validateId(id); err != nil {
		return err
	}

	_, err := handlers.store.GetDevice(id)
	return err
}
