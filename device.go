package main

import (
	"fmt"
	"sort"
	"sync"
)

type Device struct {
	Id        int  `json:"id"`
	Connected bool `json:"connected"`
}

// DeviceStore is the bridge's view of the input ports and the active input. Every
// method holds the store lock for the whole operation, so callers never observe a
// partially applied update.
type DeviceStore struct {
	mux     sync.Mutex
	devices map[int]*Device

	activeInput int
	hasActive   bool
	// activeSeq counts commits to the active input.
	activeSeq uint64
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{
		devices: make(map[int]*Device),
	}
}

// UpsertDevice creates or updates a device. It returns the previous connected flag and
// whether the device was already known.
func (store *DeviceStore) UpsertDevice(id int, connected bool) (previous bool, existed bool) {
	store.mux.Lock()
	defer store.mux.Unlock()

	return store.upsert(id, connected)
}

func (store *DeviceStore) upsert(id int, connected bool) (bool, bool) {
	device, ok := store.devices[id]
	if !ok {
		store.devices[id] = &Device{Id: id, Connected: connected}
		return false, false
	}

	previous := device.Connected
	device.Connected = connected
	return previous, true
}

// ApplyHotplug records a connection change. changed is false when the device was known
// and already had this connected flag. A disconnect of the active input clears it under
// the same lock and reports clearedActive with the sequence number of that commit.
func (store *DeviceStore) ApplyHotplug(id int, connected bool) (changed bool, clearedActive bool, seq uint64) {
	store.mux.Lock()
	defer store.mux.Unlock()

	previous, existed := store.upsert(id, connected)
	if existed && previous == connected {
		return false, false, 0
	}

	if !connected && store.hasActive && store.activeInput == id {
		store.hasActive = false
		store.activeSeq++
		return true, true, store.activeSeq
	}

	return true, false, 0
}

func (store *DeviceStore) GetDevice(id int) (Device, error) {
	store.mux.Lock()
	defer store.mux.Unlock()

	device, ok := store.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: unknown device %d", ErrInvalidDevice, id)
	}

	return *device, nil
}

// ListDevices returns a copy of all known devices ordered by id.
func (store *DeviceStore) ListDevices() []Device {
	store.mux.Lock()
	defer store.mux.Unlock()

	devices := make([]Device, 0, len(store.devices))
	for _, device := range store.devices {
		devices = append(devices, *device)
	}

	sortDevices(devices)

	return devices
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Id < devices[j].Id
	})
}

func (store *DeviceStore) ActiveInput() (int, bool) {
	store.mux.Lock()
	defer store.mux.Unlock()

	return store.activeInput, store.hasActive
}

// SetActiveInput makes id the active input. The device must be known and connected at
// the moment of the call. The previously active input, if any, is returned along with
// the sequence number of the commit.
func (store *DeviceStore) SetActiveInput(id int) (previous int, hadPrevious bool, seq uint64, err error) {
	store.mux.Lock()
	defer store.mux.Unlock()

	device, ok := store.devices[id]
	if !ok {
		return 0, false, 0, fmt.Errorf("%w: unknown device %d", ErrInvalidDevice, id)
	}

	if !device.Connected {
		return 0, false, 0, fmt.Errorf("%w: device %d", ErrDeviceNotConnected, id)
	}

	previous, hadPrevious = store.activeInput, store.hasActive
	store.activeInput = id
	store.hasActive = true
	store.activeSeq++

	return previous, hadPrevious, store.activeSeq, nil
}

// ClearActiveInput clears the active input only if it is id.
func (store *DeviceStore) ClearActiveInput(id int) (seq uint64, cleared bool) {
	store.mux.Lock()
	defer store.mux.Unlock()

	if !store.hasActive || store.activeInput != id {
		return 0, false
	}

	store.hasActive = false
	store.activeSeq++
	return store.activeSeq, true
}
