package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RobertMe/hdmi2mqtt/messages"
)

// fakeAdapter implements HardwareAdapter in memory.
type fakeAdapter struct {
	mux sync.Mutex

	ports     int
	connected map[int]bool
	edid      map[int][]byte
	written   map[int][]byte
	selected  map[int]bool

	enumerateErr error
	readErr      error
	writeErr     error
	selectErr    error

	// selectHook runs at the start of Select, outside the adapter lock.
	selectHook func(deviceId int)

	handlers []HotplugHandler
}

func newFakeAdapter(connected ...bool) *fakeAdapter {
	adapter := &fakeAdapter{
		ports:     len(connected),
		connected: make(map[int]bool),
		edid:      make(map[int][]byte),
		written:   make(map[int][]byte),
		selected:  make(map[int]bool),
	}

	for id, value := range connected {
		adapter.connected[id] = value
	}

	return adapter
}

func (adapter *fakeAdapter) PortCount() int {
	return adapter.ports
}

func (adapter *fakeAdapter) Enumerate() ([]AdapterDevice, error) {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()

	if adapter.enumerateErr != nil {
		return nil, adapter.enumerateErr
	}

	devices := make([]AdapterDevice, 0, adapter.ports)
	for id := 0; id < adapter.ports; id++ {
		devices = append(devices, AdapterDevice{Id: id, Connected: adapter.connected[id]})
	}

	return devices, nil
}

func (adapter *fakeAdapter) ReadEdid(deviceId int) ([]byte, error) {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()

	if adapter.readErr != nil {
		return nil, adapter.readErr
	}

	return adapter.edid[deviceId], nil
}

func (adapter *fakeAdapter) WriteEdid(deviceId int, edid []byte) error {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()

	if adapter.writeErr != nil {
		return adapter.writeErr
	}

	adapter.written[deviceId] = edid
	return nil
}

func (adapter *fakeAdapter) Select(deviceId int) error {
	adapter.mux.Lock()
	hook := adapter.selectHook
	adapter.mux.Unlock()

	if hook != nil {
		hook(deviceId)
	}

	adapter.mux.Lock()
	defer adapter.mux.Unlock()

	if adapter.selectErr != nil {
		return adapter.selectErr
	}

	adapter.selected[deviceId] = true
	return nil
}

func (adapter *fakeAdapter) Deselect(deviceId int) error {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()

	delete(adapter.selected, deviceId)
	return nil
}

func (adapter *fakeAdapter) RegisterHotplugHandler(handler HotplugHandler) {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()
	adapter.handlers = append(adapter.handlers, handler)
}

func (adapter *fakeAdapter) setConnected(id int, connected bool) {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()
	adapter.connected[id] = connected
}

func (adapter *fakeAdapter) selectedCount() int {
	adapter.mux.Lock()
	defer adapter.mux.Unlock()
	return len(adapter.selected)
}

// recordingSubscriber keeps every delivered message and signals each one on received.
type recordingSubscriber struct {
	id string

	mux      sync.Mutex
	messages []messages.Message
	err      error

	received chan messages.Message
}

func newRecordingSubscriber(id string) *recordingSubscriber {
	return &recordingSubscriber{
		id:       id,
		received: make(chan messages.Message, 1024),
	}
}

func (subscriber *recordingSubscriber) Id() string {
	return subscriber.id
}

func (subscriber *recordingSubscriber) Deliver(message messages.Message) error {
	subscriber.mux.Lock()
	defer subscriber.mux.Unlock()

	if subscriber.err != nil {
		return subscriber.err
	}

	subscriber.messages = append(subscriber.messages, message)
	subscriber.received <- message
	return nil
}

func (subscriber *recordingSubscriber) all() []messages.Message {
	subscriber.mux.Lock()
	defer subscriber.mux.Unlock()

	result := make([]messages.Message, len(subscriber.messages))
	copy(result, subscriber.messages)
	return result
}

func (subscriber *recordingSubscriber) waitFor(t *testing.T, count int) []messages.Message {
	t.Helper()

	deadline := time.After(5 * time.Second)
	result := make([]messages.Message, 0, count)
	for len(result) < count {
		select {
		case message := <-subscriber.received:
			result = append(result, message)
		case <-deadline:
			t.Fatalf("received %d messages, want %d", len(result), count)
		}
	}

	return result
}

// waitUntil reads received messages until match accepts one.
func (subscriber *recordingSubscriber) waitUntil(t *testing.T, match func(messages.Message) bool) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case message := <-subscriber.received:
			if match(message) {
				return
			}
		case <-deadline:
			t.Fatal("expected message was not delivered")
		}
	}
}

// lastActiveState returns the last published active flag of an input, or nil when none
// was published.
func lastActiveState(published []messages.Message, id int) *bool {
	var last *bool
	for _, message := range published {
		if changed, ok := message.(*messages.ActiveInputChangedMessage); ok && int(changed.DeviceId) == id {
			active := changed.Active
			last = &active
		}
	}

	return last
}

var errFake = errors.New("fake adapter failure")

// newTestBridge builds a bridge on a fake adapter with a seeded store and a recording
// subscriber. The translator is not running; tests call Handle directly.
func newTestBridge(t *testing.T, connected ...bool) (*Bridge, *fakeAdapter, *recordingSubscriber) {
	t.Helper()

	config := defaultConfig()
	config.Adapter.Ports = len(connected)

	adapter := newFakeAdapter(connected...)
	bridge := NewBridge(&config, adapter)
	if err := bridge.Translator.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	subscriber := newRecordingSubscriber("test")
	bridge.Fanout.Subscribe(subscriber)

	return bridge, adapter, subscriber
}
