package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RobertMe/hdmi2mqtt/messages"
)

func TestHandlersScenario(t *testing.T) {
	bridge, adapter, subscriber := newTestBridge(t, false, true)
	handlers := bridge.Handlers

	devices, err := handlers.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	want := []Device{{Id: 0, Connected: false}, {Id: 1, Connected: true}}
	if len(devices) != len(want) || devices[0] != want[0] || devices[1] != want[1] {
		t.Fatalf("ListDevices() = %+v, want %+v", devices, want)
	}

	if err := handlers.StartInput(1); err != nil {
		t.Fatalf("StartInput(1): %v", err)
	}
	if active, ok := bridge.Store.ActiveInput(); !ok || active != 1 {
		t.Fatalf("ActiveInput() = (%d, %v), want (1, true)", active, ok)
	}
	if !adapter.selected[1] {
		t.Error("adapter did not select input 1")
	}

	adapter.setConnected(1, false)
	bridge.Translator.Handle(1, false)

	if _, ok := bridge.Store.ActiveInput(); ok {
		t.Error("active input not cleared by disconnect")
	}

	got := subscriber.all()
	if len(got) != 3 {
		t.Fatalf("published %d notifications, want 3", len(got))
	}
	if changed, ok := got[1].(*messages.DevicesChangedMessage); !ok || changed.DeviceId != 1 || changed.Connected {
		t.Errorf("second notification = %#v, want device 1 disconnected", got[1])
	}

	if err := handlers.StopInput(1); !errors.Is(err, ErrNotActive) {
		t.Errorf("StopInput(1) error = %v, want ErrNotActive", err)
	}
}

func TestHandlersStartDisconnected(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true, false)

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}

	if err := bridge.Handlers.StartInput(1); !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("StartInput(1) error = %v, want ErrDeviceNotConnected", err)
	}

	if active, ok := bridge.Store.ActiveInput(); !ok || active != 0 {
		t.Errorf("ActiveInput() = (%d, %v), want (0, true)", active, ok)
	}
	if adapter.selected[1] {
		t.Error("adapter selected a disconnected input")
	}
}

func TestHandlersStartInvalidDevice(t *testing.T) {
	bridge, _, _ := newTestBridge(t, true)

	for _, id := range []int{-1, 1, 10} {
		if err := bridge.Handlers.StartInput(id); !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("StartInput(%d) error = %v, want ErrInvalidDevice", id, err)
		}
	}
}

func TestHandlersStartPreemptsActiveInput(t *testing.T) {
	bridge, adapter, subscriber := newTestBridge(t, true, true)

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}
	if err := bridge.Handlers.StartInput(1); err != nil {
		t.Fatalf("StartInput(1): %v", err)
	}

	if active, _ := bridge.Store.ActiveInput(); active != 1 {
		t.Errorf("active input = %d, want 1", active)
	}
	if adapter.selected[0] || !adapter.selected[1] {
		t.Errorf("adapter selection = %v, want only input 1", adapter.selected)
	}

	got := subscriber.all()
	want := []messages.ActiveInputChangedMessage{{DeviceId: 0, Active: true}, {DeviceId: 0, Active: false}, {DeviceId: 1, Active: true}}
	if len(got) != len(want) {
		t.Fatalf("published %d notifications, want %d", len(got), len(want))
	}
	for i := range want {
		if *got[i].(*messages.ActiveInputChangedMessage) != want[i] {
			t.Errorf("notification %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHandlersStartRejectsWhenNotPreempting(t *testing.T) {
	bridge, _, _ := newTestBridge(t, true, true)
	bridge.Handlers.preemptActive = false

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}
	if err := bridge.Handlers.StartInput(1); !errors.Is(err, ErrInputBusy) {
		t.Fatalf("StartInput(1) error = %v, want ErrInputBusy", err)
	}
	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Errorf("restarting the active input failed: %v", err)
	}
}

func TestHandlersConcurrentStart(t *testing.T) {
	for _, preempt := range []bool{true, false} {
		bridge, adapter, _ := newTestBridge(t, true, true)
		bridge.Handlers.preemptActive = preempt

		var wg sync.WaitGroup
		results := make([]error, 2)
		for id := 0; id < 2; id++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				results[id] = bridge.Handlers.StartInput(id)
			}(id)
		}
		wg.Wait()

		active, ok := bridge.Store.ActiveInput()
		if !ok {
			t.Fatalf("preempt=%v: no active input", preempt)
		}
		if count := adapter.selectedCount(); count != 1 {
			t.Errorf("preempt=%v: adapter has %d inputs selected, want 1", preempt, count)
		}

		if preempt {
			if results[0] != nil || results[1] != nil {
				t.Errorf("preempt=%v: results = %v", preempt, results)
			}
			continue
		}

		other := 1 - active
		if results[active] != nil || !errors.Is(results[other], ErrInputBusy) {
			t.Errorf("preempt=%v: results = %v with active input %d", preempt, results, active)
		}
	}
}

func TestHandlersStartSelectFailure(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true)
	adapter.selectErr = errFake

	if err := bridge.Handlers.StartInput(0); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("StartInput(0) error = %v, want ErrAdapterUnavailable", err)
	}
	if _, ok := bridge.Store.ActiveInput(); ok {
		t.Error("failed start set the active input")
	}
}

func TestHandlersStartSelectFailureWhilePreempting(t *testing.T) {
	bridge, adapter, subscriber := newTestBridge(t, true, true)

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}

	adapter.selectErr = errFake
	if err := bridge.Handlers.StartInput(1); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("StartInput(1) error = %v, want ErrAdapterUnavailable", err)
	}

	if active, ok := bridge.Store.ActiveInput(); ok {
		t.Errorf("ActiveInput() = (%d, true), want the preempted input cleared", active)
	}
	if count := adapter.selectedCount(); count != 0 {
		t.Errorf("adapter has %d inputs selected, want 0", count)
	}

	got := subscriber.all()
	want := []messages.ActiveInputChangedMessage{{DeviceId: 0, Active: true}, {DeviceId: 0, Active: false}}
	if len(got) != len(want) {
		t.Fatalf("published %d notifications, want %d", len(got), len(want))
	}
	for i := range want {
		if *got[i].(*messages.ActiveInputChangedMessage) != want[i] {
			t.Errorf("notification %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	adapter.selectErr = nil
	if err := bridge.Handlers.StartInput(1); err != nil {
		t.Errorf("StartInput(1) after the adapter recovered: %v", err)
	}
}

func TestHandlersStartRollsBackOnDisconnect(t *testing.T) {
	bridge, adapter, subscriber := newTestBridge(t, true, true)

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}

	adapter.selectHook = func(deviceId int) {
		if deviceId == 1 {
			adapter.setConnected(1, false)
			bridge.Translator.Handle(1, false)
		}
	}

	if err := bridge.Handlers.StartInput(1); !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("StartInput(1) error = %v, want ErrDeviceNotConnected", err)
	}

	if active, ok := bridge.Store.ActiveInput(); ok {
		t.Errorf("ActiveInput() = (%d, true), want none", active)
	}
	if count := adapter.selectedCount(); count != 0 {
		t.Errorf("adapter has %d inputs selected, want 0", count)
	}

	got := subscriber.all()
	if len(got) != 3 {
		t.Fatalf("published %d notifications, want 3", len(got))
	}
	if changed, ok := got[0].(*messages.ActiveInputChangedMessage); !ok || *changed != (messages.ActiveInputChangedMessage{DeviceId: 0, Active: true}) {
		t.Errorf("notification 0 = %#v, want input 0 active", got[0])
	}
	if changed, ok := got[1].(*messages.DevicesChangedMessage); !ok || changed.DeviceId != 1 || changed.Connected {
		t.Errorf("notification 1 = %#v, want device 1 disconnected", got[1])
	}
	if changed, ok := got[2].(*messages.ActiveInputChangedMessage); !ok || *changed != (messages.ActiveInputChangedMessage{DeviceId: 0, Active: false}) {
		t.Errorf("notification 2 = %#v, want input 0 inactive", got[2])
	}
}

func TestHandlersStartDeselectsInputClearedByDisconnect(t *testing.T) {
	for _, preempt := range []bool{true, false} {
		bridge, adapter, _ := newTestBridge(t, true, true)
		bridge.Handlers.preemptActive = preempt

		if err := bridge.Handlers.StartInput(0); err != nil {
			t.Fatalf("preempt=%v: StartInput(0): %v", preempt, err)
		}

		adapter.setConnected(0, false)
		bridge.Translator.Handle(0, false)

		if err := bridge.Handlers.StartInput(1); err != nil {
			t.Fatalf("preempt=%v: StartInput(1): %v", preempt, err)
		}

		if count := adapter.selectedCount(); count != 1 || !adapter.selected[1] {
			t.Errorf("preempt=%v: adapter selection = %v, want only input 1", preempt, adapter.selected)
		}
	}
}

func TestHandlersDisconnectWhilePublishingStart(t *testing.T) {
	bridge, _, subscriber := newTestBridge(t, true, true)

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}

	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	bridge.Fanout.Subscribe(&funcSubscriber{
		id: "blocking",
		deliver: func(message messages.Message) error {
			if changed, ok := message.(*messages.ActiveInputChangedMessage); ok && changed.DeviceId == 0 && !changed.Active {
				once.Do(func() {
					close(reached)
					<-release
				})
			}
			return nil
		},
	})

	started := make(chan error, 1)
	go func() {
		started <- bridge.Handlers.StartInput(1)
	}()

	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("StartInput(1) did not publish")
	}

	// Input 1 is committed as active but its notification is still pending.
	handled := make(chan struct{})
	go func() {
		bridge.Translator.Handle(1, false)
		close(handled)
	}()

	subscriber.waitUntil(t, func(message messages.Message) bool {
		changed, ok := message.(*messages.DevicesChangedMessage)
		return ok && changed.DeviceId == 1 && !changed.Connected
	})
	close(release)

	if err := <-started; err != nil {
		t.Fatalf("StartInput(1): %v", err)
	}
	<-handled

	if active, ok := bridge.Store.ActiveInput(); ok {
		t.Errorf("ActiveInput() = (%d, true), want none", active)
	}

	published := subscriber.all()
	if last := lastActiveState(published, 1); last == nil || *last {
		t.Errorf("last published state of input 1 is active, want inactive: %v", published)
	}
	if last := lastActiveState(published, 0); last == nil || *last {
		t.Error("last published state of input 0 is active, want inactive")
	}
}

func TestHandlersStopInput(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true, true)

	if err := bridge.Handlers.StopInput(0); !errors.Is(err, ErrNotActive) {
		t.Fatalf("StopInput(0) error = %v, want ErrNotActive", err)
	}

	if err := bridge.Handlers.StartInput(0); err != nil {
		t.Fatalf("StartInput(0): %v", err)
	}
	if err := bridge.Handlers.StopInput(1); !errors.Is(err, ErrNotActive) {
		t.Fatalf("StopInput(1) error = %v, want ErrNotActive", err)
	}
	if active, ok := bridge.Store.ActiveInput(); !ok || active != 0 {
		t.Fatalf("failed stop changed the active input to (%d, %v)", active, ok)
	}

	if err := bridge.Handlers.StopInput(0); err != nil {
		t.Fatalf("StopInput(0): %v", err)
	}
	if _, ok := bridge.Store.ActiveInput(); ok {
		t.Error("active input still set after stop")
	}
	if adapter.selectedCount() != 0 {
		t.Error("adapter still has an input selected")
	}
}

func TestHandlersEdidIsNotCached(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true, true)
	adapter.edid[1] = []byte{0x00, 0xff, 0xff}

	if err := bridge.Handlers.StartInput(1); err != nil {
		t.Fatalf("StartInput(1): %v", err)
	}

	if err := bridge.Handlers.WriteEdid(1, "AQID"); err != nil {
		t.Fatalf("WriteEdid: %v", err)
	}
	if written := adapter.written[1]; len(written) != 3 || written[0] != 1 || written[2] != 3 {
		t.Errorf("adapter received %v, want [1 2 3]", written)
	}

	edid, err := bridge.Handlers.ReadEdid(nil)
	if err != nil {
		t.Fatalf("ReadEdid: %v", err)
	}
	if edid != "AP//" {
		t.Errorf("ReadEdid() = %q, want the adapter's %q", edid, "AP//")
	}
}

func TestHandlersReadEdidTarget(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true, true)
	adapter.edid[0] = []byte{0}
	adapter.edid[1] = []byte{1}

	edid, err := bridge.Handlers.ReadEdid(nil)
	if err != nil || edid != "AA==" {
		t.Errorf("ReadEdid(nil) = (%q, %v), want default port 0", edid, err)
	}

	id := 1
	edid, err = bridge.Handlers.ReadEdid(&id)
	if err != nil || edid != "AQ==" {
		t.Errorf("ReadEdid(1) = (%q, %v), want port 1", edid, err)
	}
}

func TestHandlersEdidFailures(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true)

	if _, err := bridge.Handlers.ReadEdid(nil); !errors.Is(err, ErrEdidReadFailure) {
		t.Errorf("empty ReadEdid error = %v, want ErrEdidReadFailure", err)
	}

	adapter.readErr = errFake
	if _, err := bridge.Handlers.ReadEdid(nil); !errors.Is(err, ErrEdidReadFailure) {
		t.Errorf("failing ReadEdid error = %v, want ErrEdidReadFailure", err)
	}

	if err := bridge.Handlers.WriteEdid(3, "AQID"); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("WriteEdid(3) error = %v, want ErrInvalidDevice", err)
	}
	if err := bridge.Handlers.WriteEdid(0, "not base64!"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("WriteEdid with bad payload error = %v, want ErrInvalidParams", err)
	}

	adapter.writeErr = errFake
	if err := bridge.Handlers.WriteEdid(0, "AQID"); !errors.Is(err, ErrEdidWriteFailure) {
		t.Errorf("failing WriteEdid error = %v, want ErrEdidWriteFailure", err)
	}
}

func TestHandlersListDevicesAdapterUnavailable(t *testing.T) {
	bridge, adapter, _ := newTestBridge(t, true)
	adapter.enumerateErr = errFake

	if _, err := bridge.Handlers.ListDevices(); !errors.Is(err, ErrAdapterUnavailable) {
		t.Errorf("ListDevices() error = %v, want ErrAdapterUnavailable", err)
	}
}

func TestHandlersListDevicesLeavesUnseenDevicesToTranslator(t *testing.T) {
	config := defaultConfig()
	config.Adapter.Ports = 2

	adapter := newFakeAdapter(false, false)
	adapter.enumerateErr = errFake
	bridge := NewBridge(&config, adapter)
	if err := bridge.Translator.Seed(); err == nil {
		t.Fatal("Seed() succeeded with a failing adapter")
	}

	subscriber := newRecordingSubscriber("test")
	bridge.Fanout.Subscribe(subscriber)

	adapter.enumerateErr = nil
	adapter.setConnected(1, true)

	devices, err := bridge.Handlers.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 || !devices[1].Connected {
		t.Fatalf("ListDevices() = %+v", devices)
	}
	if _, err := bridge.Store.GetDevice(1); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ListDevices() added device 1 to the store")
	}

	bridge.Translator.Handle(1, true)

	got := subscriber.all()
	if len(got) != 1 {
		t.Fatalf("published %d notifications, want 1", len(got))
	}
	if changed, ok := got[0].(*messages.DevicesChangedMessage); !ok || changed.DeviceId != 1 || !changed.Connected {
		t.Errorf("published %#v, want device 1 connected", got[0])
	}
}

func TestHandlersListDevicesRequestsResync(t *testing.T) {
	bridge, adapter, subscriber := newTestBridge(t, false)

	go bridge.Translator.Run()
	defer bridge.Translator.Stop()

	adapter.setConnected(0, true)
	devices, err := bridge.Handlers.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if !devices[0].Connected {
		t.Error("ListDevices() did not report the adapter's state")
	}

	got := subscriber.waitFor(t, 1)
	if changed := got[0].(*messages.DevicesChangedMessage); !changed.Connected {
		t.Errorf("resync published %+v", changed)
	}
}
