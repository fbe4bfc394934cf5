package main

// HotplugHandler is invoked by an adapter whenever an input port's connection state
// changes. It may be called from any goroutine.
type HotplugHandler func(deviceId int, connected bool)

// AdapterDevice is the adapter's report of a single input port.
type AdapterDevice struct {
	Id        int
	Connected bool
}

// HardwareAdapter talks to the HDMI input hardware. Implementations are responsible for
// their own timeouts; every call may block.
type HardwareAdapter interface {
	// PortCount is the number of input ports; valid ids are 0 to PortCount()-1.
	PortCount() int
	Enumerate() ([]AdapterDevice, error)
	ReadEdid(deviceId int) ([]byte, error)
	WriteEdid(deviceId int, edid []byte) error
	Select(deviceId int) error
	Deselect(deviceId int) error
	RegisterHotplugHandler(handler HotplugHandler)
}
