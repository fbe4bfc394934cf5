package messages

import (
	"fmt"
	"strings"
)

type DeviceId int

// Message is a notification published by the bridge. MqttPath and Value describe the
// retained per-device MQTT state; Event and Params describe the JSON-RPC notification.
type Message interface {
	MqttPath() string
	Value() string
	Event() string
	Params() interface{}
}

func (id DeviceId) BuildPath(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%s", id, name)
	return b.String()
}

func onOff(value bool) string {
	if value {
		return "on"
	}

	return "off"
}
