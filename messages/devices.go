package messages

const (
	EventDevicesChanged     = "onDevicesChanged"
	EventActiveInputChanged = "onActiveInputChanged"
)

// DevicesChangedMessage describes one hot-plug transition of an input port.
type DevicesChangedMessage struct {
	DeviceId  DeviceId `json:"deviceId"`
	Connected bool     `json:"connected"`
}

func (message *DevicesChangedMessage) MqttPath() string {
	return message.DeviceId.BuildPath("connected")
}

func (message *DevicesChangedMessage) Value() string {
	return onOff(message.Connected)
}

func (message *DevicesChangedMessage) Event() string {
	return EventDevicesChanged
}

func (message *DevicesChangedMessage) Params() interface{} {
	return message
}

type ActiveInputChangedMessage struct {
	DeviceId DeviceId `json:"deviceId"`
	Active   bool     `json:"active"`
}

func (message *ActiveInputChangedMessage) MqttPath() string {
	return message.DeviceId.BuildPath("is_active_input")
}

func (message *ActiveInputChangedMessage) Value() string {
	return onOff(message.Active)
}

func (message *ActiveInputChangedMessage) Event() string {
	return EventActiveInputChanged
}

func (message *ActiveInputChangedMessage) Params() interface{} {
	return message
}
