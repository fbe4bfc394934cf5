package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

func init() {
	RegisterInitializer(100, InitHomeAssistantBridge)
}

type HomeAssistantBridge struct {
	discoveryPrefix string
	mqtt            MqttClient
	config          *Config
	handlers        *Handlers
}

func InitHomeAssistantBridge(container *Container) {
	config := container.Get("config").(*Config)
	if !config.HomeAssistant.Enable {
		log.Info("Home assistant integration is not enabled, skipping")
		return
	}

	client, ok := Resolve[MqttClient](container, "mqtt")
	if !ok {
		log.Warn("Home assistant integration requires MQTT, skipping")
		return
	}

	bridge := &HomeAssistantBridge{
		discoveryPrefix: config.HomeAssistant.DiscoveryPrefix,
		mqtt:            client,
		config:          config,
		handlers:        container.Get("bridge").(*Bridge).Handlers,
	}

	if err := bridge.Announce(config.Adapter.Ports); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to subscribe to Home Assistant commands")
		return
	}

	container.Register("home-assistant", bridge)
}

// Announce registers every input port with Home Assistant and listens for switch
// commands.
func (bridge *HomeAssistantBridge) Announce(ports int) error {
	for id := 0; id < ports; id++ {
		bridge.RegisterBinarySensor(id, "connected")
		bridge.RegisterSwitch(id, "is_active_input")
	}

	return bridge.mqtt.Subscribe(bridge.mqtt.Topic("+/is_active_input/set"), bridge.handleCommand)
}

func (bridge *HomeAssistantBridge) handleCommand(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return
	}

	id, err := strconv.Atoi(parts[len(parts)-3])
	if err != nil {
		return
	}

	command := strings.TrimSpace(string(payload))
	switch command {
	case "on":
		err = bridge.handlers.StartInput(id)
	case "off":
		err = bridge.handlers.StopInput(id)
	default:
		err = fmt.Errorf("%w: unknown command %q", ErrInvalidParams, command)
	}

	if err != nil {
		log.WithFields(log.Fields{
			"device.id": id,
			"command":   command,
			"error":     err,
		}).Warn("Home Assistant command failed")
	}
}

func (bridge *HomeAssistantBridge) RegisterSwitch(id int, property string) {
	config := bridge.createConfig(id, property)
	config["command_topic"] = bridge.mqtt.Topic(strconv.Itoa(id) + "/" + property + "/set")

	bridge.publishConfig("switch", id, property, config)
}

func (bridge *HomeAssistantBridge) RegisterBinarySensor(id int, property string) {
	config := bridge.createConfig(id, property)
	config["device_class"] = "plug"

	bridge.publishConfig("binary_sensor", id, property, config)
}

func (bridge *HomeAssistantBridge) publishConfig(component string, id int, property string, config map[string]interface{}) {
	topic := strings.Builder{}
	fmt.Fprintf(&topic, "%s/%s/%s_%d/%s/config", bridge.discoveryPrefix, component, bridge.config.Mqtt.BaseTopic, id, property)

	encoded, err := json.Marshal(config)
	if err != nil {
		log.WithFields(log.Fields{
			"device.id": id,
			"property":  property,
			"config":    config,
			"error":     err,
		}).Error("Failed to convert " + component + " configuration to JSON")

		return
	}

	log.WithFields(log.Fields{
		"device.id": id,
		"property":  property,
		"config":    string(encoded),
	}).Info("Registering " + component + " in Home Assistant")

	bridge.mqtt.Publish(topic.String(), 0, true, encoded)
}

func (bridge *HomeAssistantBridge) createConfig(id int, property string) map[string]interface{} {
	name := "HDMI " + strconv.Itoa(id)
	uniqueId := bridge.config.Mqtt.BaseTopic + "_" + strconv.Itoa(id)

	config := map[string]interface{}{
		"state_topic": bridge.mqtt.Topic(strconv.Itoa(id) + "/" + property),
		"name":        name + " " + strings.ReplaceAll(property, "_", " "),
		"unique_id":   uniqueId + "_" + property,
		"payload_on":  "on",
		"payload_off": "off",
	}

	if bridge.config.Mqtt.StateTopic != "" {
		config["availability_topic"] = bridge.config.Mqtt.StateTopic
	}

	config["device"] = map[string]interface{}{
		"identifiers": []string{uniqueId},
		"name":        name,
		"sw_version":  "Hdmi2Mqtt " + BuildVersion,
	}

	return config
}
