package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/RobertMe/hdmi2mqtt/messages"
	"github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const mqttConnectTimeout = 10 * time.Second

func init() {
	RegisterInitializer(0, InitMqttBridge)
}

type MqttHandler func(topic string, payload []byte)

// MqttClient is the part of the MQTT connection the bridges use.
type MqttClient interface {
	Topic(relativeTopic string) string
	Publish(topic string, qos byte, retained bool, payload interface{})
	Subscribe(topic string, handler MqttHandler) error
}

type Mqtt struct {
	client mqtt.Client
	config *MqttConfig
}

func ConnectMqtt(config *Config) (*Mqtt, error) {
	mqttConfig := config.Mqtt
	options := mqtt.NewClientOptions()

	options.AddBroker(mqttConfig.Host)
	options.SetClientID("hdmi2mqtt-" + uuid.New().String())
	options.SetAutoReconnect(true)

	if mqttConfig.Username != "" {
		options.SetUsername(mqttConfig.Username)
	}

	if mqttConfig.Password != "" {
		options.SetPassword(mqttConfig.Password)
	}

	if mqttConfig.StateTopic != "" {
		if mqttConfig.WillMessage != "" {
			options.SetWill(mqttConfig.StateTopic, mqttConfig.WillMessage, 0, true)
		}

		if mqttConfig.BirthMessage != "" {
			options.SetOnConnectHandler(func(client mqtt.Client) {
				client.Publish(mqttConfig.StateTopic, 0, true, mqttConfig.BirthMessage)
			})
		}
	}

	options.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Lost connection to MQTT broker")
	})

	client := mqtt.NewClient(options)

	connToken := client.Connect()
	if !connToken.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("timeout connecting to %s", mqttConfig.Host)
	}

	if err := connToken.Error(); err != nil {
		return nil, err
	}

	return &Mqtt{
		client: client,
		config: &mqttConfig,
	}, nil
}

func (client *Mqtt) Topic(relativeTopic string) string {
	topic := strings.Builder{}
	fmt.Fprintf(&topic, "%s/%s", client.config.BaseTopic, relativeTopic)
	return topic.String()
}

func (client *Mqtt) Publish(topic string, qos byte, retained bool, payload interface{}) {
	client.client.Publish(topic, qos, retained, payload)
}

func (client *Mqtt) Subscribe(topic string, handler MqttHandler) error {
	token := client.client.Subscribe(topic, 0, func(_ mqtt.Client, message mqtt.Message) {
		handler(message.Topic(), message.Payload())
	})

	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("timeout subscribing to %s", topic)
	}

	return token.Error()
}

func (client *Mqtt) Disconnect() {
	client.client.Disconnect(250)
}

// MqttSubscriber publishes every notification as retained per-device state and as a
// JSON event on <base>/events/<event>.
type MqttSubscriber struct {
	mqtt MqttClient
}

func NewMqttSubscriber(client MqttClient) *MqttSubscriber {
	return &MqttSubscriber{mqtt: client}
}

func (subscriber *MqttSubscriber) Id() string {
	return "mqtt"
}

func (subscriber *MqttSubscriber) Deliver(message messages.Message) error {
	encoded, err := json.Marshal(message.Params())
	if err != nil {
		return err
	}

	subscriber.mqtt.Publish(subscriber.mqtt.Topic(message.MqttPath()), 0, true, message.Value())
	subscriber.mqtt.Publish(subscriber.mqtt.Topic("events/"+message.Event()), 0, false, encoded)

	return nil
}

func InitMqttBridge(container *Container) {
	client, ok := Resolve[MqttClient](container, "mqtt")
	if !ok {
		log.Info("MQTT is not configured, skipping MQTT bridge")
		return
	}

	bridge := container.Get("bridge").(*Bridge)
	bridge.Fanout.Subscribe(NewMqttSubscriber(client))

	rpc := NewMqttRpc(client, bridge.Dispatcher)
	if err := rpc.Start(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to subscribe to MQTT requests")
		return
	}

	container.Register("mqtt-rpc", rpc)
}
