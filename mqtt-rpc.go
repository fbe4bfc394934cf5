package main

import (
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

const mqttResponseTopic = "rpc/response"

// mqttRequest is a JSON-RPC request sent over MQTT. The method is taken from the
// topic, <base>/rpc/<method>.
type mqttRequest struct {
	Id      json.RawMessage `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MqttRpc struct {
	mqtt       MqttClient
	dispatcher *Dispatcher
}

func NewMqttRpc(client MqttClient, dispatcher *Dispatcher) *MqttRpc {
	return &MqttRpc{
		mqtt:       client,
		dispatcher: dispatcher,
	}
}

func (rpc *MqttRpc) Start() error {
	return rpc.mqtt.Subscribe(rpc.mqtt.Topic("rpc/+"), rpc.handleRequest)
}

// handleRequest dispatches a request and publishes the response to its reply_to topic,
// or to <base>/rpc/response. Requests without an id get no response.
func (rpc *MqttRpc) handleRequest(topic string, payload []byte) {
	method := topic[strings.LastIndex(topic, "/")+1:]
	if method == "response" {
		return
	}

	var request mqttRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		rpc.reply(method, rpc.mqtt.Topic(mqttResponseTopic), rpc.dispatcher.DispatchRaw(payload))
		return
	}

	defaultReplyTo := rpc.mqtt.Topic(mqttResponseTopic)
	replyTo := request.ReplyTo
	if replyTo == "" {
		replyTo = defaultReplyTo
	}

	// Anything else under rpc/ would be read back as a request.
	if replyTo != defaultReplyTo && strings.HasPrefix(replyTo, rpc.mqtt.Topic("rpc/")) {
		log.WithFields(log.Fields{
			"method":   method,
			"reply_to": replyTo,
		}).Warn("Rejecting MQTT request with a reply topic under rpc/")

		if len(request.Id) > 0 {
			rpc.reply(method, defaultReplyTo, Response{
				JsonRpc: jsonRpcVersion,
				Id:      request.Id,
				Error:   newResponseError(fmt.Errorf("%w: reply_to %s is a request topic", ErrInvalidRequest, replyTo)),
			})
		}
		return
	}

	converted := Request{
		JsonRpc: jsonRpcVersion,
		Id:      request.Id,
		Method:  method,
		Params:  request.Params,
	}
	response := rpc.dispatcher.Dispatch(converted)
	if converted.IsNotification() {
		return
	}

	rpc.reply(method, replyTo, response)
}

func (rpc *MqttRpc) reply(method string, topic string, response Response) {
	encoded, err := json.Marshal(response)
	if err != nil {
		log.WithFields(log.Fields{
			"method": method,
			"error":  err,
		}).Error("Failed to encode MQTT response")
		return
	}

	rpc.mqtt.Publish(topic, 0, false, encoded)
}
