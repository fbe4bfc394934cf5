package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

const jsonRpcVersion = "2.0"

type Request struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request has no id. Notifications are executed but
// never answered.
func (request Request) IsNotification() bool {
	return len(request.Id) == 0
}

type Response struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

type Notification struct {
	JsonRpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type MethodHandler func(params json.RawMessage) (interface{}, error)

// Dispatcher maps method names to handlers. Thunder style callsign prefixes such as
// "org.rdk.HdmiInput.1.listDevices" are accepted and stripped.
type Dispatcher struct {
	methods map[string]MethodHandler
}

type deviceParams struct {
	DeviceId *int   `json:"deviceId"`
	Edid     string `json:"edid"`
	// Message is the EDID parameter name used by older clients of writeEDID.
	Message string `json:"message"`
}

type deviceInfo struct {
	Id        int    `json:"id"`
	Locator   string `json:"locator"`
	Connected bool   `json:"connected"`
}

type successResult struct {
	Success bool `json:"success"`
}

type devicesResult struct {
	Devices []deviceInfo `json:"devices"`
	Success bool         `json:"success"`
}

type edidResult struct {
	Edid    string `json:"edid"`
	Success bool   `json:"success"`
}

type quirksResult struct {
	Quirks  []string `json:"quirks"`
	Success bool     `json:"success"`
}

func NewDispatcher(handlers *Handlers) *Dispatcher {
	dispatcher := &Dispatcher{
		methods: make(map[string]MethodHandler),
	}

	listDevices := func(params json.RawMessage) (interface{}, error) {
		devices, err := handlers.ListDevices()
		if err != nil {
			return nil, err
		}

		result := devicesResult{Devices: make([]deviceInfo, 0, len(devices)), Success: true}
		for _, device := range devices {
			result.Devices = append(result.Devices, deviceInfo{
				Id:        device.Id,
				Locator:   deviceLocator(device.Id),
				Connected: device.Connected,
			})
		}
		return result, nil
	}

	readEdid := func(params json.RawMessage) (interface{}, error) {
		var p deviceParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}

		edid, err := handlers.ReadEdid(p.DeviceId)
		if err != nil {
			return nil, err
		}
		return edidResult{Edid: edid, Success: true}, nil
	}

	writeEdid := func(params json.RawMessage) (interface{}, error) {
		p, err := requireDevice(params)
		if err != nil {
			return nil, err
		}

		edid := p.Edid
		if edid == "" {
			edid = p.Message
		}

		if err := handlers.WriteEdid(*p.DeviceId, edid); err != nil {
			return nil, err
		}
		return successResult{Success: true}, nil
	}

	startInput := func(params json.RawMessage) (interface{}, error) {
		p, err := requireDevice(params)
		if err != nil {
			return nil, err
		}

		if err := handlers.StartInput(*p.DeviceId); err != nil {
			return nil, err
		}
		return successResult{Success: true}, nil
	}

	stopInput := func(params json.RawMessage) (interface{}, error) {
		p, err := requireDevice(params)
		if err != nil {
			return nil, err
		}

		if err := handlers.StopInput(*p.DeviceId); err != nil {
			return nil, err
		}
		return successResult{Success: true}, nil
	}

	dispatcher.Register(listDevices, "listDevices", "getHDMIInputDevices")
	dispatcher.Register(readEdid, "readEdid", "readEDID")
	dispatcher.Register(writeEdid, "writeEdid", "writeEDID")
	dispatcher.Register(startInput, "startInput", "startHdmiInput")
	dispatcher.Register(stopInput, "stopInput", "stopHdmiInput")
	dispatcher.Register(func(params json.RawMessage) (interface{}, error) {
		return quirksResult{Quirks: []string{}, Success: true}, nil
	}, "getQuirks")

	return dispatcher
}

func (dispatcher *Dispatcher) Register(handler MethodHandler, methods ...string) {
	for _, method := range methods {
		dispatcher.methods[method] = handler
	}
}

func (dispatcher *Dispatcher) Dispatch(request Request) Response {
	response := Response{
		JsonRpc: jsonRpcVersion,
		Id:      request.Id,
	}

	method := methodName(request.Method)
	if method == "" {
		response.Error = newResponseError(fmt.Errorf("%w: missing method", ErrInvalidRequest))
		return response
	}

	handler, ok := dispatcher.methods[method]
	if !ok {
		response.Error = newResponseError(fmt.Errorf("%w: %s", ErrMethodNotFound, request.Method))
		return response
	}

	result, err := handler(request.Params)
	if err != nil {
		log.WithFields(log.Fields{
			"method": method,
			"error":  err,
		}).Debug("Request failed")

		response.Error = newResponseError(err)
		return response
	}

	response.Result = result
	return response
}

// DispatchRaw decodes a single JSON-RPC request and dispatches it.
func (dispatcher *Dispatcher) DispatchRaw(data []byte) Response {
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return Response{
			JsonRpc: jsonRpcVersion,
			Error:   newResponseError(fmt.Errorf("%w: %v", ErrParseError, err)),
		}
	}

	return dispatcher.Dispatch(request)
}

func methodName(method string) string {
	if index := strings.LastIndex(method, "."); index >= 0 {
		return method[index+1:]
	}

	return method
}

func newResponseError(err error) *ResponseError {
	kind, code := errorKindOf(err)
	return &ResponseError{
		Code:    code,
		Message: err.Error(),
		Kind:    kind,
	}
}

func decodeParams(params json.RawMessage, target interface{}) error {
	if len(bytes.TrimSpace(params)) == 0 || string(bytes.TrimSpace(params)) == "null" {
		return nil
	}

	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	return nil
}

func requireDevice(params json.RawMessage) (deviceParams, error) {
	var p deviceParams
	if err := decodeParams(params, &p); err != nil {
		return p, err
	}

	if p.DeviceId == nil {
		return p, fmt.Errorf("%w: deviceId is required", ErrInvalidParams)
	}

	return p, nil
}
