package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/RobertMe/hdmi2mqtt/messages"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsSendBufferSize = 64
	wsWriteWait      = 10 * time.Second
)

var errClientClosed = errors.New("websocket client closed")
var errSendBufferFull = errors.New("websocket send buffer full")

func init() {
	RegisterInitializer(0, InitWebSocketServer)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type registerParams struct {
	Event string `json:"event"`
	Id    string `json:"id"`
}

// WebSocketServer serves JSON-RPC over websocket connections. Every connection can
// register for notifications with "register" and "unregister".
type WebSocketServer struct {
	config     WebSocketConfig
	dispatcher *Dispatcher
	fanout     *Fanout
	server     *http.Server
}

func NewWebSocketServer(config WebSocketConfig, dispatcher *Dispatcher, fanout *Fanout) *WebSocketServer {
	return &WebSocketServer{
		config:     config,
		dispatcher: dispatcher,
		fanout:     fanout,
	}
}

func (server *WebSocketServer) Start() {
	mux := http.NewServeMux()
	mux.Handle(server.config.Path, server)

	server.server = &http.Server{
		Addr:              server.config.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(log.Fields{
				"listen": server.config.Listen,
				"error":  err,
			}).Error("Websocket server stopped")
		}
	}()
}

func (server *WebSocketServer) Close() error {
	if server.server == nil {
		return nil
	}

	return server.server.Close()
}

func (server *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithFields(log.Fields{
			"remote": r.RemoteAddr,
			"error":  err,
		}).Debug("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		events: make(map[string]string),
	}

	log.WithFields(log.Fields{
		"client": client.id,
		"remote": r.RemoteAddr,
	}).Debug("Websocket client connected")

	go client.writePump()
	server.readPump(client)
}

func (server *WebSocketServer) readPump(client *wsClient) {
	defer func() {
		server.fanout.Unsubscribe(client.id)
		client.close()
		log.WithFields(log.Fields{
			"client": client.id,
		}).Debug("Websocket client disconnected")
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		response, respond := server.handle(client, data)
		if !respond {
			continue
		}

		encoded, err := json.Marshal(response)
		if err != nil {
			log.WithFields(log.Fields{
				"client": client.id,
				"error":  err,
			}).Error("Failed to encode websocket response")
			continue
		}

		if err := client.trySend(encoded); err != nil {
			log.WithFields(log.Fields{
				"client": client.id,
				"error":  err,
			}).Warn("Dropping websocket response")
		}
	}
}

// handle runs a single request. respond is false for notifications, which get no
// response frame.
func (server *WebSocketServer) handle(client *wsClient, data []byte) (response Response, respond bool) {
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return server.dispatcher.DispatchRaw(data), true
	}

	switch methodName(request.Method) {
	case "register":
		response = server.register(client, request, true)
	case "unregister":
		response = server.register(client, request, false)
	default:
		response = server.dispatcher.Dispatch(request)
	}

	return response, !request.IsNotification()
}

func (server *WebSocketServer) register(client *wsClient, request Request, subscribe bool) Response {
	response := Response{JsonRpc: jsonRpcVersion, Id: request.Id}

	var params registerParams
	if err := decodeParams(request.Params, &params); err != nil {
		response.Error = newResponseError(err)
		return response
	}

	if params.Event == "" {
		response.Error = newResponseError(fmt.Errorf("%w: event is required", ErrInvalidParams))
		return response
	}

	if subscribe {
		if client.register(params.Event, params.Id) {
			server.fanout.Subscribe(client)
		}
	} else if client.unregister(params.Event) {
		server.fanout.Unsubscribe(client.id)
	}

	response.Result = successResult{Success: true}
	return response
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mux    sync.Mutex
	events map[string]string
	closed bool
}

func (client *wsClient) Id() string {
	return client.id
}

// register returns true for the first registered event.
func (client *wsClient) register(event string, prefix string) bool {
	client.mux.Lock()
	defer client.mux.Unlock()

	first := len(client.events) == 0
	client.events[event] = prefix
	return first
}

// unregister returns true when no registered events are left.
func (client *wsClient) unregister(event string) bool {
	client.mux.Lock()
	defer client.mux.Unlock()

	delete(client.events, event)
	return len(client.events) == 0
}

func (client *wsClient) Deliver(message messages.Message) error {
	client.mux.Lock()
	prefix, ok := client.events[message.Event()]
	client.mux.Unlock()

	if !ok {
		return nil
	}

	method := message.Event()
	if prefix != "" {
		method = prefix + "." + method
	}

	encoded, err := json.Marshal(Notification{
		JsonRpc: jsonRpcVersion,
		Method:  method,
		Params:  message.Params(),
	})
	if err != nil {
		return err
	}

	return client.trySend(encoded)
}

func (client *wsClient) trySend(data []byte) error {
	client.mux.Lock()
	defer client.mux.Unlock()

	if client.closed {
		return errClientClosed
	}

	select {
	case client.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (client *wsClient) close() {
	client.mux.Lock()
	defer client.mux.Unlock()

	if client.closed {
		return
	}

	client.closed = true
	close(client.send)
}

func (client *wsClient) writePump() {
	defer client.conn.Close()

	for data := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithFields(log.Fields{
				"client": client.id,
				"error":  err,
			}).Debug("Websocket write failed")
			return
		}
	}

	_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func InitWebSocketServer(container *Container) {
	config := container.Get("config").(*Config)
	if !config.WebSocket.Enable {
		log.Info("Websocket server is not enabled, skipping")
		return
	}

	bridge := container.Get("bridge").(*Bridge)
	server := NewWebSocketServer(config.WebSocket, bridge.Dispatcher, bridge.Fanout)
	server.Start()

	log.WithFields(log.Fields{
		"listen": config.WebSocket.Listen,
		"path":   config.WebSocket.Path,
	}).Info("Websocket server started")

	container.Register("websocket", server)
}
