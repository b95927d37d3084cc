package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType names a websocket event.
type MessageType string

const (
	MessageTypeTranslationProgress MessageType = "translation_progress"
	MessageTypeTranslationComplete MessageType = "translation_complete"
	MessageTypeTranslationError    MessageType = "translation_error"
	MessageTypeLog                 MessageType = "log"
	MessageTypeLLMRequest          MessageType = "llm_request"
	MessageTypeLLMResponse         MessageType = "llm_response"
)

// Event is one frame sent to subscribers. JobID is empty for events that
// are not tied to a job.
type Event struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// LogMessage is the payload of a log event.
type LogMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Module  string    `json:"module,omitempty"`
}

// subscriber is a connected websocket. A subscriber with a job filter
// only receives events for that job plus global events.
type subscriber struct {
	conn   *websocket.Conn
	queue  chan Event
	job    string
	hub    *Hub
	logger *logrus.Logger
}

func (sub *subscriber) wants(ev Event) bool {
	return sub.job == "" || ev.JobID == "" || ev.JobID == sub.job
}

// Hub fans events out to subscribers. It implements translation.Broadcaster.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	events chan Event
	done   chan struct{}
	stop   sync.Once
	closed bool // set under mu once Run has dropped every subscriber
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		events: make(chan Event, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run delivers queued events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			h.closed = true
			for sub := range h.subs {
				h.drop(sub)
			}
			h.mu.Unlock()
			return
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Stop ends Run and closes every subscriber queue.
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

func (h *Hub) deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			h.logger.Debugf("Dropping slow websocket subscriber (job filter %q)", sub.job)
			h.drop(sub)
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.queue)
}

// add registers sub unless the hub has shut down. A hub that is stopped
// but still draining accepts sub and drops it with the rest.
func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debugf("WebSocket client connected. Total clients: %d", n)
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	h.drop(sub)
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debugf("WebSocket client disconnected. Total clients: %d", n)
}

// BroadcastMessage queues an event. Payloads carrying a "job_id" key are
// routed to that job's subscribers.
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	ev := Event{
		Type:      MessageType(msgType),
		JobID:     jobIDOf(data),
		Timestamp: time.Now(),
		Data:      data,
	}

	select {
	case h.events <- ev:
	default:
		h.logger.Warn("WebSocket event queue is full, dropping event")
	}
}

func (h *Hub) BroadcastLog(level, message, module string) {
	h.BroadcastMessage(string(MessageTypeLog), LogMessage{
		Level:   level,
		Message: message,
		Time:    time.Now(),
		Module:  module,
	})
}

// GetClientCount returns the number of connected subscribers.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func jobIDOf(data interface{}) string {
	if m, ok := data.(map[string]interface{}); ok {
		if id, ok := m["job_id"].(string); ok {
			return id
		}
	}
	return ""
}

// listen discards inbound frames and keeps the read deadline alive.
func (sub *subscriber) listen() {
	defer func() {
		sub.hub.remove(sub)
		_ = sub.conn.Close()
	}()

	sub.conn.SetReadLimit(maxInboundSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sub.logger.Debugf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// forward writes queued events, one JSON object per line, and pings idle
// connections.
func (sub *subscriber) forward() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.queue:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.writeBatch(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch sends ev and whatever else is already queued in one frame.
func (sub *subscriber) writeBatch(ev Event) error {
	w, err := sub.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(ev); err != nil {
		sub.logger.Errorf("Failed to encode websocket event: %v", err)
	}
	for n := len(sub.queue); n > 0; n-- {
		next, ok := <-sub.queue
		if !ok {
			break
		}
		if err := enc.Encode(next); err != nil {
			sub.logger.Errorf("Failed to encode websocket event: %v", err)
		}
	}
	return w.Close()
}

// HandleWebSocket upgrades the request. The optional "job" query parameter
// limits the stream to one job.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	sub := &subscriber{
		conn:   conn,
		queue:  make(chan Event, sendQueueSize),
		job:    c.Query("job"),
		hub:    s.wsHub,
		logger: s.logger,
	}
	if !s.wsHub.add(sub) {
		_ = conn.Close()
		return
	}

	go sub.forward()
	go sub.listen()
}
