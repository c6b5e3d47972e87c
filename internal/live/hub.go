package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
)

var ErrHubClosed = errors.New("live hub is closed")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

type MessageType string

const (
	MessageSnapshot MessageType = "snapshot"
	MessageEvent    MessageType = "event"
)

// Message is what subscribers receive: one snapshot first, then events.
type Message struct {
	Type  MessageType  `json:"type"`
	Order any          `json:"order,omitempty"`
	Event *order.Event `json:"event,omitempty"`
}

type subscriber struct {
	key  string
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub pushes lifecycle events to websocket clients following one tracking
// number each.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With(zap.String("component", "live_hub")),
	}
}

func key(trackingNumber string) string {
	return strings.ToUpper(strings.TrimSpace(trackingNumber))
}

func (h *Hub) subscribe(trackingNumber string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &subscriber{key: key(trackingNumber), send: make(chan []byte, sendBuffer)}
	if h.subs[sub.key] == nil {
		h.subs[sub.key] = make(map[*subscriber]struct{})
	}
	h.subs[sub.key][sub] = struct{}{}
	metrics.LiveSubscribers.Inc()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.key]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			metrics.LiveSubscribers.Dec()
		}
		if len(set) == 0 {
			delete(h.subs, sub.key)
		}
	}
	sub.close()
}

// Subscribers returns how many clients follow the tracking number.
func (h *Hub) Subscribers(trackingNumber string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key(trackingNumber)])
}

// Publish implements order.Notifier. Slow subscribers whose buffer is full
// are disconnected.
func (h *Hub) Publish(_ context.Context, event order.Event) {
	data, err := json.Marshal(Message{Type: MessageEvent, Event: &event})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key(event.TrackingNumber)] {
		select {
		case sub.send <- data:
		default:
			h.logger.Warn("Subscriber too slow, disconnecting", zap.String("tracking_number", sub.key))
			delete(h.subs[sub.key], sub)
			metrics.LiveSubscribers.Dec()
			sub.close()
		}
	}
	if len(h.subs[key(event.TrackingNumber)]) == 0 {
		delete(h.subs, key(event.TrackingNumber))
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for k, set := range h.subs {
		for sub := range set {
			sub.close()
			metrics.LiveSubscribers.Dec()
		}
		delete(h.subs, k)
	}
}

// Serve upgrades the request, sends snapshot and then streams events for the
// tracking number until either side goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, trackingNumber string, snapshot any) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := h.subscribe(trackingNumber)
	if sub == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return ErrHubClosed
	}
	defer h.unsubscribe(sub)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-readDone
	}()

	l := h.logger.With(zap.String("tracking_number", sub.key))
	l.Debug("Subscriber connected")

	if err := writeJSON(conn, Message{Type: MessageSnapshot, Order: snapshot}); err != nil {
		return err
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-readDone:
			l.Debug("Subscriber disconnected")
			return nil
		}
	}
}

func writeJSON(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
