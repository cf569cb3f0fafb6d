package sgw

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// TranscriptEvent is the "stt" message shape published to a room.
type TranscriptEvent struct {
	Type      string   `json:"type"`
	Text      string   `json:"text,omitempty"`
	IsFinal   bool     `json:"isFinal,omitempty"`
	Words     []string `json:"words,omitempty"`
	CallUUID  string   `json:"uuid,omitempty"`
	Direction string   `json:"dir,omitempty"`
	Speaker   string   `json:"speaker,omitempty"`
	Extension string   `json:"exten,omitempty"`
	Caller    string   `json:"caller,omitempty"`
}

// CallStartEvent is the "call-start" message shape.
type CallStartEvent struct {
	Type       string    `json:"type"`
	CallUUID   string    `json:"uuid"`
	Extension  string    `json:"exten"`
	Caller     string    `json:"caller"`
	CallerName string    `json:"callername"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
}

// AssistEvent is the "assist" message shape.
type AssistEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

type widgetClient struct {
	hub  *widgetHub
	conn *websocket.Conn
	send chan []byte
	room string
}

// widgetHub manages WebSocket clients grouped by room (= extension) and
// broadcasts "call-start"/"stt"/"assist" events, grounded on
// TranscriptionHub in the teacher's pkg/http/websocket.go.
type widgetHub struct {
	logger     *logrus.Logger
	clients    map[*widgetClient]bool
	rooms      map[string]map[*widgetClient]bool
	broadcast  chan roomMessage
	register   chan *widgetClient
	unregister chan *widgetClient
}

type roomMessage struct {
	room string
	data []byte
}

var widgetUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newWidgetHub(logger *logrus.Logger) *widgetHub {
	return &widgetHub{
		logger:     logger,
		clients:    make(map[*widgetClient]bool),
		rooms:      make(map[string]map[*widgetClient]bool),
		broadcast:  make(chan roomMessage, 64),
		register:   make(chan *widgetClient),
		unregister: make(chan *widgetClient),
	}
}

func (h *widgetHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			if _, ok := h.rooms[client.room]; !ok {
				h.rooms[client.room] = make(map[*widgetClient]bool)
			}
			h.rooms[client.room][client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if members, ok := h.rooms[client.room]; ok {
					delete(members, client)
					if len(members) == 0 {
						delete(h.rooms, client.room)
					}
				}
			}

		case msg := <-h.broadcast:
			for client := range h.rooms[msg.room] {
				select {
				case client.send <- msg.data:
				default:
					close(client.send)
					delete(h.clients, client)
					delete(h.rooms[msg.room], client)
				}
			}
		}
	}
}

func (h *widgetHub) publish(room string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("sgw: failed to marshal widget event")
		return
	}
	select {
	case h.broadcast <- roomMessage{room: room, data: data}:
	default:
		h.logger.Warn("sgw: widget broadcast channel full, dropping event")
	}
}

// ServeWidget upgrades the connection and subscribes it to the room named
// by the "room" query parameter (the agent extension).
func (h *widgetHub) ServeWidget(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")

	conn, err := widgetUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("sgw: failed to upgrade widget connection")
		return
	}

	client := &widgetClient{hub: h, conn: conn, send: make(chan []byte, 64), room: room}
	h.register <- client
	go client.writePump()
}

func (c *widgetClient) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
