package ari

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a PBX stasis event. Its body varies by Type (a tagged variant
// per spec.md §9); Raw carries the full decoded JSON object so handlers can
// pull out type-specific fields without a parallel struct per event type.
type Event struct {
	Type      string
	Raw       map[string]interface{}
	ChannelID string
}

func parseEvent(data []byte) (Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, err
	}

	event := Event{Raw: raw}
	if t, ok := raw["type"].(string); ok {
		event.Type = t
	}
	if ch, ok := raw["channel"].(map[string]interface{}); ok {
		if id, ok := ch["id"].(string); ok {
			event.ChannelID = id
		}
		if name, ok := ch["name"].(string); ok {
			if _, exists := raw["channel_name"]; !exists {
				raw["channel_name"] = name
			}
		}
	}
	return event, nil
}

// eventStreamURL derives the event-stream URL from the REST base per
// spec.md §4.1: switch scheme to its streaming counterpart and append the
// stream endpoint, auto-selecting between the two known endpoint layouts
// ("/ari/events" for the older style, "/ws" for the newer) based on
// whether the REST base itself already looks like an "/ari"-rooted API.
func (c *Client) eventStreamURL(appName string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	if strings.Contains(u.Path, "/ari") {
		u.Path = strings.TrimRight(u.Path, "/") + "/events"
	} else {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	}

	q := u.Query()
	q.Set("app", appName)
	q.Set("subscribeAll", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// Start opens the event stream for appName and begins dispatching events
// to registered handlers in a background goroutine. It reconnects with
// exponential backoff on unexpected stream drops; a deliberate Close does
// not reconnect.
func (c *Client) Start(appName string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	streamURL := c.eventStreamURL(appName)

	conn, _, err := dialer.Dial(streamURL, nil)
	if err != nil {
		return err
	}

	go c.readLoop(conn, appName, 0)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, appName string, attempt int) {
	defer conn.Close()

	for {
		select {
		case <-c.closing:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.WithError(err).Warn("ari event stream dropped, reconnecting")
			c.reconnect(appName, attempt)
			return
		}

		event, parseErr := parseEvent(data)
		if parseErr != nil {
			c.logger.WithError(parseErr).Warn("failed to parse ari event")
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) reconnect(appName string, attempt int) {
	select {
	case <-c.closing:
		return
	case <-time.After(c.backoff.Delay(attempt)):
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.eventStreamURL(appName), nil)
	if err != nil {
		c.logger.WithError(err).Warn("ari event stream reconnect failed")
		go c.reconnect(appName, attempt+1)
		return
	}
	go c.readLoop(conn, appName, 0)
}

// dispatch fans an event out to global handlers and, when the event
// carries a channel id, to that channel's own subscribers too. Unknown
// event types are delivered unchanged to any handler registered for them.
func (c *Client) dispatch(event Event) {
	var channel *Channel
	if event.ChannelID != "" {
		if v, ok := c.channels.Load(event.ChannelID); ok {
			channel = v.(*Channel)
		} else {
			name, _ := event.Raw["channel_name"].(string)
			channel = newChannel(c, event.ChannelID, name, "original")
		}
	}

	c.mu.RLock()
	handlers := append([]EventHandler(nil), c.globalHandlers[event.Type]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event, channel)
	}
	if channel != nil {
		channel.dispatch(event)
	}
}
