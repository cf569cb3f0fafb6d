// Package ari is a minimal client for a PBX's stasis REST+event-stream
// control API (Asterisk-REST-Interface-shaped): enough to create snoop
// channels, mixing bridges and external-media channels, and to dispatch
// the event stream to registered handlers.
//
// Grounded on the teacher's pkg/stt/deepgram_enhanced.go for the
// reconnecting-stream shape (boot goroutine, backoff-driven reconnect loop)
// and pkg/sip's sharded-map-backed channel registry, generalized here into
// a REST+WebSocket client rather than a SIP dialog handler.
package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/backoff"
	"siprec-tap-gateway/pkg/errors"
	"siprec-tap-gateway/pkg/shardedmap"
)

// SpyDirection is the snoop direction requested from the PBX.
type SpyDirection string

const (
	SpyIn   SpyDirection = "in"
	SpyOut  SpyDirection = "out"
	SpyBoth SpyDirection = "both"
)

// Client is a handle to one PBX stasis application.
type Client struct {
	baseURL    string
	username   string
	password   string
	pathPrefix string
	logger     *logrus.Logger
	httpClient *http.Client

	channels *shardedmap.Map // id -> *Channel

	mu             sync.RWMutex
	globalHandlers map[string][]EventHandler

	closing   chan struct{}
	closeOnce sync.Once
	backoff   backoff.Policy
}

// EventHandler receives a parsed stasis event and, when the event carries
// a channel.id, the resolved Channel handle for it.
type EventHandler func(event Event, channel *Channel)

// Connect builds a Client handle. pathPrefix, when non-empty, is resolved
// once against baseURL per spec.md §4.1: if baseURL already ends with the
// prefix it is not doubled.
func Connect(baseURL, username, password, pathPrefix string, logger *logrus.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if pathPrefix != "" && !strings.HasSuffix(baseURL, pathPrefix) {
		baseURL += pathPrefix
	}

	return &Client{
		baseURL:        baseURL,
		username:       username,
		password:       password,
		pathPrefix:     pathPrefix,
		logger:         logger,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		channels:       shardedmap.New(16),
		globalHandlers: make(map[string][]EventHandler),
		closing:        make(chan struct{}),
		backoff:        backoff.Default(),
	}
}

// On registers a handler invoked for every event of the given type,
// across all channels.
func (c *Client) On(eventType string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalHandlers[eventType] = append(c.globalHandlers[eventType], handler)
}

// Close stops the event-stream reader: the read loop exits once its current
// read returns, and no reconnect is attempted. A read in progress is not
// interrupted, and channel handles stay in the registry.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *Client) restURL(path string, query map[string]string) string {
	u := c.baseURL + path
	if len(query) == 0 {
		return u
	}
	var b strings.Builder
	b.WriteString(u)
	b.WriteByte('?')
	first := true
	for k, v := range query {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// do issues a basic-authenticated REST call. Success is any 2xx; anything
// else returns a structured error carrying status and body per spec.md §4.1.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.restURL(path, query), reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.username, c.password)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ari request failed").WithFields(map[string]interface{}{"method": method, "path": path})
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("ari request returned non-2xx").WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(respBody),
			"path":   path,
		})
	}
	return respBody, nil
}

// Channels lists every channel currently known to the PBX, used to resolve
// a human-readable channel name to an id when SnoopChannel is called by
// name and the initial attempt returns "not found".
func (c *Client) Channels(ctx context.Context) ([]ChannelInfo, error) {
	raw, err := c.do(ctx, http.MethodGet, "/channels", nil, nil)
	if err != nil {
		return nil, err
	}
	var infos []ChannelInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, errors.Wrap(err, "decode channel list")
	}
	return infos, nil
}

// ChannelInfo is the subset of the PBX's channel listing needed for
// name-to-id resolution.
type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) resolveChannelID(ctx context.Context, idOrName string) (string, error) {
	infos, err := c.Channels(ctx)
	if err != nil {
		return "", err
	}
	for _, info := range infos {
		if info.Name == idOrName {
			return info.ID, nil
		}
	}
	return "", errors.ErrChannelNotFound
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*errors.Error); ok {
		if status, ok := e.Fields()["status"].(int); ok && status == http.StatusNotFound {
			return true
		}
	}
	return strings.Contains(err.Error(), "404") || strings.Contains(strings.ToLower(err.Error()), "not found")
}
