package ari

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"siprec-tap-gateway/pkg/errors"
)

// Channel is a handle to one PBX channel (original, snoop or
// external-media). It carries a plain pointer back to the owning client for
// event dispatch and REST calls; the client indexes channels by id in its
// sharded map and can drop one from that registry without anything else
// needing to know.
type Channel struct {
	ID   string
	Name string
	Role string // original, snoop, external-media

	client *Client

	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newChannel(client *Client, id, name, role string) *Channel {
	ch := &Channel{ID: id, Name: name, Role: role, client: client, handlers: make(map[string][]EventHandler)}
	client.channels.Store(id, ch)
	return ch
}

// GetChannel returns a handle to an existing PBX channel.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	if v, ok := c.channels.Load(channelID); ok {
		return v.(*Channel), nil
	}
	if _, err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, nil); err != nil {
		return nil, err
	}
	return newChannel(c, channelID, "", "original"), nil
}

// SnoopChannel creates a snoop on channelIDOrName. Per spec.md §4.1, it may
// be invoked with either the channel's id or its human-readable name; on a
// "not found" failure against what looks like a name, the channel list is
// consulted once and the call retried with the resolved id.
func (c *Client) SnoopChannel(ctx context.Context, channelIDOrName, app string, spy SpyDirection, appArgs string) (*Channel, error) {
	ch, err := c.createSnoop(ctx, channelIDOrName, app, spy, appArgs)
	if err == nil {
		return ch, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	resolvedID, resolveErr := c.resolveChannelID(ctx, channelIDOrName)
	if resolveErr != nil {
		return nil, err
	}
	return c.createSnoop(ctx, resolvedID, app, spy, appArgs)
}

func (c *Client) createSnoop(ctx context.Context, channelID, app string, spy SpyDirection, appArgs string) (*Channel, error) {
	query := map[string]string{"app": app, "spy": string(spy)}
	if appArgs != "" {
		query["appArgs"] = appArgs
	}

	raw, err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/snoop", query, nil)
	if err != nil {
		return nil, err
	}

	var info ChannelInfo
	if jsonErr := decodeChannelInfo(raw, &info); jsonErr != nil {
		return nil, jsonErr
	}
	return newChannel(c, info.ID, info.Name, "snoop"), nil
}

// ExternalMedia creates a channel that emits a bridge's mixed audio onto an
// RTP/UDP endpoint outside the PBX.
func (c *Client) ExternalMedia(ctx context.Context, app, appArgs, externalHost, format, transport, encapsulation string) (*Channel, error) {
	query := map[string]string{
		"app":           app,
		"external_host": externalHost,
		"format":        format,
		"transport":     transport,
		"encapsulation": encapsulation,
	}
	if appArgs != "" {
		query["appArgs"] = appArgs
	}

	raw, err := c.do(ctx, http.MethodPost, "/channels/externalMedia", query, nil)
	if err != nil {
		return nil, err
	}

	var info ChannelInfo
	if jsonErr := decodeChannelInfo(raw, &info); jsonErr != nil {
		return nil, jsonErr
	}
	return newChannel(c, info.ID, info.Name, "external-media"), nil
}

// Hangup hangs up the channel. Per spec.md §4.2, attempting to hang up an
// already-gone channel is benign, not an error.
func (ch *Channel) Hangup(ctx context.Context) error {
	_, err := ch.client.do(ctx, http.MethodDelete, "/channels/"+ch.ID, nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	ch.client.channels.Delete(ch.ID)
	return err
}

// On registers a handler for events of eventType scoped to this channel.
func (ch *Channel) On(eventType string, handler EventHandler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[eventType] = append(ch.handlers[eventType], handler)
}

func (ch *Channel) dispatch(event Event) {
	ch.mu.RLock()
	handlers := append([]EventHandler(nil), ch.handlers[event.Type]...)
	ch.mu.RUnlock()
	for _, h := range handlers {
		h(event, ch)
	}
}

// IsExternalMediaRole reports whether a channel name or role argument
// identifies the external-media channel this system itself created, per
// spec.md §4.2's "explicitly ignored on entry" rule.
func IsExternalMediaRole(role, name string) bool {
	return role == "em" || strings.HasPrefix(name, externalMediaNamePrefix)
}

const externalMediaNamePrefix = "UnicastRTP/"

func decodeChannelInfo(raw []byte, info *ChannelInfo) error {
	if err := json.Unmarshal(raw, info); err != nil {
		return errors.Wrap(err, "decode channel response")
	}
	return nil
}

// AddChannelWithRetry adds a channel to a bridge, retrying "not found"
// responses up to attempts times with delay between tries — the PBX may
// not yet have materialized a just-created external-media channel in its
// registry. Any other error is fatal immediately.
func (c *Client) addChannelWithRetry(ctx context.Context, bridgeID, channelID string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := c.addChannel(ctx, bridgeID, channelID)
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		lastErr = err

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
