package ari

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"siprec-tap-gateway/pkg/errors"
)

// Bridge is a handle to a PBX mixing bridge.
type Bridge struct {
	ID      string
	client  *Client
	mu      sync.Mutex
	members map[string]bool
}

// NewBridge creates a mixing bridge on the PBX.
func (c *Client) NewBridge(ctx context.Context) (*Bridge, error) {
	raw, err := c.do(ctx, http.MethodPost, "/bridges", map[string]string{"type": "mixing"}, nil)
	if err != nil {
		return nil, err
	}

	var info struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, errors.Wrap(err, "decode bridge response")
	}
	return &Bridge{ID: info.ID, client: c, members: make(map[string]bool)}, nil
}

// AddChannel adds a channel to the bridge.
func (b *Bridge) AddChannel(ctx context.Context, ch *Channel) error {
	return b.client.addChannel(ctx, b.ID, ch.ID)
}

// AddChannelWithRetry adds a channel to the bridge, retrying "not found"
// responses per spec.md §4.2's external-media creation retry rule.
func (b *Bridge) AddChannelWithRetry(ctx context.Context, ch *Channel, attempts int, delay time.Duration) error {
	err := b.client.addChannelWithRetry(ctx, b.ID, ch.ID, attempts, delay)
	if err == nil {
		b.mu.Lock()
		b.members[ch.ID] = true
		b.mu.Unlock()
	}
	return err
}

// HasMember reports whether channelID has already been added to the
// bridge, so callers can avoid a duplicate add-channel REST call for a
// snoop that arrives twice.
func (b *Bridge) HasMember(channelID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.members[channelID]
}

// Destroy tears down the bridge. An already-destroyed bridge is not an
// error per spec.md §7's benign-failures list.
func (b *Bridge) Destroy(ctx context.Context) error {
	_, err := b.client.do(ctx, http.MethodDelete, "/bridges/"+b.ID, nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) addChannel(ctx context.Context, bridgeID, channelID string) error {
	_, err := c.do(ctx, http.MethodPost, "/bridges/"+bridgeID+"/addChannel", map[string]string{"channel": channelID}, nil)
	return err
}
