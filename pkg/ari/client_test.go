package ari

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestConnectDoesNotDoublePrefix(t *testing.T) {
	c := Connect("http://pbx.example.com/ari", "user", "pass", "/ari", testLogger())
	require.Equal(t, "http://pbx.example.com/ari", c.baseURL)
}

func TestConnectAppendsPrefixOnce(t *testing.T) {
	c := Connect("http://pbx.example.com", "user", "pass", "/ari", testLogger())
	require.Equal(t, "http://pbx.example.com/ari", c.baseURL)
}

func TestSnoopChannelByIDSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/channels/chan-1/snoop")
		w.Write([]byte(`{"id":"snoop-1","name":"Snoop/chan-1"}`))
	}))
	defer server.Close()

	c := Connect(server.URL, "user", "pass", "", testLogger())
	ch, err := c.SnoopChannel(context.Background(), "chan-1", "tap", SpyBoth, "")
	require.NoError(t, err)
	require.Equal(t, "snoop-1", ch.ID)
}

func TestSnoopChannelByNameRetriesAfterNotFound(t *testing.T) {
	attempt := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/channels":
			w.Write([]byte(`[{"id":"chan-42","name":"SIP/100-00001"}]`))
		case r.URL.Path == "/channels/SIP/100-00001/snoop":
			attempt++
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"not found"}`))
		case r.URL.Path == "/channels/chan-42/snoop":
			w.Write([]byte(`{"id":"snoop-2","name":"Snoop/chan-42"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := Connect(server.URL, "user", "pass", "", testLogger())
	ch, err := c.SnoopChannel(context.Background(), "SIP/100-00001", "tap", SpyBoth, "")
	require.NoError(t, err)
	require.Equal(t, "snoop-2", ch.ID)
	require.Equal(t, 1, attempt)
}

func TestBridgeDestroyIgnoresNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := Connect(server.URL, "user", "pass", "", testLogger())
	b := &Bridge{ID: "gone", client: c, members: map[string]bool{}}
	require.NoError(t, b.Destroy(context.Background()))
}

func TestParseEventExtractsChannelID(t *testing.T) {
	event, err := parseEvent([]byte(`{"type":"StasisStart","channel":{"id":"chan-1","name":"Snoop/chan-1"}}`))
	require.NoError(t, err)
	require.Equal(t, "StasisStart", event.Type)
	require.Equal(t, "chan-1", event.ChannelID)
}

func TestIsExternalMediaRole(t *testing.T) {
	require.True(t, IsExternalMediaRole("em", "anything"))
	require.True(t, IsExternalMediaRole("", "UnicastRTP/1.2.3.4-stasis-00000001"))
	require.False(t, IsExternalMediaRole("", "SIP/100-00001"))
}

func TestEventStreamURLSelectsLayoutFromBase(t *testing.T) {
	c := Connect("http://pbx.example.com/ari", "u", "p", "", testLogger())
	require.Contains(t, c.eventStreamURL("tap"), "/ari/events")

	c2 := Connect("http://pbx.example.com", "u", "p", "", testLogger())
	require.Contains(t, c2.eventStreamURL("tap"), "/ws")
}
