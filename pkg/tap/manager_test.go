package tap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"siprec-tap-gateway/pkg/ari"
	"siprec-tap-gateway/pkg/metrics"
)

func init() { metrics.Init(testTapLogger()) }

// newFakePBX is a minimal stand-in for the stasis control API's REST
// surface, just enough of it to drive TapSession's resource graph through
// its real ari.Client code paths.
func newFakePBX() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/snoop"):
			w.Write([]byte(`{"id":"snoop-` + r.URL.Query().Get("app") + "-" + randSuffix() + `","name":"Snoop/chan-1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/channels/externalMedia":
			w.Write([]byte(`{"id":"em-` + randSuffix() + `","name":"UnicastRTP/1.2.3.4-stasis"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/bridges":
			w.Write([]byte(`{"id":"bridge-` + randSuffix() + `"}`))
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/addChannel"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
}

var suffixCounter int64

func randSuffix() string {
	return strconv.FormatInt(atomic.AddInt64(&suffixCounter, 1), 10)
}

func newTestManager(pbxURL, fgwURL, sgwURL string) *Manager {
	ariClient := ari.Connect(pbxURL, "u", "p", "", testTapLogger())
	return NewManager(ariClient, testTapLogger(), ManagerConfig{
		AppName:                "tap",
		ExternalMediaFormat:    "slin16",
		ExternalMediaTransport: "udp",
		FgwRegisterURL:         fgwURL,
		FgwRTPHost:             "127.0.0.1",
		FgwPortMin:             31000,
		FgwPortMax:             31010,
		SgwRegisterURL:         sgwURL,
		SgwRTPHostIn:           "127.0.0.1:40000",
		SgwRTPHostOut:          "127.0.0.1:40002",
		BridgeAddRetryAttempts: 1,
		BridgeAddRetryDelay:    time.Millisecond,
	})
}

func newGatewayStub() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestStartTapFramedWiresBridgeAndExternalMedia(t *testing.T) {
	pbx := newFakePBX()
	defer pbx.Close()
	fgw := newGatewayStub()
	defer fgw.Close()
	sgw := newGatewayStub()
	defer sgw.Close()

	m := newTestManager(pbx.URL, fgw.URL, sgw.URL)

	req := httptest.NewRequest(http.MethodGet, "/start_tap?chan=orig-1&uuid=call-1&gw=framed", nil)
	rec := httptest.NewRecorder()
	m.StartTap(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	v, ok := m.sessions.Load("call-1")
	require.True(t, ok)
	session := v.(*TapSession)
	snoops, _, _, port := session.snapshot()
	require.Len(t, snoops, 1)
	require.NotZero(t, port)

	snoopChannel := snoops[0]
	event := ari.Event{
		Type: "StasisStart",
		Raw: map[string]interface{}{
			"args":         []interface{}{roleSnoop, "call-1", "both"},
			"channel_name": snoopChannel.Name,
		},
	}
	m.onStasisStart(event, snoopChannel)

	_, em, bridges, _ := session.snapshot()
	require.Len(t, em, 1)
	require.Len(t, bridges, 1)
}

func TestCleanupSessionIsIdempotentAcrossRepeatedTerminalEvents(t *testing.T) {
	pbx := newFakePBX()
	defer pbx.Close()
	fgw := newGatewayStub()
	defer fgw.Close()
	sgw := newGatewayStub()
	defer sgw.Close()

	m := newTestManager(pbx.URL, fgw.URL, sgw.URL)

	req := httptest.NewRequest(http.MethodGet, "/start_tap?chan=orig-1&uuid=call-2&gw=framed", nil)
	rec := httptest.NewRecorder()
	m.StartTap(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	v, _ := m.sessions.Load("call-2")
	session := v.(*TapSession)
	snoops, _, _, _ := session.snapshot()
	snoopChannel := snoops[0]

	m.onStasisStart(ari.Event{
		Type: "StasisStart",
		Raw: map[string]interface{}{
			"args":         []interface{}{roleSnoop, "call-2", "both"},
			"channel_name": snoopChannel.Name,
		},
	}, snoopChannel)

	m.onTerminalEvent(ari.Event{Type: "ChannelHangupRequest"}, snoopChannel)

	_, ok := m.sessions.Load("call-2")
	require.False(t, ok)

	// A second terminal event for the same (now-gone) channel must be a
	// no-op: the reverse index entry was removed by the first cleanup.
	m.onTerminalEvent(ari.Event{Type: "StasisEnd"}, snoopChannel)
}

func TestGetOrCreateBridgeSingleFlightsConcurrentCallers(t *testing.T) {
	pbx := newFakePBX()
	defer pbx.Close()
	fgw := newGatewayStub()
	defer fgw.Close()
	sgw := newGatewayStub()
	defer sgw.Close()

	m := newTestManager(pbx.URL, fgw.URL, sgw.URL)
	session := newTapSession("call-3", BackendStreaming, CallMeta{})

	var wg sync.WaitGroup
	results := make([]*ari.Bridge, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			b, err := m.getOrCreateBridge(context.Background(), session, "in")
			require.NoError(t, err)
			results[idx] = b
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, b := range results {
		require.Equal(t, first.ID, b.ID)
	}
}

func TestGetOrCreateBridgeIsolatesDirectionsIntoDistinctBridges(t *testing.T) {
	pbx := newFakePBX()
	defer pbx.Close()
	fgw := newGatewayStub()
	defer fgw.Close()
	sgw := newGatewayStub()
	defer sgw.Close()

	m := newTestManager(pbx.URL, fgw.URL, sgw.URL)
	session := newTapSession("call-4", BackendStreaming, CallMeta{})

	in, err := m.getOrCreateBridge(context.Background(), session, "in")
	require.NoError(t, err)
	out, err := m.getOrCreateBridge(context.Background(), session, "out")
	require.NoError(t, err)
	require.NotEqual(t, in.ID, out.ID)
}
