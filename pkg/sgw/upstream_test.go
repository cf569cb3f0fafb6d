package sgw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upstreamTestUpgrader = websocket.Upgrader{}

// fakeSpeechServer accepts one websocket connection at a time and records
// every binary frame it receives, across however many times the client
// reconnects.
type fakeSpeechServer struct {
	mu     sync.Mutex
	frames [][]byte
	conns  int
}

func (f *fakeSpeechServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upstreamTestUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns++
	f.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		frame := make([]byte, len(data))
		copy(frame, data)
		f.frames = append(f.frames, frame)
		f.mu.Unlock()
	}
}

func (f *fakeSpeechServer) snapshot() ([][]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([][]byte, len(f.frames))
	copy(frames, f.frames)
	return frames, f.conns
}

func TestUpstreamSessionFlushesBootBufferBeforeLiveFrames(t *testing.T) {
	server := &fakeSpeechServer{}
	ts := httptest.NewServer(http.HandlerFunc(server.handler))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg := SpeechConfig{URL: wsURL}

	logger := testLogger().WithField("test", "boot-buffer")
	u := newUpstreamSession(cfg, DirIn, 10, logger, nil)

	// Write before OPEN: buffered.
	u.write([]byte("boot-1"))
	u.write([]byte("boot-2"))

	u.start()

	require.Eventually(t, func() bool {
		frames, _ := server.snapshot()
		return len(frames) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	u.write([]byte("live-1"))

	require.Eventually(t, func() bool {
		frames, _ := server.snapshot()
		return len(frames) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	frames, _ := server.snapshot()
	require.Equal(t, "boot-1", string(frames[0]))
	require.Equal(t, "boot-2", string(frames[1]))
	require.Equal(t, "live-1", string(frames[2]))

	u.close()
}

func TestUpstreamSessionDoesNotRefillBootBufferOnReconnect(t *testing.T) {
	server := &fakeSpeechServer{}
	ts := httptest.NewServer(http.HandlerFunc(server.handler))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg := SpeechConfig{URL: wsURL}

	logger := testLogger().WithField("test", "reconnect-gap")
	u := newUpstreamSession(cfg, DirIn, 10, logger, nil)
	u.start()

	require.Eventually(t, func() bool {
		_, conns := server.snapshot()
		return conns >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Simulate a dropped connection outside a deliberate close.
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close()

	// While the session is mid-reconnect (attempt > 0), frames written now
	// must be dropped, not queued for replay.
	require.Eventually(t, func() bool {
		u.mu.Lock()
		defer u.mu.Unlock()
		return !u.open && u.attempt > 0
	}, 2*time.Second, 5*time.Millisecond)

	u.write([]byte("dropped-during-gap"))

	u.mu.Lock()
	bufLen := len(u.bootBuf)
	u.mu.Unlock()
	require.Zero(t, bufLen, "frames produced during a reconnect gap are never buffered")

	u.close()
}
