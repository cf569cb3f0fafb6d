package sgw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/backoff"
	"siprec-tap-gateway/pkg/metrics"
)

// SpeechConfig carries the fixed audio parameters and credentials for the
// upstream streaming endpoint, per spec.md §6's "Upstream streaming
// socket (SGW)" bullet.
type SpeechConfig struct {
	URL            string
	AuthToken      string
	Language       string
	InterimResults bool
	Punctuate      bool
	SmartFormat    bool
	Diarize        bool
}

// speechResult mirrors the subset of the upstream JSON message this
// system forwards: "Results" messages with a non-empty transcript.
type speechResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Words      []string `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// transcriptCallback is invoked for every forwarded transcript.
type transcriptCallback func(text string, isFinal bool, words []string)

// upstreamSession owns one websocket connection to the speech endpoint for
// a single SgwSession, with a boot buffer and backoff-driven reconnect,
// grounded on DeepgramConnection in the teacher's
// pkg/stt/deepgram_enhanced.go.
type upstreamSession struct {
	cfg       SpeechConfig
	direction Direction
	logger    *logrus.Entry
	policy    backoff.Policy

	mu        sync.Mutex
	conn      *websocket.Conn
	open      bool
	closing   bool
	attempt   int
	bootBuf   [][]byte
	bootLimit int

	onTranscript transcriptCallback
}

func newUpstreamSession(cfg SpeechConfig, dir Direction, bootLimit int, logger *logrus.Entry, onTranscript transcriptCallback) *upstreamSession {
	return &upstreamSession{
		cfg:          cfg,
		direction:    dir,
		logger:       logger,
		policy:       backoff.Default(),
		bootLimit:    bootLimit,
		onTranscript: onTranscript,
	}
}

// start dials the upstream connection in the background; connection
// failures trigger the same reconnect path as a later drop.
func (u *upstreamSession) start() {
	go u.connectAndRun(0)
}

func (u *upstreamSession) connectAndRun(attempt int) {
	u.mu.Lock()
	if u.closing {
		u.mu.Unlock()
		return
	}
	u.mu.Unlock()

	conn, err := u.dial()
	if err != nil {
		u.logger.WithError(err).Warn("sgw: upstream dial failed")
		u.scheduleReconnect(attempt)
		return
	}

	u.mu.Lock()
	u.conn = conn
	u.open = true
	u.attempt = 0
	queued := u.bootBuf
	u.bootBuf = nil
	u.mu.Unlock()

	// Flush the boot buffer before any live-mode frames, per spec.md §5's
	// ordering guarantee (ii).
	for _, frame := range queued {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			u.logger.WithError(err).Warn("sgw: failed to flush boot buffer")
			break
		}
	}

	u.readLoop(conn)
}

func (u *upstreamSession) dial() (*websocket.Conn, error) {
	wsURL, err := url.Parse(u.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid speech URL: %w", err)
	}

	query := url.Values{}
	query.Set("encoding", "linear16")
	query.Set("sample_rate", "16000")
	query.Set("language", u.cfg.Language)
	query.Set("interim_results", strconv.FormatBool(u.cfg.InterimResults))
	query.Set("punctuate", strconv.FormatBool(u.cfg.Punctuate))
	query.Set("smart_format", strconv.FormatBool(u.cfg.SmartFormat))
	query.Set("diarize", strconv.FormatBool(u.cfg.Diarize))
	wsURL.RawQuery = query.Encode()

	headers := http.Header{}
	if u.cfg.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+u.cfg.AuthToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL.String(), headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (u *upstreamSession) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			u.handleDisconnect()
			return
		}

		var result speechResult
		if err := json.Unmarshal(data, &result); err != nil {
			continue
		}
		if result.Type != "Results" || len(result.Channel.Alternatives) == 0 {
			continue
		}
		transcript := strings.TrimSpace(result.Channel.Alternatives[0].Transcript)
		if transcript == "" {
			continue
		}
		if u.onTranscript != nil {
			u.onTranscript(transcript, result.IsFinal, result.Channel.Alternatives[0].Words)
		}
	}
}

func (u *upstreamSession) handleDisconnect() {
	u.mu.Lock()
	u.open = false
	u.conn = nil
	closing := u.closing
	attempt := u.attempt
	u.mu.Unlock()

	if closing {
		return
	}
	u.scheduleReconnect(attempt)
}

// scheduleReconnect waits per the configured backoff policy, per spec.md
// §8's "Reconnect monotonicity" property, then retries.
func (u *upstreamSession) scheduleReconnect(attempt int) {
	metrics.SgwReconnectsTotal.WithLabelValues(string(u.direction)).Inc()
	delay := u.policy.Delay(attempt)

	u.mu.Lock()
	u.attempt = attempt + 1
	u.mu.Unlock()

	time.AfterFunc(delay, func() {
		u.mu.Lock()
		closing := u.closing
		nextAttempt := u.attempt
		u.mu.Unlock()
		if closing {
			return
		}
		u.connectAndRun(nextAttempt)
	})
}

// write sends pcm upstream if open, or buffers it (up to bootLimit frames)
// if the connection has not yet reached OPEN. Frames produced while a
// reconnect is in flight are dropped, per spec.md §8 scenario 5: "only the
// boot buffer on next OPEN is replayed."
func (u *upstreamSession) write(pcm []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.open && u.conn != nil {
		if err := u.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
			u.logger.WithError(err).Warn("sgw: failed to write upstream audio")
		}
		return
	}

	if u.attempt == 0 && len(u.bootBuf) < u.bootLimit {
		frame := make([]byte, len(pcm))
		copy(frame, pcm)
		u.bootBuf = append(u.bootBuf, frame)
	}
}

// close marks the session as deliberately torn down so handleDisconnect
// does not reconnect, per spec.md §4.4: "On deliberate teardown, no
// reconnect is attempted."
func (u *upstreamSession) close() {
	u.mu.Lock()
	u.closing = true
	conn := u.conn
	u.conn = nil
	u.open = false
	u.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
