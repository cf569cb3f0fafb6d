package fgw

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"siprec-tap-gateway/pkg/metrics"
	"siprec-tap-gateway/pkg/rtpparse"
	"siprec-tap-gateway/pkg/util"
)

// rtcpReportInterval is how often a Session emits an RTCP receiver report
// back toward the RTP source, per SPEC_FULL.md's "observable snoop path"
// requirement.
const rtcpReportInterval = 5 * time.Second

// RegisterRequest is the payload of /register.
type RegisterRequest struct {
	CallUUID       string
	Port           int
	AgentExtension string
	AgentUsername  string
	AgentID        string
}

// Session owns one call's UDP listener, TCP peer connection and framing
// state. Per spec.md §4.3: "No lazy connect: the connect begins before any
// RTP arrives. While TCP is not yet connected, frames produced from RTP
// are queued in memory."
type Session struct {
	Port     int
	CallUUID string

	logger       *logrus.Entry
	panicHandler *util.PanicHandler
	downstream   string // host:port

	udpConn *net.UDPConn

	mu          sync.Mutex
	tcpConn     net.Conn
	connected   bool
	ended       bool
	pending     [][]byte
	reassembler frameReassembler
	lastRTP     time.Time
	remoteAddr  *net.UDPAddr
	lastSSRC    uint32

	packetsReceived atomic.Uint64

	stopWatchdog chan struct{}
	eg           *errgroup.Group
	portManager  *PortManager
	onClosed     func(port int)

	watchdogInterval    time.Duration
	inactivityThreshold time.Duration

	startPayload startPayload
	wavDump      *wavDump
}

// NewSession binds a UDP listener on req.Port, eagerly connects TCP to
// downstream, and returns a running Session. onClosed is invoked exactly
// once, from cleanup, so the HTTP layer can drop the session from its
// registry. watchdogInterval/inactivityThreshold come from FgwConfig; a
// zero or negative watchdogInterval falls back to 2s and a zero or negative
// inactivityThreshold to 8s, the defaults from spec.md §4.3.
func NewSession(req RegisterRequest, downstream, rtpHost string, pm *PortManager, logger *logrus.Logger, onClosed func(int), watchdogInterval, inactivityThreshold time.Duration) (*Session, error) {
	if watchdogInterval <= 0 {
		watchdogInterval = 2 * time.Second
	}
	if inactivityThreshold <= 0 {
		inactivityThreshold = 8 * time.Second
	}
	addr := &net.UDPAddr{IP: net.ParseIP(rtpHost), Port: req.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Port:                req.Port,
		CallUUID:            req.CallUUID,
		logger:              logger.WithField("call_uuid", req.CallUUID),
		panicHandler:        util.NewPanicHandler(logger),
		downstream:          downstream,
		udpConn:             conn,
		lastRTP:             time.Now(),
		stopWatchdog:        make(chan struct{}),
		eg:                  new(errgroup.Group),
		portManager:         pm,
		onClosed:            onClosed,
		watchdogInterval:    watchdogInterval,
		inactivityThreshold: inactivityThreshold,
		startPayload: startPayload{
			CallUUID:       req.CallUUID,
			AgentExtension: req.AgentExtension,
			AgentUsername:  req.AgentUsername,
			AgentID:        req.AgentID,
		},
	}

	s.eg.Go(func() error { s.connectDownstream(); return nil })
	s.eg.Go(func() error { s.readLoop(); return nil })
	s.eg.Go(func() error { s.rtcpReports(); return nil })
	return s, nil
}

func (s *Session) connectDownstream() {
	defer s.panicHandler.Recover("fgw.connectDownstream")

	metrics.FgwTCPReconnects.Inc()
	conn, err := net.Dial("tcp", s.downstream)
	if err != nil {
		s.logger.WithError(err).Error("fgw: failed to connect downstream TCP peer")
		s.sendEndAndClose("tcp_connect_failed")
		return
	}

	start, err := encodeStartFrame(s.startPayload.CallUUID, s.startPayload.AgentExtension, s.startPayload.AgentUsername, s.startPayload.AgentID)
	if err != nil {
		s.logger.WithError(err).Error("fgw: failed to encode START frame")
		conn.Close()
		s.sendEndAndClose("start_encode_failed")
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if _, err := conn.Write(start); err != nil {
		s.mu.Unlock()
		s.logger.WithError(err).Error("fgw: failed to write START frame")
		conn.Close()
		s.sendEndAndClose("start_write_failed")
		return
	}
	metrics.FgwFramesSent.WithLabelValues("start").Inc()

	// Flush any frames queued while TCP was connecting before marking the
	// session connected, still under the lock: writeAudioFrame takes the
	// same lock, so this keeps "queued before connect" strictly ahead of
	// "written after connect" in the outbound byte stream.
	queued := s.pending
	s.pending = nil
	flushErr := false
	for _, frame := range queued {
		if _, err := conn.Write(frame); err != nil {
			flushErr = true
			break
		}
		metrics.FgwFramesSent.WithLabelValues("audio").Inc()
	}
	s.tcpConn = conn
	s.connected = true
	s.mu.Unlock()

	if flushErr {
		s.logger.Error("fgw: failed to flush queued AUDIO frame")
		s.sendEndAndClose("audio_write_failed")
		return
	}

	s.eg.Go(func() error { s.watchdog(); return nil })
}

func (s *Session) readLoop() {
	defer s.panicHandler.Recover("fgw.readLoop")

	buf := make([]byte, 2048)
	for {
		n, remoteAddr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			s.sendEndAndClose("udp_error")
			return
		}

		pkt, err := rtpparse.Parse(buf[:n])
		if err != nil {
			metrics.FgwRTPDropped.WithLabelValues("parse_error").Inc()
			continue
		}
		s.packetsReceived.Add(1)

		s.mu.Lock()
		s.lastRTP = time.Now()
		s.remoteAddr = remoteAddr
		s.lastSSRC = pkt.SSRC
		s.mu.Unlock()

		if s.wavDump != nil {
			s.wavDump.write(pkt.Payload)
		}

		for _, frame := range s.reassembler.append(pkt.Payload) {
			s.writeAudioFrame(frame)
		}
	}
}

func (s *Session) writeAudioFrame(pcm []byte) {
	frame := encodeAudioFrame(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if !s.connected {
		s.pending = append(s.pending, frame)
		return
	}
	if _, err := s.tcpConn.Write(frame); err != nil {
		s.logger.WithError(err).Warn("fgw: failed to write AUDIO frame")
		go s.sendEndAndClose("audio_write_failed")
		return
	}
	metrics.FgwFramesSent.WithLabelValues("audio").Inc()
}

// rtcpReports periodically sends an RTCP receiver report back to the RTP
// source address, keyed on the most recently seen SSRC, so the snoop path
// stays observable from the PBX side even though this system never
// transcodes or otherwise touches the media itself.
func (s *Session) rtcpReports() {
	defer s.panicHandler.Recover("fgw.rtcpReports")

	ticker := time.NewTicker(rtcpReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopWatchdog:
			return
		case <-ticker.C:
			s.mu.Lock()
			addr := s.remoteAddr
			ssrc := s.lastSSRC
			s.mu.Unlock()
			if addr == nil {
				continue
			}

			// rtpparse strips the RTP header down to SSRC and payload only
			// (spec.md's non-goal of codec/jitter awareness), so loss and
			// jitter fields are left at zero; this report exists to give
			// the PBX a periodic heartbeat on the snoop path, not a loss
			// measurement.
			report := &rtcp.ReceiverReport{
				SSRC:    ssrc,
				Reports: []rtcp.ReceptionReport{{SSRC: ssrc}},
			}
			raw, err := rtcp.Marshal([]rtcp.Packet{report})
			if err != nil {
				continue
			}
			if _, err := s.udpConn.WriteToUDP(raw, addr); err != nil {
				s.logger.WithError(err).Debug("fgw: failed to send RTCP receiver report")
				continue
			}
			metrics.FgwRTCPReportsSent.Inc()
		}
	}
}

func (s *Session) watchdog() {
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopWatchdog:
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastRTP)
			s.mu.Unlock()
			if idle > s.inactivityThreshold {
				s.sendEndAndClose("inactivity")
				return
			}
		}
	}
}

// sendEndAndClose funnels every terminal cause into one cleanup path per
// spec.md §4.3's lifecycle rule.
func (s *Session) sendEndAndClose(reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	conn := s.tcpConn
	connected := s.connected
	s.mu.Unlock()

	close(s.stopWatchdog)

	if connected && conn != nil {
		conn.Write(encodeEndFrame())
		metrics.FgwFramesSent.WithLabelValues("end").Inc()
		conn.Close()
	}
	s.udpConn.Close()
	s.portManager.Release(s.Port)
	if s.wavDump != nil {
		s.wavDump.close()
	}

	// sendEndAndClose can run on readLoop/watchdog/connectDownstream's own
	// goroutine, so the join into s.eg.Wait() happens on a detached
	// goroutine rather than here - waiting on the group from inside one of
	// its own members would deadlock.
	go func() {
		s.eg.Wait()
		s.logger.WithFields(logrus.Fields{"reason": reason, "packets_received": s.packetsReceived.Load()}).Info("fgw: session ended")
		if s.onClosed != nil {
			s.onClosed(s.Port)
		}
	}()
}

// Unregister is the explicit-teardown path invoked from /unregister.
func (s *Session) Unregister() {
	s.sendEndAndClose("unregister")
}

// EnableDiagnosticDump starts a best-effort WAV dump of the first maxBytes
// of PCM received, per spec.md §4.3's "out of scope of contracts" sink.
func (s *Session) EnableDiagnosticDump(dir string, maxBytes int) {
	s.wavDump = newWavDump(dir, s.CallUUID, maxBytes, s.logger)
}
