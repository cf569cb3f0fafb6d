package sgw

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"siprec-tap-gateway/pkg/metrics"
	"siprec-tap-gateway/pkg/util"
)

// rtcpReportInterval mirrors pkg/fgw's heartbeat cadence for the same
// "observable snoop path" requirement on the streaming side.
const rtcpReportInterval = 5 * time.Second

// sessionKey identifies an SgwSession by the (SSRC, direction) pair, which
// spec.md §3 states is stable for the life of the session.
type sessionKey struct {
	ssrc uint32
	dir  Direction
}

// SgwSession is one upstream streaming connection bound to an SSRC.
type SgwSession struct {
	SSRC      uint32
	Direction Direction
	CallID    string
	Extension string

	logger       *logrus.Entry
	panicHandler *util.PanicHandler

	upstream *upstreamSession

	mu         sync.Mutex
	lastRTP    time.Time
	closing    bool
	speaker    string
	remoteAddr *net.UDPAddr
	rtpConn    *net.UDPConn

	eg *errgroup.Group

	manager *Manager
}

func (m *Manager) newSession(ssrc uint32, dir Direction, now time.Time) *SgwSession {
	binding, found := m.pendingFor(dir).popFresh(now)

	callID := "unknown"
	extension := "mix"
	var regCtx *RegistrationCtx
	if found {
		if ctx, ok := m.registrations.get(binding.CallID); ok {
			callID = ctx.CallID
			extension = ctx.Extension
			regCtx = ctx
		}
	}

	logger := m.logger.WithFields(logrus.Fields{"call_uuid": callID, "direction": string(dir)})

	s := &SgwSession{
		Direction:    dir,
		CallID:       callID,
		Extension:    extension,
		logger:       logger,
		panicHandler: util.NewPanicHandler(m.logger),
		lastRTP:      now,
		speaker:      speakerLabel(m.roleMode, dir, regCtx),
		eg:           new(errgroup.Group),
		manager:      m,
	}
	s.SSRC = ssrc

	s.upstream = newUpstreamSession(m.speechConfig, dir, m.bootBufferFrames, logger, s.onTranscript)
	s.upstream.start()

	metrics.SgwActiveSessions.Inc()
	s.eg.Go(func() error { s.watchdog(); return nil })
	s.eg.Go(func() error { s.rtcpReports(); return nil })
	return s
}

func (s *SgwSession) onTranscript(text string, isFinal bool, words []string) {
	event := TranscriptEvent{
		Type:      "stt",
		Text:      text,
		IsFinal:   isFinal,
		Words:     words,
		CallUUID:  s.CallID,
		Direction: string(s.Direction),
		Speaker:   s.speaker,
		Extension: s.Extension,
	}
	room := s.Extension
	s.manager.hub.publish(room, event)
	metrics.SgwTranscriptsTotal.WithLabelValues(strconv.FormatBool(isFinal)).Inc()

	if isFinal && s.manager.assistant != nil {
		role := "user"
		if (s.manager.roleMode == RoleCallerIn && s.Direction == DirOut) ||
			(s.manager.roleMode == RoleAgentIn && s.Direction == DirIn) {
			role = "agent"
		}
		s.manager.assistant.appendTranscript(s.CallID, role, text)
	}
}

// write feeds one datagram's PCM payload upstream, records RTP liveness,
// and remembers where to send this direction's RTCP receiver reports.
func (s *SgwSession) write(pcm []byte, conn *net.UDPConn, remoteAddr *net.UDPAddr) {
	s.mu.Lock()
	s.lastRTP = time.Now()
	s.rtpConn = conn
	s.remoteAddr = remoteAddr
	s.mu.Unlock()

	s.upstream.write(pcm)
}

// rtcpReports periodically sends an RTCP receiver report back toward the
// PBX's external-media channel for this SSRC, mirroring pkg/fgw's
// heartbeat; loss/jitter fields are left at zero for the same reason
// pkg/fgw's are (rtpparse exposes no sequence or timing information).
func (s *SgwSession) rtcpReports() {
	defer s.panicHandler.Recover("sgw.rtcpReports")

	ticker := time.NewTicker(rtcpReportInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		closing := s.closing
		conn := s.rtpConn
		addr := s.remoteAddr
		s.mu.Unlock()
		if closing {
			return
		}
		if conn == nil || addr == nil {
			continue
		}

		report := &rtcp.ReceiverReport{
			SSRC:    s.SSRC,
			Reports: []rtcp.ReceptionReport{{SSRC: s.SSRC}},
		}
		raw, err := rtcp.Marshal([]rtcp.Packet{report})
		if err != nil {
			continue
		}
		if _, err := conn.WriteToUDP(raw, addr); err != nil {
			s.logger.WithError(err).Debug("sgw: failed to send RTCP receiver report")
			continue
		}
		metrics.SgwRTCPReportsSent.WithLabelValues(string(s.Direction)).Inc()
	}
}

func (s *SgwSession) watchdog() {
	defer s.panicHandler.Recover("sgw.watchdog")

	ticker := time.NewTicker(s.manager.watchdogInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		idle := time.Since(s.lastRTP)
		closing := s.closing
		s.mu.Unlock()

		if closing {
			return
		}
		if idle > s.manager.inactivityThreshold {
			s.manager.closeSession(sessionKey{ssrc: s.SSRC, dir: s.Direction}, s)
			return
		}
	}
}

// shutdown marks the session closing and tears down its upstream
// connection without triggering a reconnect. watchdog/rtcpReports are
// joined on a detached goroutine rather than here, since shutdown can run
// on watchdog's own goroutine and waiting on the group from inside one of
// its own members would deadlock.
func (s *SgwSession) shutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.upstream.close()

	go func() {
		s.eg.Wait()
		metrics.SgwActiveSessions.Dec()
	}()
}
