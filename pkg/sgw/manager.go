package sgw

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/metrics"
	"siprec-tap-gateway/pkg/rtpparse"
	"siprec-tap-gateway/pkg/util"
)

// Manager owns both direction-coded UDP listeners, the SSRC-keyed session
// table, the pending-binding FIFOs, the widget hub and (optionally) the
// generative-assistant dispatcher.
type Manager struct {
	logger *logrus.Logger

	speechConfig         SpeechConfig
	roleMode             RoleMode
	bootBufferFrames     int
	watchdogInterval     time.Duration
	inactivityThreshold  time.Duration
	maxConcurrentSessions int
	byteSwap             bool

	pendingIn  *pendingQueue
	pendingOut *pendingQueue

	registrations *registrationTable

	mu       sync.Mutex
	sessions map[sessionKey]*SgwSession

	hub       *widgetHub
	hubCtx    context.Context
	hubCancel context.CancelFunc

	assistant *assistantDispatcher

	udpIn  *net.UDPConn
	udpOut *net.UDPConn

	panicHandler *util.PanicHandler
}

// ManagerConfig bundles the construction-time parameters Manager needs,
// lifted one-to-one from config.SgwConfig.
type ManagerConfig struct {
	Speech                SpeechConfig
	RoleMode              RoleMode
	PendingBindingTTL     time.Duration
	BootBufferFrames      int
	WatchdogInterval      time.Duration
	InactivityThreshold   time.Duration
	MaxConcurrentSessions int
	ByteSwap              bool
}

// NewManager builds a Manager but does not yet bind UDP sockets; call
// ListenAndServe to start the RTP listeners and the widget hub.
func NewManager(logger *logrus.Logger, cfg ManagerConfig) *Manager {
	return &Manager{
		logger:                logger,
		speechConfig:          cfg.Speech,
		roleMode:              cfg.RoleMode,
		bootBufferFrames:      cfg.BootBufferFrames,
		watchdogInterval:      cfg.WatchdogInterval,
		inactivityThreshold:   cfg.InactivityThreshold,
		maxConcurrentSessions: cfg.MaxConcurrentSessions,
		byteSwap:              cfg.ByteSwap,
		pendingIn:             newPendingQueue(cfg.PendingBindingTTL),
		pendingOut:            newPendingQueue(cfg.PendingBindingTTL),
		registrations:         newRegistrationTable(),
		sessions:              make(map[sessionKey]*SgwSession),
		hub:                   newWidgetHub(logger),
		panicHandler:          util.NewPanicHandler(logger),
	}
}

// EnableAssistant wires a generative-assistant dispatcher; call before
// ListenAndServe.
func (m *Manager) EnableAssistant(cfg AssistantConfig) {
	m.assistant = newAssistantDispatcher(m.logger, cfg, m.hub, m.registrations)
}

// ListenAndServe binds both RTP listeners and starts the widget hub and,
// if enabled, the assistant dispatcher's timer.
func (m *Manager) ListenAndServe(hostIn, hostOut string) error {
	addrIn, err := net.ResolveUDPAddr("udp", hostIn)
	if err != nil {
		return err
	}
	addrOut, err := net.ResolveUDPAddr("udp", hostOut)
	if err != nil {
		return err
	}

	m.udpIn, err = net.ListenUDP("udp", addrIn)
	if err != nil {
		return err
	}
	m.udpOut, err = net.ListenUDP("udp", addrOut)
	if err != nil {
		m.udpIn.Close()
		return err
	}

	m.hubCtx, m.hubCancel = context.WithCancel(context.Background())
	go m.hub.run(m.hubCtx)

	go m.readLoop(m.udpIn, DirIn)
	go m.readLoop(m.udpOut, DirOut)

	if m.assistant != nil {
		go m.assistant.run(m.hubCtx)
	}
	return nil
}

func (m *Manager) pendingFor(dir Direction) *pendingQueue {
	if dir == DirIn {
		return m.pendingIn
	}
	return m.pendingOut
}

func (m *Manager) readLoop(conn *net.UDPConn, dir Direction) {
	defer m.panicHandler.Recover("sgw.readLoop." + string(dir))

	buf := make([]byte, 2048)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		pkt, err := rtpparse.Parse(buf[:n])
		if err != nil {
			continue
		}

		payload := pkt.Payload
		if m.byteSwap {
			payload = byteSwap16(payload)
		}

		session := m.sessionFor(pkt.SSRC, dir)
		if session == nil {
			continue // admission cap reached; drop silently.
		}
		session.write(payload, conn, remoteAddr)
	}
}

func (m *Manager) sessionFor(ssrc uint32, dir Direction) *SgwSession {
	key := sessionKey{ssrc: ssrc, dir: dir}

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s
	}
	if len(m.sessions) >= m.maxConcurrentSessions {
		m.mu.Unlock()
		metrics.SgwSessionsDropped.Inc()
		return nil
	}
	session := m.newSession(ssrc, dir, time.Now())
	m.sessions[key] = session
	m.mu.Unlock()
	return session
}

// closeSession removes a session from the table and tears it down; called
// by the session's own watchdog on inactivity, or Unregister.
func (m *Manager) closeSession(key sessionKey, expect *SgwSession) {
	m.mu.Lock()
	current, ok := m.sessions[key]
	if !ok || current != expect {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, key)
	remaining := m.sessionsForCall(current.CallID)
	m.mu.Unlock()

	current.shutdown()

	if remaining == 0 && m.assistant != nil {
		m.assistant.dropCall(current.CallID)
	}
}

// sessionsForCall counts live sessions for callID; callers must hold m.mu.
func (m *Manager) sessionsForCall(callID string) int {
	count := 0
	for _, s := range m.sessions {
		if s.CallID == callID {
			count++
		}
	}
	return count
}

// Register handles GET /register?uuid=&exten=&caller=&callername=&dir=(in|out)[&force_start=1].
func (m *Manager) Register(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callID := q.Get("uuid")
	if callID == "" {
		http.Error(w, "missing uuid", http.StatusBadRequest)
		return
	}

	extension := q.Get("exten")
	caller := q.Get("caller")
	callerName := q.Get("callername")
	dir := Direction(q.Get("dir"))
	forceStart := q.Get("force_start") == "1"

	ctx, isNew := m.registrations.upsert(callID, extension, caller, callerName, time.Now())

	if dir == DirIn || dir == DirOut {
		m.pendingFor(dir).push(callID, time.Now())
	}

	if isNew || forceStart {
		from, to := callerLegLabels(m.roleMode, ctx)
		m.hub.publish(extension, CallStartEvent{
			Type:       "call-start",
			CallUUID:   callID,
			Extension:  extension,
			Caller:     caller,
			CallerName: callerName,
			From:       from,
			To:         to,
			Timestamp:  time.Now(),
		})
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Unregister handles GET /unregister?uuid=.
func (m *Manager) Unregister(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("uuid")
	if callID == "" {
		http.Error(w, "missing uuid", http.StatusBadRequest)
		return
	}

	m.registrations.delete(callID)
	if m.assistant != nil {
		m.assistant.dropCall(callID)
	}

	m.mu.Lock()
	var toClose []sessionKey
	for key, s := range m.sessions {
		if s.CallID == callID {
			toClose = append(toClose, key)
		}
	}
	m.mu.Unlock()
	for _, key := range toClose {
		m.mu.Lock()
		s := m.sessions[key]
		m.mu.Unlock()
		if s != nil {
			m.closeSession(key, s)
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ServeWidget exposes the widget pub/sub socket.
func (m *Manager) ServeWidget(w http.ResponseWriter, r *http.Request) {
	m.hub.ServeWidget(w, r)
}

// Ready reports basic liveness for the readiness endpoint.
func (m *Manager) Ready() (bool, map[string]string) {
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	return true, map[string]string{"sessions": strconv.Itoa(n)}
}

func callerLegLabels(mode RoleMode, ctx *RegistrationCtx) (from, to string) {
	caller := speakerLabel(mode, DirIn, ctx)
	agent := speakerLabel(mode, DirOut, ctx)
	if mode == RoleCallerIn {
		return caller, agent
	}
	return agent, caller
}

func byteSwap16(pcm []byte) []byte {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}
