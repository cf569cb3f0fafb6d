package fgw

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/metrics"
)

// Manager owns every live Session, keyed by UDP port, and wires the
// /register and /unregister HTTP surface onto PortManager and Session per
// spec.md §4.3/§6.
type Manager struct {
	logger     *logrus.Logger
	ports      *PortManager
	rtpHost    string
	downstream string

	watchdogInterval    time.Duration
	inactivityThreshold time.Duration

	diagnosticDump bool
	diagnosticDir  string
	diagnosticMax  int

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewManager creates a Manager over the given port range and downstream
// TCP peer. watchdogInterval/inactivityThreshold are forwarded to every
// Session it creates; zero values fall back to Session's own defaults.
func NewManager(logger *logrus.Logger, minPort, maxPort int, rtpHost, downstream string, watchdogInterval, inactivityThreshold time.Duration) *Manager {
	return &Manager{
		logger:              logger,
		ports:               NewPortManager(minPort, maxPort),
		rtpHost:             rtpHost,
		downstream:          downstream,
		watchdogInterval:    watchdogInterval,
		inactivityThreshold: inactivityThreshold,
		sessions:            make(map[int]*Session),
	}
}

// EnableDiagnosticDump turns on the best-effort WAV sink for every session
// created after this call.
func (m *Manager) EnableDiagnosticDump(dir string, maxBytes int) {
	m.diagnosticDump = true
	m.diagnosticDir = dir
	m.diagnosticMax = maxBytes
}

// Register handles GET /register?uuid=&port=[&agent_extension=&agent_username=&agent_id=].
func (m *Manager) Register(w http.ResponseWriter, r *http.Request) {
	callUUID := r.URL.Query().Get("uuid")
	portStr := r.URL.Query().Get("port")
	if callUUID == "" || portStr == "" {
		http.Error(w, "missing uuid or port", http.StatusBadRequest)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	if err := m.ports.Reserve(port); err != nil {
		http.Error(w, "port already bound", http.StatusConflict)
		return
	}

	req := RegisterRequest{
		CallUUID:       callUUID,
		Port:           port,
		AgentExtension: r.URL.Query().Get("agent_extension"),
		AgentUsername:  r.URL.Query().Get("agent_username"),
		AgentID:        r.URL.Query().Get("agent_id"),
	}

	session, err := NewSession(req, m.downstream, m.rtpHost, m.ports, m.logger, m.onSessionClosed, m.watchdogInterval, m.inactivityThreshold)
	if err != nil {
		m.ports.Release(port)
		m.logger.WithError(err).Error("fgw: failed to create session")
		http.Error(w, "failed to bind RTP port", http.StatusInternalServerError)
		return
	}
	if m.diagnosticDump {
		session.EnableDiagnosticDump(m.diagnosticDir, m.diagnosticMax)
	}

	m.mu.Lock()
	m.sessions[port] = session
	m.mu.Unlock()

	metrics.FgwActiveSessions.Inc()
	metrics.FgwPortsInUse.Set(float64(m.ports.InUse()))

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Unregister handles GET /unregister?port=. It is idempotent: unregistering
// an unknown port still returns 200.
func (m *Manager) Unregister(w http.ResponseWriter, r *http.Request) {
	portStr := r.URL.Query().Get("port")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	session := m.sessions[port]
	m.mu.Unlock()

	if session != nil {
		session.Unregister()
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (m *Manager) onSessionClosed(port int) {
	m.mu.Lock()
	delete(m.sessions, port)
	m.mu.Unlock()

	metrics.FgwActiveSessions.Dec()
	metrics.FgwPortsInUse.Set(float64(m.ports.InUse()))
}

// Ready always reports ready, with the number of live sessions as detail —
// the readiness check this binary's /health/ready exposes.
func (m *Manager) Ready() (bool, map[string]string) {
	detail := map[string]string{"sessions": strconv.Itoa(len(m.activeSessions()))}
	return true, detail
}

func (m *Manager) activeSessions() map[int]*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*Session, len(m.sessions))
	for k, v := range m.sessions {
		out[k] = v
	}
	return out
}
