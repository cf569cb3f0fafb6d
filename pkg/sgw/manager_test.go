package sgw

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"siprec-tap-gateway/pkg/metrics"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func init() {
	metrics.Init(testLogger())
}

// unreachableSpeech points at a closed local port so dial failures happen
// immediately instead of timing out, keeping these tests fast.
func unreachableSpeech() SpeechConfig {
	return SpeechConfig{URL: "ws://127.0.0.1:1/listen"}
}

func testManager(maxSessions int) *Manager {
	return NewManager(testLogger(), ManagerConfig{
		Speech:                unreachableSpeech(),
		RoleMode:              RoleCallerIn,
		PendingBindingTTL:     time.Second,
		BootBufferFrames:      10,
		WatchdogInterval:      time.Hour,
		InactivityThreshold:   time.Hour,
		MaxConcurrentSessions: maxSessions,
	})
}

func TestSessionForReusesExistingSSRC(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	first := m.sessionFor(0xAAAA, DirIn)
	require.NotNil(t, first)

	second := m.sessionFor(0xAAAA, DirIn)
	require.Same(t, first, second, "a known SSRC must not rebind to a new session")
}

func TestSessionForDistinctDirectionsDoNotShareASession(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	in := m.sessionFor(0xAAAA, DirIn)
	out := m.sessionFor(0xAAAA, DirOut)
	require.NotSame(t, in, out, "the same SSRC on two direction ports is two distinct sessions")
}

func TestSessionForEnforcesAdmissionCap(t *testing.T) {
	m := testManager(1)
	defer drainSessions(m)

	first := m.sessionFor(0x1111, DirIn)
	require.NotNil(t, first)

	second := m.sessionFor(0x2222, DirIn)
	require.Nil(t, second, "the (cap+1)th distinct SSRC must be dropped")

	// The existing session is still reachable; the cap only blocks new ones.
	again := m.sessionFor(0x1111, DirIn)
	require.Same(t, first, again)
}

func TestSessionBindsFromPendingFIFOOnFirstPacket(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	m.registrations.upsert("call-1", "1001", "5551234567", "Jane Doe", time.Now())
	m.pendingFor(DirIn).push("call-1", time.Now())

	session := m.sessionFor(0xBEEF, DirIn)
	require.NotNil(t, session)
	require.Equal(t, "call-1", session.CallID)
	require.Equal(t, "1001", session.Extension)
}

func TestSessionFallsBackToUnknownWithNoPendingBinding(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	session := m.sessionFor(0xC0FFEE, DirIn)
	require.Equal(t, "unknown", session.CallID)
	require.Equal(t, "mix", session.Extension)
}

func TestRegisterRequiresUUID(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	req := httptest.NewRequest("GET", "/register?exten=1001", nil)
	rec := httptest.NewRecorder()
	m.Register(rec, req)
	require.Equal(t, 400, rec.Code)
}

func TestRegisterThenUnregisterClosesSessions(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	req := httptest.NewRequest("GET", "/register?uuid=call-2&exten=1002&dir=in", nil)
	rec := httptest.NewRecorder()
	m.Register(rec, req)
	require.Equal(t, 200, rec.Code)

	session := m.sessionFor(0xD00D, DirIn)
	require.Equal(t, "call-2", session.CallID)

	unreq := httptest.NewRequest("GET", "/unregister?uuid=call-2", nil)
	unrec := httptest.NewRecorder()
	m.Unregister(unrec, unreq)
	require.Equal(t, 200, unrec.Code)

	_, ok := m.registrations.get("call-2")
	require.False(t, ok, "unregister must drop the registration context")
}

func TestUnregisterUnknownCallIsNotAnError(t *testing.T) {
	m := testManager(10)
	defer drainSessions(m)

	req := httptest.NewRequest("GET", "/unregister?uuid=never-registered", nil)
	rec := httptest.NewRecorder()
	m.Unregister(rec, req)
	require.Equal(t, 200, rec.Code)
}

// drainSessions tears down every session a test created so its upstream
// reconnect goroutines stop retrying once the test returns.
func drainSessions(m *Manager) {
	m.mu.Lock()
	sessions := make([]*SgwSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.shutdown()
	}
}
