package tap

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"siprec-tap-gateway/pkg/ari"
	"siprec-tap-gateway/pkg/fgw"
	"siprec-tap-gateway/pkg/metrics"
	"siprec-tap-gateway/pkg/shardedmap"
)

// ManagerConfig carries Manager's construction-time parameters, lifted
// one-to-one from config.TapConfig.
type ManagerConfig struct {
	AppName string

	ExternalMediaFormat        string
	ExternalMediaTransport     string
	ExternalMediaEncapsulation string

	FgwRegisterURL string
	FgwRTPHost     string
	FgwPortMin     int
	FgwPortMax     int

	SgwRegisterURL string
	SgwRTPHostIn   string
	SgwRTPHostOut  string

	BridgeAddRetryAttempts int
	BridgeAddRetryDelay    time.Duration
}

// Manager owns every live TapSession's resource graph and the stasis event
// handlers that drive it, grounded on the sharded-map-backed registries in
// the teacher's pkg/sip package.
type Manager struct {
	logger *logrus.Logger
	ari    *ari.Client
	cfg    ManagerConfig

	sessions     *shardedmap.Map // CallId -> *TapSession
	reverseIndex *shardedmap.Map // ChannelId -> CallId

	ports    *fgw.PortManager
	gateways *gatewayClient
	bridgeSF singleflight.Group
}

// NewManager builds a Manager and subscribes its stasis event handlers on
// ariClient. Its HTTP surface is Manager.StartTap, which the caller mounts
// on /start_tap.
func NewManager(ariClient *ari.Client, logger *logrus.Logger, cfg ManagerConfig) *Manager {
	m := &Manager{
		logger:       logger,
		ari:          ariClient,
		cfg:          cfg,
		sessions:     shardedmap.New(16),
		reverseIndex: shardedmap.New(16),
		ports:        fgw.NewPortManager(cfg.FgwPortMin, cfg.FgwPortMax),
		gateways:     newGatewayClient(logger),
	}

	ariClient.On("StasisStart", m.onStasisStart)
	ariClient.On("StasisEnd", m.onTerminalEvent)
	ariClient.On("ChannelHangupRequest", m.onTerminalEvent)

	return m
}

// StartTap handles GET /start_tap.
func (m *Manager) StartTap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chanRef := q.Get("chan")
	callID := q.Get("uuid")
	if chanRef == "" || callID == "" {
		metrics.TapStartsTotal.WithLabelValues(q.Get("gw"), "bad_request").Inc()
		http.Error(w, "Missing chan or uuid", http.StatusBadRequest)
		return
	}

	backend := Backend(q.Get("gw"))
	if backend != BackendFramed && backend != BackendStreaming {
		backend = BackendFramed
	}

	meta := CallMeta{
		Extension:      q.Get("exten"),
		Caller:         q.Get("caller"),
		CallerName:     q.Get("callername"),
		AgentExtension: q.Get("agent_extension"),
		AgentUsername:  q.Get("agent_username"),
		AgentID:        q.Get("agent_id"),
	}

	session := newTapSession(callID, backend, meta)
	m.sessions.Store(callID, session)

	ctx := r.Context()
	if err := m.startBackend(ctx, session, chanRef); err != nil {
		m.logger.WithError(err).WithField("call_uuid", callID).Error("tap: start_tap failed")
		metrics.TapStartsTotal.WithLabelValues(string(backend), "error").Inc()
		m.cleanupSession(callID, "start_tap_failed")
		http.Error(w, "ERROR", http.StatusInternalServerError)
		return
	}

	metrics.TapStartsTotal.WithLabelValues(string(backend), "ok").Inc()
	metrics.TapActiveSessions.Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// startBackend issues the snoop-creation REST calls for the chosen
// backend. The rest of the resource graph (bridges, external-media) is
// built asynchronously as each snoop's own stasis-start event arrives,
// per spec.md §4.2's "snoop channels drive the pipeline".
func (m *Manager) startBackend(ctx context.Context, session *TapSession, chanRef string) error {
	switch session.Backend {
	case BackendStreaming:
		for _, dir := range []string{"in", "out"} {
			spy := ari.SpyIn
			if dir == "out" {
				spy = ari.SpyOut
			}
			ch, err := m.ari.SnoopChannel(ctx, chanRef, m.cfg.AppName, spy, buildArgs(roleSnoop, session.CallID, dir))
			if err != nil {
				return err
			}
			session.addSnoop(ch)
			m.reverseIndex.Store(ch.ID, session.CallID)
		}
		return nil

	default: // BackendFramed
		port, err := m.ports.Allocate()
		if err != nil {
			return err
		}
		if err := m.gateways.registerFramed(m.cfg.FgwRegisterURL, session.CallID, port, session.Meta); err != nil {
			m.ports.Release(port)
			return err
		}
		session.setFramedPort(port)

		ch, err := m.ari.SnoopChannel(ctx, chanRef, m.cfg.AppName, ari.SpyBoth, buildArgs(roleSnoop, session.CallID, "both"))
		if err != nil {
			m.gateways.unregisterFramed(m.cfg.FgwRegisterURL, port)
			m.ports.Release(port)
			return err
		}
		session.addSnoop(ch)
		m.reverseIndex.Store(ch.ID, session.CallID)
		return nil
	}
}

// onStasisStart is the global handler for every channel entering the
// stasis application. Only channels this orchestrator itself created
// (identified by the role argument it attached at creation time) are
// processed; the original call leg and external-media self-entries are
// ignored, per spec.md §4.2.
func (m *Manager) onStasisStart(event ari.Event, channel *ari.Channel) {
	if channel == nil {
		return
	}
	args, _ := event.Raw["args"].([]interface{})
	parsed, ok := parseArgs(args)

	name, _ := event.Raw["channel_name"].(string)
	if ari.IsExternalMediaRole(parsed.role, name) {
		return
	}
	if !ok || parsed.role != roleSnoop || parsed.callID == "" {
		return
	}

	v, ok := m.sessions.Load(parsed.callID)
	if !ok {
		m.logger.WithField("call_uuid", parsed.callID).Warn("tap: stasis-start for snoop with no known session")
		return
	}
	session := v.(*TapSession)

	ctx := context.Background()
	var err error
	if session.Backend == BackendStreaming {
		err = m.wireStreamingDirection(ctx, session, channel, parsed.direction)
	} else {
		err = m.wireFramed(ctx, session, channel)
	}
	if err != nil {
		m.logger.WithError(err).WithField("call_uuid", session.CallID).Error("tap: failed to wire snoop into bridge")
		m.cleanupSession(session.CallID, "wire_failed")
	}
}

// wireFramed implements spec.md §4.2 step 2: one mixing bridge, the single
// snoop, one external-media channel at FGW's RTP host:port.
func (m *Manager) wireFramed(ctx context.Context, session *TapSession, snoop *ari.Channel) error {
	bridge, err := m.getOrCreateBridge(ctx, session, "both")
	if err != nil {
		return err
	}
	if !bridge.HasMember(snoop.ID) {
		if err := bridge.AddChannelWithRetry(ctx, snoop, m.cfg.BridgeAddRetryAttempts, m.cfg.BridgeAddRetryDelay); err != nil {
			return err
		}
	}

	_, _, _, port := session.snapshot()
	externalHost := m.cfg.FgwRTPHost + ":" + strconv.Itoa(port)
	em, err := m.ari.ExternalMedia(ctx, m.cfg.AppName, buildArgs(roleExternalMedia, session.CallID, "both"),
		externalHost, m.cfg.ExternalMediaFormat, m.cfg.ExternalMediaTransport, m.cfg.ExternalMediaEncapsulation)
	if err != nil {
		return err
	}
	session.addExternalMedia(em)
	m.reverseIndex.Store(em.ID, session.CallID)

	return bridge.AddChannelWithRetry(ctx, em, m.cfg.BridgeAddRetryAttempts, m.cfg.BridgeAddRetryDelay)
}

// wireStreamingDirection implements spec.md §4.2 step 3: a per-direction
// bridge, that direction's snoop, and an external-media channel pointing
// at the direction's fixed RTP host:port — preceded by registering the
// call context at SGW for that direction.
func (m *Manager) wireStreamingDirection(ctx context.Context, session *TapSession, snoop *ari.Channel, direction string) error {
	bridge, err := m.getOrCreateBridge(ctx, session, direction)
	if err != nil {
		return err
	}
	if !bridge.HasMember(snoop.ID) {
		if err := bridge.AddChannelWithRetry(ctx, snoop, m.cfg.BridgeAddRetryAttempts, m.cfg.BridgeAddRetryDelay); err != nil {
			return err
		}
	}

	m.gateways.registerStreaming(m.cfg.SgwRegisterURL, session.CallID, direction, session.Meta)

	rtpHost := m.cfg.SgwRTPHostIn
	if direction == "out" {
		rtpHost = m.cfg.SgwRTPHostOut
	}
	em, err := m.ari.ExternalMedia(ctx, m.cfg.AppName, buildArgs(roleExternalMedia, session.CallID, direction),
		rtpHost, m.cfg.ExternalMediaFormat, m.cfg.ExternalMediaTransport, m.cfg.ExternalMediaEncapsulation)
	if err != nil {
		return err
	}
	session.addExternalMedia(em)
	m.reverseIndex.Store(em.ID, session.CallID)

	return bridge.AddChannelWithRetry(ctx, em, m.cfg.BridgeAddRetryAttempts, m.cfg.BridgeAddRetryDelay)
}

// getOrCreateBridge coalesces concurrent creations for the same
// (CallId, direction) key onto one in-flight REST call, per spec.md §4.2's
// "Single-flight bridge creation" and §8's "Single-flight bridge" property.
func (m *Manager) getOrCreateBridge(ctx context.Context, session *TapSession, direction string) (*ari.Bridge, error) {
	if b, ok := session.bridge(direction); ok {
		return b, nil
	}

	key := session.CallID + "|" + direction
	v, err, _ := m.bridgeSF.Do(key, func() (interface{}, error) {
		if b, ok := session.bridge(direction); ok {
			return b, nil
		}
		b, err := m.ari.NewBridge(ctx)
		if err != nil {
			return nil, err
		}
		session.setBridge(direction, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ari.Bridge), nil
}

// onTerminalEvent handles both StasisEnd and ChannelHangupRequest for any
// channel present in the reverse index, per spec.md §4.2's "Global
// terminal events" rule.
func (m *Manager) onTerminalEvent(event ari.Event, channel *ari.Channel) {
	if channel == nil {
		return
	}
	v, ok := m.reverseIndex.Load(channel.ID)
	if !ok {
		return
	}
	m.cleanupSession(v.(string), event.Type)
}

// cleanupSession tears down a TapSession's entire resource graph exactly
// once, per spec.md §4.2's "Cleanup (idempotent)" rule and §8's
// "Idempotent cleanup" property: the latch is set before any effectful
// teardown so overlapping terminal events collapse to one run.
func (m *Manager) cleanupSession(callID, reason string) {
	v, ok := m.sessions.Load(callID)
	if !ok {
		return
	}
	session := v.(*TapSession)
	if !session.markCleaned() {
		metrics.TapCleanupsTotal.WithLabelValues("duplicate").Inc()
		return
	}

	ctx := context.Background()
	snoops, externalMedia, bridges, port := session.snapshot()

	if session.Backend == BackendFramed {
		if port != 0 {
			m.gateways.unregisterFramed(m.cfg.FgwRegisterURL, port)
			m.ports.Release(port)
		}
	} else {
		m.gateways.unregisterStreaming(m.cfg.SgwRegisterURL, callID)
	}

	for _, b := range bridges {
		if err := b.Destroy(ctx); err != nil {
			m.logger.WithError(err).WithField("call_uuid", callID).Warn("tap: bridge destroy failed")
		}
	}
	for _, ch := range snoops {
		if err := ch.Hangup(ctx); err != nil {
			m.logger.WithError(err).WithField("call_uuid", callID).Warn("tap: snoop hangup failed")
		}
		m.reverseIndex.Delete(ch.ID)
	}
	for _, ch := range externalMedia {
		if err := ch.Hangup(ctx); err != nil {
			m.logger.WithError(err).WithField("call_uuid", callID).Warn("tap: external-media hangup failed")
		}
		m.reverseIndex.Delete(ch.ID)
	}

	m.sessions.Delete(callID)
	metrics.TapCleanupsTotal.WithLabelValues(reason).Inc()
	metrics.TapActiveSessions.Dec()
}

// Ready reports basic liveness for the readiness endpoint.
func (m *Manager) Ready() (bool, map[string]string) {
	return true, map[string]string{"sessions": strconv.Itoa(m.sessions.Count())}
}
