// Package tap implements the orchestrator that drives the stasis control
// adapter to wire a call's audio to either the framed-TCP or the streaming
// gateway, owning each call's resource graph end to end.
//
// Grounded on the teacher's pkg/sip package for the "reverse index +
// sharded session table + idempotent cleanup latch" shape, generalized
// from SIP dialog/channel bookkeeping to stasis channel/bridge bookkeeping.
package tap

import (
	"sync"
	"sync/atomic"

	"siprec-tap-gateway/pkg/ari"
)

// Backend selects which gateway a TapSession streams audio to.
type Backend string

const (
	BackendFramed    Backend = "framed"
	BackendStreaming Backend = "streaming"
)

// CallMeta is the caller/agent metadata carried through /start_tap and
// forwarded on to whichever gateway the call uses.
type CallMeta struct {
	Extension      string
	Caller         string
	CallerName     string
	AgentExtension string
	AgentUsername  string
	AgentID        string
}

// TapSession is the resource graph for one call: the snoop and
// external-media channels it owns, the bridge(s) it created, and enough
// state to run cleanup exactly once.
type TapSession struct {
	CallID  string
	Backend Backend
	Meta    CallMeta

	mu          sync.Mutex
	snoops      map[string]*ari.Channel // channelID -> snoop channel
	externalMed map[string]*ari.Channel // channelID -> external-media channel
	bridges     map[string]*ari.Bridge  // direction key ("both", "in", "out") -> bridge

	framedPort int // 0 until allocated

	cleaned atomic.Bool
}

func newTapSession(callID string, backend Backend, meta CallMeta) *TapSession {
	return &TapSession{
		CallID:      callID,
		Backend:     backend,
		Meta:        meta,
		snoops:      make(map[string]*ari.Channel),
		externalMed: make(map[string]*ari.Channel),
		bridges:     make(map[string]*ari.Bridge),
	}
}

func (s *TapSession) addSnoop(ch *ari.Channel) {
	s.mu.Lock()
	s.snoops[ch.ID] = ch
	s.mu.Unlock()
}

func (s *TapSession) addExternalMedia(ch *ari.Channel) {
	s.mu.Lock()
	s.externalMed[ch.ID] = ch
	s.mu.Unlock()
}

func (s *TapSession) bridge(direction string) (*ari.Bridge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bridges[direction]
	return b, ok
}

func (s *TapSession) setBridge(direction string, b *ari.Bridge) {
	s.mu.Lock()
	s.bridges[direction] = b
	s.mu.Unlock()
}

func (s *TapSession) setFramedPort(port int) {
	s.mu.Lock()
	s.framedPort = port
	s.mu.Unlock()
}

func (s *TapSession) snapshot() (snoops, externalMedia []*ari.Channel, bridges []*ari.Bridge, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.snoops {
		snoops = append(snoops, ch)
	}
	for _, ch := range s.externalMed {
		externalMedia = append(externalMedia, ch)
	}
	for _, b := range s.bridges {
		bridges = append(bridges, b)
	}
	return snoops, externalMedia, bridges, s.framedPort
}

// markCleaned sets the idempotency latch and reports whether this caller
// was the one to set it (false means cleanup already ran or is running).
func (s *TapSession) markCleaned() bool {
	return s.cleaned.CompareAndSwap(false, true)
}
