package tap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"siprec-tap-gateway/pkg/ari"
)

func TestTapSessionSnapshotReflectsAllGraphParts(t *testing.T) {
	s := newTapSession("call-1", BackendFramed, CallMeta{Extension: "100"})
	s.addSnoop(&ari.Channel{ID: "snoop-1"})
	s.addExternalMedia(&ari.Channel{ID: "em-1"})
	s.setBridge("both", &ari.Bridge{ID: "bridge-1"})
	s.setFramedPort(31000)

	snoops, em, bridges, port := s.snapshot()
	require.Len(t, snoops, 1)
	require.Len(t, em, 1)
	require.Len(t, bridges, 1)
	require.Equal(t, 31000, port)
}

func TestTapSessionBridgeLookupMissIsFalse(t *testing.T) {
	s := newTapSession("call-1", BackendStreaming, CallMeta{})
	_, ok := s.bridge("in")
	require.False(t, ok)

	s.setBridge("in", &ari.Bridge{ID: "bridge-in"})
	b, ok := s.bridge("in")
	require.True(t, ok)
	require.Equal(t, "bridge-in", b.ID)
}

func TestTapSessionMarkCleanedIsIdempotent(t *testing.T) {
	s := newTapSession("call-1", BackendFramed, CallMeta{})
	require.True(t, s.markCleaned())
	require.False(t, s.markCleaned())
	require.False(t, s.markCleaned())
}
