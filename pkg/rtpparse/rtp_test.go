package rtpparse

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestParseBasicPacket(t *testing.T) {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: 96,
			SSRC:        0xAAAA1111,
		},
		Payload: pcm,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(0xAAAA1111), parsed.SSRC)
	require.Equal(t, pcm, parsed.Payload)
}

func TestParseWithCSRCAndExtension(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: 96,
			SSRC:        0xBBBB2222,
			CSRC:        []uint32{1, 2, 3},
		},
		Payload: pcm,
	}
	require.NoError(t, pkt.Header.SetExtension(1, []byte{0xAA, 0xBB, 0xCC, 0xDD}))
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(0xBBBB2222), parsed.SSRC)
	require.Equal(t, pcm, parsed.Payload)
}

func TestParseTooShort(t *testing.T) {
	_, err := Parse(make([]byte, 8))
	require.Error(t, err)
}

func TestParseTruncatedCSRC(t *testing.T) {
	datagram := make([]byte, 12)
	datagram[0] = 0x82 // version 2, CC=2 but no CSRC bytes present
	_, err := Parse(datagram)
	require.Error(t, err)
}
