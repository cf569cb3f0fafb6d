// Package rtpparse strips RTP headers from inbound UDP datagrams.
//
// Grounded on the header-walking logic in the teacher's pkg/media/rtp.go
// (which additionally looks up a codec table and decodes non-PCM payloads).
// This system's non-goal of "no transcoding or resampling" means the PCM
// payload never needs a codec lookup: every packet is already 16-bit linear
// PCM at 16kHz mono, so this package only computes header length and the
// SSRC, leaving codec concerns out entirely.
package rtpparse

import "fmt"

// headerMinLen is the fixed RTP header size per RFC 3550 before CSRC/extension.
const headerMinLen = 12

// Packet is the subset of an RTP packet this system cares about: the
// synchronization source and the raw (already-PCM) payload.
type Packet struct {
	SSRC    uint32
	Payload []byte
}

// Parse strips the RTP header from datagram and returns the SSRC and the
// remaining payload bytes. It honors the CSRC count and, when the extension
// bit is set, the 16-bit extension length field, exactly as described in
// spec.md §4.3/§6.
func Parse(datagram []byte) (Packet, error) {
	if len(datagram) < headerMinLen {
		return Packet{}, fmt.Errorf("rtpparse: datagram too short: %d bytes", len(datagram))
	}

	b0 := datagram[0]
	cc := int(b0 & 0x0f)
	hasExtension := b0&0x10 != 0

	offset := headerMinLen + cc*4
	if offset > len(datagram) {
		return Packet{}, fmt.Errorf("rtpparse: CSRC count %d overruns datagram of length %d", cc, len(datagram))
	}

	if hasExtension {
		if offset+4 > len(datagram) {
			return Packet{}, fmt.Errorf("rtpparse: extension header overruns datagram")
		}
		extLen := int(datagram[offset+2])<<8 | int(datagram[offset+3])
		offset += 4 + extLen*4
		if offset > len(datagram) {
			return Packet{}, fmt.Errorf("rtpparse: extension length %d overruns datagram", extLen)
		}
	}

	ssrc := uint32(datagram[8])<<24 | uint32(datagram[9])<<16 | uint32(datagram[10])<<8 | uint32(datagram[11])

	return Packet{
		SSRC:    ssrc,
		Payload: datagram[offset:],
	}, nil
}
