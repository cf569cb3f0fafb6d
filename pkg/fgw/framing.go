package fgw

import (
	"encoding/binary"
	"encoding/json"
)

// Frame type tags for the outbound binary protocol, per spec.md §4.3/§6:
// [TYPE u8][LENGTH u16 big-endian][PAYLOAD LENGTH bytes].
const (
	FrameStart byte = 0x01
	FrameAudio byte = 0x12
	FrameEnd   byte = 0x00
)

// audioFrameBytes is the fixed AUDIO payload size: 320 samples x 2 bytes
// at 16kHz mono, i.e. 20ms of 16-bit linear PCM.
const audioFrameBytes = 640

// startPayload is the JSON body of the one-time START frame.
type startPayload struct {
	CallUUID        string `json:"call_uuid"`
	AgentExtension  string `json:"agent_extension"`
	AgentUsername   string `json:"agent_username"`
	AgentID         string `json:"agent_id"`
}

// encodeFrame writes [TYPE][LEN][PAYLOAD] into a fresh byte slice.
func encodeFrame(frameType byte, payload []byte) []byte {
	out := make([]byte, 3+len(payload))
	out[0] = frameType
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[3:], payload)
	return out
}

func encodeStartFrame(callUUID, agentExtension, agentUsername, agentID string) ([]byte, error) {
	payload, err := json.Marshal(startPayload{
		CallUUID:       callUUID,
		AgentExtension: agentExtension,
		AgentUsername:  agentUsername,
		AgentID:        agentID,
	})
	if err != nil {
		return nil, err
	}
	return encodeFrame(FrameStart, payload), nil
}

func encodeAudioFrame(pcm []byte) []byte {
	return encodeFrame(FrameAudio, pcm)
}

func encodeEndFrame() []byte {
	return encodeFrame(FrameEnd, nil)
}

// frameReassembler buffers PCM payload and drains exactly-640-byte AUDIO
// frames, per spec.md §4.3: "Append to a per-session byte buffer; drain
// into exactly-640-byte AUDIO frames while >= 640 bytes remain."
type frameReassembler struct {
	buf []byte
}

func (r *frameReassembler) append(pcm []byte) [][]byte {
	r.buf = append(r.buf, pcm...)

	var frames [][]byte
	for len(r.buf) >= audioFrameBytes {
		frames = append(frames, append([]byte(nil), r.buf[:audioFrameBytes]...))
		r.buf = r.buf[audioFrameBytes:]
	}
	return frames
}
