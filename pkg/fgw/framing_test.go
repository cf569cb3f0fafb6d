package fgw

import (
	"encoding/binary"
	"encoding/json"
	"testing"
)

func TestEncodeStartFramePayload(t *testing.T) {
	frame, err := encodeStartFrame("A1", "100", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame[0] != FrameStart {
		t.Errorf("expected frame type 0x01, got 0x%02x", frame[0])
	}

	length := binary.BigEndian.Uint16(frame[1:3])
	payload := frame[3 : 3+length]

	var decoded startPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.CallUUID != "A1" || decoded.AgentExtension != "100" || decoded.AgentUsername != "" || decoded.AgentID != "" {
		t.Errorf("unexpected decoded payload: %+v", decoded)
	}
}

func TestEncodeAudioFrameIsExactly640BytePayload(t *testing.T) {
	pcm := make([]byte, audioFrameBytes)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	frame := encodeAudioFrame(pcm)

	if frame[0] != FrameAudio {
		t.Errorf("expected frame type 0x12, got 0x%02x", frame[0])
	}
	if length := binary.BigEndian.Uint16(frame[1:3]); length != audioFrameBytes {
		t.Errorf("expected length %d, got %d", audioFrameBytes, length)
	}
}

func TestEncodeEndFrameHasZeroLengthPayload(t *testing.T) {
	frame := encodeEndFrame()
	if len(frame) != 3 || frame[0] != FrameEnd {
		t.Errorf("expected 3-byte END frame, got %v", frame)
	}
}

func TestReassemblerDrainsExact640ByteFrames(t *testing.T) {
	var r frameReassembler

	// 500 packets of 320 2-byte samples (640 bytes) each, matching spec.md
	// §8 scenario 1 exactly: N = 500*640 bytes, expect 500 AUDIO frames.
	var totalFrames int
	for i := 0; i < 500; i++ {
		packet := make([]byte, 640)
		frames := r.append(packet)
		totalFrames += len(frames)
		for _, f := range frames {
			if len(f) != audioFrameBytes {
				t.Fatalf("expected every drained frame to be %d bytes, got %d", audioFrameBytes, len(f))
			}
		}
	}
	if totalFrames != 500 {
		t.Errorf("expected exactly 500 AUDIO frames, got %d", totalFrames)
	}
	if len(r.buf) != 0 {
		t.Errorf("expected reassembler buffer to be fully drained, got %d bytes remaining", len(r.buf))
	}
}

func TestReassemblerHoldsPartialFrameAcrossPackets(t *testing.T) {
	var r frameReassembler

	frames := r.append(make([]byte, 300))
	if len(frames) != 0 {
		t.Errorf("expected no frames drained from a sub-640-byte chunk, got %d", len(frames))
	}

	frames = r.append(make([]byte, 340))
	if len(frames) != 1 {
		t.Errorf("expected exactly one frame once the buffer crosses 640 bytes, got %d", len(frames))
	}
	if len(r.buf) != 0 {
		t.Errorf("expected no leftover bytes for an exact 640-byte total, got %d", len(r.buf))
	}
}
