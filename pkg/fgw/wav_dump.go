package fgw

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// wavDump is a best-effort diagnostic sink writing the first maxBytes of
// PCM to a WAV file with a fabricated header. Per spec.md §4.3 this is
// informational only, out of scope of the gateway's contracts, so errors
// here are logged and swallowed rather than propagated.
//
// Grounded on pkg/media/wav_writer.go's header-then-PCM-then-patch-sizes
// structure, trimmed to a single fixed format (16kHz mono 16-bit) and a
// hard byte cap instead of the teacher's reconfigurable SetFormat/Finalize
// API, since this sink never outlives one call.
type wavDump struct {
	mu       sync.Mutex
	file     *os.File
	written  int
	maxBytes int
	logger   *logrus.Entry
}

func newWavDump(dir, callUUID string, maxBytes int, logger *logrus.Entry) *wavDump {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.WithError(err).Warn("fgw: failed to create diagnostic WAV directory")
		return nil
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.wav", callUUID))
	f, err := os.Create(path)
	if err != nil {
		logger.WithError(err).Warn("fgw: failed to create diagnostic WAV file")
		return nil
	}

	d := &wavDump{file: f, maxBytes: maxBytes, logger: logger}
	if err := d.writeHeader(); err != nil {
		logger.WithError(err).Warn("fgw: failed to write WAV header")
		f.Close()
		return nil
	}
	return d
}

const (
	wavSampleRate = 16000
	wavChannels   = 1
	wavBitsDepth  = 16
)

func (d *wavDump) writeHeader() error {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 0) // patched on close
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], wavChannels)
	binary.LittleEndian.PutUint32(header[24:28], wavSampleRate)
	byteRate := wavSampleRate * wavChannels * wavBitsDepth / 8
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	blockAlign := wavChannels * wavBitsDepth / 8
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], wavBitsDepth)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], 0) // patched on close
	_, err := d.file.Write(header)
	return err
}

func (d *wavDump) write(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil || d.written >= d.maxBytes {
		return
	}

	remaining := d.maxBytes - d.written
	chunk := pcm
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
	}
	if _, err := d.file.Write(chunk); err != nil {
		d.logger.WithError(err).Warn("fgw: failed to write diagnostic PCM chunk")
		return
	}
	d.written += len(chunk)
}

func (d *wavDump) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return
	}

	sizePatch := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizePatch, uint32(36+d.written))
	d.file.WriteAt(sizePatch, 4)
	binary.LittleEndian.PutUint32(sizePatch, uint32(d.written))
	d.file.WriteAt(sizePatch, 40)

	d.file.Close()
	d.file = nil
}
