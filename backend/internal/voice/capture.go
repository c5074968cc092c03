package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voice-assistant/backend/internal/constants"
)

const wavHeaderSize = 44

// CaptureFile appends raw client PCM to a WAV file. The RIFF and data sizes
// are written as zero on open and patched on close.
type CaptureFile struct {
	dir string

	mu        sync.Mutex
	f         *os.File
	name      string
	dataBytes int64
}

// CaptureFilename builds streamed_audio_<session>_<yyyymmdd_hhmmss>.wav
func CaptureFilename(sessionID string, at time.Time) string {
	return fmt.Sprintf("streamed_audio_%s_%s.wav", sanitizeFilePart(sessionID), at.Format("20060102_150405"))
}

// OpenCapture creates dir if needed and opens a new capture file
func OpenCapture(dir, sessionID string, at time.Time) (*CaptureFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	c := &CaptureFile{dir: dir}
	if err := c.open(sessionID, at); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CaptureFile) open(sessionID string, at time.Time) error {
	name := CaptureFilename(sessionID, at)
	f, err := os.Create(filepath.Join(c.dir, name))
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}
	if _, err := f.Write(wavHeader(0)); err != nil {
		f.Close()
		return fmt.Errorf("write wav header: %w", err)
	}
	c.f = f
	c.name = name
	c.dataBytes = 0
	return nil
}

// Name returns the current file name without the directory
func (c *CaptureFile) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Path returns the full path of the current file
func (c *CaptureFile) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return filepath.Join(c.dir, c.name)
}

// Write appends one audio frame
func (c *CaptureFile) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.f == nil {
		return os.ErrClosed
	}
	n, err := c.f.Write(frame)
	c.dataBytes += int64(n)
	return err
}

// Rotate finalises the current file and continues in a new one named after
// sessionID
func (c *CaptureFile) Rotate(sessionID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.finalize(); err != nil {
		return err
	}
	return c.open(sessionID, at)
}

// Close patches the header and closes the file. Safe to call more than once.
func (c *CaptureFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalize()
}

func (c *CaptureFile) finalize() error {
	if c.f == nil {
		return nil
	}
	f := c.f
	c.f = nil

	if _, err := f.WriteAt(wavHeader(c.dataBytes), 0); err != nil {
		f.Close()
		return fmt.Errorf("patch wav header: %w", err)
	}
	return f.Close()
}

// wavHeader returns a 44 byte PCM header for dataSize bytes of input audio
func wavHeader(dataSize int64) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize)

	sampleRate := constants.InputSampleRate
	numChannels := constants.InputChannels
	bitsPerSample := constants.InputBitsPerSample
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))

	return buf.Bytes()
}

// sanitizeFilePart keeps session ids from escaping the capture directory
func sanitizeFilePart(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "session"
	}
	return string(out)
}
