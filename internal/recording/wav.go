// Package recording implements the WAV sink described in SPEC_FULL.md §4.8:
// a running-header writer fed one 20ms PCM frame at a time, used by the IVR
// package's <record> operation. Upload after completion is an external
// collaborator interface (§1) — UploadFunc below is the seam a deployment
// wires to its own HTTP client.
package recording

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpbx/flowpbx/internal/frame"
)

const wavHeaderSize = 44

// totalBytesWritten is a process-wide cumulative counter across every sink,
// fed to the metrics Collector (§2.1 "recording bytes written").
var totalBytesWritten uint64

// BytesWritten returns the cumulative number of recording bytes appended by
// every sink in this process.
func BytesWritten() uint64 {
	return atomic.LoadUint64(&totalBytesWritten)
}

// MetricsProvider adapts the package-level byte counter to
// metrics.RecordingByteCounter.
type MetricsProvider struct{}

func (MetricsProvider) BytesWritten() uint64 { return BytesWritten() }

// UploadFunc uploads a finished recording; the HTTP client itself is an
// external collaborator per §1, so this is an injected seam, not an import.
type UploadFunc func(filePath string) error

// Sink is a WAV file writer with a running header size update on every
// appended frame (§8 round-trip law: riff.len = 36 + 320*N).
type Sink struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
	dataSize uint32
	stopped  bool
	logger   *slog.Logger
	upload   UploadFunc
}

// NewSink creates a recording sink writing 16-bit mono 8kHz PCM WAV audio at
// filePath. Parent directories are created if needed. When append is true
// and a file already exists at filePath, new frames are appended to it
// instead of truncating (IVR <record append="true">).
func NewSink(filePath string, appendExisting bool, logger *slog.Logger, upload UploadFunc) (*Sink, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}

	var f *os.File
	var existingSize uint32
	if appendExisting {
		if fi, err := os.Stat(filePath); err == nil && fi.Size() >= wavHeaderSize {
			var err2 error
			f, err2 = os.OpenFile(filePath, os.O_RDWR, 0o640)
			if err2 != nil {
				return nil, fmt.Errorf("opening existing recording for append: %w", err2)
			}
			existingSize = uint32(fi.Size()) - wavHeaderSize
			if _, err := f.Seek(0, 2); err != nil {
				f.Close()
				return nil, fmt.Errorf("seeking to append recording: %w", err)
			}
		}
	}
	if f == nil {
		var err error
		f, err = os.Create(filePath)
		if err != nil {
			return nil, fmt.Errorf("creating recording file: %w", err)
		}
		if err := writeWAVHeader(f, 0); err != nil {
			f.Close()
			os.Remove(filePath)
			return nil, fmt.Errorf("writing wav header: %w", err)
		}
	}

	s := &Sink{
		file:     f,
		filePath: filePath,
		dataSize: existingSize,
		logger:   logger.With("subsystem", "recording-sink", "file", filePath),
		upload:   upload,
	}
	s.logger.Info("recording started", "append", appendExisting)
	return s, nil
}

// Append writes one 20ms PCM frame (320 bytes) to the sink and updates the
// running header. Blocking file I/O here is permitted: recording sinks are
// an explicit suspension point (§5).
func (s *Sink) Append(f *frame.PCM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("recording: sink %q already stopped", s.filePath)
	}

	var buf [frame.BytesPerFrame]byte
	for i, sample := range f.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(sample))
	}
	n, err := s.file.Write(buf[:])
	if err != nil {
		return fmt.Errorf("writing recording frame: %w", err)
	}
	s.dataSize += uint32(n)
	atomic.AddUint64(&totalBytesWritten, uint64(n))
	return s.rewriteHeaderLocked()
}

// DataSize returns the current data-chunk size in bytes.
func (s *Sink) DataSize() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataSize
}

// Stop finalizes the sink: rewrites the WAV header, closes the file, and
// (if an UploadFunc was supplied) uploads the result. Safe to call once.
func (s *Sink) Stop() (filePath string, bytesWritten uint32, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.filePath, s.dataSize, nil
	}
	s.stopped = true
	if rewriteErr := s.rewriteHeaderLocked(); rewriteErr != nil {
		s.logger.Error("failed to finalize wav header", "error", rewriteErr)
	}
	closeErr := s.file.Close()
	size := s.dataSize
	s.mu.Unlock()

	if closeErr != nil {
		return s.filePath, size, fmt.Errorf("closing recording file: %w", closeErr)
	}

	s.logger.Info("recording stopped", "bytes", size)

	if s.upload != nil {
		if uerr := s.upload(s.filePath); uerr != nil {
			s.logger.Error("recording upload failed", "error", uerr)
			return s.filePath, size, fmt.Errorf("uploading recording: %w", uerr)
		}
	}
	return s.filePath, size, nil
}

func (s *Sink) rewriteHeaderLocked() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return err
	}
	if err := writeWAVHeader(s.file, s.dataSize); err != nil {
		return err
	}
	_, err := s.file.Seek(0, 2)
	return err
}

// writeWAVHeader writes a 44-byte WAV header for 16-bit mono 8kHz linear PCM.
func writeWAVHeader(f *os.File, dataSize uint32) error {
	var hdr [wavHeaderSize]byte

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // sub-chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(hdr[24:28], frame.SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], frame.SampleRate*2) // byte rate
	binary.LittleEndian.PutUint16(hdr[32:34], 2)                  // block align
	binary.LittleEndian.PutUint16(hdr[34:36], 16)                 // bits per sample

	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	_, err := f.Write(hdr[:])
	return err
}

// DecodeWAV parses a 16-bit mono 8kHz linear PCM WAV file into 160-sample
// frames, for the prompt cache's promptcache.Decoder seam (§4.8 prompt
// compilation). Trailing bytes that do not complete a full frame are
// dropped, matching the WAV round-trip law in §8 (data size is always a
// multiple of 320 bytes for recordings this core produces).
func DecodeWAV(body []byte) ([][]int16, time.Duration, error) {
	if len(body) < wavHeaderSize {
		return nil, 0, fmt.Errorf("recording: wav body too short (%d bytes)", len(body))
	}
	if string(body[0:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("recording: not a RIFF/WAVE file")
	}
	if string(body[12:16]) != "fmt " {
		return nil, 0, fmt.Errorf("recording: missing fmt chunk")
	}
	channels := binary.LittleEndian.Uint16(body[22:24])
	sampleRate := binary.LittleEndian.Uint32(body[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(body[34:36])
	if channels != 1 || sampleRate != frame.SampleRate || bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("recording: unsupported wav format (channels=%d rate=%d bits=%d)", channels, sampleRate, bitsPerSample)
	}
	if string(body[36:40]) != "data" {
		return nil, 0, fmt.Errorf("recording: missing data chunk")
	}
	dataSize := binary.LittleEndian.Uint32(body[40:44])
	data := body[wavHeaderSize:]
	if uint32(len(data)) < dataSize {
		dataSize = uint32(len(data))
	}
	data = data[:dataSize]

	numFrames := len(data) / frame.BytesPerFrame
	frames := make([][]int16, 0, numFrames)
	for i := 0; i < numFrames; i++ {
		chunk := data[i*frame.BytesPerFrame : (i+1)*frame.BytesPerFrame]
		samples := make([]int16, frame.SamplesPerFrame)
		for j := range samples {
			samples[j] = int16(binary.LittleEndian.Uint16(chunk[j*2 : j*2+2]))
		}
		frames = append(frames, samples)
	}
	duration := time.Duration(numFrames) * 20 * time.Millisecond
	return frames, duration, nil
}
