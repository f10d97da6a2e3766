package recording

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/flowpbx/flowpbx/internal/frame"
)

func TestSinkWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "test.wav")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sink, err := NewSink(fp, false, logger, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	const n = 10
	for i := 0; i < n; i++ {
		var f frame.PCM
		if err := sink.Append(&f); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	_, bytesWritten, err := sink.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if bytesWritten != n*frame.BytesPerFrame {
		t.Errorf("bytesWritten = %d, want %d", bytesWritten, n*frame.BytesPerFrame)
	}

	data, err := os.ReadFile(fp)
	if err != nil {
		t.Fatalf("reading recording: %v", err)
	}

	if string(data[0:4]) != "RIFF" {
		t.Error("missing RIFF marker")
	}
	if string(data[8:12]) != "WAVE" {
		t.Error("missing WAVE marker")
	}

	riffLen := binary.LittleEndian.Uint32(data[4:8])
	wantRiffLen := uint32(36 + frame.BytesPerFrame*n)
	if riffLen != wantRiffLen {
		t.Errorf("riff.len = %d, want %d", riffLen, wantRiffLen)
	}

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if dataSize != uint32(frame.BytesPerFrame*n) {
		t.Errorf("data.blocksize = %d, want %d", dataSize, frame.BytesPerFrame*n)
	}
}

func TestSinkAppendAfterStopFails(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "test.wav")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sink, err := NewSink(fp, false, logger, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.Stop()

	var f frame.PCM
	if err := sink.Append(&f); err == nil {
		t.Error("Append after Stop should fail")
	}
}

func TestSinkDoubleStop(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "test.wav")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sink, err := NewSink(fp, false, logger, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if _, _, err := sink.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if _, _, err := sink.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}

func TestSinkUploadCalledOnStop(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "test.wav")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	var uploaded string
	upload := func(path string) error {
		uploaded = path
		return nil
	}

	sink, err := NewSink(fp, false, logger, upload)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.Stop()

	if uploaded != fp {
		t.Errorf("upload called with %q, want %q", uploaded, fp)
	}
}

func TestSinkCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "a", "b", "c", "test.wav")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	sink, err := NewSink(fp, false, logger, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.Stop()

	if _, err := os.Stat(fp); err != nil {
		t.Errorf("recording file not created: %v", err)
	}
}
