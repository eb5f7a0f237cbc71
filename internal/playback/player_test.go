package playback

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"audio/mpeg":               ".mp3",
		"audio/wav":                ".wav",
		"Audio/Ogg; codecs=opus":   ".ogg",
		"application/octet-stream": ".bin",
		"":                         ".bin",
	}

	for mime, want := range tests {
		if got := Extension(mime); got != want {
			t.Errorf("Extension(%q) = %s, want %s", mime, got, want)
		}
	}
}

func TestDiscard(t *testing.T) {
	d := NewDiscard()

	if err := d.Play(context.Background(), []byte{1, 2, 3}, "audio/mpeg"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	stats := d.Stats()
	if stats.Played != 1 || stats.BytesSeen != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSpoolWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replies")
	s, err := NewSpool(dir, testLogger())
	if err != nil {
		t.Fatalf("NewSpool failed: %v", err)
	}

	if err := s.Play(context.Background(), []byte("ID3"), "audio/mpeg"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	stats := s.Stats()
	if stats.Played != 1 || filepath.Ext(stats.LastFile) != ".mp3" {
		t.Fatalf("Unexpected stats: %+v", stats)
	}

	data, err := os.ReadFile(stats.LastFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "ID3" {
		t.Errorf("Unexpected spooled content: %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected exactly one file without temp leftovers, got %d", len(entries))
	}
}

func TestCommandPlayer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX utilities")
	}

	ok, err := NewCommand([]string{"test", "-s"}, testLogger())
	if err != nil {
		t.Fatalf("NewCommand failed: %v", err)
	}
	if err := ok.Play(context.Background(), []byte("audio"), "audio/wav"); err != nil {
		t.Errorf("Expected command to succeed, got %v", err)
	}

	failing, _ := NewCommand([]string{"false"}, testLogger())
	if err := failing.Play(context.Background(), []byte("audio"), "audio/wav"); err == nil {
		t.Error("Expected error from failing command")
	}
	if failing.Stats().Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failing.Stats().Failed)
	}

	if _, err := NewCommand(nil, testLogger()); err == nil {
		t.Error("Expected error for empty command")
	}
}
