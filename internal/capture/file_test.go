package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/clock"
)

func writeTestWAV(t *testing.T, samples []float32) string {
	t.Helper()

	data, err := audio.EncodeFloatWAV(samples, audio.SampleRate)
	if err != nil {
		t.Fatalf("EncodeFloatWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadFrames(t *testing.T) {
	path := writeTestWAV(t, make([]float32, 2048*2+100))

	frames, rate, err := LoadFrames(path, 2048, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("LoadFrames failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected input rate 16000, got %d", rate)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if len(frames[2].Samples) != 2048 {
		t.Errorf("Expected padded last frame, got %d samples", len(frames[2].Samples))
	}
}

func TestLoadFramesMissingFile(t *testing.T) {
	if _, _, err := LoadFrames(filepath.Join(t.TempDir(), "none.wav"), 2048, time.Now()); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFileSourceDeliversAllFrames(t *testing.T) {
	path := writeTestWAV(t, make([]float32, 2048*5))
	src := NewFileSource(path, 2048, false, clock.NewFake(time.Unix(0, 0)), testLogger(), nil)

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var got []uint64
	for f := range frames {
		got = append(got, f.Sequence)
	}

	if len(got) != 5 {
		t.Fatalf("Expected 5 frames, got %d", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i) {
			t.Errorf("Frame %d has sequence %d", i, seq)
		}
	}

	src.Stop()
	stats := src.Stats()
	if stats.FramesDelivered != 5 || stats.Running {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestFileSourceRealtimePacing(t *testing.T) {
	path := writeTestWAV(t, make([]float32, 2048*2))
	fake := clock.NewFake(time.Unix(0, 0))
	src := NewFileSource(path, 2048, true, fake, testLogger(), nil)

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	select {
	case <-frames:
		t.Fatal("Frame delivered before its capture time")
	case <-time.After(50 * time.Millisecond):
	}

	// Wait for the player to arm its timer, then release the first frame
	deadline := time.Now().Add(2 * time.Second)
	for fake.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	fake.Advance(128 * time.Millisecond)

	select {
	case f := <-frames:
		if f.Sequence != 0 {
			t.Errorf("Expected frame 0, got %d", f.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame not delivered after advancing the clock")
	}
}
