package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Player plays one reply and returns when playback ended
type Player interface {
	Play(ctx context.Context, data []byte, mime string) error
}

// Stats represents playback statistics
type Stats struct {
	Played    uint64 `json:"played"`
	Failed    uint64 `json:"failed"`
	LastFile  string `json:"last_file,omitempty"`
	BytesSeen uint64 `json:"bytes"`
}

// counters is shared by the players
type counters struct {
	stats Stats
	mu    sync.RWMutex
}

func (c *counters) record(n int, file string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.stats.Failed++
		return
	}
	c.stats.Played++
	c.stats.BytesSeen += uint64(n)
	if file != "" {
		c.stats.LastFile = file
	}
}

// Stats returns playback statistics
func (c *counters) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stats
}

// Extension maps a reply MIME type to a file extension
func Extension(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/aac":
		return ".aac"
	default:
		return ".bin"
	}
}

// Discard drops reply audio immediately
type Discard struct {
	counters
}

// NewDiscard creates a player that ignores audio
func NewDiscard() *Discard {
	return &Discard{}
}

// Play records the reply and returns
func (d *Discard) Play(ctx context.Context, data []byte, mime string) error {
	d.record(len(data), "", nil)
	return nil
}

// Spool writes each reply to a directory, for another process to pick up
type Spool struct {
	dir    string
	logger *slog.Logger
	counters
}

// NewSpool creates a spool player, creating dir if needed
func NewSpool(dir string, logger *slog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	return &Spool{dir: dir, logger: logger}, nil
}

// Play writes the reply atomically into the spool directory
func (s *Spool) Play(ctx context.Context, data []byte, mime string) error {
	path, err := s.write(data, mime)
	s.record(len(data), path, err)
	if err != nil {
		return err
	}

	s.logger.Info("Reply audio spooled",
		slog.String("path", path),
		slog.String("mime", mime),
		slog.Int("size", len(data)),
	)
	return nil
}

func (s *Spool) write(data []byte, mime string) (string, error) {
	name := fmt.Sprintf("%s-%s%s", time.Now().UTC().Format("20060102T150405.000"), uuid.NewString()[:8], Extension(mime))
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write reply audio: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish reply audio: %w", err)
	}
	return path, nil
}

// Command plays each reply by running an external program with the audio
// file path appended to its arguments, e.g. ffplay -nodisp -autoexit
type Command struct {
	args   []string
	logger *slog.Logger
	counters
}

// NewCommand creates a player running args[0] with args[1:]
func NewCommand(args []string, logger *slog.Logger) (*Command, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("playback command cannot be empty")
	}

	return &Command{args: append([]string(nil), args...), logger: logger}, nil
}

// Play writes the audio to a temporary file and waits for the program to exit
func (c *Command) Play(ctx context.Context, data []byte, mime string) error {
	err := c.run(ctx, data, mime)
	c.record(len(data), "", err)
	return err
}

func (c *Command) run(ctx context.Context, data []byte, mime string) error {
	f, err := os.CreateTemp("", "reply-*"+Extension(mime))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	args := append(append([]string(nil), c.args[1:]...), f.Name())
	cmd := exec.CommandContext(ctx, c.args[0], args...)

	start := time.Now()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("playback command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	c.logger.Debug("Reply audio played",
		slog.String("command", c.args[0]),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
