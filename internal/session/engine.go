package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/calibration"
	"github.com/skypro1111/handsfree-vad/internal/capture"
	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
	"github.com/skypro1111/handsfree-vad/internal/playback"
	"github.com/skypro1111/handsfree-vad/internal/transport"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

var (
	// ErrNotCalibrated is returned by StartHandsFree before any profile exists
	ErrNotCalibrated = errors.New("no voice profile: calibrate first")
	// ErrCalibrating is returned by StartHandsFree while calibration runs
	ErrCalibrating = errors.New("calibration in progress")
	// ErrEngineStopped is returned by control methods after Run returned
	ErrEngineStopped = errors.New("session engine stopped")
)

// Uploader sends an encoded utterance to the voice service
type Uploader interface {
	Send(ctx context.Context, upload *transport.Upload) (*transport.Reply, error)
}

// Config contains engine parameters
type Config struct {
	SampleRate  int
	FrameSize   int
	Extractor   vad.ExtractorConfig
	Gate        vad.GateConfig
	Calibration calibration.Config
	ProfilePath string // optional, completed profiles are saved here
}

// NewConfig derives the engine parameters from the daemon configuration
func NewConfig(cfg *config.Config) Config {
	return Config{
		SampleRate:  cfg.Audio.SampleRate,
		FrameSize:   cfg.Audio.FrameSize,
		Extractor:   cfg.VAD.ExtractorConfig(cfg.Audio.SampleRate),
		Gate:        cfg.VAD.GateConfig(),
		Calibration: cfg.Calibration.ControllerConfig(),
		ProfilePath: cfg.Calibration.ProfilePath,
	}
}

// Option configures optional engine collaborators
type Option func(*Engine)

// WithClock replaces the wall clock driving calibration phases
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithProfileStore shares an existing profile store with the engine
func WithProfileStore(store *vad.ProfileStore) Option {
	return func(e *Engine) { e.profiles = store }
}

// WithNotifier adds a receiver of status and log events
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

// Snapshot is the externally visible engine state
type Snapshot struct {
	Status      Status       `json:"status"`
	Text        string       `json:"text"`
	HandsFree   bool         `json:"hands_free"`
	Calibration string       `json:"calibration"`
	Uploading   bool         `json:"uploading"`
	Capturing   bool         `json:"capturing"`
	Profile     *vad.Profile `json:"profile,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Stats represents engine statistics
type Stats struct {
	Calibrations     uint64               `json:"calibrations"`
	Utterances       uint64               `json:"utterances"`
	Replies          uint64               `json:"replies"`
	EmptyTranscripts uint64               `json:"empty_transcripts"`
	UploadErrors     uint64               `json:"upload_errors"`
	PlaybackErrors   uint64               `json:"playback_errors"`
	SessionsDone     uint64               `json:"sessions_done"`
	FrameErrors      uint64               `json:"frame_errors"`
	Processor        vad.ProcessorStats   `json:"processor"`
	Segmenter        audio.SegmenterStats `json:"segmenter"`
	Capture          capture.Stats        `json:"capture"`
}

type commandKind int

const (
	cmdCalibrate commandKind = iota
	cmdStartHandsFree
	cmdStopHandsFree
)

type command struct {
	kind  commandKind
	reply chan error
}

// outcome is the result of an upload or of the playback that followed it
type outcome struct {
	generation uint64
	utterance  string
	reply      *transport.Reply
	err        error
	played     bool
}

// Engine is the hands-free session state machine
type Engine struct {
	config    Config
	source    capture.Source
	uploader  Uploader
	player    playback.Player
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	profiles  *vad.ProfileStore
	notifiers []Notifier

	processor  *vad.Processor
	calibrator *calibration.Controller
	segmenter  *audio.Segmenter

	commands chan command
	outcomes chan outcome
	running  atomic.Bool
	done     chan struct{}

	// Owned by the Run goroutine
	runCtx       context.Context
	frames       <-chan audio.Frame
	handsFree    bool
	inflight     bool
	generation   uint64
	cancelUpload context.CancelFunc
	workers      sync.WaitGroup

	// Published state
	state Snapshot
	stats Stats
	mu    sync.RWMutex
}

// NewEngine creates an idle engine. A profile saved at cfg.ProfilePath is
// restored into the profile store.
func NewEngine(cfg Config, source capture.Source, uploader Uploader, player playback.Player, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("capture source cannot be nil")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader cannot be nil")
	}
	if player == nil {
		player = playback.NewDiscard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	e := &Engine{
		config:   cfg,
		source:   source,
		uploader: uploader,
		player:   player,
		clock:    clock.Real(),
		logger:   logger,
		metrics:  m,
		commands: make(chan command),
		outcomes: make(chan outcome, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.profiles == nil {
		e.profiles = vad.NewProfileStore()
	}

	processor, err := vad.NewProcessor(cfg.Extractor, cfg.Gate, cfg.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame processor: %w", err)
	}

	calibrator, err := calibration.NewController(cfg.Calibration, e.clock, e.profiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create calibration controller: %w", err)
	}

	e.processor = processor
	e.calibrator = calibrator
	e.segmenter = audio.NewSegmenter(cfg.SampleRate)
	e.state = Snapshot{
		Status:      StatusIdle,
		Text:        TextIdle,
		Calibration: calibration.PhaseIdle.String(),
		UpdatedAt:   e.clock.Now(),
	}

	e.restoreProfile()

	return e, nil
}

func (e *Engine) restoreProfile() {
	if e.config.ProfilePath == "" {
		return
	}
	if _, ok := e.profiles.Get(); ok {
		return
	}

	profile, err := vad.LoadProfile(e.config.ProfilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("Failed to restore voice profile",
				slog.String("path", e.config.ProfilePath),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	e.profiles.Set(profile)
	e.metrics.SetProfile(profile.NoiseFloor, profile.VoiceMean, profile.PitchMin, profile.PitchMax)
	e.logger.Info("Voice profile restored",
		slog.String("path", e.config.ProfilePath),
		slog.Float64("noise_floor", profile.NoiseFloor),
		slog.Float64("voice_mean", profile.VoiceMean),
		slog.Float64("pitch_min", profile.PitchMin),
		slog.Float64("pitch_max", profile.PitchMax),
	)
}

// Run processes frames and commands until ctx is cancelled. It may be
// called only once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session engine already running")
	}
	e.runCtx = ctx
	defer close(e.done)

	e.metrics.SetStatus(string(StatusIdle))
	e.logger.Info("Session engine started",
		slog.String("source", e.source.Name()),
		slog.Int("frame_size", e.config.FrameSize),
		slog.Int("sample_rate", e.config.SampleRate),
	)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil

		case cmd := <-e.commands:
			cmd.reply <- e.execute(cmd.kind)

		case frame, ok := <-e.frames:
			if !ok {
				e.captureEnded()
				continue
			}
			e.handleFrame(frame)

		case <-e.calibrator.Deadline():
			e.advanceCalibration()

		case o := <-e.outcomes:
			e.handleOutcome(o)
		}
	}
}

func (e *Engine) shutdown() {
	e.abortUpload()
	if e.calibrator.Cancel() {
		e.metrics.RecordCalibration("cancelled")
	}
	e.segmenter.Reset()
	e.handsFree = false
	e.stopCapture()
	e.workers.Wait()
	e.publish()

	e.logger.Info("Session engine stopped")
}

// Done is closed when Run has returned
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// StartCalibration begins a calibration run, replacing one in progress.
// Hands-free mode is switched off first.
func (e *Engine) StartCalibration(ctx context.Context) error {
	return e.do(ctx, cmdCalibrate)
}

// StartHandsFree starts listening for utterances
func (e *Engine) StartHandsFree(ctx context.Context) error {
	return e.do(ctx, cmdStartHandsFree)
}

// StopHandsFree stops listening. A partial utterance, an in-flight upload and
// a running calibration are all discarded.
func (e *Engine) StopHandsFree(ctx context.Context) error {
	return e.do(ctx, cmdStopHandsFree)
}

func (e *Engine) do(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}

	select {
	case e.commands <- cmd:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) execute(kind commandKind) error {
	defer e.publish()

	switch kind {
	case cmdCalibrate:
		return e.startCalibration()
	case cmdStartHandsFree:
		return e.startHandsFree()
	case cmdStopHandsFree:
		e.stopHandsFree()
		return nil
	default:
		return fmt.Errorf("unknown command %d", kind)
	}
}

func (e *Engine) startCalibration() error {
	if e.handsFree {
		e.abortUpload()
		e.segmenter.Reset()
		e.handsFree = false
		e.report(slog.LevelInfo, "Hands-free OFF")
	}

	if err := e.ensureCapture(); err != nil {
		return err
	}

	if e.calibrator.Start() {
		e.metrics.RecordCalibration("overridden")
		e.report(slog.LevelWarn, "Calibration restarted")
	}

	e.report(slog.LevelInfo, "Starting calibration…")
	e.report(slog.LevelInfo, fmt.Sprintf("Calibration step 1/2: capturing room noise for %s…", e.config.Calibration.NoiseDuration))
	e.setStatus(StatusCalibrating, TextCalibratingNoise)
	return nil
}

func (e *Engine) advanceCalibration() {
	t, err := e.calibrator.Advance()
	if err != nil {
		e.logger.Warn("Calibration deadline without a run", slog.String("error", err.Error()))
		return
	}

	if t.Profile == nil {
		e.report(slog.LevelInfo, fmt.Sprintf("Calibration step 2/2: please speak normally for %s…", e.config.Calibration.VoiceDuration),
			slog.Int("noise_samples", t.NoiseSamples),
		)
		e.setStatus(StatusCalibrating, TextCalibratingVoice)
		e.publish()
		return
	}

	profile := *t.Profile
	e.metrics.RecordCalibration("completed")
	e.metrics.SetProfile(profile.NoiseFloor, profile.VoiceMean, profile.PitchMin, profile.PitchMax)

	e.report(slog.LevelInfo, "Calibration complete:",
		slog.Int("noise_samples", t.NoiseSamples),
		slog.Int("voice_samples", t.VoiceSamples),
		slog.Duration("elapsed", t.Elapsed),
	)
	if data, err := json.MarshalIndent(profile, "", "  "); err == nil {
		e.report(slog.LevelInfo, string(data))
	}

	if e.config.ProfilePath != "" {
		if err := vad.SaveProfile(e.config.ProfilePath, profile); err != nil {
			e.logger.Warn("Failed to save voice profile", slog.String("error", err.Error()))
		}
	}

	e.mu.Lock()
	e.stats.Calibrations++
	e.mu.Unlock()

	e.stopCapture()
	e.setStatus(StatusIdle, TextIdle)
	e.publish()
}

func (e *Engine) startHandsFree() error {
	if _, ok := e.profiles.Get(); !ok {
		e.report(slog.LevelWarn, "Calibrate first.")
		return ErrNotCalibrated
	}
	if e.calibrator.Active() {
		return ErrCalibrating
	}
	if e.handsFree {
		return nil
	}

	if err := e.ensureCapture(); err != nil {
		return err
	}

	e.segmenter.Reset()
	e.handsFree = true
	e.report(slog.LevelInfo, "Hands-free ON")
	e.setStatus(StatusListening, TextListening)
	return nil
}

// stopHandsFree synchronously drops everything belonging to the current
// listening session
func (e *Engine) stopHandsFree() {
	if e.calibrator.Cancel() {
		e.metrics.RecordCalibration("cancelled")
		e.report(slog.LevelInfo, "Calibration cancelled")
	}
	e.abortUpload()
	e.segmenter.Reset()
	e.stopCapture()

	wasOn := e.handsFree
	e.handsFree = false
	if wasOn {
		e.report(slog.LevelInfo, "Hands-free OFF")
	}
	e.setStatus(StatusIdle, TextIdle)
}

func (e *Engine) ensureCapture() error {
	if e.frames != nil {
		return nil
	}

	frames, err := e.source.Start(e.runCtx)
	if err != nil {
		e.report(slog.LevelError, "Capture error: "+err.Error(), slog.String("source", e.source.Name()))
		e.setStatus(StatusIdle, TextIdle)
		return fmt.Errorf("failed to start %s capture: %w", e.source.Name(), err)
	}

	e.frames = frames
	return nil
}

func (e *Engine) stopCapture() {
	if e.frames == nil {
		return
	}
	e.frames = nil

	if err := e.source.Stop(); err != nil {
		e.logger.Warn("Failed to stop capture",
			slog.String("source", e.source.Name()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) captureEnded() {
	e.frames = nil
	e.logger.Warn("Capture stream ended", slog.String("source", e.source.Name()))

	// calibration finishes on its deadline with what was collected
	if e.handsFree && !e.inflight {
		e.stopHandsFree()
	}
	e.publish()
}

func (e *Engine) handleFrame(frame audio.Frame) {
	switch {
	case e.calibrator.Active():
		feature, err := e.processor.Analyze(frame.Samples)
		if err != nil {
			e.frameError(frame, err)
			return
		}
		e.calibrator.Feed(feature)

	case e.handsFree:
		e.segmentFrame(frame)
	}
}

func (e *Engine) segmentFrame(frame audio.Frame) {
	if e.segmenter.State() == audio.SegmenterBusy {
		e.segmenter.Process(frame, false)
		e.metrics.RecordIgnoredFrame()
		return
	}

	profile, ok := e.profiles.Get()
	if !ok {
		return
	}

	result, err := e.processor.Process(frame.Samples, &profile)
	if err != nil {
		e.frameError(frame, err)
		return
	}
	e.metrics.RecordFrame(result.IsSpeech, result.Feature.Energy, result.ProcessingTime.Seconds())

	event, utt, err := e.segmenter.Process(frame, result.IsSpeech)
	if err != nil {
		e.frameError(frame, err)
	}

	switch event {
	case audio.EventSpeechStarted:
		e.logger.Debug("Speech started",
			slog.Uint64("sequence", frame.Sequence),
			slog.Float64("energy", result.Feature.Energy),
			slog.Float64("pitch", result.Feature.Pitch),
		)
		e.setStatus(StatusListening, TextListening)
	case audio.EventUtteranceReady:
		e.dispatch(utt)
	}
}

func (e *Engine) frameError(frame audio.Frame, err error) {
	e.mu.Lock()
	e.stats.FrameErrors++
	e.mu.Unlock()

	e.logger.Warn("Frame rejected",
		slog.Uint64("sequence", frame.Sequence),
		slog.Int("samples", len(frame.Samples)),
		slog.String("error", err.Error()),
	)
}

// dispatch encodes a finished utterance and starts its upload
func (e *Engine) dispatch(utt *audio.Utterance) {
	wav, err := audio.EncodeUtterance(utt.Frames, utt.SampleRate)
	if err != nil {
		e.logger.Error("Failed to encode utterance",
			slog.String("utterance_id", utt.ID),
			slog.String("error", err.Error()),
		)
		e.segmenter.Release()
		return
	}

	e.metrics.RecordUtterance(utt.Duration().Seconds(), len(wav))
	e.mu.Lock()
	e.stats.Utterances++
	e.mu.Unlock()

	e.setStatus(StatusProcessing, TextProcessing)
	e.report(slog.LevelInfo, "Uploading speech…",
		slog.String("utterance_id", utt.ID),
		slog.Int("frames", len(utt.Frames)),
		slog.Duration("duration", utt.Duration()),
		slog.Int("size", len(wav)),
	)

	ctx, cancel := context.WithCancel(e.runCtx)
	e.generation++
	e.cancelUpload = cancel
	e.inflight = true

	upload := &transport.Upload{
		UtteranceID: utt.ID,
		WAV:         wav,
		Duration:    utt.Duration(),
		SampleRate:  utt.SampleRate,
	}

	e.workers.Add(1)
	go e.upload(ctx, e.generation, upload)
	e.publish()
}

func (e *Engine) upload(ctx context.Context, generation uint64, upload *transport.Upload) {
	defer e.workers.Done()

	reply, err := e.uploader.Send(ctx, upload)
	e.deliver(outcome{
		generation: generation,
		utterance:  upload.UtteranceID,
		reply:      reply,
		err:        err,
	})
}

func (e *Engine) play(ctx context.Context, generation uint64, utterance string, reply *transport.Reply) {
	defer e.workers.Done()

	err := e.player.Play(ctx, reply.Audio, reply.AudioMIME)
	e.deliver(outcome{
		generation: generation,
		utterance:  utterance,
		reply:      reply,
		err:        err,
		played:     true,
	})
}

func (e *Engine) deliver(o outcome) {
	select {
	case e.outcomes <- o:
	case <-e.runCtx.Done():
	}
}

func (e *Engine) abortUpload() {
	if e.cancelUpload != nil {
		e.cancelUpload()
		e.cancelUpload = nil
	}
	// results of the aborted generation are discarded on arrival
	e.generation++
	e.inflight = false
}

func (e *Engine) handleOutcome(o outcome) {
	if o.generation != e.generation {
		e.logger.Debug("Discarding stale upload result", slog.String("utterance_id", o.utterance))
		return
	}
	defer e.publish()

	if o.played {
		if o.err != nil && !errors.Is(o.err, context.Canceled) {
			e.mu.Lock()
			e.stats.PlaybackErrors++
			e.mu.Unlock()
			e.report(slog.LevelWarn, "TTS play error: "+o.err.Error())
		}
		e.finish(o.reply)
		return
	}

	if o.err != nil {
		if errors.Is(o.err, transport.ErrEmptyTranscript) {
			e.mu.Lock()
			e.stats.EmptyTranscripts++
			e.mu.Unlock()
			e.report(slog.LevelInfo, "Nothing recognized", slog.String("utterance_id", o.utterance))
			e.finish(&transport.Reply{})
			return
		}

		e.mu.Lock()
		e.stats.UploadErrors++
		e.mu.Unlock()
		e.report(slog.LevelError, "Upload error: "+o.err.Error(), slog.String("utterance_id", o.utterance))
		e.release()
		e.setStatus(StatusIdle, TextError)
		return
	}

	reply := o.reply
	e.mu.Lock()
	e.stats.Replies++
	e.mu.Unlock()

	e.report(slog.LevelInfo, "User → "+reply.UserText, slog.String("utterance_id", o.utterance))
	e.report(slog.LevelInfo, "AI → "+reply.ReplyText, slog.Duration("latency", reply.Latency))

	if reply.HasAudio() {
		e.setStatus(StatusSpeaking, TextSpeaking)

		if e.cancelUpload != nil {
			e.cancelUpload()
		}
		ctx, cancel := context.WithCancel(e.runCtx)
		e.cancelUpload = cancel
		e.workers.Add(1)
		go e.play(ctx, e.generation, o.utterance, reply)
		return
	}

	e.finish(reply)
}

// finish ends the handling of one utterance
func (e *Engine) finish(reply *transport.Reply) {
	e.release()

	if reply.SessionDone || e.frames == nil {
		if reply.SessionDone {
			e.mu.Lock()
			e.stats.SessionsDone++
			e.mu.Unlock()
			e.report(slog.LevelInfo, "Session done, stopping hands-free")
		}
		e.stopHandsFree()
		return
	}

	e.setStatus(StatusListening, TextListening)
}

func (e *Engine) release() {
	if e.cancelUpload != nil {
		e.cancelUpload()
		e.cancelUpload = nil
	}
	e.inflight = false
	e.segmenter.Release()
}

func (e *Engine) setStatus(status Status, text string) {
	e.mu.Lock()
	unchanged := e.state.Status == status && e.state.Text == text
	e.state.Status = status
	e.state.Text = text
	e.state.UpdatedAt = e.clock.Now()
	e.publishLocked()
	e.mu.Unlock()

	if unchanged {
		return
	}

	e.metrics.SetStatus(string(status))
	e.logger.Debug("Status changed", slog.String("status", string(status)), slog.String("text", text))
	e.notify(Event{Kind: EventStatus, Status: status, Text: text, Time: e.clock.Now()})
}

// report writes a log line and forwards it to the UI
func (e *Engine) report(level slog.Level, msg string, attrs ...slog.Attr) {
	e.logger.LogAttrs(context.Background(), level, msg, attrs...)
	e.notify(Event{Kind: EventLog, Level: level.String(), Message: msg, Time: e.clock.Now()})
}

func (e *Engine) notify(ev Event) {
	for _, n := range e.notifiers {
		n.Notify(ev)
	}
}

// publish copies loop-owned state into the snapshot
func (e *Engine) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.publishLocked()
}

func (e *Engine) publishLocked() {
	e.state.HandsFree = e.handsFree
	e.state.Calibration = e.calibrator.Phase().String()
	e.state.Uploading = e.inflight
	e.state.Capturing = e.frames != nil
}

// Snapshot returns the current engine state
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	s := e.state
	e.mu.RUnlock()

	if p, ok := e.profiles.Get(); ok {
		s.Profile = &p
	}
	return s
}

// Profile returns the active voice profile
func (e *Engine) Profile() (vad.Profile, bool) {
	return e.profiles.Get()
}

// GetStats returns engine statistics
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	s := e.stats
	e.mu.RUnlock()

	s.Processor = e.processor.GetStats()
	s.Segmenter = e.segmenter.GetStats()
	s.Capture = e.source.Stats()
	return s
}
