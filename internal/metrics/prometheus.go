package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the hands-free VAD daemon
type Metrics struct {
	// Capture metrics
	CaptureFramesReceived prometheus.Counter
	CaptureFramesDropped  prometheus.Counter
	CaptureSequenceGaps   prometheus.Counter
	CaptureParseErrors    prometheus.Counter

	// VAD metrics
	FramesProcessed   prometheus.Counter
	SpeechFrames      prometheus.Counter
	ProcessingTime    prometheus.Histogram
	FrameEnergy       prometheus.Histogram
	FramesIgnoredBusy prometheus.Counter

	// Calibration metrics
	CalibrationRuns   *prometheus.CounterVec
	ProfileNoiseFloor prometheus.Gauge
	ProfileVoiceMean  prometheus.Gauge
	ProfilePitchMin   prometheus.Gauge
	ProfilePitchMax   prometheus.Gauge

	// Utterance metrics
	UtterancesEmitted prometheus.Counter
	UtteranceDuration prometheus.Histogram
	UtteranceSize     prometheus.Histogram

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	UploadDuration  prometheus.Histogram
	UploadRetries   prometheus.Counter

	// Engine state
	EngineStatus *prometheus.GaugeVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// Statuses lists the label values of the engine status gauge
var Statuses = []string{"idle", "calibrating", "listening", "processing", "speaking"}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		CaptureFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_capture_frames_received_total",
			Help: "Total number of audio frames delivered by the capture source",
		}),
		CaptureFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_capture_frames_dropped_total",
			Help: "Total number of frames dropped because the engine queue was full",
		}),
		CaptureSequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_capture_sequence_gaps_total",
			Help: "Total number of frames missing from the capture sequence",
		}),
		CaptureParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_capture_parse_errors_total",
			Help: "Total number of capture datagrams that failed to parse",
		}),

		// VAD metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_vad_frames_processed_total",
			Help: "Total number of frames passed through feature extraction",
		}),
		SpeechFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_vad_speech_frames_total",
			Help: "Total number of frames the speech gate accepted",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadd_vad_processing_duration_seconds",
			Help:    "Time spent extracting features and gating one frame",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50µs to ~100ms
		}),
		FrameEnergy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadd_vad_frame_energy",
			Help:    "RMS energy of processed frames",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11), // 0.001 to ~1
		}),
		FramesIgnoredBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_vad_frames_ignored_total",
			Help: "Total number of frames ignored while an utterance was in flight",
		}),

		// Calibration metrics
		CalibrationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vadd_calibration_runs_total",
			Help: "Total number of calibration runs by outcome",
		}, []string{"outcome"}),
		ProfileNoiseFloor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vadd_profile_noise_floor",
			Help: "Noise floor energy of the active voice profile",
		}),
		ProfileVoiceMean: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vadd_profile_voice_mean",
			Help: "Mean voice energy of the active voice profile",
		}),
		ProfilePitchMin: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vadd_profile_pitch_min_hz",
			Help: "Lower pitch bound of the active voice profile",
		}),
		ProfilePitchMax: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vadd_profile_pitch_max_hz",
			Help: "Upper pitch bound of the active voice profile",
		}),

		// Utterance metrics
		UtterancesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_utterances_emitted_total",
			Help: "Total number of utterances emitted by the segmenter",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadd_utterance_duration_seconds",
			Help:    "Audio duration of emitted utterances",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 9), // 125ms to ~32s
		}),
		UtteranceSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadd_utterance_size_bytes",
			Help:    "Size of encoded utterance WAV files in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10), // 4KB to ~2MB
		}),

		// Upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_upload_requests_total",
			Help: "Total number of utterance uploads sent",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_upload_successes_total",
			Help: "Total number of successful utterance uploads",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_upload_failures_total",
			Help: "Total number of failed utterance uploads",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vadd_upload_duration_seconds",
			Help:    "Duration of utterance uploads including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		UploadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "vadd_upload_retries_total",
			Help: "Total number of utterance upload retries",
		}),

		EngineStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vadd_engine_status",
			Help: "Current engine status, 1 for the active status and 0 otherwise",
		}, []string{"status"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vadd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vadd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vadd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// NewUnregistered returns metrics backed by a private registry, for components
// constructed without a shared one
func NewUnregistered() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordCaptureFrame increments the frames received counter
func (m *Metrics) RecordCaptureFrame() {
	m.CaptureFramesReceived.Inc()
}

// RecordSequenceGap adds missing frames to the sequence gap counter
func (m *Metrics) RecordSequenceGap(missing uint64) {
	m.CaptureSequenceGaps.Add(float64(missing))
}

// RecordCaptureDrop increments the dropped frames counter
func (m *Metrics) RecordCaptureDrop() {
	m.CaptureFramesDropped.Inc()
}

// RecordParseError increments the capture parse errors counter
func (m *Metrics) RecordParseError() {
	m.CaptureParseErrors.Inc()
}

// RecordFrame records one processed frame
func (m *Metrics) RecordFrame(isSpeech bool, energy, processingTimeSeconds float64) {
	m.FramesProcessed.Inc()
	if isSpeech {
		m.SpeechFrames.Inc()
	}
	m.FrameEnergy.Observe(energy)
	m.ProcessingTime.Observe(processingTimeSeconds)
}

// RecordIgnoredFrame increments the busy-ignored frames counter
func (m *Metrics) RecordIgnoredFrame() {
	m.FramesIgnoredBusy.Inc()
}

// RecordCalibration records a calibration outcome (completed, cancelled, failed)
func (m *Metrics) RecordCalibration(outcome string) {
	m.CalibrationRuns.WithLabelValues(outcome).Inc()
}

// SetProfile publishes the active voice profile
func (m *Metrics) SetProfile(noiseFloor, voiceMean, pitchMin, pitchMax float64) {
	m.ProfileNoiseFloor.Set(noiseFloor)
	m.ProfileVoiceMean.Set(voiceMean)
	m.ProfilePitchMin.Set(pitchMin)
	m.ProfilePitchMax.Set(pitchMax)
}

// RecordUtterance records an emitted utterance
func (m *Metrics) RecordUtterance(durationSeconds float64, sizeBytes int) {
	m.UtterancesEmitted.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceSize.Observe(float64(sizeBytes))
}

// RecordUploadRequest increments upload requests counter
func (m *Metrics) RecordUploadRequest() {
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload
func (m *Metrics) RecordUploadFailure(durationSeconds float64) {
	m.UploadFailures.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadRetry increments the retry counter
func (m *Metrics) RecordUploadRetry() {
	m.UploadRetries.Inc()
}

// SetStatus marks status as the active engine status
func (m *Metrics) SetStatus(status string) {
	for _, s := range Statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.EngineStatus.WithLabelValues(s).Set(v)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
