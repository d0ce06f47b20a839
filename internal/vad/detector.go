package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// rmsFullScale is the RMS amplitude mapped to probability 1.0. Typical
// speech recorded at sensible gain sits well below full-scale int16, so
// normalizing against 10000 keeps the usable probability range wide.
const rmsFullScale = 10000.0

// smoothingFactor is the weight of the current window when smoothing
// probabilities across consecutive windows.
const smoothingFactor = 0.6

// Detector performs voice activity detection on fixed-size windows of
// 16-bit PCM samples using smoothed RMS energy
type Detector struct {
	threshold  float32
	windowSize int // Samples per analysis window

	// Detection state
	lastResult float32

	// Statistics
	totalWindows uint64
	voiceWindows uint64
	lastDetected time.Time

	mu sync.RWMutex
}

// Result represents the outcome of analyzing one window
type Result struct {
	Probability float32 `json:"probability"`  // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`    // Whether the window crossed the threshold
	RMS         float64 `json:"rms"`          // Raw RMS amplitude of the window
	WindowIndex int     `json:"window_index"` // Index of the window since creation or Reset
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastDetected    time.Time `json:"last_detected"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates a new voice activity detector
func NewDetector(threshold float32, windowSize int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
	}, nil
}

// Detect analyzes a window of audio samples and returns the voice activity
// result. The window must contain exactly WindowSize samples.
func (d *Detector) Detect(samples []int16) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(samples) != d.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", d.windowSize, len(samples))
	}

	rms := rmsAmplitude(samples)

	probability := float32(rms / rmsFullScale)
	if probability > 1 {
		probability = 1
	}

	// Smooth against the previous window so isolated spikes and dropouts
	// do not flip the voice state.
	if d.totalWindows > 0 {
		probability = smoothingFactor*probability + (1-smoothingFactor)*d.lastResult
	}
	d.lastResult = probability

	hasVoice := probability >= d.threshold

	d.totalWindows++
	if hasVoice {
		d.voiceWindows++
		d.lastDetected = time.Now()
	}

	return &Result{
		Probability: probability,
		HasVoice:    hasVoice,
		RMS:         rms,
		WindowIndex: int(d.totalWindows - 1),
	}, nil
}

// rmsAmplitude computes the root mean square amplitude of a window
func rmsAmplitude(samples []int16) float64 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalWindows > 0 {
		voicePercentage = float64(d.voiceWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		TotalWindows:    d.totalWindows,
		VoiceWindows:    d.voiceWindows,
		VoicePercentage: voicePercentage,
		LastDetected:    d.lastDetected,
		Threshold:       d.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (d *Detector) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.threshold = threshold
	return nil
}

// Reset resets the detector state and statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalWindows = 0
	d.voiceWindows = 0
	d.lastResult = 0
	d.lastDetected = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (d *Detector) GetThreshold() float32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// GetWindowSize returns the window size in samples
func (d *Detector) GetWindowSize() int {
	return d.windowSize
}
