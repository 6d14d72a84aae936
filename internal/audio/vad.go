package audio

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FrameClassifier decides whether one fixed-duration PCM frame contains speech.
// Implementations wrap whatever VAD backend is in use; the gate only needs
// the boolean answer
type FrameClassifier interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// GateConfig holds configuration for the VAD gate
type GateConfig struct {
	FrameDuration time.Duration // Duration of one classification frame (default 30ms)
	SampleRate    int           // Required sample rate in Hz (default 16000)
}

// DefaultGateConfig returns a default gate configuration
func DefaultGateConfig() GateConfig {
	return GateConfig{
		FrameDuration: 30 * time.Millisecond,
		SampleRate:    16000,
	}
}

// Gate validates incoming audio buffers and scans them frame by frame for
// speech. Buffers that cannot be judged are reported as non-speech; the gate
// never returns an error to its caller
type Gate struct {
	config     GateConfig
	classifier FrameClassifier
	logger     zerolog.Logger
}

// NewGate creates a VAD gate backed by the given classifier
func NewGate(config GateConfig, classifier FrameClassifier, logger zerolog.Logger) *Gate {
	if config.FrameDuration <= 0 {
		config.FrameDuration = 30 * time.Millisecond
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	return &Gate{
		config:     config,
		classifier: classifier,
		logger:     logger,
	}
}

// FrameBytes returns the size of one classification frame in bytes
func (g *Gate) FrameBytes() int {
	samples := int(float64(g.config.SampleRate) * g.config.FrameDuration.Seconds())
	return samples * 2 // 16-bit mono
}

// DetectSpeech reports whether any frame in the buffer is classified as
// speech, scanning left to right and stopping at the first positive.
// Malformed input fails closed to false: wrong format, buffers shorter than
// one frame, and mis-aligned 16-bit data are all reported as non-speech
func (g *Gate) DetectSpeech(f Frame) bool {
	if f.Channels != 1 || f.BitDepth != 16 || f.SampleRate != g.config.SampleRate {
		g.logger.Debug().
			Int("channels", f.Channels).
			Int("bit_depth", f.BitDepth).
			Int("sample_rate", f.SampleRate).
			Msg("Audio format not supported: must be mono 16-bit at the configured rate")
		return false
	}

	if len(f.Data)%2 != 0 {
		g.logger.Debug().Int("bytes", len(f.Data)).Msg("Audio buffer not aligned to 16-bit samples")
		return false
	}

	frameBytes := g.FrameBytes()
	if len(f.Data) < frameBytes {
		g.logger.Debug().
			Int("bytes", len(f.Data)).
			Int("frame_bytes", frameBytes).
			Msg("Audio buffer too short to judge")
		return false
	}

	for offset := 0; offset+frameBytes <= len(f.Data); offset += frameBytes {
		frame := f.Data[offset : offset+frameBytes]
		speech, err := g.classifier.IsSpeech(frame, f.SampleRate)
		if err != nil {
			// Skip the bad frame and keep scanning rather than rejecting
			// the whole buffer
			g.logger.Debug().Err(err).Int("offset", offset).Msg("Classifier failed on frame, skipping")
			continue
		}
		if speech {
			return true
		}
	}

	return false
}

// EnergyClassifier is the default frame classifier: a frame is speech when
// its RMS energy exceeds a fixed threshold
type EnergyClassifier struct {
	Threshold float64
}

// NewEnergyClassifier creates an energy-based classifier
func NewEnergyClassifier(threshold float64) *EnergyClassifier {
	if threshold <= 0 {
		threshold = 500.0
	}
	return &EnergyClassifier{Threshold: threshold}
}

// IsSpeech reports whether the frame's RMS energy exceeds the threshold
func (c *EnergyClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	samples, ok := DecodePCM16(frame)
	if !ok {
		return false, fmt.Errorf("frame length %d is not a whole number of samples", len(frame))
	}
	if len(samples) == 0 {
		return false, fmt.Errorf("empty frame")
	}
	return CalculateRMS(samples) > c.Threshold, nil
}
