package tts

import "context"

// VoiceParams control how synthesized speech sounds
type VoiceParams struct {
	VoiceID          string
	Emotion          string  // angry, cheerful, sad, calm, warm, ...
	EmotionIntensity float64 // Range: 0.0 to 2.0
	Speed            float64 // 1.0 is normal speed
	Pitch            float64 // 1.0 is normal pitch
	OutputFormat     string  // wav, mp3, ogg, aac; wav keeps the audio decodable for echo fingerprinting
}

// Synthesizer is the interface for a text-to-speech client
type Synthesizer interface {
	// Synthesize converts text to audio bytes, or fails with a transport
	// or status error
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
