package audio

import (
	"encoding/binary"
	"math"
)

// Frame is one buffer of raw PCM audio as captured by the client,
// together with the format it claims to be in
type Frame struct {
	Data       []byte
	SampleRate int // Hz
	Channels   int
	BitDepth   int // bits per sample
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples
// Returns false if the buffer is not a whole number of samples
func DecodePCM16(data []byte) ([]int16, bool) {
	if len(data)%2 != 0 {
		return nil, false
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, true
}

// CalculateRMS calculates the root mean square energy of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// DecodeWAV extracts 16-bit PCM samples and the sample rate from a RIFF/WAVE
// container, downmixing multi-channel data to mono. Returns false for
// anything that is not uncompressed 16-bit PCM WAV
func DecodeWAV(data []byte) ([]int16, int, bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, false
	}

	var audioFormat, channels, sampleRate, bitsPerSample int
	var pcm []byte

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 {
			return nil, 0, false
		}
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, false
			}
			audioFormat = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word aligned
		offset = body + size + (size & 1)
	}

	// Format 1 is uncompressed PCM
	if audioFormat != 1 || bitsPerSample != 16 || sampleRate <= 0 || channels <= 0 || pcm == nil {
		return nil, 0, false
	}

	samples, ok := DecodePCM16(pcm[:len(pcm)&^1])
	if !ok || len(samples) == 0 {
		return nil, 0, false
	}

	if channels > 1 {
		mono := make([]int16, len(samples)/channels)
		for i := range mono {
			sum := 0
			for ch := 0; ch < channels; ch++ {
				sum += int(samples[i*channels+ch])
			}
			mono[i] = int16(sum / channels)
		}
		samples = mono
	}

	return samples, sampleRate, true
}
