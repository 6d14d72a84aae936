package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBands are the frequency band edges, in Hz, used for fingerprinting
var DefaultBands = []float64{0, 500, 1000, 2000, 4000}

// Fingerprint is a compact summary of a buffer's frequency content: the
// average magnitude within each band of DefaultBands
type Fingerprint []float64

// ExtractFingerprint computes the magnitude spectrum of the samples and
// averages it within the fixed frequency bands. Returns nil when there is
// nothing to fingerprint
func ExtractFingerprint(samples []int16, sampleRate int) Fingerprint {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}

	input := make([]complex128, len(samples))
	for i, s := range samples {
		input[i] = complex(float64(s), 0)
	}
	spectrum := fft(input)

	n := len(spectrum)
	fp := make(Fingerprint, len(DefaultBands)-1)
	counts := make([]int, len(fp))

	// Only the first half of the spectrum carries distinct frequencies
	for i := 0; i < n/2; i++ {
		freq := float64(i) * float64(sampleRate) / float64(n)
		for b := 0; b < len(fp); b++ {
			if freq >= DefaultBands[b] && freq < DefaultBands[b+1] {
				fp[b] += cmplx.Abs(spectrum[i])
				counts[b]++
				break
			}
		}
	}

	for b := range fp {
		if counts[b] > 0 {
			fp[b] /= float64(counts[b])
		}
	}

	return fp
}

// CosineSimilarity compares two fingerprints. It is 0 when either is absent,
// of mismatched length, or has zero norm, so callers never divide by zero
func CosineSimilarity(a, b Fingerprint) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// fft computes the discrete Fourier transform with an iterative radix-2
// Cooley-Tukey, zero-padding the input to the next power of two
func fft(input []complex128) []complex128 {
	n := 1
	for n < len(input) {
		n <<= 1
	}
	buf := make([]complex128, n)
	copy(buf, input)

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		angle := -2 * math.Pi / float64(size)
		w := cmplx.Exp(complex(0, angle))
		for start := 0; start < n; start += size {
			wn := complex(1, 0)
			for k := 0; k < size/2; k++ {
				even := buf[start+k]
				odd := buf[start+k+size/2] * wn
				buf[start+k] = even + odd
				buf[start+k+size/2] = even - odd
				wn *= w
			}
		}
	}

	return buf
}

// EchoSuppressor detects when microphone input is acoustically the system's
// own synthesized voice coming back through the speaker. It keeps the
// fingerprint of the most recently completed assistant response and flags
// incoming audio that matches it too closely
type EchoSuppressor struct {
	mu         sync.Mutex
	lastOutput Fingerprint
	threshold  float64
	sampleRate int
	logger     zerolog.Logger
}

// NewEchoSuppressor creates an echo suppressor with the given similarity
// threshold (0.8 unless overridden)
func NewEchoSuppressor(threshold float64, sampleRate int, logger zerolog.Logger) *EchoSuppressor {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &EchoSuppressor{
		threshold:  threshold,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// RecordOutput stores the fingerprint of a completed assistant response.
// Only the latest output is kept. WAV output is decoded through its
// container at the rate it declares, so the spectrum reflects the actual
// samples; anything else is treated as raw PCM16 at the session rate.
// Compressed audio cannot be fingerprinted and is skipped — a bitstream
// decoded as PCM would yield a fingerprint unrelated to the acoustics
func (e *EchoSuppressor) RecordOutput(audioData []byte) {
	samples, rate, ok := DecodeWAV(audioData)
	if !ok {
		if isCompressedAudio(audioData) {
			e.logger.Debug().Int("bytes", len(audioData)).Msg("Output audio is compressed, skipping echo fingerprint")
			return
		}
		if len(audioData) < 2 {
			return
		}
		rate = e.sampleRate
		samples, _ = DecodePCM16(audioData[:len(audioData)&^1])
		if len(samples) == 0 {
			return
		}
	}

	fp := ExtractFingerprint(samples, rate)
	if fp == nil {
		return
	}

	e.mu.Lock()
	e.lastOutput = fp
	e.mu.Unlock()

	e.logger.Debug().Int("bytes", len(audioData)).Msg("Recorded output fingerprint for echo suppression")
}

// Similarity returns the cosine similarity between the buffer and the last
// recorded output, or 0 when no output has been recorded yet
func (e *EchoSuppressor) Similarity(audioData []byte) float64 {
	e.mu.Lock()
	last := e.lastOutput
	e.mu.Unlock()

	if last == nil {
		return 0
	}

	samples, ok := DecodePCM16(audioData)
	if !ok {
		return 0
	}
	return CosineSimilarity(ExtractFingerprint(samples, e.sampleRate), last)
}

// IsEcho reports whether the buffer matches the last output closely enough
// to be treated as the system hearing itself
func (e *EchoSuppressor) IsEcho(audioData []byte) bool {
	similarity := e.Similarity(audioData)
	if similarity >= e.threshold {
		e.logger.Debug().Float64("similarity", similarity).Msg("Input matches last output, treating as echo")
		return true
	}
	return false
}

// Reset clears the stored output fingerprint
func (e *EchoSuppressor) Reset() {
	e.mu.Lock()
	e.lastOutput = nil
	e.mu.Unlock()
}

// isCompressedAudio recognizes MP3 (ID3 tag or MPEG frame sync) and Ogg
// payloads, which must not be interpreted as PCM samples
func isCompressedAudio(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 'I' && data[1] == 'D' && data[2] == '3' {
		return true
	}
	if data[0] == 0xff && data[1]&0xe0 == 0xe0 {
		return true
	}
	if string(data[0:4]) == "OggS" {
		return true
	}
	return false
}
