package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/observability"
	"github.com/voxloop/voice-gateway/internal/tts"
)

// SpeechChunk is a unit of assistant text queued for synthesis, tagged with
// a monotonically increasing sequence number to guarantee playback order
type SpeechChunk struct {
	Seq  int
	Text string
}

// SpeechQueue is the FIFO handoff between the response streamer (producer)
// and the speech worker (consumer). Closing the queue is the sentinel that
// terminates the worker once everything before it has been processed
type SpeechQueue struct {
	ch        chan SpeechChunk
	closeOnce sync.Once
}

// NewSpeechQueue creates a queue with the given buffer capacity
func NewSpeechQueue(capacity int) *SpeechQueue {
	if capacity <= 0 {
		capacity = 32
	}
	return &SpeechQueue{ch: make(chan SpeechChunk, capacity)}
}

// Enqueue pushes a chunk onto the queue, blocking when the worker is behind
// so text generation is paced by synthesis
func (q *SpeechQueue) Enqueue(chunk SpeechChunk) {
	q.ch <- chunk
}

// Close signals that no more chunks will arrive. Safe to call more than once
func (q *SpeechQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// chunks exposes the consumer side of the queue
func (q *SpeechQueue) chunks() <-chan SpeechChunk {
	return q.ch
}

// speechWorker drains the queue for one turn: it synthesizes each chunk in
// order and emits the audio to the client. Per-chunk failures are logged and
// skipped; the turn is never aborted by a bad chunk
type speechWorker struct {
	queue    *SpeechQueue
	synth    tts.Synthesizer
	emitter  Emitter
	metrics  *observability.Metrics
	logger   zerolog.Logger
	delivery string

	// audio accumulates every synthesized byte for the turn, in order.
	// Used for single-file delivery and for the echo fingerprint
	audio   []byte
	emitted int
	failed  int
}

// run processes chunks until the queue is closed and drained. In single-file
// delivery mode the accumulated audio is emitted once at the end
func (w *speechWorker) run(ctx context.Context) {
	for chunk := range w.queue.chunks() {
		start := time.Now()
		audio, err := w.synth.Synthesize(ctx, chunk.Text)
		if w.metrics != nil {
			w.metrics.RecordSynthesis(time.Since(start), err == nil)
		}
		if err != nil {
			w.failed++
			w.logger.Error().Err(err).Int("seq", chunk.Seq).Msg("Synthesis failed, skipping chunk")
			if w.metrics != nil {
				w.metrics.RecordError("synthesis_error", "tts")
			}
			continue
		}

		w.audio = append(w.audio, audio...)
		if w.metrics != nil {
			w.metrics.RecordAudioBytes("out", int64(len(audio)))
		}

		if w.delivery == DeliverySingleFile {
			continue
		}
		w.emitter.AudioChunk(chunk.Seq, audio)
		w.emitted++
		w.logger.Debug().Int("seq", chunk.Seq).Int("bytes", len(audio)).Msg("Emitted audio chunk")
	}

	if w.delivery == DeliverySingleFile && len(w.audio) > 0 {
		w.emitter.AudioResponse(w.audio)
		w.emitted++
	}
}
