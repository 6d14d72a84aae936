package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/audio"
	"github.com/voxloop/voice-gateway/internal/conversation"
	"github.com/voxloop/voice-gateway/internal/llm"
	"github.com/voxloop/voice-gateway/internal/observability"
	"github.com/voxloop/voice-gateway/internal/tts"
)

// State is the turn-taking state of a session
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateCooldown
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateCooldown:
		return "cooldown"
	}
	return "unknown"
}

// Params wires a Controller to its collaborators and configuration
type Params struct {
	Store     *conversation.Store
	Debouncer *conversation.Debouncer
	Gate      *audio.Gate
	Echo      *audio.EchoSuppressor // nil disables echo suppression
	LLM       llm.Client
	Synth     tts.Synthesizer
	Emitter   Emitter
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	SystemPrompt  string
	HistoryWindow int
	ChunkChars    int
	Cooldown      time.Duration
	Delivery      string // chunked-stream | single-file
	QueueCapacity int
}

// Controller is the per-session turn-taking state machine. It serializes the
// frame-processing path and the transcript-processing path on one lock, and
// guarantees at most one response generation is in flight at a time
type Controller struct {
	mu          sync.Mutex
	state       State
	speaking    bool
	workerAlive bool
	turnActive  bool // set when a transcript is accepted, cleared when its turn finalizes

	store     *conversation.Store
	debouncer *conversation.Debouncer
	gate      *audio.Gate
	echo      *audio.EchoSuppressor
	llmClient llm.Client
	synth     tts.Synthesizer
	emitter   Emitter
	metrics   *observability.Metrics
	logger    zerolog.Logger

	systemPrompt  string
	historyWindow int
	chunkChars    int
	cooldown      time.Duration
	delivery      string
	queueCapacity int
}

// NewController creates a session controller in the Idle state, starting a
// conversation session in the store unless one is already active
func NewController(p Params) *Controller {
	if p.HistoryWindow <= 0 {
		p.HistoryWindow = 5
	}
	if p.ChunkChars <= 0 {
		p.ChunkChars = 40
	}
	if p.Delivery == "" {
		p.Delivery = DeliveryChunkedStream
	}

	c := &Controller{
		state:         StateIdle,
		store:         p.Store,
		debouncer:     p.Debouncer,
		gate:          p.Gate,
		echo:          p.Echo,
		llmClient:     p.LLM,
		synth:         p.Synth,
		emitter:       p.Emitter,
		metrics:       p.Metrics,
		logger:        p.Logger,
		systemPrompt:  p.SystemPrompt,
		historyWindow: p.HistoryWindow,
		chunkChars:    p.ChunkChars,
		cooldown:      p.Cooldown,
		delivery:      p.Delivery,
		queueCapacity: p.QueueCapacity,
	}

	// Callers may pre-start the session to obtain its ID for logging
	if !c.store.Active() {
		c.store.StartSession()
	}
	if c.metrics != nil {
		c.metrics.RecordSessionStart()
	}
	return c
}

// State returns the current turn-taking state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PlaybackState reports whether assistant audio is being produced and
// whether a speech worker is alive. Exactly one worker exists at a time
func (c *Controller) PlaybackState() (speaking, workerAlive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking, c.workerAlive
}

// StartListening transitions Idle/Cooldown to Listening and notifies the
// client. Calls in other states are logged no-ops
func (c *Controller) StartListening() {
	c.mu.Lock()
	transitioned := false
	switch c.state {
	case StateIdle, StateCooldown:
		c.state = StateListening
		transitioned = true
	case StateListening:
		// Already listening
	default:
		c.logger.Warn().Stringer("state", c.state).Msg("start_listening ignored in current state")
	}
	c.mu.Unlock()

	if transitioned {
		c.logger.Info().Msg("Listening started")
		c.emitter.ListeningStatus(StatusStarted)
	}
}

// StopListening forces the session to Idle from any state and notifies the
// client. An in-flight response is not cancelled; it finalizes normally but
// the session stays Idle afterwards
func (c *Controller) StopListening() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Info().Msg("Listening stopped")
	c.emitter.ListeningStatus(StatusStopped)
}

// OnTranscript handles one recognized utterance. Valid only while Listening;
// transcripts rejected by the debouncer cause no state change. An accepted
// transcript starts the response pipeline for a new turn. At most one turn
// is in flight per session: transcripts arriving while a response is still
// being generated or spoken are dropped, not queued, even if stop/start
// listening re-armed the session in the meantime
func (c *Controller) OnTranscript(ctx context.Context, text string) {
	c.mu.Lock()
	if c.state != StateListening {
		c.logger.Debug().Stringer("state", c.state).Str("text", text).Msg("Transcript ignored, not listening")
		c.mu.Unlock()
		return
	}
	if c.turnActive {
		c.logger.Debug().Str("text", text).Msg("Transcript dropped, a turn is already in flight")
		c.mu.Unlock()
		return
	}
	if !c.debouncer.Allow(text) {
		c.logger.Debug().Str("text", text).Msg("Transcript debounced")
		if c.metrics != nil {
			c.metrics.RecordDebounce()
		}
		c.mu.Unlock()
		return
	}

	c.state = StateProcessing
	c.turnActive = true
	c.mu.Unlock()

	c.logger.Info().Str("text", text).Msg("Transcript accepted, starting turn")
	c.store.Append(conversation.SpeakerUser, text)

	go c.respond(ctx, text)
}

// OnAudioFrame classifies one microphone buffer and reports the result to
// the client. Frames arriving while the system is speaking are rejected
// before the VAD gate runs, so playback can never trigger a new turn
func (c *Controller) OnAudioFrame(frame audio.Frame) bool {
	c.mu.Lock()
	speaking := c.speaking
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordAudioBytes("in", int64(len(frame.Data)))
	}

	if len(frame.Data) == 0 {
		if c.metrics != nil {
			c.metrics.RecordFrame(observability.FrameRejected)
		}
		c.emitter.SpeechDetected(false)
		return false
	}

	if speaking {
		if c.metrics != nil {
			c.metrics.RecordFrame(observability.FrameWhileSpeaking)
		}
		c.emitter.SpeechDetected(false)
		return false
	}

	detected := c.gate.DetectSpeech(frame)
	result := observability.FrameSilence
	if detected {
		result = observability.FrameSpeech
		if c.echo != nil && c.echo.IsEcho(frame.Data) {
			detected = false
			result = observability.FrameSuppressed
		}
	}

	if c.metrics != nil {
		c.metrics.RecordFrame(result)
	}
	c.emitter.SpeechDetected(detected)
	return detected
}

// Close ends the session. Any in-flight response finishes on its own; the
// state machine stays Idle
func (c *Controller) Close() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.store.EndSession()
	if c.metrics != nil {
		c.metrics.RecordSessionEnd()
	}
	c.logger.Info().Msg("Session closed")
}

// respond runs one full turn: stream the completion, synthesize chunks in
// order, wait for the queue to drain, then finalize and schedule the return
// to Listening. The session lock is never held across network calls
func (c *Controller) respond(ctx context.Context, text string) {
	queue := NewSpeechQueue(c.queueCapacity)
	worker := &speechWorker{
		queue:    queue,
		synth:    c.synth,
		emitter:  c.emitter,
		metrics:  c.metrics,
		logger:   c.logger,
		delivery: c.delivery,
	}

	c.setSpeaking(true)
	workerDone := make(chan struct{})
	go func() {
		worker.run(ctx)
		close(workerDone)
	}()

	streamer := &responseStreamer{
		client:        c.llmClient,
		store:         c.store,
		emitter:       c.emitter,
		metrics:       c.metrics,
		logger:        c.logger,
		systemPrompt:  c.systemPrompt,
		historyWindow: c.historyWindow,
		chunkChars:    c.chunkChars,
	}
	_, fallback := streamer.run(ctx, queue)

	// Text generation is done; the turn is Speaking until every chunk has
	// been synthesized and handed to the client
	c.mu.Lock()
	if c.state == StateProcessing {
		c.state = StateSpeaking
	}
	c.mu.Unlock()

	queue.Close()
	<-workerDone

	c.setSpeaking(false)

	// The echo fingerprint always reflects the most recently completed
	// assistant turn, never a partial one
	if c.echo != nil && len(worker.audio) > 0 {
		c.echo.RecordOutput(worker.audio)
	}

	if c.metrics != nil {
		c.metrics.RecordTurn(fallback)
	}
	if fallback {
		c.emitter.Error("response generation failed, played fallback")
	}
	c.emitter.ResponseComplete()

	c.finishTurn()
}

// finishTurn moves Speaking to Cooldown and schedules the return to
// Listening after the dwell time. A session forced to Idle by
// stop_listening stays Idle
func (c *Controller) finishTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turnActive = false

	if c.state != StateProcessing && c.state != StateSpeaking {
		// stop_listening won while we were responding
		return
	}

	c.state = StateCooldown
	if c.cooldown <= 0 {
		c.state = StateListening
		return
	}

	// Non-blocking scheduled transition; frame processing continues during
	// the dwell
	time.AfterFunc(c.cooldown, func() {
		c.mu.Lock()
		if c.state == StateCooldown {
			c.state = StateListening
		}
		c.mu.Unlock()
	})
}

// setSpeaking flips the playback flag and notifies the client. The flag and
// worker liveness change together: the worker is the only audio producer
func (c *Controller) setSpeaking(speaking bool) {
	c.mu.Lock()
	c.speaking = speaking
	c.workerAlive = speaking
	c.mu.Unlock()

	c.emitter.SystemSpeaking(speaking)
}
