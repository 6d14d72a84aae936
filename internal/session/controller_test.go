package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/audio"
	"github.com/voxloop/voice-gateway/internal/conversation"
	"github.com/voxloop/voice-gateway/internal/llm"
)

// scriptedLLM replays a fixed delta sequence. A non-nil gate holds the
// stream open until the test releases it
type scriptedLLM struct {
	mu       sync.Mutex
	calls    [][]llm.Message
	deltas   []llm.Delta
	setupErr error
	gate     chan struct{}
}

func (c *scriptedLLM) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	c.mu.Lock()
	c.calls = append(c.calls, messages)
	c.mu.Unlock()

	if c.setupErr != nil {
		return nil, c.setupErr
	}

	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		if c.gate != nil {
			<-c.gate
		}
		for _, delta := range c.deltas {
			out <- delta
		}
	}()
	return out, nil
}

func (c *scriptedLLM) lastCall() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

// pcmSynth returns the same PCM payload for every chunk, for echo tests
type pcmSynth struct {
	data []byte
}

func (s *pcmSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.data, nil
}

func contentDelta(text string) llm.Delta {
	return llm.Delta{Content: text}
}

func tonePCM(freq float64, samples int) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

func toneFrame(freq float64) audio.Frame {
	return audio.Frame{
		Data:       tonePCM(freq, 1600),
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

type controllerOptions struct {
	llm      llm.Client
	synth    *fakeSynth
	pcmSynth *pcmSynth
	echo     bool
	cooldown time.Duration
	delivery string
}

func newTestController(t *testing.T, opts controllerOptions) (*Controller, *recordingEmitter, *fakeSynth) {
	t.Helper()

	if opts.synth == nil {
		opts.synth = &fakeSynth{}
	}
	emitter := newRecordingEmitter()

	var echo *audio.EchoSuppressor
	if opts.echo {
		echo = audio.NewEchoSuppressor(0.8, 16000, zerolog.Nop())
	}

	params := Params{
		Store:         conversation.NewStore(),
		Debouncer:     conversation.NewDebouncer(0),
		Gate:          audio.NewGate(audio.DefaultGateConfig(), audio.NewEnergyClassifier(500), zerolog.Nop()),
		Echo:          echo,
		LLM:           opts.llm,
		Synth:         opts.synth,
		Emitter:       emitter,
		Logger:        zerolog.Nop(),
		SystemPrompt:  "You are a helpful assistant.",
		HistoryWindow: 5,
		ChunkChars:    10,
		Cooldown:      opts.cooldown,
		Delivery:      opts.delivery,
	}
	if opts.pcmSynth != nil {
		params.Synth = opts.pcmSynth
	}

	c := NewController(params)
	t.Cleanup(c.Close)
	return c, emitter, opts.synth
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %v, stuck at %v", want, c.State())
}

func waitForSpeaking(t *testing.T, c *Controller, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if speaking, _ := c.PlaybackState(); speaking == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("speaking flag never became %v", want)
}

func TestController_StartStopListening(t *testing.T) {
	c, emitter, _ := newTestController(t, controllerOptions{llm: &scriptedLLM{}})

	if c.State() != StateIdle {
		t.Fatalf("expected initial state idle, got %v", c.State())
	}

	c.StartListening()
	if c.State() != StateListening {
		t.Fatalf("expected listening, got %v", c.State())
	}
	c.StartListening() // no-op, no duplicate event
	c.StopListening()
	if c.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %v", c.State())
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.statuses) != 2 || emitter.statuses[0] != StatusStarted || emitter.statuses[1] != StatusStopped {
		t.Errorf("unexpected status events %v", emitter.statuses)
	}
}

func TestController_TranscriptIgnoredWhenNotListening(t *testing.T) {
	client := &scriptedLLM{}
	c, _, _ := newTestController(t, controllerOptions{llm: client})

	c.OnTranscript(context.Background(), "hello there")

	if c.State() != StateIdle {
		t.Errorf("expected idle, got %v", c.State())
	}
	if client.lastCall() != nil {
		t.Error("language model must not be called while idle")
	}
}

func TestController_HappyPathTurn(t *testing.T) {
	client := &scriptedLLM{deltas: []llm.Delta{
		contentDelta("It is a lovely day "),
		contentDelta("for a walk "),
		contentDelta("outside."),
		{Done: true},
	}}
	c, emitter, synth := newTestController(t, controllerOptions{llm: client})

	c.StartListening()
	c.OnTranscript(context.Background(), "how is the weather?")
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	const want = "It is a lovely day for a walk outside."

	emitter.mu.Lock()
	if len(emitter.finals) != 1 || emitter.finals[0] != want {
		t.Errorf("final response %v, want %q", emitter.finals, want)
	}
	if len(emitter.partials) != 3 {
		t.Errorf("expected 3 partial updates, got %d", len(emitter.partials))
	}
	if got := emitter.chunkSeqs; len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("audio chunk order %v", got)
	}
	if len(emitter.speaking) != 2 || !emitter.speaking[0] || emitter.speaking[1] {
		t.Errorf("speaking transitions %v, want [true false]", emitter.speaking)
	}
	if emitter.completes != 1 {
		t.Errorf("expected 1 response_complete, got %d", emitter.completes)
	}
	if len(emitter.errors) != 0 {
		t.Errorf("unexpected errors %v", emitter.errors)
	}
	emitter.mu.Unlock()

	if got := synth.callTexts(); len(got) != 3 || got[0] != "It is a lovely day " {
		t.Errorf("synthesis calls %v", got)
	}

	messages := client.lastCall()
	if len(messages) < 2 || messages[0].Role != llm.RoleSystem {
		t.Fatalf("request messages %v must start with system prompt", messages)
	}
	if last := messages[len(messages)-1]; last.Role != llm.RoleUser || last.Content != "how is the weather?" {
		t.Errorf("last message %+v, want the triggering user turn", last)
	}
}

func TestController_TurnsAppendedToHistory(t *testing.T) {
	client := &scriptedLLM{deltas: []llm.Delta{contentDelta("Hi."), {Done: true}}}
	store := conversation.NewStore()
	emitter := newRecordingEmitter()
	c := NewController(Params{
		Store:         store,
		Debouncer:     conversation.NewDebouncer(0),
		Gate:          audio.NewGate(audio.DefaultGateConfig(), audio.NewEnergyClassifier(500), zerolog.Nop()),
		LLM:           client,
		Synth:         &fakeSynth{},
		Emitter:       emitter,
		Logger:        zerolog.Nop(),
		SystemPrompt:  "prompt",
		HistoryWindow: 5,
		ChunkChars:    10,
	})
	defer c.Close()

	c.StartListening()
	c.OnTranscript(context.Background(), "hello")
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	history := store.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if history[0].Speaker != conversation.SpeakerUser || history[0].Text != "hello" {
		t.Errorf("unexpected user turn %+v", history[0])
	}
	if history[1].Speaker != conversation.SpeakerAssistant || history[1].Text != "Hi." {
		t.Errorf("unexpected assistant turn %+v", history[1])
	}
}

func TestController_DuplicateTranscriptDebounced(t *testing.T) {
	client := &scriptedLLM{deltas: []llm.Delta{contentDelta("Answer."), {Done: true}}}
	c, emitter, _ := newTestController(t, controllerOptions{llm: client})

	c.StartListening()
	c.OnTranscript(context.Background(), "repeat me")
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	c.OnTranscript(context.Background(), "repeat me")

	time.Sleep(10 * time.Millisecond)
	if c.State() != StateListening {
		t.Errorf("duplicate transcript must not start a turn, state %v", c.State())
	}
	client.mu.Lock()
	calls := len(client.calls)
	client.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected 1 completion call, got %d", calls)
	}
}

func TestController_FramesRejectedWhileSpeaking(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedLLM{
		deltas: []llm.Delta{contentDelta("Long answer."), {Done: true}},
		gate:   gate,
	}
	c, emitter, _ := newTestController(t, controllerOptions{llm: client})

	c.StartListening()
	c.OnTranscript(context.Background(), "talk to me")
	waitForSpeaking(t, c, true)

	if c.OnAudioFrame(toneFrame(300)) {
		t.Error("frame during playback must not be reported as speech")
	}

	close(gate)
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	if !c.OnAudioFrame(toneFrame(300)) {
		t.Error("same frame should pass once playback ended")
	}
}

func TestController_EmptyFrameRejected(t *testing.T) {
	c, emitter, _ := newTestController(t, controllerOptions{llm: &scriptedLLM{}})
	c.StartListening()

	if c.OnAudioFrame(audio.Frame{SampleRate: 16000, Channels: 1, BitDepth: 16}) {
		t.Error("empty buffer must not be reported as speech")
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.detections) != 1 || emitter.detections[0] {
		t.Errorf("expected one speech_detected:false, got %v", emitter.detections)
	}
}

func TestController_EchoSuppression(t *testing.T) {
	client := &scriptedLLM{deltas: []llm.Delta{contentDelta("Tone answer."), {Done: true}}}
	c, emitter, _ := newTestController(t, controllerOptions{
		llm:      client,
		pcmSynth: &pcmSynth{data: tonePCM(300, 4800)},
		echo:     true,
	})

	c.StartListening()

	// Nothing recorded yet, loud input passes
	if !c.OnAudioFrame(toneFrame(300)) {
		t.Fatal("expected speech before any output was recorded")
	}

	c.OnTranscript(context.Background(), "play the tone")
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	if c.OnAudioFrame(toneFrame(300)) {
		t.Error("input matching the last output must be suppressed as echo")
	}
	if !c.OnAudioFrame(toneFrame(3000)) {
		t.Error("spectrally different input must still pass")
	}
}

func TestController_LLMFailurePlaysFallback(t *testing.T) {
	client := &scriptedLLM{setupErr: fmt.Errorf("connection refused")}
	c, emitter, synth := newTestController(t, controllerOptions{llm: client})

	c.StartListening()
	c.OnTranscript(context.Background(), "are you there?")
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	emitter.mu.Lock()
	if len(emitter.finals) != 1 || emitter.finals[0] != FallbackResponse {
		t.Errorf("final response %v, want the fallback", emitter.finals)
	}
	if len(emitter.errors) != 1 {
		t.Errorf("expected 1 error event, got %v", emitter.errors)
	}
	if emitter.completes != 1 {
		t.Errorf("expected response_complete even on failure, got %d", emitter.completes)
	}
	emitter.mu.Unlock()

	if got := synth.callTexts(); len(got) != 1 || got[0] != FallbackResponse {
		t.Errorf("fallback must be synthesized, calls %v", got)
	}
}

func TestController_StopListeningDuringTurnStaysIdle(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedLLM{
		deltas: []llm.Delta{contentDelta("Finished anyway."), {Done: true}},
		gate:   gate,
	}
	c, emitter, _ := newTestController(t, controllerOptions{llm: client})

	c.StartListening()
	c.OnTranscript(context.Background(), "start something")
	if c.State() != StateProcessing {
		t.Fatalf("expected processing, got %v", c.State())
	}

	c.StopListening()
	close(gate)
	emitter.waitComplete(t)

	// The in-flight turn finalized normally but must not resume listening
	time.Sleep(20 * time.Millisecond)
	if c.State() != StateIdle {
		t.Errorf("expected idle after stop, got %v", c.State())
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.finals) != 1 || emitter.finals[0] != "Finished anyway." {
		t.Errorf("in-flight response must still finalize, finals %v", emitter.finals)
	}
}

func TestController_RestartWhileSpeakingDropsTranscript(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedLLM{
		deltas: []llm.Delta{contentDelta("First answer."), {Done: true}},
		gate:   gate,
	}
	store := conversation.NewStore()
	emitter := newRecordingEmitter()
	c := NewController(Params{
		Store:         store,
		Debouncer:     conversation.NewDebouncer(0),
		Gate:          audio.NewGate(audio.DefaultGateConfig(), audio.NewEnergyClassifier(500), zerolog.Nop()),
		LLM:           client,
		Synth:         &fakeSynth{},
		Emitter:       emitter,
		Logger:        zerolog.Nop(),
		SystemPrompt:  "prompt",
		HistoryWindow: 5,
		ChunkChars:    10,
	})
	defer c.Close()

	c.StartListening()
	c.OnTranscript(context.Background(), "first question")
	waitForSpeaking(t, c, true)

	// Re-arming the session while the first response is still speaking must
	// not let a second generation start
	c.StopListening()
	c.StartListening()
	c.OnTranscript(context.Background(), "second question")

	client.mu.Lock()
	calls := len(client.calls)
	client.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 generation in flight, got %d", calls)
	}

	close(gate)
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	history := store.History()
	if len(history) != 2 {
		t.Fatalf("expected only the first turn's pair in history, got %d turns", len(history))
	}
	if history[0].Text != "first question" || history[1].Text != "First answer." {
		t.Errorf("unexpected history %+v", history)
	}

	// The session recovered: a fresh transcript starts a new turn
	c.OnTranscript(context.Background(), "third question")
	emitter.waitComplete(t)

	client.mu.Lock()
	calls = len(client.calls)
	client.mu.Unlock()
	if calls != 2 {
		t.Errorf("expected a new generation after the turn finished, got %d calls", calls)
	}
}

func TestController_CooldownDwell(t *testing.T) {
	client := &scriptedLLM{deltas: []llm.Delta{contentDelta("Done."), {Done: true}}}
	c, emitter, _ := newTestController(t, controllerOptions{
		llm:      client,
		cooldown: 100 * time.Millisecond,
	})

	c.StartListening()
	c.OnTranscript(context.Background(), "quick one")
	emitter.waitComplete(t)

	waitForState(t, c, StateCooldown)
	time.Sleep(20 * time.Millisecond)
	if c.State() != StateCooldown {
		t.Fatalf("expected to still be in cooldown, got %v", c.State())
	}
	waitForState(t, c, StateListening)
}

func TestController_SingleFileDelivery(t *testing.T) {
	client := &scriptedLLM{deltas: []llm.Delta{
		contentDelta("One chunk here "),
		contentDelta("and another one."),
		{Done: true},
	}}
	c, emitter, _ := newTestController(t, controllerOptions{
		llm:      client,
		delivery: DeliverySingleFile,
	})

	c.StartListening()
	c.OnTranscript(context.Background(), "read it all")
	emitter.waitComplete(t)
	waitForState(t, c, StateListening)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.chunkSeqs) != 0 {
		t.Errorf("single-file delivery must not emit per-chunk audio, got %v", emitter.chunkSeqs)
	}
	if len(emitter.fullResponses) != 1 {
		t.Errorf("expected 1 full audio payload, got %d", len(emitter.fullResponses))
	}
}
