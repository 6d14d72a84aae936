package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/voxloop/voice-gateway/internal/audio"
	"github.com/voxloop/voice-gateway/internal/config"
	"github.com/voxloop/voice-gateway/internal/conversation"
	"github.com/voxloop/voice-gateway/internal/llm"
	"github.com/voxloop/voice-gateway/internal/observability"
	"github.com/voxloop/voice-gateway/internal/resilience"
	"github.com/voxloop/voice-gateway/internal/session"
	"github.com/voxloop/voice-gateway/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate the origin against an allowlist.
		// For now, allow all origins (development only)
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ClientMessage represents a control message from the browser client.
// Audio buffers arrive separately as binary WebSocket frames
type ClientMessage struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
}

// ServerMessage represents an event pushed to the browser client. Audio
// payloads are base64 encoded
type ServerMessage struct {
	Event    string `json:"event"`
	Status   string `json:"status,omitempty"`
	Detected *bool  `json:"detected,omitempty"`
	Speaking *bool  `json:"speaking,omitempty"`
	Text     string `json:"text,omitempty"`
	IsFinal  bool   `json:"is_final,omitempty"`
	Seq      *int   `json:"seq,omitempty"` // pointer so the first chunk's seq 0 is not dropped
	Audio    string `json:"audio,omitempty"`
	Message  string `json:"message,omitempty"`
}

// wsEmitter delivers session events over one WebSocket connection. Gorilla
// connections allow a single concurrent writer, so every send goes through
// the write mutex
type wsEmitter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger zerolog.Logger
}

func (e *wsEmitter) send(msg ServerMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.WriteJSON(msg); err != nil {
		e.logger.Debug().Err(err).Str("event", msg.Event).Msg("Failed to write event to client")
	}
}

func (e *wsEmitter) ListeningStatus(status string) {
	e.send(ServerMessage{Event: "listening_status", Status: status})
}

func (e *wsEmitter) SpeechDetected(detected bool) {
	e.send(ServerMessage{Event: "speech_detected", Detected: &detected})
}

func (e *wsEmitter) SystemSpeaking(speaking bool) {
	e.send(ServerMessage{Event: "system_speaking", Speaking: &speaking})
}

func (e *wsEmitter) AIResponse(text string, isFinal bool) {
	e.send(ServerMessage{Event: "ai_response", Text: text, IsFinal: isFinal})
}

func (e *wsEmitter) AudioChunk(seq int, audioData []byte) {
	e.send(ServerMessage{
		Event: "audio_chunk",
		Seq:   &seq,
		Audio: base64.StdEncoding.EncodeToString(audioData),
	})
}

func (e *wsEmitter) AudioResponse(audioData []byte) {
	e.send(ServerMessage{
		Event: "audio_response",
		Audio: base64.StdEncoding.EncodeToString(audioData),
	})
}

func (e *wsEmitter) ResponseComplete() {
	e.send(ServerMessage{Event: "response_complete"})
}

func (e *wsEmitter) Error(message string) {
	e.send(ServerMessage{Event: "error", Message: message})
}

// clientSession ties one WebSocket connection to one turn controller
type clientSession struct {
	conn       *websocket.Conn
	controller *session.Controller
	emitter    *wsEmitter
	config     *config.Config
	logger     zerolog.Logger
}

// newClientSession builds the full pipeline for one connection: audio gate,
// echo suppressor, conversation store, debouncer, upstream clients, and the
// controller that ties them together
func newClientSession(conn *websocket.Conn, cfg *config.Config) *clientSession {
	correlationID := observability.NewCorrelationID()
	store := conversation.NewStore()

	breaker := resilience.NewCircuitBreaker(
		"openai",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}

	sessionID := store.StartSession()
	logger := observability.WithSession(correlationID, sessionID)

	llmClient := llm.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, breaker, logger)
	synth := tts.NewSpeechifyClient(
		cfg.SpeechifyBaseURL,
		cfg.SpeechifyAPIKey,
		tts.VoiceParams{
			VoiceID:          cfg.SpeechifyVoiceID,
			Emotion:          cfg.SpeechifyEmotion,
			EmotionIntensity: cfg.SpeechifyEmotionIntensity,
			Speed:            cfg.SpeechifySpeed,
			Pitch:            cfg.SpeechifyPitch,
			OutputFormat:     cfg.SpeechifyOutputFormat,
		},
		cfg.SpeechifyUseStream,
		retry,
		logger,
	)

	gate := audio.NewGate(audio.GateConfig{
		FrameDuration: cfg.FrameDuration(),
		SampleRate:    cfg.SampleRate,
	}, audio.NewEnergyClassifier(cfg.VADEnergyThreshold), logger)

	var echo *audio.EchoSuppressor
	if cfg.EchoSuppression {
		echo = audio.NewEchoSuppressor(cfg.EchoThreshold, cfg.SampleRate, logger)
	}

	emitter := &wsEmitter{conn: conn, logger: logger}

	controller := session.NewController(session.Params{
		Store:         store,
		Debouncer:     conversation.NewDebouncer(cfg.Debounce()),
		Gate:          gate,
		Echo:          echo,
		LLM:           llmClient,
		Synth:         synth,
		Emitter:       emitter,
		Metrics:       observability.NewSessionMetrics(sessionID),
		Logger:        logger,
		SystemPrompt:  cfg.SystemPrompt,
		HistoryWindow: cfg.HistoryWindow,
		ChunkChars:    cfg.SpeechChunkChars,
		Cooldown:      cfg.Cooldown(),
		Delivery:      cfg.Delivery,
	})

	return &clientSession{
		conn:       conn,
		controller: controller,
		emitter:    emitter,
		config:     cfg,
		logger:     logger,
	}
}

// HandleWS is the entry point for client WebSocket connections
func HandleWS(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		s := newClientSession(conn, cfg)
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

		s.readLoop(r.Context())

		s.controller.Close()
		s.logger.Info().Msg("Client disconnected")
	}
}

// readLoop drains the connection until the client goes away. Text frames
// carry JSON control messages, binary frames carry raw PCM audio buffers
func (s *clientSession) readLoop(ctx context.Context) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.handleControlMessage(ctx, data)
		case websocket.BinaryMessage:
			s.handleAudioBuffer(data)
		}
	}
}

// handleControlMessage dispatches one JSON control message
func (s *clientSession) handleControlMessage(ctx context.Context, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse client message")
		return
	}

	switch msg.Event {
	case "start_listening":
		s.controller.StartListening()

	case "stop_listening":
		s.controller.StopListening()

	case "transcription":
		if msg.Text == "" {
			s.logger.Debug().Msg("Empty transcription ignored")
			return
		}
		s.controller.OnTranscript(ctx, msg.Text)

	default:
		s.logger.Warn().Str("event", msg.Event).Msg("Unknown client event")
	}
}

// handleAudioBuffer runs one raw microphone buffer through the frame path.
// Clients send mono 16-bit PCM at the configured sample rate
func (s *clientSession) handleAudioBuffer(data []byte) {
	s.controller.OnAudioFrame(audio.Frame{
		Data:       data,
		SampleRate: s.config.SampleRate,
		Channels:   1,
		BitDepth:   16,
	})
}
