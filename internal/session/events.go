package session

// Listening status values carried by the listening_status event
const (
	StatusStarted = "started"
	StatusStopped = "stopped"
)

// Delivery modes for synthesized audio
const (
	DeliveryChunkedStream = "chunked-stream" // one audio_chunk event per synthesized chunk
	DeliverySingleFile    = "single-file"    // one audio_response event per turn
)

// Emitter delivers outbound events to the connected client. Implementations
// must be safe for concurrent use; the controller calls them from several
// goroutines
type Emitter interface {
	// ListeningStatus reports that listening started or stopped
	ListeningStatus(status string)

	// SpeechDetected reports the classification of one microphone buffer
	SpeechDetected(detected bool)

	// SystemSpeaking reports whether assistant audio is being produced
	SystemSpeaking(speaking bool)

	// AIResponse carries the cumulative response text so far; isFinal is
	// true exactly once per turn, with the complete text
	AIResponse(text string, isFinal bool)

	// AudioChunk carries one synthesized audio chunk in playback order
	AudioChunk(seq int, audio []byte)

	// AudioResponse carries the whole turn's audio as a single payload
	AudioResponse(audio []byte)

	// ResponseComplete marks the end of a turn's event stream
	ResponseComplete()

	// Error reports a recoverable failure to the client
	Error(message string)
}
