package conversation

import (
	"testing"
	"time"
)

func TestStore_SessionLifecycle(t *testing.T) {
	store := NewStore()

	if store.Active() {
		t.Error("Expected new store to be inactive")
	}

	id := store.StartSession()
	if id == "" {
		t.Fatal("Expected a session ID")
	}
	if !store.Active() {
		t.Error("Expected store to be active after StartSession")
	}
	if store.SessionID() != id {
		t.Errorf("Expected SessionID %q, got %q", id, store.SessionID())
	}

	store.EndSession()
	if store.Active() {
		t.Error("Expected store to be inactive after EndSession")
	}

	// History survives EndSession for debugging
	store.StartSession()
	store.Append(SpeakerUser, "hello")
	store.EndSession()
	if store.Len() != 1 {
		t.Errorf("Expected history to survive EndSession, got %d turns", store.Len())
	}

	// But a new session clears it
	second := store.StartSession()
	if second == id {
		t.Error("Expected a fresh session ID")
	}
	if store.Len() != 0 {
		t.Errorf("Expected StartSession to clear history, got %d turns", store.Len())
	}
}

func TestStore_AppendAndHistory(t *testing.T) {
	store := NewStore()
	store.StartSession()

	store.Append(SpeakerUser, "hi")
	store.Append(SpeakerAssistant, "hello there")

	history := store.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(history))
	}
	if history[0].Speaker != SpeakerUser || history[0].Text != "hi" {
		t.Errorf("Unexpected first turn: %+v", history[0])
	}
	if history[1].Speaker != SpeakerAssistant || history[1].Text != "hello there" {
		t.Errorf("Unexpected second turn: %+v", history[1])
	}
	if history[0].Timestamp.IsZero() {
		t.Error("Expected turns to carry a timestamp")
	}

	// The returned slice is a copy
	history[0].Text = "mutated"
	if store.History()[0].Text != "hi" {
		t.Error("Expected History() to return a copy")
	}
}

func TestStore_ContextWindow(t *testing.T) {
	store := NewStore()
	store.StartSession()

	texts := []string{"one", "two", "three", "four", "five", "six", "seven"}
	for _, text := range texts {
		store.Append(SpeakerUser, text)
	}

	window := store.Context(5)
	if len(window) != 5 {
		t.Fatalf("Expected 5 turns in window, got %d", len(window))
	}
	if window[0].Text != "three" || window[4].Text != "seven" {
		t.Errorf("Expected the last 5 turns oldest-first, got %q..%q", window[0].Text, window[4].Text)
	}

	// Window larger than history returns everything
	all := store.Context(100)
	if len(all) != len(texts) {
		t.Errorf("Expected %d turns, got %d", len(texts), len(all))
	}

	if store.Context(0) != nil {
		t.Error("Expected nil window for n <= 0")
	}
}

func TestDebouncer_DuplicateText(t *testing.T) {
	d := NewDebouncer(0)

	if !d.Allow("hello") {
		t.Fatal("Expected first transcript to be accepted")
	}
	if d.Allow("hello") {
		t.Error("Expected identical transcript to be rejected")
	}
	if !d.Allow("something else") {
		t.Error("Expected different transcript to be accepted")
	}
}

func TestDebouncer_CooldownWindow(t *testing.T) {
	d := NewDebouncer(2 * time.Second)
	current := time.Unix(1000, 0)
	d.now = func() time.Time { return current }

	if !d.Allow("first") {
		t.Fatal("Expected first transcript to be accepted")
	}

	// Different text, but inside the cooldown window
	current = current.Add(500 * time.Millisecond)
	if d.Allow("second") {
		t.Error("Expected transcript inside cooldown window to be rejected")
	}

	// Past the window
	current = current.Add(3 * time.Second)
	if !d.Allow("second") {
		t.Error("Expected transcript past cooldown window to be accepted")
	}
}

func TestDebouncer_Reset(t *testing.T) {
	d := NewDebouncer(time.Minute)

	if !d.Allow("hello") {
		t.Fatal("Expected first transcript to be accepted")
	}
	d.Reset()
	if !d.Allow("hello") {
		t.Error("Expected transcript to be accepted after reset")
	}
}
