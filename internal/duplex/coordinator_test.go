package duplex

import (
	"testing"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
)

func newCoordinator() *Coordinator {
	return NewCoordinator(zap.NewNop())
}

func TestInitialStateIsListening(t *testing.T) {
	c := newCoordinator()
	if c.State() != entities.DuplexListening {
		t.Errorf("Expected Listening, got %s", c.State())
	}
	if !c.Listening() {
		t.Error("Listening() should be true initially")
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	c := newCoordinator()

	c.Pause()
	c.Pause()
	if c.State() != entities.DuplexPaused {
		t.Errorf("Expected Paused, got %s", c.State())
	}

	c.Resume()
	c.Resume()
	if c.State() != entities.DuplexListening {
		t.Errorf("Expected Listening, got %s", c.State())
	}
}

func TestAssistantSpeechSuspendsListening(t *testing.T) {
	c := newCoordinator()

	c.BeginAssistantSpeech()
	if c.Listening() {
		t.Error("Transmission must be gated while assistant speaks")
	}
	if c.State() != entities.DuplexSpeakingAssistant {
		t.Errorf("Expected SpeakingAssistant, got %s", c.State())
	}

	c.EndAssistantSpeech()
	if !c.Listening() {
		t.Error("Listening must resume after assistant speech ends")
	}

	// A second end is a no-op.
	c.EndAssistantSpeech()
	if !c.Listening() {
		t.Error("Duplicate EndAssistantSpeech must not change state")
	}
}

func TestUserPauseSurvivesAssistantSpeech(t *testing.T) {
	c := newCoordinator()

	c.Pause()
	c.BeginAssistantSpeech()
	c.EndAssistantSpeech()

	if c.State() != entities.DuplexPaused {
		t.Errorf("User pause intent must be restored, got %s", c.State())
	}

	c.Resume()
	if c.State() != entities.DuplexListening {
		t.Errorf("Expected Listening after explicit resume, got %s", c.State())
	}
}

func TestResumeDuringAssistantSpeechDefersListening(t *testing.T) {
	c := newCoordinator()

	c.Pause()
	c.BeginAssistantSpeech()
	c.Resume()

	// Pause intent is cleared but playback still owns the channel.
	if c.State() != entities.DuplexSpeakingAssistant {
		t.Errorf("Expected SpeakingAssistant, got %s", c.State())
	}

	c.EndAssistantSpeech()
	if c.State() != entities.DuplexListening {
		t.Errorf("Expected Listening once playback ends, got %s", c.State())
	}
}

func TestOnChangeObserver(t *testing.T) {
	c := newCoordinator()

	var seen []entities.DuplexState
	c.OnChange(func(s entities.DuplexState) { seen = append(seen, s) })

	c.BeginAssistantSpeech()
	c.BeginAssistantSpeech() // no-op must not notify
	c.EndAssistantSpeech()

	want := []entities.DuplexState{entities.DuplexSpeakingAssistant, entities.DuplexListening}
	if len(seen) != len(want) {
		t.Fatalf("Expected %d notifications, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Notification %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	c := NewCoordinator(nil)
	c.BeginAssistantSpeech()
	c.EndAssistantSpeech()
	if !c.Listening() {
		t.Errorf("state = %v, want listening", c.State())
	}
}
