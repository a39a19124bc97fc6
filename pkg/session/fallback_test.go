package session

import (
	"errors"
	"testing"
)

func newFallbackFixture() (*FallbackEngine, *State, *recordSink) {
	state := NewState(Config{TotalExpectedTurns: 10, ArtifactThreshold: 3})
	sink := &recordSink{}
	return NewFallbackEngine(state, sink, nil), state, sink
}

func TestFallbackAdvancesScriptInOrder(t *testing.T) {
	e, state, sink := newFallbackFixture()
	script := state.Config().FallbackScript

	for i := 0; i < 4; i++ {
		prompt, err := e.Submit("answer")
		if err != nil {
			t.Fatalf("submit #%d: %v", i+1, err)
		}
		if prompt != script[i] {
			t.Fatalf("prompt #%d = %q, want %q", i+1, prompt, script[i])
		}
	}
	if state.TurnCount() != 4 {
		t.Fatalf("turn count = %d, want 4", state.TurnCount())
	}
	if len(sink.messages) != 4 {
		t.Fatalf("transcript entries = %d", len(sink.messages))
	}
	for _, m := range sink.messages {
		if m.author != AuthorCounselor {
			t.Fatalf("scripted prompts are counselor-authored, got %v", m.author)
		}
	}
}

func TestFallbackClosingAfterScriptExhausted(t *testing.T) {
	e, state, _ := newFallbackFixture()
	for range state.Config().FallbackScript {
		if _, err := e.Submit("answer"); err != nil {
			t.Fatal(err)
		}
	}
	prompt, err := e.Submit("one more")
	if err != nil {
		t.Fatal(err)
	}
	if prompt != fallbackClosing {
		t.Fatalf("prompt = %q, want the closing line", prompt)
	}
}

func TestFallbackUnlocksArtifactAtThreshold(t *testing.T) {
	e, _, sink := newFallbackFixture()
	for i := 0; i < 4; i++ {
		if _, err := e.Submit("answer"); err != nil {
			t.Fatal(err)
		}
	}
	if sink.artifactEnabled != 1 {
		t.Fatalf("artifact affordance enabled %d times, want once", sink.artifactEnabled)
	}
}

func TestFallbackRejectedWhileRemoteOwns(t *testing.T) {
	e, state, _ := newFallbackFixture()
	if _, _, err := state.AdvanceTurn(OwnerRemote); err != nil {
		t.Fatalf("seed remote ownership: %v", err)
	}
	if _, err := e.Submit("answer"); !errors.Is(err, ErrTurnOwnership) {
		t.Fatalf("submit = %v, want ErrTurnOwnership", err)
	}
	if e.CanRun() {
		t.Fatal("CanRun must report false while remote owns")
	}
}

func TestFallbackSpeaksPromptForVoiceInput(t *testing.T) {
	e, state, sink := newFallbackFixture()
	state.SetModality(ModalityVoice)
	prompt, err := e.Submit("spoken answer")
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.spoken) != 1 || sink.spoken[0] != prompt {
		t.Fatalf("spoken = %v, want the prompt", sink.spoken)
	}

	state.SetModality(ModalityText)
	if _, err := e.Submit("typed answer"); err != nil {
		t.Fatal(err)
	}
	if len(sink.spoken) != 1 {
		t.Fatal("typed turns must not be synthesized")
	}
}

func TestFallbackResetRewindsScript(t *testing.T) {
	e, state, _ := newFallbackFixture()
	e.Submit("a")
	e.Submit("b")
	state.Reset()
	e.Reset()

	if e.Position() != 0 {
		t.Fatalf("position = %d after reset", e.Position())
	}
	prompt, err := e.Submit("fresh start")
	if err != nil {
		t.Fatal(err)
	}
	if prompt != state.Config().FallbackScript[0] {
		t.Fatalf("prompt = %q, want the first question again", prompt)
	}
}
