package session

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pathwise-ai/pathwise/pkg/protocol"
)

type sinkMessage struct {
	author Author
	text   string
}

type sinkStatus struct {
	message    string
	persistent bool
}

// recordSink records every side effect a handler requests.
type recordSink struct {
	messages        []sinkMessage
	statuses        []sinkStatus
	played          [][]byte
	spoken          []string
	artifactEnabled int
	artifacts       []json.RawMessage
	profiles        []map[string]any
}

func (r *recordSink) AppendMessage(author Author, text string) {
	r.messages = append(r.messages, sinkMessage{author: author, text: text})
}

func (r *recordSink) SetStatus(message string, persistent bool) {
	r.statuses = append(r.statuses, sinkStatus{message: message, persistent: persistent})
}

func (r *recordSink) PlayAudio(audio []byte)  { r.played = append(r.played, audio) }
func (r *recordSink) SpeakText(text string)   { r.spoken = append(r.spoken, text) }
func (r *recordSink) EnableArtifactRequests() { r.artifactEnabled++ }

func (r *recordSink) ArtifactUpdated(artifact json.RawMessage) {
	r.artifacts = append(r.artifacts, artifact)
}

func (r *recordSink) ProfileUpdated(profile map[string]any) {
	r.profiles = append(r.profiles, profile)
}

func (r *recordSink) lastStatus() sinkStatus {
	if len(r.statuses) == 0 {
		return sinkStatus{}
	}
	return r.statuses[len(r.statuses)-1]
}

func newDispatcherFixture(cfg Config) (*Dispatcher, *State, *recordSink) {
	state := NewState(cfg)
	sink := &recordSink{}
	return NewDispatcher(state, sink, nil), state, sink
}

func TestDispatchConnectedAssignsID(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.ConnectedFrame{SessionID: "s-1"})

	if state.ID() != "s-1" {
		t.Fatalf("id = %q", state.ID())
	}
	if !state.Started() {
		t.Fatal("connected must mark the session started")
	}
	if sink.lastStatus().message != "ready" {
		t.Fatalf("status = %q, want ready", sink.lastStatus().message)
	}

	// A second connected with a different id is ignored.
	d.Dispatch(protocol.ConnectedFrame{SessionID: "s-2"})
	if state.ID() != "s-1" {
		t.Fatalf("id changed to %q", state.ID())
	}
}

func TestDispatchTurnRepliesCountTurns(t *testing.T) {
	d, state, sink := newDispatcherFixture(Config{TotalExpectedTurns: 10, ArtifactThreshold: 3})
	replies := []protocol.TurnReplyFrame{
		{Kind: protocol.KindTurn, Text: "Tell me more."},
		{Kind: protocol.KindSuggestion, Text: "You might enjoy robotics.", Interests: []string{"math"}},
		{Kind: protocol.KindComparison, Text: "Both are solid paths.", First: "doctor", Second: "engineer"},
	}
	for _, f := range replies {
		d.Dispatch(f)
	}

	if state.TurnCount() != 3 {
		t.Fatalf("turn count = %d, want 3 (every reply kind advances)", state.TurnCount())
	}
	if len(sink.messages) != 3 {
		t.Fatalf("transcript entries = %d", len(sink.messages))
	}
	for i, m := range sink.messages {
		if m.author != AuthorCounselor || m.text != replies[i].Text {
			t.Fatalf("message %d = %+v", i, m)
		}
	}
	if sink.artifactEnabled != 1 {
		t.Fatalf("artifact affordance enabled %d times, want once at the threshold", sink.artifactEnabled)
	}
}

func TestDispatchGateVoiceWithAudioPlays(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	state.SetModality(ModalityVoice)
	d.Dispatch(protocol.TurnReplyFrame{Kind: protocol.KindTurn, Text: "hi", Audio: []byte{1, 2, 3}})

	if len(sink.played) != 1 {
		t.Fatalf("played %d payloads, want 1", len(sink.played))
	}
	if len(sink.spoken) != 0 {
		t.Fatal("must not also synthesize locally")
	}
}

func TestDispatchGateTextModalityDiscardsAudio(t *testing.T) {
	d, _, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.TurnReplyFrame{Kind: protocol.KindTurn, Text: "hi", Audio: []byte{1, 2, 3}})

	if len(sink.played) != 0 || len(sink.spoken) != 0 {
		t.Fatalf("text modality must stay silent, played=%d spoken=%d", len(sink.played), len(sink.spoken))
	}
	if len(sink.messages) != 1 {
		t.Fatal("the text still reaches the transcript")
	}
}

func TestDispatchGateVoiceWithoutAudioSpeaksText(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	state.SetModality(ModalityVoice)
	d.Dispatch(protocol.TurnReplyFrame{Kind: protocol.KindTurn, Text: "hello there"})

	if len(sink.played) != 0 {
		t.Fatal("no payload to play")
	}
	if len(sink.spoken) != 1 || sink.spoken[0] != "hello there" {
		t.Fatalf("spoken = %v", sink.spoken)
	}
}

func TestDispatchTurnReplyMergesProfile(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.TurnReplyFrame{
		Kind:          protocol.KindTurn,
		Text:          "noted",
		ProfileUpdate: map[string]any{"grade": "10", "interests": []any{"music"}},
	})

	if got, _ := state.profile.Scalar("grade"); got != "10" {
		t.Fatalf("grade = %q", got)
	}
	if len(sink.profiles) != 1 {
		t.Fatalf("profile updates surfaced %d times", len(sink.profiles))
	}
}

func TestDispatchRemoteErrorIsNonFatal(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.ErrorFrame{Message: "model overloaded"})
	d.Dispatch(protocol.TurnReplyFrame{Kind: protocol.KindTurn, Text: "recovered"})

	if sink.statuses[0].message != "model overloaded" {
		t.Fatalf("status = %q", sink.statuses[0].message)
	}
	if len(sink.messages) != 2 {
		t.Fatalf("transcript entries = %d, want error line plus reply", len(sink.messages))
	}
	if state.TurnCount() != 1 {
		t.Fatal("the session keeps going after a remote error")
	}
}

func TestDispatchClearedKeepsTurnCount(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.TurnReplyFrame{Kind: protocol.KindTurn, Text: "one"})
	d.Dispatch(protocol.ClearedFrame{})

	if state.TurnCount() != 1 {
		t.Fatalf("clear changed turn count to %d", state.TurnCount())
	}
	last := sink.messages[len(sink.messages)-1]
	if last.author != AuthorSystem || !strings.Contains(last.text, "cleared") {
		t.Fatalf("cleared entry = %+v", last)
	}
}

func TestDispatchArtifactReady(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	plan := json.RawMessage(`{"steps":["explore robotics"]}`)
	d.Dispatch(protocol.ArtifactReadyFrame{Text: "Here is your plan.", Artifact: plan})

	if string(state.Artifact()) != string(plan) {
		t.Fatalf("artifact = %s", state.Artifact())
	}
	if len(sink.artifacts) != 1 {
		t.Fatalf("artifact surfaced %d times", len(sink.artifacts))
	}
	if sink.lastStatus().message != "plan ready" {
		t.Fatalf("status = %q", sink.lastStatus().message)
	}
	if state.TurnCount() != 0 {
		t.Fatal("plan delivery is not a conversational turn")
	}
}

func TestDispatchRemoteTurnDroppedWhileFallbackOwns(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	if _, _, err := state.AdvanceTurn(OwnerFallback); err != nil {
		t.Fatalf("seed fallback ownership: %v", err)
	}
	d.Dispatch(protocol.TurnReplyFrame{Kind: protocol.KindTurn, Text: "late remote reply"})

	if state.TurnCount() != 1 {
		t.Fatalf("turn count = %d, remote reply must not advance", state.TurnCount())
	}
	if len(sink.messages) != 0 {
		t.Fatal("dropped reply must not reach the transcript")
	}
}

func TestDispatchUnknownFrameDropped(t *testing.T) {
	d, state, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.UnknownFrame{Tag: "telemetry"})

	if len(sink.messages) != 0 || len(sink.statuses) != 0 {
		t.Fatal("unknown frames produce no side effects")
	}
	if state.TurnCount() != 0 {
		t.Fatal("unknown frames do not advance turns")
	}
}

func TestDispatchHistoryReplaysTranscript(t *testing.T) {
	d, _, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.HistoryFrame{Conversation: []protocol.HistoryEntry{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
	}})

	if len(sink.messages) != 2 {
		t.Fatalf("entries = %d", len(sink.messages))
	}
	if sink.messages[0].author != AuthorUser || sink.messages[1].author != AuthorCounselor {
		t.Fatalf("authors = %v, %v", sink.messages[0].author, sink.messages[1].author)
	}
}

func TestDispatchStatsRendersSummary(t *testing.T) {
	d, _, sink := newDispatcherFixture(DefaultConfig())
	d.Dispatch(protocol.StatsFrame{Stats: map[string]any{
		"user_messages": 4,
		"current_phase": "discovery",
	}})

	if len(sink.messages) != 1 || sink.messages[0].author != AuthorSystem {
		t.Fatalf("transcript = %+v", sink.messages)
	}
	if got := sink.messages[0].text; got != "session stats: current_phase=discovery, user_messages=4" {
		t.Fatalf("summary = %q", got)
	}

	// An empty payload renders nothing.
	d.Dispatch(protocol.StatsFrame{})
	if len(sink.messages) != 1 {
		t.Fatal("empty stats must not add a transcript entry")
	}
}
