package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func mustEncode(t *testing.T, intent Intent) map[string]any {
	t.Helper()
	data, err := Encode(intent)
	if err != nil {
		t.Fatalf("Encode(%T): %v", intent, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("encoded intent is not valid JSON: %v", err)
	}
	return decoded
}

func TestEncodeIntents(t *testing.T) {
	if got := mustEncode(t, ConnectIntent{}); got["type"] != "connect" {
		t.Fatalf("connect type = %v", got["type"])
	}
	if got := mustEncode(t, PingIntent{}); got["type"] != "ping" {
		t.Fatalf("ping type = %v", got["type"])
	}
	if got := mustEncode(t, ClearIntent{}); got["type"] != "clear" {
		t.Fatalf("clear type = %v", got["type"])
	}

	got := mustEncode(t, TextIntent{Message: "  hello  ", WantsAudio: true})
	if got["type"] != "text" || got["message"] != "hello" || got["wants_audio"] != true {
		t.Fatalf("unexpected text envelope: %v", got)
	}

	got = mustEncode(t, RequestArtifactIntent{WantsAudio: false})
	if got["type"] != "request_plan" || got["wants_audio"] != false {
		t.Fatalf("unexpected request_plan envelope: %v", got)
	}

	got = mustEncode(t, StartSessionIntent{WantsAudio: true})
	if got["type"] != "start_session" {
		t.Fatalf("unexpected start_session envelope: %v", got)
	}

	got = mustEncode(t, ExploreIntent{Interests: []string{" math ", ""}})
	if got["type"] != "explore_careers" {
		t.Fatalf("unexpected explore envelope: %v", got)
	}
	interests, _ := got["interests"].([]any)
	if len(interests) != 1 || interests[0] != "math" {
		t.Fatalf("explore interests not trimmed/filtered: %v", got["interests"])
	}

	got = mustEncode(t, CompareIntent{First: "medicine", Second: "law"})
	if got["type"] != "compare_careers" || got["career1"] != "medicine" || got["career2"] != "law" {
		t.Fatalf("unexpected compare envelope: %v", got)
	}

	if got := mustEncode(t, StatsIntent{}); got["type"] != "stats" {
		t.Fatalf("stats type = %v", got["type"])
	}
}

func TestEncodeRejectsEmptyText(t *testing.T) {
	if _, err := Encode(TextIntent{Message: "   "}); err == nil {
		t.Fatal("expected error for empty text message")
	}
	if _, err := Encode(ExploreIntent{}); err == nil {
		t.Fatal("expected error for empty interests")
	}
	if _, err := Encode(CompareIntent{First: "only one"}); err == nil {
		t.Fatal("expected error for missing comparison option")
	}
}

func TestDecodeConnected(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"connected","session_id":"abc","message":"hi"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	connected, ok := frame.(ConnectedFrame)
	if !ok {
		t.Fatalf("expected ConnectedFrame, got %T", frame)
	}
	if connected.SessionID != "abc" || connected.Message != "hi" {
		t.Fatalf("unexpected frame: %+v", connected)
	}

	if _, err := Decode([]byte(`{"type":"connected"}`)); err == nil {
		t.Fatal("expected error for connected without session_id")
	}
}

func TestDecodeTurnReply(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("pcm"))
	raw := `{"type":"response","text":"hello","audio":"` + audio + `","metadata":{"profile_update":{"grade":"10","interests":["math"]}}}`

	frame, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	reply, ok := frame.(TurnReplyFrame)
	if !ok {
		t.Fatalf("expected TurnReplyFrame, got %T", frame)
	}
	if reply.Kind != KindTurn || reply.Text != "hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if string(reply.Audio) != "pcm" {
		t.Fatalf("audio not decoded: %q", reply.Audio)
	}
	if reply.ProfileUpdate["grade"] != "10" {
		t.Fatalf("profile update not extracted: %v", reply.ProfileUpdate)
	}
}

func TestDecodeReplyKinds(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"career_suggestions","text":"try these","interests":["math"]}`))
	if err != nil {
		t.Fatalf("Decode suggestions: %v", err)
	}
	if reply := frame.(TurnReplyFrame); reply.Kind != KindSuggestion || len(reply.Interests) != 1 {
		t.Fatalf("unexpected suggestion reply: %+v", reply)
	}

	frame, err = Decode([]byte(`{"type":"career_comparison","text":"versus","career1":"a","career2":"b"}`))
	if err != nil {
		t.Fatalf("Decode comparison: %v", err)
	}
	if reply := frame.(TurnReplyFrame); reply.Kind != KindComparison || reply.First != "a" || reply.Second != "b" {
		t.Fatalf("unexpected comparison reply: %+v", reply)
	}
}

func TestDecodeReplyBadAudio(t *testing.T) {
	_, err := Decode([]byte(`{"type":"response","text":"hi","audio":"***"}`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for bad base64, got %v", err)
	}
}

func TestDecodeArtifact(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"plan_generated","text":"done","plan":{"steps":[1,2]}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	artifact, ok := frame.(ArtifactReadyFrame)
	if !ok {
		t.Fatalf("expected ArtifactReadyFrame, got %T", frame)
	}
	if len(artifact.Artifact) == 0 {
		t.Fatal("artifact payload missing")
	}

	if _, err := Decode([]byte(`{"type":"plan_generated","text":"done"}`)); err == nil {
		t.Fatal("expected error for plan_generated without plan")
	}
}

func TestDecodeStatusErrorPongCleared(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"status","status":"thinking","message":"analyzing"}`))
	if err != nil {
		t.Fatalf("Decode status: %v", err)
	}
	if s := frame.(StatusFrame); s.Status != "thinking" || s.Message != "analyzing" {
		t.Fatalf("unexpected status frame: %+v", s)
	}

	frame, err = Decode([]byte(`{"type":"error","message":"boom"}`))
	if err != nil {
		t.Fatalf("Decode error frame: %v", err)
	}
	if e := frame.(ErrorFrame); e.Message != "boom" {
		t.Fatalf("unexpected error frame: %+v", e)
	}

	if frame, err = Decode([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("Decode pong: %v", err)
	} else if _, ok := frame.(PongFrame); !ok {
		t.Fatalf("expected PongFrame, got %T", frame)
	}

	frame, err = Decode([]byte(`{"type":"conversation_cleared","message":"fresh start"}`))
	if err != nil {
		t.Fatalf("Decode cleared: %v", err)
	}
	if c := frame.(ClearedFrame); c.Message != "fresh start" {
		t.Fatalf("unexpected cleared frame: %+v", c)
	}
}

func TestDecodeStats(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"stats","stats":{"user_messages":4,"current_phase":"discovery"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	stats, ok := frame.(StatsFrame)
	if !ok {
		t.Fatalf("expected StatsFrame, got %T", frame)
	}
	if stats.Stats["current_phase"] != "discovery" {
		t.Fatalf("unexpected stats payload: %v", stats.Stats)
	}
}

func TestDecodeUnknownTagIsNotFatal(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"telemetry","value":1}`))
	if err != nil {
		t.Fatalf("unknown tag must not be an error: %v", err)
	}
	unknown, ok := frame.(UnknownFrame)
	if !ok {
		t.Fatalf("expected UnknownFrame, got %T", frame)
	}
	if unknown.Tag != "telemetry" || len(unknown.Raw) == 0 {
		t.Fatalf("unexpected unknown frame: %+v", unknown)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"no_type":1}`, `{"type":""}`} {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("expected decode error for %q", raw)
		}
	}
}
