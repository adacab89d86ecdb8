package protocol_test

import (
	"encoding/json"
	"testing"

	"signlink.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	samples := map[string]string{
		"hello":      `{"type":"HELLO","protocol_version":"1.0","viewer_name":"alice_1"}`,
		"welcome":    `{"type":"WELCOME","protocol_version":"1.0","session_id":"s1","viewer_name":"alice","world_id":"world","tick_rate_hz":20,"chunk_size":16,"view_radius_chunks":4,"max_line_width":15}`,
		"move":       `{"type":"MOVE","protocol_version":"1.0","pos":[10,64,-3]}`,
		"edit":       `{"type":"EDIT_SIGN","protocol_version":"1.0","pos":[10,64,-3],"side":"front","lines":["Score:","%score%","",""]}`,
		"place":      `{"type":"PLACE_SIGN","protocol_version":"1.0","pos":[1,2,3]}`,
		"break":      `{"type":"BREAK_SIGN","protocol_version":"1.0","pos":[1,2,3]}`,
		"interact":   `{"type":"INTERACT","protocol_version":"1.0","pos":[1,2,3],"side":"back"}`,
		"sign_lines": `{"type":"SIGN_LINES","protocol_version":"1.0","tick":7,"world_id":"world","pos":[1,2,3],"side":"front","lines":["a","b","c","d"]}`,
		"removed":    `{"type":"SIGN_REMOVED","protocol_version":"1.0","tick":7,"world_id":"world","pos":[1,2,3]}`,
		"notice":     `{"type":"NOTICE","protocol_version":"1.0","level":"WARN","code":"E_CONFLICT","text":"line 1 already links \"a\""}`,
	}
	for name, raw := range samples {
		if _, err := v.Validate([]byte(raw)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestSchemas_RejectInvalid(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	bad := map[string]string{
		"unknown type":   `{"type":"TELEPORT","protocol_version":"1.0"}`,
		"short pos":      `{"type":"MOVE","protocol_version":"1.0","pos":[1,2]}`,
		"three lines":    `{"type":"EDIT_SIGN","protocol_version":"1.0","pos":[1,2,3],"side":"front","lines":["a","b","c"]}`,
		"bad side":       `{"type":"INTERACT","protocol_version":"1.0","pos":[1,2,3],"side":"top"}`,
		"empty name":     `{"type":"HELLO","protocol_version":"1.0","viewer_name":""}`,
		"extra field":    `{"type":"BREAK_SIGN","protocol_version":"1.0","pos":[1,2,3],"force":true}`,
		"not json":       `{"type":`,
		"fractional pos": `{"type":"MOVE","protocol_version":"1.0","pos":[1.5,2,3]}`,
	}
	for name, raw := range bad {
		if _, err := v.Validate([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestMessages_MatchSchemas(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	msgs := []any{
		protocol.SignLinesMsg{Type: protocol.TypeSignLines, ProtocolVersion: protocol.Version, WorldID: "world", Pos: [3]int{1, 2, 3}, Side: "front", Lines: [4]string{"x"}},
		protocol.NoticeMsg{Type: protocol.TypeNotice, ProtocolVersion: protocol.Version, Level: protocol.NoticeInfo, Text: "hi"},
		protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "s", ViewerName: "a", WorldID: "w", TickRateHz: 20, ChunkSize: 16, MaxLineWidth: 15},
		protocol.EditSignMsg{Type: protocol.TypeEditSign, ProtocolVersion: protocol.Version, Side: "back"},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := v.Validate(b); err != nil {
			t.Fatalf("%T: %v", m, err)
		}
	}
}

func TestDecodeClient(t *testing.T) {
	msg, err := protocol.DecodeClient(protocol.TypeEditSign, []byte(`{"type":"EDIT_SIGN","protocol_version":"1.0","pos":[1,2,3],"side":"back","lines":["a","%b%","",""]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	edit, ok := msg.(*protocol.EditSignMsg)
	if !ok || edit.Side != "back" || edit.Lines[1] != "%b%" || edit.Pos != [3]int{1, 2, 3} {
		t.Fatalf("unexpected message: %#v", msg)
	}
	if _, err := protocol.DecodeClient(protocol.TypeHello, []byte(`{"type":"HELLO"}`)); err == nil {
		t.Fatalf("expected HELLO to be rejected after handshake")
	}
}
