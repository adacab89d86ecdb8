package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeClient decodes a validated client message into its concrete type.
// HELLO is only accepted during the handshake and is rejected here.
func DecodeClient(typ string, b []byte) (any, error) {
	var msg any
	switch typ {
	case TypeMove:
		msg = &MoveMsg{}
	case TypeEditSign:
		msg = &EditSignMsg{}
	case TypePlaceSign:
		msg = &PlaceSignMsg{}
	case TypeBreakSign:
		msg = &BreakSignMsg{}
	case TypeInteract:
		msg = &InteractMsg{}
	default:
		return nil, fmt.Errorf("unexpected message type %q", typ)
	}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewNotice builds a NOTICE. Unknown codes are reported as E_INTERNAL.
func NewNotice(level, code, text string) NoticeMsg {
	if !IsKnownCode(code) {
		code = ErrInternal
	}
	return NoticeMsg{Type: TypeNotice, ProtocolVersion: Version, Level: level, Code: code, Text: text}
}
