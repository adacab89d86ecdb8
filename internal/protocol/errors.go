package protocol

// Notice codes. Every NOTICE with a code carries one of these.
const (
	// The frame failed schema validation or the handshake.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrInternal      = "E_INTERNAL"
)

// Codes lists the notice codes in the order they appear in the schema.
var Codes = []string{ErrProtoBadRequest, ErrBadRequest, ErrInvalidTarget, ErrRateLimit, ErrConflict, ErrInternal}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	for _, c := range Codes {
		if c == code {
			return true
		}
	}
	return false
}
