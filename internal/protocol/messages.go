package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ViewerName      string `json:"viewer_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ViewerName      string `json:"viewer_name"`
	WorldID         string `json:"world_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
	ChunkSize       int    `json:"chunk_size"`
	ViewRadius      int    `json:"view_radius_chunks"`
	MaxLineWidth    int    `json:"max_line_width"`
}

// MOVE (client -> server): the viewer's position decides which signs it sees.
type MoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
}

// EDIT_SIGN (client -> server): new text for one side of a sign.
type EditSignMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Pos             [3]int    `json:"pos"`
	Side            string    `json:"side"`
	Lines           [4]string `json:"lines"`
}

type PlaceSignMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
}

type BreakSignMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
}

// INTERACT (client -> server): the viewer used one side of a sign.
type InteractMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Side            string `json:"side"`
}

// SIGN_LINES (server -> client): what one side of a sign shows.
type SignLinesMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	WorldID         string    `json:"world_id"`
	Pos             [3]int    `json:"pos"`
	Side            string    `json:"side"`
	Lines           [4]string `json:"lines"`
}

// SIGN_REMOVED (server -> client): the sign at pos no longer exists.
type SignRemovedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	WorldID         string `json:"world_id"`
	Pos             [3]int `json:"pos"`
}

const (
	NoticeInfo  = "INFO"
	NoticeWarn  = "WARN"
	NoticeError = "ERROR"
)

// NOTICE (server -> client): feedback about the viewer's own request.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Level           string `json:"level"`
	Code            string `json:"code,omitempty"`
	Text            string `json:"text"`
}
