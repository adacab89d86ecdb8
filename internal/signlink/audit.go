package signlink

import "signlink.ai/internal/signlink/model"

const (
	ActionBind        = "BIND"
	ActionUnbind      = "UNBIND"
	ActionConflict    = "CONFLICT"
	ActionSignRemoved = "SIGN_REMOVED"
	ActionVarCreate   = "VAR_CREATE"
	ActionVarSet      = "VAR_SET"
	ActionVarRemove   = "VAR_REMOVE"
	ActionToggle      = "TOGGLE"
	ActionReload      = "RELOAD"

	// Recorded by the host for the raw sign changes that drive the engine.
	ActionSignPlace = "SIGN_PLACE"
	ActionSignEdit  = "SIGN_EDIT"
	ActionSignBreak = "SIGN_BREAK"
)

type AuditEntry struct {
	Tick     uint64         `json:"tick"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"` // e.g. "BIND"
	World    string         `json:"world,omitempty"`
	Pos      [3]int         `json:"pos"`
	Side     string         `json:"side,omitempty"`
	Line     int            `json:"line"`
	Variable string         `json:"variable,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Loc      model.Location `json:"-"`
}
