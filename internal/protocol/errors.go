package protocol

const (
	CodeOK = "E_OK"

	// Action validation.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNotAllowed    = "E_NOT_ALLOWED"
	ErrOutOfBounds   = "E_OUT_OF_BOUNDS"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrOutOfReach    = "E_OUT_OF_REACH"
	ErrNotActive     = "E_NOT_ACTIVE"
	ErrUnknownAgent  = "E_UNKNOWN_AGENT"

	// Application against the world.
	ErrBlocked    = "E_BLOCKED"
	ErrConflict   = "E_CONFLICT"
	ErrTargetGone = "E_TARGET_GONE"

	// Action source.
	ErrSourceFailed  = "E_SOURCE_FAILED"
	ErrSourceTimeout = "E_SOURCE_TIMEOUT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeOK:           {},
	ErrBadRequest:    {},
	ErrNotAllowed:    {},
	ErrOutOfBounds:   {},
	ErrInvalidTarget: {},
	ErrOutOfReach:    {},
	ErrNotActive:     {},
	ErrUnknownAgent:  {},
	ErrBlocked:       {},
	ErrConflict:      {},
	ErrTargetGone:    {},
	ErrSourceFailed:  {},
	ErrSourceTimeout: {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
