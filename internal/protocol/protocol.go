package protocol

// Version is stamped on emitted game states and audit entries.
const Version = "1.0"

// Outcome statuses reported per agent for every resolved step.
const (
	StatusApplied  = "APPLIED"
	StatusRejected = "REJECTED"
	StatusNoop     = "NOOP"
)

// Event types emitted by the resolver.
const (
	EventCollected  = "COLLECTED"
	EventDamaged    = "DAMAGED"
	EventDestroyed  = "DESTROYED"
	EventEliminated = "ELIMINATED"
)

// Terminal reasons.
const (
	ReasonMaxSteps         = "max_steps_reached"
	ReasonAgentsEliminated = "agents_eliminated"
	ReasonAllCollected     = "all_collected"
	ReasonGobletCollected  = "goblet_collected"
	ReasonScoreReached     = "score_reached"
)

// Elimination causes.
const (
	CauseCaught    = "caught"
	CauseDestroyed = "destroyed"
)
