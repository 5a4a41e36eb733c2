package master

// Phase is one step of a game's lifecycle. Phases are never stored
// authoritatively: every tick re-derives the phase from chain truth
// plus two local observations (scores artifact, active server).
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseCommitted
	PhaseClosed
	PhaseRunning
	PhaseFinished
	PhasePayoutComplete
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "CREATED"
	case PhaseCommitted:
		return "COMMITTED"
	case PhaseClosed:
		return "CLOSED"
	case PhaseRunning:
		return "GAME_RUNNING"
	case PhaseFinished:
		return "GAME_FINISHED"
	case PhasePayoutComplete:
		return "PAYOUT_COMPLETE"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Observation is everything the transition table looks at: the chain
// flags plus the local scores artifact, the active-server registry,
// and the retry-exhaustion pins.
type Observation struct {
	HasCommitted       bool
	HasStoredBlockHash bool
	HasClosed          bool
	HasRevealed        bool
	HasPaidOut         bool

	ScoresExist        bool
	AllPlayersFinished bool
	ServerActive       bool

	PayoutSkipped bool
	RevealSkipped bool
}

// DerivePhase computes the phase from an observation. The *Skipped
// pins open the side doors past a step whose retries were exhausted.
func DerivePhase(o Observation) Phase {
	var p Phase
	switch {
	case o.HasRevealed:
		p = PhaseComplete
	case o.HasPaidOut:
		p = PhasePayoutComplete
	case o.HasClosed && o.HasCommitted && o.HasStoredBlockHash && o.ScoresExist && o.AllPlayersFinished:
		p = PhaseFinished
	case o.HasClosed && o.HasCommitted && o.HasStoredBlockHash && o.ServerActive:
		p = PhaseRunning
	case o.HasClosed && o.HasCommitted && o.HasStoredBlockHash:
		p = PhaseClosed
	case o.HasCommitted:
		p = PhaseCommitted
	default:
		p = PhaseCreated
	}
	if p == PhaseFinished && o.PayoutSkipped {
		p = PhasePayoutComplete
	}
	if p == PhasePayoutComplete && o.RevealSkipped {
		p = PhaseComplete
	}
	return p
}
