package domain

// ScrollPhase is the cosmetic scroll state of a feed instance. The current
// index, not the phase, decides what plays.
type ScrollPhase string

const (
	PhaseIdle      ScrollPhase = "idle"
	PhaseScrolling ScrollPhase = "scrolling"
	PhaseSettling  ScrollPhase = "settling"
)

var validTransitions = map[ScrollPhase][]ScrollPhase{
	PhaseIdle:      {PhaseScrolling},
	PhaseScrolling: {PhaseSettling, PhaseIdle},
	PhaseSettling:  {PhaseIdle, PhaseScrolling},
}

// CanTransition reports whether a transition from one phase to another is valid.
func CanTransition(from, to ScrollPhase) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
