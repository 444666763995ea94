package encounter

// State is the detection state of the encounter machine
type State int

const (
	StateIdle State = iota
	StateMonitoring
	StateBuffering
	StateEncounterActive
	StatePotentialEnd
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateBuffering:
		return "buffering"
	case StateEncounterActive:
		return "encounter_active"
	case StatePotentialEnd:
		return "potential_end"
	default:
		return "unknown"
	}
}

// inEncounter reports whether the silence clock is meaningful in s
func (s State) inEncounter() bool {
	return s == StateEncounterActive || s == StatePotentialEnd
}
