package collection

// Status is the Collection lifecycle state (spec §4.3).
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusInitialCommit
	StatusReady
	StatusError
	StatusCleanedUp
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusInitialCommit:
		return "initialCommit"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusCleanedUp:
		return "cleaned-up"
	default:
		return "unknown"
	}
}

// transitions is the fixed graph from spec §4.3. A (from, to) pair not
// present here is always an error.
var transitions = map[Status]map[Status]bool{
	StatusIdle: {
		StatusLoading:   true,
		StatusError:     true,
		StatusCleanedUp: true,
	},
	StatusLoading: {
		StatusInitialCommit: true,
		StatusReady:         true,
		StatusError:         true,
		StatusCleanedUp:     true,
	},
	StatusInitialCommit: {
		StatusReady:     true,
		StatusError:     true,
		StatusCleanedUp: true,
	},
	StatusReady: {
		StatusCleanedUp: true,
		StatusError:     true,
	},
	StatusError: {
		StatusCleanedUp: true,
		StatusIdle:      true,
	},
	StatusCleanedUp: {
		StatusLoading: true,
		StatusError:   true,
	},
}

func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}
