package pipeline

// State identifies one of the possible states pipeline can be in.
// Transitions are strictly sequential:
//
//	Assembling -> Streaming -> Draining -> Terminated
type State int

const (
	// Assembling means that all stages are started and chained, but no
	// input was fed yet.
	Assembling State = iota
	// Streaming means that input is being fed into the first stage.
	Streaming
	// Draining means that end-of-stream marker was sent and stages are
	// being joined.
	Draining
	// Terminated means that all workers have exited.
	Terminated
)

func (s State) String() string {
	switch s {
	case Assembling:
		return "assembling"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}
