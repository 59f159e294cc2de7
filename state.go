package banyan

// State is the agent loop's current phase.
type State string

const (
	// StateIdle means no turn is running.
	StateIdle State = "idle"

	// StatePreparingRequest means queues are being drained and the context
	// envelope composed.
	StatePreparingRequest State = "preparing_request"

	// StateStreaming means a provider stream is in flight.
	StateStreaming State = "streaming"

	// StateExecutingTools means tool calls from the last assistant message
	// are running.
	StateExecutingTools State = "executing_tools"

	// StateCompacting means a compaction summarization call is in flight.
	StateCompacting State = "compacting"

	// StateAborted is the transient acknowledgment of an abort before the
	// loop returns to idle.
	StateAborted State = "aborted"

	// StateErrored is the transient acknowledgment of a fatal turn error
	// before the loop returns to idle.
	StateErrored State = "errored"
)

func (s State) String() string { return string(s) }
