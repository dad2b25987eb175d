package agent

// Event is a lifecycle notification. Delivery is synchronous at the
// emission point and strictly ordered; handlers must not block.
type Event uint8

const (
	// EventInitDone fires once initialization has succeeded.
	EventInitDone Event = iota + 1
	// EventClaimStarted fires when the self-claim flow begins.
	EventClaimStarted
	// EventClaimFailed fires when the self-claim flow fails.
	EventClaimFailed
	// EventClaimSuccessful fires when the self-claim flow succeeds.
	EventClaimSuccessful
)

func (e Event) String() string {
	switch e {
	case EventInitDone:
		return "init_done"
	case EventClaimStarted:
		return "claim_started"
	case EventClaimFailed:
		return "claim_failed"
	case EventClaimSuccessful:
		return "claim_successful"
	default:
		return "unknown"
	}
}

func (a *Agent) emit(e Event) {
	if a.onEvent != nil {
		a.onEvent(e)
	}
}
