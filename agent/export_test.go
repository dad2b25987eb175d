package agent

// resetLive releases the single-instance guard. Tests that leave a
// worker blocked in the sequencer cannot reach Deinit, so cleanup goes
// through this instead.
func resetLive() { live.Store(false) }
