package nrf905

import "time"

// Clock provides timing to the Device. clockwork.Clock satisfies it.
type Clock interface {
	Sleep(d time.Duration)
	Now() time.Time
	Since(t time.Time) time.Duration
}

// spin busy-waits until dur elapses since start. Unlike Sleep it can't
// return early and a preemption in the middle only extends the wait.
func spin(clk Clock, start time.Time, dur time.Duration) {
	for clk.Since(start) < dur {
	}
}
