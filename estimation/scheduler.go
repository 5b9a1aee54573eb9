package estimation

import "math"

// ForcePeriod is the period in seconds of scheduled thorough solves.
const ForcePeriod = 60.0

// ForceSolve reports whether the step ending at t with length dt crosses a
// multiple of ForcePeriod. The 1.1 margin tolerates uneven steps.
func ForceSolve(t, dt float64) bool {
	return math.Mod(t, ForcePeriod) < 1.1*dt
}

// Scheduler picks the solve intensity of each step.
type Scheduler struct {
	First, Last float64
}

// Force reports whether the step from told to tnow needs a thorough solve.
// The first and last steps always do.
func (s Scheduler) Force(told, tnow float64) bool {
	if tnow == s.First || tnow == s.Last {
		return true
	}
	return ForceSolve(tnow, tnow-told)
}
