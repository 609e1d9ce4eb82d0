package liveness

// Latch is an edge trigger: Trip reports true only on the transition into the
// active state, Clear re-arms it. The zero value is armed.
type Latch struct {
	active bool
}

// Trip activates the latch and reports whether it was armed.
func (l *Latch) Trip() bool {
	if l.active {
		return false
	}
	l.active = true
	return true
}

// Clear re-arms the latch and reports whether it had been active.
func (l *Latch) Clear() bool {
	was := l.active
	l.active = false
	return was
}

func (l *Latch) Active() bool {
	return l.active
}
