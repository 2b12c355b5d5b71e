package scheduler

import "github.com/rrf-io/sbcd/internal/gcode"

// lockState tracks the single movement-resource lock a channel can
// hold (spec.md §4.3 "Resource locks", e.g. M400/M291-exclusive
// sections). Only one channel may hold the lock at a time; requests
// from other channels queue until it is released.
type lockState struct {
	held    bool
	owner   gcode.Channel
	waiters []gcode.Channel
}

// tryAcquire grants the lock to channel if free or already owned by
// it. Returns false if another channel holds it, in which case channel
// is recorded as a waiter (unless already queued).
func (l *lockState) tryAcquire(channel gcode.Channel) bool {
	if !l.held {
		l.held = true
		l.owner = channel
		return true
	}
	if l.owner == channel {
		return true
	}
	for _, w := range l.waiters {
		if w == channel {
			return false
		}
	}
	l.waiters = append(l.waiters, channel)
	return false
}

// release frees the lock if channel holds it and returns the next
// waiter to try, if any (the caller re-attempts tryAcquire for it on
// the next scheduling pass).
func (l *lockState) release(channel gcode.Channel) (next gcode.Channel, hasNext bool) {
	if !l.held || l.owner != channel {
		return 0, false
	}
	l.held = false
	if len(l.waiters) == 0 {
		return 0, false
	}
	next = l.waiters[0]
	l.waiters = l.waiters[1:]
	return next, true
}
