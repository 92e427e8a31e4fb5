package lobby

import (
	"time"
)

type pendingTimeout struct {
	timer     *time.Timer
	turnIndex int
	cancelled bool
}

// ArmTimeout schedules fire after d for the turn at turnIndex. Any timeout
// still pending for this lobby is cancelled first, so at most one can ever
// fire. fire runs on its own goroutine and only on natural expiry.
func (l *Lobby) ArmTimeout(d time.Duration, turnIndex int, fire func()) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	if l.timeout != nil {
		l.timeout.cancelled = true
		l.timeout.timer.Stop()
	}
	pt := &pendingTimeout{turnIndex: turnIndex}
	pt.timer = time.AfterFunc(d, func() {
		l.timerMu.Lock()
		if pt.cancelled || l.timeout != pt {
			l.timerMu.Unlock()
			return
		}
		l.timeout = nil
		l.timerMu.Unlock()

		if l.ctx.Err() != nil {
			return
		}
		fire()
	})
	l.timeout = pt
}

// CancelTimeout drops the pending timeout, if any. It reports whether one was
// pending.
func (l *Lobby) CancelTimeout() bool {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	if l.timeout == nil {
		return false
	}
	l.timeout.cancelled = true
	l.timeout.timer.Stop()
	l.timeout = nil
	return true
}

func (l *Lobby) TimeoutPending() bool {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	return l.timeout != nil
}

// TimeoutPendingFor reports whether the pending timeout belongs to the turn
// at turnIndex. A timer left over from an earlier turn does not count.
func (l *Lobby) TimeoutPendingFor(turnIndex int) bool {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	return l.timeout != nil && l.timeout.turnIndex == turnIndex
}
