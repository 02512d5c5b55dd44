package lifecycle

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot callbacks. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

// timerSlot owns the single refresh timer of a Manager. It is guarded by Manager.mu.
// Every arm or stop bumps seq so a callback that already fired can tell it was superseded.
type timerSlot struct {
	handle Timer
	seq    uint64
}

// arm cancels any pending timer before installing the next one.
func (s *timerSlot) arm(sched Scheduler, d time.Duration, fire func(seq uint64)) {
	s.stop()
	seq := s.seq
	s.handle = sched.AfterFunc(d, func() { fire(seq) })
}

func (s *timerSlot) stop() {
	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}
	s.seq++
}

// claim marks the timer with seq as fired. It reports false for superseded timers.
func (s *timerSlot) claim(seq uint64) bool {
	if s.handle == nil || s.seq != seq {
		return false
	}
	s.handle = nil
	return true
}

func (s *timerSlot) armed() bool {
	return s.handle != nil
}
