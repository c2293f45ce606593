package app

import "time"

// Scheduler schedules a callback to run once after a delay. The returned
// cancel function stops the callback if it has not fired yet. Abstracted so
// tests can drive timer transitions deterministically.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
