// Package ramp provides caller-driven steppers for values that must move
// gradually rather than jump, generalizing the teacher's StartLinear
// synchronous ramp (a goroutine-driven level stepper toward a target) to
// the pit controller's long-PWM duty scheduling: instead of ramping a
// level toward a target, Window cycles on/off within a fixed period and
// reports only the ticks where the state actually flips.
package ramp

import "time"

// Window implements a duty cycle over a fixed-length period: on for
// OnDuration, off for the remainder, wrapping every Length. Callers
// drive it with their own ticker (mirroring the Tick/Step split of
// StartLinear) and act only when Advance reports a flip.
type Window struct {
	Length     time.Duration
	OnDuration time.Duration
	Elapsed    time.Duration
	On         bool
}

// NewWindow starts a window of the given length, on for onDuration of
// every cycle (clamped to length). The returned Window already reflects
// the state at Elapsed=0, so a freshly opened window is On whenever
// onDuration > 0.
func NewWindow(length, onDuration time.Duration) Window {
	if onDuration > length {
		onDuration = length
	}
	if onDuration < 0 {
		onDuration = 0
	}
	return Window{Length: length, OnDuration: onDuration, On: onDuration > 0}
}

// Advance steps the window by step, wrapping Elapsed at Length, and
// reports whether the on/off state flipped as a result. At most one
// flip is ever reported per call regardless of how many periods step
// spans, matching the controller's one-fan-emission-per-sub-tick rule.
func (w *Window) Advance(step time.Duration) (flipped bool) {
	w.Elapsed += step
	if w.Length > 0 {
		for w.Elapsed >= w.Length {
			w.Elapsed -= w.Length
		}
	}
	want := w.Elapsed < w.OnDuration
	flipped = want != w.On
	w.On = want
	return flipped
}
