package sequencer

import (
	"errors"
	"fmt"
	"math"

	"go-beatmachine/machine"
)

// ErrInvalidTempo is returned for zero, negative or non-finite tempos
var ErrInvalidTempo = errors.New("invalid tempo")

// AudioClock is the time source the beat clock follows (seconds)
type AudioClock interface {
	Now() float64
}

// Clock maps audio time to a fractional beat position.
// Not safe for concurrent use; the engine guards it with its own mutex.
type Clock struct {
	audio      AudioClock
	flavor     machine.Flavor
	bpm        float64
	zero       float64
	started    bool
	correction float64
}

// NewClock creates a stopped clock
func NewClock(audio AudioClock, flavor machine.Flavor, bpm float64) *Clock {
	return &Clock{audio: audio, flavor: flavor, bpm: bpm}
}

func (c *Clock) BPM() float64 {
	return c.bpm
}

// Correction returns the phase correction accumulated by tempo changes
func (c *Clock) Correction() float64 {
	return c.correction
}

// Zero returns the audio time of beat 0
func (c *Clock) Zero() float64 {
	return c.zero
}

// Started reports whether Start has been called since the last Reset
func (c *Clock) Started() bool {
	return c.started
}

// SecondsPerBeat is 60/bpm, halved for Merengue
func (c *Clock) SecondsPerBeat() float64 {
	spb := 60 / c.bpm
	if c.flavor == machine.Merengue {
		spb /= 2
	}
	return spb
}

// SlotDuration is the length of one scheduling slot (half a beat)
func (c *Clock) SlotDuration() float64 {
	return c.SecondsPerBeat() / 2
}

// Start takes the current audio time as beat 0
func (c *Clock) Start() {
	c.zero = c.audio.Now()
	c.started = true
}

// Reset clears the zero reference and the phase correction
func (c *Clock) Reset() {
	c.zero = 0
	c.started = false
	c.correction = 0
}

// Elapsed returns audio seconds since Start (0 when not started)
func (c *Clock) Elapsed() float64 {
	if !c.started {
		return 0
	}
	return c.audio.Now() - c.zero
}

// Now returns the fractional beat position (0 when not started)
func (c *Clock) Now() float64 {
	if !c.started {
		return 0
	}
	return (c.Elapsed() + c.correction) / c.SecondsPerBeat()
}

// SlotTime returns the audio time at which slot starts
func (c *Clock) SlotTime(slot int) float64 {
	return c.zero + float64(slot)*c.SlotDuration() - c.correction
}

// ChangeTempo switches from oldBPM to newBPM keeping the beat position
// continuous. On error the previous tempo and correction are kept.
func (c *Clock) ChangeTempo(oldBPM, newBPM float64) error {
	if !validTempo(oldBPM) || !validTempo(newBPM) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTempo, oldBPM, newBPM)
	}
	elapsed := c.Elapsed()
	correction := (elapsed+c.correction)*(oldBPM/newBPM) - elapsed
	if math.IsNaN(correction) || math.IsInf(correction, 0) {
		return fmt.Errorf("%w: correction %v", ErrInvalidTempo, correction)
	}
	c.correction = correction
	c.bpm = newBPM
	return nil
}

// SetTempo changes the tempo without any phase correction (while stopped)
func (c *Clock) SetTempo(bpm float64) error {
	if !validTempo(bpm) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, bpm)
	}
	c.bpm = bpm
	return nil
}

func validTempo(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 0)
}
