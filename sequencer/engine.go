// Package sequencer turns a machine's patterns into timed sample playback:
// a beat clock plus a lookahead scheduler feeding the mixer.
package sequencer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go-beatmachine/bank"
	"go-beatmachine/debug"
	"go-beatmachine/machine"
	"go-beatmachine/mixer"
)

// Defaults for Options
const (
	DefaultLookaheadSlots = 64
	DefaultRefillInterval = time.Second
	DefaultDisplayFPS     = 60
)

// Samples resolves sample names against a loaded bank. *bank.Bank implements it.
type Samples interface {
	Ready() bool
	Resolve(name string) (bank.Sample, error)
}

// Options tunes the engine. Zero values take the defaults.
type Options struct {
	LookaheadSlots int
	RefillInterval time.Duration
	DisplayFPS     int
	// Resume is called by Play to wake the audio output (may be nil)
	Resume func() error
}

func (o Options) withDefaults() Options {
	if o.LookaheadSlots <= 0 {
		o.LookaheadSlots = DefaultLookaheadSlots
	}
	if o.RefillInterval <= 0 {
		o.RefillInterval = DefaultRefillInterval
	}
	if o.DisplayFPS <= 0 {
		o.DisplayFPS = DefaultDisplayFPS
	}
	return o
}

// Engine schedules one machine against one mixer. Engines share no state,
// so several can run side by side.
type Engine struct {
	mixer   *mixer.Mixer
	samples Samples
	opts    Options

	mu       sync.Mutex
	machine  *machine.Machine
	unsub    func()
	clock    *Clock
	playing  bool
	cursor   int
	notReady bool
	stopChan chan struct{}

	beat atomic.Uint64 // float64 bits, display only

	// Notify views of position and state updates
	UpdateChan chan struct{}
}

// New creates a stopped engine for m
func New(m *machine.Machine, mx *mixer.Mixer, samples Samples, opts Options) *Engine {
	e := &Engine{
		mixer:      mx,
		samples:    samples,
		opts:       opts.withDefaults(),
		UpdateChan: make(chan struct{}, 1),
	}
	e.mu.Lock()
	e.attachLocked(m)
	e.mu.Unlock()
	return e
}

// attachLocked binds m: fresh clock, change subscription, voices primed
// with the instruments' volume and mute state
func (e *Engine) attachLocked(m *machine.Machine) {
	e.machine = m
	e.clock = NewClock(e.mixer, m.Flavor, m.BPM())
	e.cursor = 0
	e.unsub = m.Subscribe(func(c machine.Change) { e.onChange(m, c) })

	for _, st := range m.Snapshot().Instruments {
		v := e.mixer.VoiceFor(st.Instrument.ID)
		v.SetVolume(st.Volume)
		if st.Enabled {
			v.Unmute()
		} else {
			v.Mute()
		}
	}
	debug.Log("engine", "attached machine %q (%s, %.0f bpm, %d instruments)",
		m.Name, m.Flavor, m.BPM(), len(m.Instruments))
}

// Machine returns the current machine
func (e *Engine) Machine() *machine.Machine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine
}

// SetMachine swaps the machine: full stop, voices disposed, new clock, and
// playback restarted from slot 0 if it was running
func (e *Engine) SetMachine(m *machine.Machine) {
	e.mu.Lock()
	if m == e.machine {
		e.mu.Unlock()
		return
	}
	wasPlaying := e.playing
	e.stopLocked()
	if e.unsub != nil {
		e.unsub()
	}
	e.mixer.DisposeAll()
	e.attachLocked(m)
	e.mu.Unlock()

	e.notifyUpdate()
	if wasPlaying {
		e.Play()
	}
}

// Playing reports whether the engine is running
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Play starts the clock, fills the lookahead window and starts the refill
// and display loops. Calling Play while playing does nothing.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.playing {
		e.mu.Unlock()
		return
	}
	if e.opts.Resume != nil {
		if err := e.opts.Resume(); err != nil {
			debug.Log("engine", "resume audio output: %v", err)
		}
	}
	e.playing = true
	e.cursor = 0
	e.clock.Start()
	e.fillLocked()

	stop := make(chan struct{})
	e.stopChan = stop
	e.mu.Unlock()

	debug.Log("engine", "play")
	go e.refillLoop(stop)
	go e.displayLoop(stop)
	e.notifyUpdate()
}

// Stop halts playback, silences every voice and rewinds to slot 0.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasPlaying := e.playing
	e.stopLocked()
	e.mu.Unlock()

	if wasPlaying {
		debug.Log("engine", "stop")
		e.notifyUpdate()
	}
}

func (e *Engine) stopLocked() {
	if e.stopChan != nil {
		close(e.stopChan)
		e.stopChan = nil
	}
	e.playing = false
	for _, inst := range e.machine.Instruments {
		e.mixer.VoiceFor(inst.ID).Reset(mixer.ResetHard)
	}
	e.clock.Reset()
	e.cursor = 0
	e.notReady = false
	e.beat.Store(0)
}

// Close stops the engine and releases its voices and subscription
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.mixer.DisposeAll()
}

// Position returns the current fractional beat from the clock
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Now()
}

// Beat returns the last position published by the display loop
func (e *Engine) Beat() float64 {
	return math.Float64frombits(e.beat.Load())
}

// BeatIndicator maps the display beat to a lamp number, 1..BeatCount while
// playing and 0 when stopped
func (e *Engine) BeatIndicator() int {
	e.mu.Lock()
	playing := e.playing
	flavor := e.machine.Flavor
	e.mu.Unlock()
	return BeatIndicator(flavor, e.Beat(), playing)
}

// BeatIndicator is the lamp for beat under flavor's meter
func BeatIndicator(flavor machine.Flavor, beat float64, playing bool) int {
	if !playing {
		return 0
	}
	pos := math.Mod(beat/float64(flavor.BeatDivider()), float64(flavor.BeatCount()))
	return int(math.Round(0.5 + pos))
}

// notifyUpdate signals views without blocking
func (e *Engine) notifyUpdate() {
	select {
	case e.UpdateChan <- struct{}{}:
	default:
	}
}

// refillLoop tops up the lookahead window on a fixed wall-clock period
func (e *Engine) refillLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.opts.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.stopChan == stop {
				e.fillLocked()
			}
			e.mu.Unlock()
		}
	}
}

// displayLoop publishes the beat position for views
func (e *Engine) displayLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(e.opts.DisplayFPS))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.stopChan != stop {
				e.mu.Unlock()
				return
			}
			e.beat.Store(math.Float64bits(e.clock.Now()))
			e.mu.Unlock()
			e.notifyUpdate()
		}
	}
}

// Refill runs one lookahead fill, the same work as a refill loop tick.
// Offline renders call it as they advance the audio clock.
func (e *Engine) Refill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.fillLocked()
	}
}

// fillLocked schedules slots until the cursor is LookaheadSlots ahead of the
// playhead. A not-ready bank skips the tick.
func (e *Engine) fillLocked() {
	if !e.samples.Ready() {
		if !e.notReady {
			debug.Log("engine", "sample bank not ready, skipping refill")
			e.notReady = true
		}
		return
	}
	if e.notReady {
		debug.Log("engine", "sample bank ready")
		e.notReady = false
	}

	// never schedule slots that are already behind the playhead
	if first := e.firstUnplayedLocked(); e.cursor < first {
		e.cursor = first
	}
	beat := e.clock.Now()

	snap := e.machine.Snapshot()
	for float64(e.cursor)-2*beat < float64(e.opts.LookaheadSlots) {
		at := e.clock.SlotTime(e.cursor)
		for _, st := range snap.Instruments {
			e.scheduleLocked(snap.KeyNote, st, e.cursor, at)
		}
		e.cursor++
	}
}

// firstUnplayedLocked returns the first slot the mixer has not started.
// Slots are compared by start frame, the same rounding Voice.Play and
// ResetSoft use, so a soft reset and a regeneration agree on every slot.
func (e *Engine) firstUnplayedLocked() int {
	frame := e.mixer.Frame()
	slot := int(math.Floor(2 * e.clock.Now()))
	for slot > 0 && e.mixer.StartFrame(e.clock.SlotTime(slot-1)) >= frame {
		slot--
	}
	for e.mixer.StartFrame(e.clock.SlotTime(slot)) < frame {
		slot++
	}
	return slot
}

func (e *Engine) scheduleLocked(keyNote int, st machine.InstrumentState, slot int, at float64) {
	triggers := ResolveNotes(keyNote, st, slot)
	if len(triggers) == 0 {
		return
	}
	v := e.mixer.VoiceFor(st.Instrument.ID)
	for _, t := range triggers {
		s, err := e.samples.Resolve(t.Name)
		if err != nil {
			debug.LogEvery(16, "engine", "dropping %s: %v", t.Name, err)
			continue
		}
		v.Play(s, at, t.Velocity)
	}
}

// regenerateLocked replaces one instrument's not-yet-played schedule,
// from the playhead up to the cursor
func (e *Engine) regenerateLocked(inst *machine.Instrument) {
	if !e.playing || inst == nil {
		return
	}
	e.mixer.VoiceFor(inst.ID).Reset(mixer.ResetSoft)
	if !e.samples.Ready() {
		return
	}

	snap := e.machine.Snapshot()
	var st machine.InstrumentState
	for _, s := range snap.Instruments {
		if s.Instrument == inst {
			st = s
		}
	}
	if st.Instrument == nil {
		return
	}
	for slot := e.firstUnplayedLocked(); slot < e.cursor; slot++ {
		e.scheduleLocked(snap.KeyNote, st, slot, e.clock.SlotTime(slot))
	}
}

// changeTempoLocked keeps the beat continuous, drops the schedule built
// for the old tempo and refills from the playhead
func (e *Engine) changeTempoLocked(bpm float64) {
	if !e.playing {
		if err := e.clock.SetTempo(bpm); err != nil {
			debug.Log("engine", "tempo rejected: %v", err)
		}
		return
	}
	if err := e.clock.ChangeTempo(e.clock.BPM(), bpm); err != nil {
		debug.Log("engine", "tempo change rejected: %v", err)
		return
	}
	e.cursor = e.firstUnplayedLocked()
	for _, inst := range e.machine.Instruments {
		e.mixer.VoiceFor(inst.ID).Reset(mixer.ResetSoft)
	}
	e.fillLocked()
}

// onChange reacts to machine mutations. It runs on the mutating goroutine
// after the machine has released its lock.
func (e *Engine) onChange(m *machine.Machine, c machine.Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m != e.machine {
		// raced with SetMachine
		return
	}

	debug.Log("engine", "change %s %v -> %v", c.Field, c.Old, c.New)
	switch c.Field {
	case machine.FieldBPM:
		e.changeTempoLocked(c.New)
	case machine.FieldKeyNote:
		for _, inst := range e.machine.Instruments {
			if inst.Keyed {
				e.regenerateLocked(inst)
			}
		}
	case machine.FieldActiveProgram, machine.FieldLanguage:
		e.regenerateLocked(c.Instrument)
	case machine.FieldEnabled:
		v := e.mixer.VoiceFor(c.Instrument.ID)
		if c.New != 0 {
			v.Unmute()
			e.regenerateLocked(c.Instrument)
		} else {
			v.Mute()
		}
	case machine.FieldVolume:
		e.mixer.VoiceFor(c.Instrument.ID).SetVolume(c.New)
	}
}
