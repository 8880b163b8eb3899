// Package mixer renders scheduled sample playback into interleaved stereo
// float32 and owns the audio clock the scheduler runs against.
package mixer

import (
	"math"
	"sort"
	"sync"

	"go-beatmachine/bank"
)

const (
	smoothingSeconds = 0.005
	velocityEpsilon  = 1e-3
	advanceChunk     = 1024
)

// ResetMode selects what Voice.Reset cancels
type ResetMode int

const (
	// ResetSoft cancels sounds that have not started yet
	ResetSoft ResetMode = iota
	// ResetHard also silences sounds that are playing
	ResetHard
)

func (r ResetMode) String() string {
	if r == ResetHard {
		return "hard"
	}
	return "soft"
}

// Source supplies the decoded bank audio. *bank.Bank implements it.
type Source interface {
	Data() []float32
	SampleRate() int
}

// Mixer is safe for concurrent use: the audio thread calls Process while the
// scheduler calls Play.
type Mixer struct {
	mu     sync.Mutex
	source Source
	rate   int
	frame  int64
	master float64
	voices map[string]*Voice
	order  []*Voice
}

// New creates a mixer rendering source at the given output rate
func New(source Source, rate int) *Mixer {
	return &Mixer{
		source: source,
		rate:   rate,
		master: 1,
		voices: make(map[string]*Voice),
	}
}

// SampleRate returns the output rate
func (m *Mixer) SampleRate() int {
	return m.rate
}

// Now returns the audio clock in seconds: frames rendered / output rate
func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frame) / float64(m.rate)
}

// Frame returns the audio clock in frames: the next frame to be rendered
func (m *Mixer) Frame() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// StartFrame is the frame a sound scheduled at audio time at starts on,
// before late starts are clamped to the playhead
func (m *Mixer) StartFrame(at float64) int64 {
	return int64(math.Round(at * float64(m.rate)))
}

// SetMasterVolume scales the whole mix
func (m *Mixer) SetMasterVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.master = math.Max(0, v)
}

// VoiceFor returns the voice for an instrument id, creating it on first use
func (m *Mixer) VoiceFor(id string) *Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.voices[id]; ok {
		return v
	}
	v := &Voice{m: m, id: id, volume: 1, gain: 1}
	m.voices[id] = v
	m.order = append(m.order, v)
	return v
}

// Voices returns the number of live voices
func (m *Mixer) Voices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Dispose drops a voice and everything it has scheduled
func (m *Mixer) Dispose(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.voices[id]
	if !ok {
		return
	}
	v.disposed = true
	delete(m.voices, id)
	for i, o := range m.order {
		if o == v {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// DisposeAll drops every voice
func (m *Mixer) DisposeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.order {
		v.disposed = true
	}
	m.voices = make(map[string]*Voice)
	m.order = nil
}

// Process renders len(dst)/2 stereo frames and advances the clock
func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range dst {
		dst[i] = 0
	}
	n := len(dst) / 2
	if n == 0 {
		return
	}

	data, ratio := m.sourceLocked()
	coef := 1 - math.Exp(-1/(smoothingSeconds*float64(m.rate)))
	for _, v := range m.order {
		v.render(dst[:n*2], data, ratio, coef)
	}
	if m.master != 1 {
		g := float32(m.master)
		for i := range dst {
			dst[i] *= g
		}
	}
	m.frame += int64(n)
}

// Advance renders and discards the given number of seconds. Offline tools
// and tests use it to move the audio clock.
func (m *Mixer) Advance(seconds float64) {
	frames := int(math.Round(seconds * float64(m.rate)))
	buf := make([]float32, advanceChunk*2)
	for frames > 0 {
		n := min(frames, advanceChunk)
		m.Process(buf[:n*2])
		frames -= n
	}
}

// sourceLocked returns the bank data and the number of bank frames to step
// per output frame (0 while the bank has no audio)
func (m *Mixer) sourceLocked() ([]float32, float64) {
	if m.source == nil {
		return nil, 0
	}
	data := m.source.Data()
	rate := m.source.SampleRate()
	if len(data) == 0 || rate <= 0 {
		return nil, 0
	}
	return data, float64(rate) / float64(m.rate)
}

// Entry describes a sound that has not started yet
type Entry struct {
	Name     string
	At       float64
	Velocity float64
}

type sound struct {
	name   string
	start  int64
	end    int64
	offset int
	length int
}

type stage struct {
	velocity float64
	sounds   []*sound
}

// Voice is the playback chain of one instrument: a base gain stage plus one
// stage per distinct velocity
type Voice struct {
	m        *Mixer
	id       string
	volume   float64
	muted    bool
	gain     float64
	base     stage
	stages   []*stage
	disposed bool
}

// ID returns the instrument id the voice was created for
func (v *Voice) ID() string {
	return v.id
}

// Play schedules sample to start at absolute audio time at. A start in the
// past begins on the next rendered frame.
func (v *Voice) Play(sample bank.Sample, at, velocity float64) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	if v.disposed || sample.Length <= 0 {
		return
	}
	_, ratio := v.m.sourceLocked()
	if ratio == 0 {
		return
	}

	start := v.m.StartFrame(at)
	if start < v.m.frame {
		start = v.m.frame
	}
	s := &sound{
		name:   sample.Name,
		start:  start,
		end:    start + int64(math.Ceil(float64(sample.Length)/ratio)),
		offset: sample.Start,
		length: sample.Length,
	}
	st := v.stageFor(velocity)
	st.sounds = append(st.sounds, s)
}

func (v *Voice) stageFor(velocity float64) *stage {
	if math.Abs(velocity-1) < velocityEpsilon {
		return &v.base
	}
	for _, st := range v.stages {
		if math.Abs(st.velocity-velocity) < velocityEpsilon {
			return st
		}
	}
	st := &stage{velocity: velocity}
	v.stages = append(v.stages, st)
	return st
}

// Mute silences the voice, keeping its volume for Unmute
func (v *Voice) Mute() {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	v.muted = true
}

// Unmute restores the staged volume
func (v *Voice) Unmute() {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	v.muted = false
}

// SetVolume sets the voice gain (0-1). While muted it only takes effect on Unmute.
func (v *Voice) SetVolume(volume float64) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	v.volume = math.Max(0, math.Min(1, volume))
}

func (v *Voice) Muted() bool {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.muted
}

func (v *Voice) Volume() float64 {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.volume
}

// Gain returns the gain the renderer is moving towards
func (v *Voice) Gain() float64 {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.targetLocked()
}

func (v *Voice) targetLocked() float64 {
	if v.muted {
		return 0
	}
	return v.volume
}

// Stages returns how many velocity stages exist besides the base stage
func (v *Voice) Stages() int {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return len(v.stages)
}

// Reset cancels scheduled sounds according to mode
func (v *Voice) Reset(mode ResetMode) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	now := v.m.frame
	v.eachStage(func(st *stage) {
		if mode == ResetHard {
			st.sounds = nil
			return
		}
		kept := st.sounds[:0]
		for _, s := range st.sounds {
			if s.start < now {
				kept = append(kept, s)
			}
		}
		st.sounds = kept
	})
}

// Pending returns the sounds that have not started, ordered by start time
func (v *Voice) Pending() []Entry {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	var out []Entry
	now := v.m.frame
	rate := float64(v.m.rate)
	v.eachStage(func(st *stage) {
		velocity := st.velocity
		if st == &v.base {
			velocity = 1
		}
		for _, s := range st.sounds {
			if s.start >= now {
				out = append(out, Entry{Name: s.name, At: float64(s.start) / rate, Velocity: velocity})
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// Sounding returns how many sounds are currently playing
func (v *Voice) Sounding() int {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	n := 0
	now := v.m.frame
	v.eachStage(func(st *stage) {
		for _, s := range st.sounds {
			if s.start < now && s.end > now {
				n++
			}
		}
	})
	return n
}

func (v *Voice) eachStage(fn func(*stage)) {
	fn(&v.base)
	for _, st := range v.stages {
		fn(st)
	}
}

func (v *Voice) render(dst []float32, data []float32, ratio, coef float64) {
	from := v.m.frame
	n := int64(len(dst) / 2)
	target := v.targetLocked()

	for i := int64(0); i < n; i++ {
		v.gain += (target - v.gain) * coef
		if math.Abs(target-v.gain) < 1e-6 {
			v.gain = target
		}
		if data == nil {
			continue
		}
		t := from + i
		v.eachStage(func(st *stage) {
			velocity := 1.0
			if st != &v.base {
				velocity = st.velocity
			}
			g := float32(v.gain * velocity)
			for _, s := range st.sounds {
				if t < s.start || t >= s.end {
					continue
				}
				l, r := s.frameAt(data, float64(t-s.start)*ratio)
				dst[i*2] += l * g
				dst[i*2+1] += r * g
			}
		})
	}

	end := from + n
	v.eachStage(func(st *stage) {
		kept := st.sounds[:0]
		for _, s := range st.sounds {
			if s.end > end {
				kept = append(kept, s)
			}
		}
		st.sounds = kept
	})
}

// frameAt reads the sound at a fractional position with linear interpolation
func (s *sound) frameAt(data []float32, pos float64) (float32, float32) {
	if pos >= float64(s.length) {
		return 0, 0
	}
	i := int(pos)
	frac := float32(pos - float64(i))
	a := s.offset + i
	b := a
	if i+1 < s.length {
		b = a + 1
	}
	if b*2+1 >= len(data) {
		return 0, 0
	}
	l := data[a*2] + (data[b*2]-data[a*2])*frac
	r := data[a*2+1] + (data[b*2+1]-data[a*2+1])*frac
	return l, r
}
