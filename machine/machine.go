// Package machine holds the rhythm model: a style preset (Machine) made of
// instruments, each with a set of looping programs, plus the mutable
// performance state the user edits while the loop plays.
package machine

import (
	"math"
	"sync"
)

// Flavor selects the meter of a machine
type Flavor string

const (
	Salsa    Flavor = "Salsa"
	Merengue Flavor = "Merengue"
)

// BeatCount is the number of beat lamps shown per measure
func (f Flavor) BeatCount() int {
	if f == Merengue {
		return 4
	}
	return 8
}

// BeatDivider is the number of clock beats per displayed beat
func (f Flavor) BeatDivider() int {
	if f == Merengue {
		return 2
	}
	return 1
}

// Valid reports whether f is one of the two supported flavors
func (f Flavor) Valid() bool {
	return f == Salsa || f == Merengue
}

// Interactive tempo range. The engine itself accepts any positive tempo.
const (
	MinBPM = 80
	MaxBPM = 250
)

// ClampBPM limits bpm to the interactive range
func ClampBPM(bpm float64) float64 {
	return math.Max(MinBPM, math.Min(MaxBPM, bpm))
}

// Hand selects which sample(s) a note fires
type Hand string

const (
	HandAny   Hand = ""
	HandLeft  Hand = "left"
	HandRight Hand = "right"
)

// Note is a single hit in a program
type Note struct {
	Index      int
	Pitch      int
	Velocity   float64
	Hand       Hand
	PianoTonic bool
}

// Program is one rhythm variant of an instrument. Immutable once loaded.
type Program struct {
	Title  string
	Length int
	Notes  []Note

	bySlot map[int][]Note
}

// NewProgram builds a program, normalizing note indexes modulo length
func NewProgram(title string, length int, notes []Note) *Program {
	p := &Program{
		Title:  title,
		Length: length,
		bySlot: make(map[int][]Note),
	}
	for _, n := range notes {
		if length > 0 {
			n.Index = mod(n.Index, length)
		}
		p.Notes = append(p.Notes, n)
		p.bySlot[n.Index] = append(p.bySlot[n.Index], n)
	}
	return p
}

// NotesAt returns the notes at slot (taken modulo the program length)
func (p *Program) NotesAt(slot int) []Note {
	if p.Length <= 0 {
		return nil
	}
	return p.bySlot[mod(slot, p.Length)]
}

// Instrument is one voice of a machine.
// Definition fields are fixed at load; performance state goes through the
// setters so the owning machine can notify subscribers.
type Instrument struct {
	ID                  string
	Title               string
	Programs            []*Program
	PitchOffset         int
	LeftHandPitchOffset int
	Keyed               bool
	PlayBothHands       bool
	Languages           []string

	m             *Machine
	enabled       bool
	volume        float64
	activeProgram int
	language      string
}

// InstrumentState is a consistent copy of an instrument's performance state
type InstrumentState struct {
	Instrument    *Instrument
	Enabled       bool
	Volume        float64
	ActiveProgram int
	Language      string
}

// Program returns the program at index i, or nil
func (inst *Instrument) Program(i int) *Program {
	if i < 0 || i >= len(inst.Programs) {
		return nil
	}
	return inst.Programs[i]
}

// VoiceOver reports whether the instrument resolves samples per language
func (inst *Instrument) VoiceOver() bool {
	return len(inst.Languages) > 0
}

func (inst *Instrument) Enabled() bool {
	inst.m.mu.RLock()
	defer inst.m.mu.RUnlock()
	return inst.enabled
}

func (inst *Instrument) Volume() float64 {
	inst.m.mu.RLock()
	defer inst.m.mu.RUnlock()
	return inst.volume
}

func (inst *Instrument) ActiveProgram() int {
	inst.m.mu.RLock()
	defer inst.m.mu.RUnlock()
	return inst.activeProgram
}

func (inst *Instrument) Language() string {
	inst.m.mu.RLock()
	defer inst.m.mu.RUnlock()
	return inst.language
}

// State returns a copy of the performance state
func (inst *Instrument) State() InstrumentState {
	inst.m.mu.RLock()
	defer inst.m.mu.RUnlock()
	return inst.stateLocked()
}

func (inst *Instrument) stateLocked() InstrumentState {
	return InstrumentState{
		Instrument:    inst,
		Enabled:       inst.enabled,
		Volume:        inst.volume,
		ActiveProgram: inst.activeProgram,
		Language:      inst.language,
	}
}

// SetEnabled turns the instrument on or off
func (inst *Instrument) SetEnabled(enabled bool) {
	inst.m.mu.Lock()
	if inst.enabled == enabled {
		inst.m.mu.Unlock()
		return
	}
	inst.enabled = enabled
	inst.m.mu.Unlock()
	inst.m.notify(Change{Field: FieldEnabled, Instrument: inst, Old: boolValue(!enabled), New: boolValue(enabled)})
}

// Toggle flips enabled and returns the new value
func (inst *Instrument) Toggle() bool {
	inst.m.mu.Lock()
	enabled := !inst.enabled
	inst.enabled = enabled
	inst.m.mu.Unlock()
	inst.m.notify(Change{Field: FieldEnabled, Instrument: inst, Old: boolValue(!enabled), New: boolValue(enabled)})
	return enabled
}

// SetVolume sets the instrument gain, clamped to 0-1
func (inst *Instrument) SetVolume(volume float64) {
	volume = math.Max(0, math.Min(1, volume))
	inst.m.mu.Lock()
	old := inst.volume
	if old == volume {
		inst.m.mu.Unlock()
		return
	}
	inst.volume = volume
	inst.m.mu.Unlock()
	inst.m.notify(Change{Field: FieldVolume, Instrument: inst, Old: old, New: volume})
}

// SetActiveProgram selects a program; out-of-range indexes are ignored
func (inst *Instrument) SetActiveProgram(i int) {
	if i < 0 || i >= len(inst.Programs) {
		return
	}
	inst.m.mu.Lock()
	old := inst.activeProgram
	if old == i {
		inst.m.mu.Unlock()
		return
	}
	inst.activeProgram = i
	inst.m.mu.Unlock()
	inst.m.notify(Change{Field: FieldActiveProgram, Instrument: inst, Old: float64(old), New: float64(i)})
}

// CycleProgram advances to the next program, wrapping around
func (inst *Instrument) CycleProgram() {
	if len(inst.Programs) == 0 {
		return
	}
	inst.SetActiveProgram((inst.ActiveProgram() + 1) % len(inst.Programs))
}

// SetLanguage selects the voice-over language. Only languages listed by the
// instrument are accepted.
func (inst *Instrument) SetLanguage(lang string) {
	if !inst.hasLanguage(lang) {
		return
	}
	inst.m.mu.Lock()
	if inst.language == lang {
		inst.m.mu.Unlock()
		return
	}
	inst.language = lang
	inst.m.mu.Unlock()
	inst.m.notify(Change{Field: FieldLanguage, Instrument: inst})
}

// CycleLanguage moves to the next available language
func (inst *Instrument) CycleLanguage() {
	if len(inst.Languages) == 0 {
		return
	}
	cur := inst.Language()
	next := inst.Languages[0]
	for i, l := range inst.Languages {
		if l == cur {
			next = inst.Languages[(i+1)%len(inst.Languages)]
			break
		}
	}
	inst.SetLanguage(next)
}

func (inst *Instrument) hasLanguage(lang string) bool {
	for _, l := range inst.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Machine is a style preset: flavor, tempo, key and an ordered instrument set
type Machine struct {
	Name        string
	Flavor      Flavor
	Instruments []*Instrument

	mu        sync.RWMutex
	bpm       float64
	keyNote   int
	observers map[int]func(Change)
	nextObs   int
}

// Snapshot is a consistent copy of all mutable machine state
type Snapshot struct {
	BPM         float64
	KeyNote     int
	Instruments []InstrumentState
}

// New creates a machine and adopts the given instruments
func New(name string, flavor Flavor, bpm float64, keyNote int, instruments []*Instrument) *Machine {
	m := &Machine{
		Name:        name,
		Flavor:      flavor,
		Instruments: instruments,
		bpm:         bpm,
		keyNote:     mod(keyNote, 12),
		observers:   make(map[int]func(Change)),
	}
	for _, inst := range instruments {
		inst.m = m
	}
	return m
}

// NewInstrument creates an instrument with its initial performance state
func NewInstrument(id, title string, programs []*Program, enabled bool, volume float64) *Instrument {
	return &Instrument{
		ID:       id,
		Title:    title,
		Programs: programs,
		enabled:  enabled,
		volume:   math.Max(0, math.Min(1, volume)),
	}
}

func (m *Machine) BPM() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bpm
}

func (m *Machine) KeyNote() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyNote
}

// Instrument finds an instrument by id
func (m *Machine) Instrument(id string) *Instrument {
	for _, inst := range m.Instruments {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// Snapshot copies tempo, key and every instrument's state under one lock
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		BPM:         m.bpm,
		KeyNote:     m.keyNote,
		Instruments: make([]InstrumentState, len(m.Instruments)),
	}
	for i, inst := range m.Instruments {
		s.Instruments[i] = inst.stateLocked()
	}
	return s
}

// SetBPM changes the tempo. Callers driving an interactive control should
// pass the value through ClampBPM first.
func (m *Machine) SetBPM(bpm float64) {
	m.mu.Lock()
	old := m.bpm
	if old == bpm {
		m.mu.Unlock()
		return
	}
	m.bpm = bpm
	m.mu.Unlock()
	m.notify(Change{Field: FieldBPM, Old: old, New: bpm})
}

// SetKeyNote changes the transposition (normalized to 0-11)
func (m *Machine) SetKeyNote(key int) {
	key = mod(key, 12)
	m.mu.Lock()
	old := m.keyNote
	if old == key {
		m.mu.Unlock()
		return
	}
	m.keyNote = key
	m.mu.Unlock()
	m.notify(Change{Field: FieldKeyNote, Old: float64(old), New: float64(key)})
}

// TransposeKey moves the key by semitones, wrapping at the octave
func (m *Machine) TransposeKey(semitones int) {
	m.SetKeyNote(m.KeyNote() + semitones)
}

var keyNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// KeyName returns the note name of a key (0 = C)
func KeyName(key int) string {
	return keyNames[mod(key, 12)]
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
