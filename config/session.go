package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"go-beatmachine/machine"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownLanguage   = errors.New("unknown instructor language")
)

// InstructorLanguages are the voice-over languages the sample bank ships
var InstructorLanguages = []string{"spanish", "italian", "french", "russian", "german"}

// Session is the performance setup restored at startup: which machine,
// its tempo and key, and what each instrument plays
type Session struct {
	Machine            string             `json:"machine,omitempty"`
	BPM                float64            `json:"bpm,omitempty"`
	KeyNote            *int               `json:"keyNote,omitempty"`
	Instruments        []string           `json:"instruments,omitempty"` // enabled ids; empty keeps the preset's
	Programs           map[string]int     `json:"programs,omitempty"`
	Volumes            map[string]float64 `json:"volumes,omitempty"`
	InstructorLanguage string             `json:"instructorLanguage,omitempty"`
	Autoplay           bool               `json:"autoplay,omitempty"`
}

// Apply pushes the session onto m. Unknown ids are reported after the rest
// has been applied.
func (s *Session) Apply(m *machine.Machine) error {
	var errs []error
	lookup := func(id string) *machine.Instrument {
		inst := m.Instrument(id)
		if inst == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownInstrument, id))
		}
		return inst
	}

	if s.BPM > 0 {
		m.SetBPM(machine.ClampBPM(s.BPM))
	}
	if s.KeyNote != nil {
		m.SetKeyNote(*s.KeyNote)
	}

	if len(s.Instruments) > 0 {
		enabled := make(map[string]bool, len(s.Instruments))
		for _, id := range s.Instruments {
			if lookup(id) != nil {
				enabled[id] = true
			}
		}
		for _, inst := range m.Instruments {
			inst.SetEnabled(enabled[inst.ID])
		}
	}

	for _, id := range sortedKeys(s.Programs) {
		if inst := lookup(id); inst != nil {
			inst.SetActiveProgram(s.Programs[id])
		}
	}
	for _, id := range sortedKeys(s.Volumes) {
		if inst := lookup(id); inst != nil {
			inst.SetVolume(s.Volumes[id])
		}
	}

	if s.InstructorLanguage != "" && !slices.Contains(InstructorLanguages, s.InstructorLanguage) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownLanguage, s.InstructorLanguage))
	} else if s.InstructorLanguage != "" {
		for _, inst := range m.Instruments {
			if inst.VoiceOver() {
				inst.SetLanguage(s.InstructorLanguage)
			}
		}
	}
	return errors.Join(errs...)
}

// Capture records m's current state into the session
func (s *Session) Capture(presetName string, m *machine.Machine) {
	snap := m.Snapshot()
	key := snap.KeyNote

	s.Machine = presetName
	s.BPM = snap.BPM
	s.KeyNote = &key
	s.Instruments = s.Instruments[:0]
	s.Programs = make(map[string]int)
	s.Volumes = make(map[string]float64)
	for _, st := range snap.Instruments {
		id := st.Instrument.ID
		if st.Enabled {
			s.Instruments = append(s.Instruments, id)
		}
		s.Programs[id] = st.ActiveProgram
		s.Volumes[id] = st.Volume
		if st.Instrument.VoiceOver() {
			s.InstructorLanguage = st.Language
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
