package sequencer

import (
	"strconv"

	"go-beatmachine/machine"
)

// Trigger is one sample to fire for a slot
type Trigger struct {
	Name     string
	Velocity float64
}

// SampleName builds "<id>-<semitone>", prefixed "<language>:" for voice-over
func SampleName(id, language string, semitone int) string {
	name := id + "-" + strconv.Itoa(semitone)
	if language != "" {
		return language + ":" + name
	}
	return name
}

// ResolveNotes returns the samples an instrument fires at slot.
// It is pure: the same state and slot always give the same result.
func ResolveNotes(keyNote int, st machine.InstrumentState, slot int) []Trigger {
	inst := st.Instrument
	if inst == nil || !st.Enabled {
		return nil
	}
	program := inst.Program(st.ActiveProgram)
	if program == nil {
		return nil
	}

	language := ""
	if inst.VoiceOver() {
		language = st.Language
	}

	var out []Trigger
	for _, n := range program.NotesAt(slot) {
		pitch := n.Pitch
		if inst.Keyed {
			pitch += keyNote
		}
		if n.Hand != machine.HandLeft {
			out = append(out, Trigger{SampleName(inst.ID, language, pitch+inst.PitchOffset), n.Velocity})
			if n.PianoTonic {
				out = append(out, Trigger{SampleName(inst.ID, language, pitch+inst.PitchOffset+12), n.Velocity})
			}
		}
		if inst.PlayBothHands && n.Hand != machine.HandRight {
			out = append(out, Trigger{SampleName(inst.ID, language, pitch+inst.LeftHandPitchOffset), n.Velocity})
		}
	}
	return out
}
