// Package surface maps MIDI controllers onto a running machine: pads and
// keys edit the machine, and the pad lights mirror its state.
package surface

import (
	"context"
	"sync"
	"time"

	"go-beatmachine/debug"
	"go-beatmachine/machine"
	"go-beatmachine/midi"
	"go-beatmachine/theme"
)

const (
	ledFPS    = 30
	tempoStep = 5
)

// Pad layout (row 0 is the bottom row)
const (
	rowToggle  = 0 // enable/disable instrument in this column
	rowProgram = 1 // cycle the instrument's program
	rowVolume  = 2 // rows 2..7 set volume in sixths
)

// Side column buttons, by row
const (
	sideLanguage  = 2
	sideKeyDown   = 3
	sideKeyUp     = 4
	sideTempoDown = 5
	sideTempoUp   = 6
	sidePlay      = 7
)

// Transport is the part of the engine a surface drives.
// *sequencer.Engine implements it.
type Transport interface {
	Machine() *machine.Machine
	Playing() bool
	Play()
	Stop()
	BeatIndicator() int
}

type ledKey [2]int

// Surface binds any number of controllers to one transport
type Surface struct {
	transport Transport
	theme     *theme.Theme

	mu          sync.Mutex
	controllers map[string]midi.Controller
	prevLEDs    map[string]map[ledKey]midi.LEDUpdate
}

// New creates a surface with no controllers attached
func New(t Transport, th *theme.Theme) *Surface {
	return &Surface{
		transport:   t,
		theme:       th,
		controllers: make(map[string]midi.Controller),
		prevLEDs:    make(map[string]map[ledKey]midi.LEDUpdate),
	}
}

// Attach starts routing c's input and lights its pads on the next frame
func (s *Surface) Attach(c midi.Controller) {
	s.mu.Lock()
	s.controllers[c.ID()] = c
	s.prevLEDs[c.ID()] = make(map[ledKey]midi.LEDUpdate)
	s.mu.Unlock()

	debug.Log("surface", "attached %s (%s)", c.ID(), c.Type())
	go s.inputLoop(c)
}

// Detach forgets a controller; the caller owns closing it
func (s *Surface) Detach(id string) {
	s.mu.Lock()
	delete(s.controllers, id)
	delete(s.prevLEDs, id)
	s.mu.Unlock()
	debug.Log("surface", "detached %s", id)
}

// Controllers returns the number of attached controllers
func (s *Surface) Controllers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

// Run drives the LED loop until ctx is done (blocking)
func (s *Surface) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / ledFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FlushLEDs()
		}
	}
}

// inputLoop forwards pad and note events until both channels close
func (s *Surface) inputLoop(c midi.Controller) {
	pads := c.PadEvents()
	notes := c.NoteEvents()
	for pads != nil || notes != nil {
		select {
		case ev, ok := <-pads:
			if !ok {
				pads = nil
				continue
			}
			s.HandlePad(ev)
		case ev, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			s.HandleNote(ev)
		}
	}
}

// HandlePad applies one pad press to the machine or transport
func (s *Surface) HandlePad(ev midi.PadEvent) {
	m := s.transport.Machine()

	if ev.Col == midi.SideCol && ev.Row < midi.GridSize {
		s.handleSide(m, ev.Row)
		return
	}
	if ev.Row == midi.TopRow || ev.Col >= len(m.Instruments) {
		return // beat lamps and unused columns
	}

	inst := m.Instruments[ev.Col]
	switch {
	case ev.Row == rowToggle:
		inst.Toggle()
	case ev.Row == rowProgram:
		inst.CycleProgram()
	case ev.Row >= rowVolume:
		inst.SetVolume(float64(ev.Row-rowVolume+1) / float64(midi.GridSize-rowVolume))
	}
}

func (s *Surface) handleSide(m *machine.Machine, row int) {
	switch row {
	case sidePlay:
		if s.transport.Playing() {
			s.transport.Stop()
		} else {
			s.transport.Play()
		}
	case sideTempoUp:
		m.SetBPM(machine.ClampBPM(m.BPM() + tempoStep))
	case sideTempoDown:
		m.SetBPM(machine.ClampBPM(m.BPM() - tempoStep))
	case sideKeyUp:
		m.TransposeKey(7)
	case sideKeyDown:
		m.TransposeKey(-7)
	case sideLanguage:
		for _, inst := range m.Instruments {
			if inst.VoiceOver() {
				inst.CycleLanguage()
			}
		}
	}
}

// HandleNote toggles the instrument at the note's pitch class
func (s *Surface) HandleNote(ev midi.NoteEvent) {
	m := s.transport.Machine()
	idx := int(ev.Note % 12)
	if idx < len(m.Instruments) {
		m.Instruments[idx].Toggle()
	}
}

// LEDs renders the full pad frame for the current state
func (s *Surface) LEDs() []midi.LEDUpdate {
	m := s.transport.Machine()
	snap := m.Snapshot()
	th := s.theme
	var leds []midi.LEDUpdate

	add := func(row, col int, c theme.RGB) {
		leds = append(leds, midi.LEDUpdate{Row: row, Col: col, Color: c})
	}

	n := len(snap.Instruments)
	for col, st := range snap.Instruments {
		if col >= midi.GridSize {
			break
		}
		color := th.InstrumentRGB(col, n)

		if st.Enabled {
			add(rowToggle, col, color)
		} else {
			add(rowToggle, col, color.Scale(0.15))
		}

		if programs := len(st.Instrument.Programs); programs > 1 {
			add(rowProgram, col, color.Scale(float64(st.ActiveProgram+1)/float64(programs)))
		}

		level := int(st.Volume*float64(midi.GridSize-rowVolume) + 0.5)
		for i := 0; i < level; i++ {
			add(rowVolume+i, col, th.RGB(theme.RoleMuted+float64(i)*0.1))
		}
	}

	lit := s.transport.BeatIndicator()
	for col := 0; col < m.Flavor.BeatCount() && col < midi.GridSize; col++ {
		if col == lit-1 {
			add(midi.TopRow, col, th.RGB(theme.RoleSuccess))
		} else {
			add(midi.TopRow, col, th.RGB(theme.RoleSurface))
		}
	}

	if s.transport.Playing() {
		add(sidePlay, midi.SideCol, th.RGB(theme.RoleSuccess))
	} else {
		add(sidePlay, midi.SideCol, th.RGB(theme.RoleActive))
	}
	add(sideTempoUp, midi.SideCol, th.RGB(theme.RoleWarning))
	add(sideTempoDown, midi.SideCol, th.RGB(theme.RoleWarning).Scale(0.4))
	add(sideKeyUp, midi.SideCol, th.RGB(theme.RoleAccent))
	add(sideKeyDown, midi.SideCol, th.RGB(theme.RoleAccent).Scale(0.4))
	for _, st := range snap.Instruments {
		if st.Instrument.VoiceOver() {
			add(sideLanguage, midi.SideCol, th.RGB(theme.RoleCursor))
			break
		}
	}
	return leds
}

// FlushLEDs sends each controller only the pads that changed since its
// last flush
func (s *Surface) FlushLEDs() {
	s.mu.Lock()
	if len(s.controllers) == 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	frame := s.LEDs()
	newMap := make(map[ledKey]midi.LEDUpdate, len(frame))
	for _, led := range frame {
		newMap[ledKey{led.Row, led.Col}] = led
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.controllers {
		prev := s.prevLEDs[id]
		var updates []midi.LEDUpdate

		for key, led := range newMap {
			if old, ok := prev[key]; !ok || old != led {
				updates = append(updates, led)
			}
		}
		// Clear LEDs that are no longer present
		for key := range prev {
			if _, ok := newMap[key]; !ok {
				updates = append(updates, midi.LEDUpdate{Row: key[0], Col: key[1]})
			}
		}

		if len(updates) == 0 {
			continue
		}
		if err := c.SetLEDBatch(updates); err != nil {
			debug.LogEvery(30, "led", "%s: %v", id, err)
		}
		s.prevLEDs[id] = newMap
	}
}
