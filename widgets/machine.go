package widgets

import (
	"fmt"
	"math"
	"strings"

	"go-beatmachine/machine"
	"go-beatmachine/theme"

	"github.com/charmbracelet/lipgloss"
)

// RenderBeatLamps draws count lamps with lamp number lit (1-based) highlighted.
// lit 0 draws every lamp off.
func RenderBeatLamps(th *theme.Theme, count, lit int) string {
	on := lipgloss.NewStyle().Foreground(th.Success()).Bold(true)
	off := lipgloss.NewStyle().Foreground(th.Muted())

	var out strings.Builder
	for i := 1; i <= count; i++ {
		if i > 1 {
			out.WriteString(" ")
		}
		if i == lit {
			out.WriteString(on.Render(string(th.Symbols.LampOn)))
		} else {
			out.WriteString(off.Render(string(th.Symbols.LampOff)))
		}
	}
	return out.String()
}

// RenderVolumeBar draws volume (0-1) as a bar of width cells
func RenderVolumeBar(th *theme.Theme, volume float64, width int) string {
	volume = math.Max(0, math.Min(1, volume))
	full := int(math.Round(volume * float64(width)))
	filled := lipgloss.NewStyle().Foreground(th.Accent())
	empty := lipgloss.NewStyle().Foreground(th.Muted())
	return filled.Render(strings.Repeat(string(th.Symbols.BarFull), full)) +
		empty.Render(strings.Repeat(string(th.Symbols.BarEmpty), width-full))
}

// RenderInstrument renders one instrument line:
// cursor, hotkey, on/off mark, title, program, volume bar and language
func RenderInstrument(th *theme.Theme, hotkey string, st machine.InstrumentState, selected bool, color theme.RGB) string {
	inst := st.Instrument

	cursor := " "
	if selected {
		cursor = lipgloss.NewStyle().Foreground(th.Cursor()).Render(string(th.Symbols.Selected))
	}

	mark := lipgloss.NewStyle().Foreground(th.Muted()).Render(string(th.Symbols.Disabled))
	title := lipgloss.NewStyle().Foreground(th.Muted()).Render(fmt.Sprintf("%-12s", inst.Title))
	if st.Enabled {
		c := lipgloss.Color(rgbToHex(color))
		mark = lipgloss.NewStyle().Foreground(c).Render(string(th.Symbols.Enabled))
		title = lipgloss.NewStyle().Foreground(th.FG()).Bold(true).Render(fmt.Sprintf("%-12s", inst.Title))
	}

	program := ""
	if p := inst.Program(st.ActiveProgram); p != nil {
		program = p.Title
	}
	if len(inst.Programs) > 1 {
		program = fmt.Sprintf("%s (%d/%d)", program, st.ActiveProgram+1, len(inst.Programs))
	}

	line := fmt.Sprintf("%s %s %s %s %-22s %s", cursor, hotkey, mark, title, program, RenderVolumeBar(th, st.Volume, 10))
	if inst.VoiceOver() {
		line += " " + lipgloss.NewStyle().Foreground(th.Warning()).Render(st.Language)
	}
	return line
}

// RenderTransport renders the play state, tempo and key
func RenderTransport(th *theme.Theme, name string, playing bool, bpm float64, key int) string {
	state := lipgloss.NewStyle().Foreground(th.Muted()).Render("■ stopped")
	if playing {
		state = lipgloss.NewStyle().Foreground(th.Success()).Bold(true).Render("▶ playing")
	}
	label := lipgloss.NewStyle().Foreground(th.Accent()).Bold(true).Render(strings.ToUpper(name))
	return fmt.Sprintf("%s  %s  %3.0f bpm  key %s", label, state, bpm, machine.KeyName(key))
}
