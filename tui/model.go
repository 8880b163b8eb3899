package tui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-beatmachine/debug"
	"go-beatmachine/machine"
	"go-beatmachine/midi"
	"go-beatmachine/surface"
	"go-beatmachine/theme"
	"go-beatmachine/widgets"
)

const (
	tempoStep  = 5
	volumeStep = 0.1
)

// Player is the engine surface the UI drives. *sequencer.Engine implements it.
type Player interface {
	Machine() *machine.Machine
	SetMachine(m *machine.Machine)
	Playing() bool
	Play()
	Stop()
	BeatIndicator() int
}

type Model struct {
	Player    Player
	Updates   <-chan struct{}
	DeviceMgr *midi.DeviceManager // may be nil
	Surface   *surface.Surface    // may be nil
	Theme     *theme.Theme

	preset   string
	selected int
	showHelp bool
	status   string
	devices  []string
	quitting bool
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

// StatusMsg shows a one-line message under the instrument list
type StatusMsg string

// NewModel creates the UI for player, which runs the named preset
func NewModel(player Player, updates <-chan struct{}, preset string, th *theme.Theme) Model {
	return Model{
		Player:  player,
		Updates: updates,
		Theme:   th,
		preset:  preset,
	}
}

// WithDevices routes hot-plugged controllers to s
func (m Model) WithDevices(dm *midi.DeviceManager, s *surface.Surface) Model {
	m.DeviceMgr = dm
	m.Surface = s
	return m
}

// WithHelp sets whether the key help starts expanded
func (m Model) WithHelp(show bool) Model {
	m.showHelp = show
	return m
}

// Preset is the name of the preset currently loaded
func (m Model) Preset() string {
	return m.preset
}

func ListenForUpdates(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Updates)}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKey(msg.String()) {
			m.quitting = true
			m.Player.Stop()
			return m, tea.Quit
		}

	case UpdateMsg:
		return m, ListenForUpdates(m.Updates)

	case StatusMsg:
		m.status = string(msg)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		switch event.Type {
		case midi.DeviceConnected:
			m.devices = append(m.devices, event.ID)
			if m.Surface != nil {
				m.Surface.Attach(event.Controller)
			}
		case midi.DeviceDisconnected:
			m.devices = removeString(m.devices, event.ID)
			if m.Surface != nil {
				m.Surface.Detach(event.ID)
			}
		}
		if m.DeviceMgr == nil {
			return m, nil
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

// handleKey applies one key; it reports true when the key quits
func (m *Model) handleKey(key string) bool {
	mach := m.Player.Machine()
	m.status = ""

	switch key {
	case "q", "ctrl+c":
		return true

	case " ", "p":
		if m.Player.Playing() {
			m.Player.Stop()
		} else {
			m.Player.Play()
		}

	case "+", "=":
		mach.SetBPM(machine.ClampBPM(mach.BPM() + tempoStep))
	case "-", "_":
		mach.SetBPM(machine.ClampBPM(mach.BPM() - tempoStep))

	case "k":
		mach.TransposeKey(7)
	case "K":
		mach.TransposeKey(5)

	case "l":
		for _, inst := range mach.Instruments {
			if inst.VoiceOver() {
				inst.CycleLanguage()
			}
		}

	case "m":
		m.nextPreset()

	case "up":
		if m.selected > 0 {
			m.selected--
		}
	case "down":
		if m.selected < len(mach.Instruments)-1 {
			m.selected++
		}
	case "left", "right":
		if inst := m.selectedInstrument(mach); inst != nil {
			step := volumeStep
			if key == "left" {
				step = -step
			}
			inst.SetVolume(math.Round((inst.Volume()+step)*10) / 10)
		}
	case "enter":
		if inst := m.selectedInstrument(mach); inst != nil {
			inst.Toggle()
		}
	case "tab":
		if inst := m.selectedInstrument(mach); inst != nil {
			inst.CycleProgram()
		}

	case "?":
		m.showHelp = !m.showHelp

	default:
		if idx, alt, ok := digitKey(key); ok && idx < len(mach.Instruments) {
			m.selected = idx
			if alt {
				mach.Instruments[idx].CycleProgram()
			} else {
				mach.Instruments[idx].Toggle()
			}
		}
	}
	return false
}

// digitKey maps "1".."9","0" to instruments 0..9, optionally with alt
func digitKey(key string) (idx int, alt bool, ok bool) {
	if rest, found := strings.CutPrefix(key, "alt+"); found {
		key = rest
		alt = true
	}
	if len(key) != 1 || key[0] < '0' || key[0] > '9' {
		return 0, false, false
	}
	return (int(key[0]-'0') + 9) % 10, alt, true
}

func (m *Model) selectedInstrument(mach *machine.Machine) *machine.Instrument {
	if m.selected < 0 || m.selected >= len(mach.Instruments) {
		return nil
	}
	return mach.Instruments[m.selected]
}

// nextPreset swaps in the next embedded preset, keeping the current key
func (m *Model) nextPreset() {
	names := machine.PresetNames()
	if len(names) == 0 {
		return
	}
	next := names[0]
	for i, n := range names {
		if n == m.preset {
			next = names[(i+1)%len(names)]
		}
	}

	nm, err := machine.LoadPreset(next)
	if err != nil {
		m.status = err.Error()
		debug.Log("tui", "load preset %s: %v", next, err)
		return
	}
	old := m.Player.Machine()
	nm.SetKeyNote(old.KeyNote())

	m.Player.SetMachine(nm)
	m.preset = next
	m.selected = 0
	debug.Log("tui", "switched to preset %s", next)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

var keyHelp = []widgets.KeySection{
	{Title: "Transport", Keys: []widgets.KeyBinding{
		{Key: "space/p", Desc: "play / stop"},
		{Key: "+ / -", Desc: "tempo ±5"},
		{Key: "k / K", Desc: "key up a fifth / up a fourth"},
		{Key: "m", Desc: "next machine"},
	}},
	{Title: "Instruments", Keys: []widgets.KeyBinding{
		{Key: "1-9, 0", Desc: "toggle instrument"},
		{Key: "alt+1-0", Desc: "next program"},
		{Key: "↑ / ↓", Desc: "select"},
		{Key: "← / →", Desc: "volume"},
		{Key: "enter / tab", Desc: "toggle / next program"},
		{Key: "l", Desc: "instructor language"},
	}},
	{Keys: []widgets.KeyBinding{
		{Key: "?", Desc: "hide help"},
		{Key: "q", Desc: "quit"},
	}},
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	mach := m.Player.Machine()
	snap := mach.Snapshot()
	th := m.Theme
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())
	errStyle := lipgloss.NewStyle().Foreground(th.Warning())

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(widgets.RenderTransport(th, m.preset, m.Player.Playing(), snap.BPM, snap.KeyNote))
	out.WriteString("\n\n  ")
	out.WriteString(widgets.RenderBeatLamps(th, mach.Flavor.BeatCount(), m.Player.BeatIndicator()))
	out.WriteString("\n\n")

	n := len(snap.Instruments)
	for i, st := range snap.Instruments {
		hotkey := " "
		if i < 10 {
			hotkey = fmt.Sprint((i + 1) % 10)
		}
		out.WriteString(widgets.RenderInstrument(th, hotkey, st, i == m.selected, th.InstrumentRGB(i, n)))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	if len(m.devices) > 0 {
		out.WriteString(dimStyle.Render("controllers: " + strings.Join(m.devices, ", ")))
		out.WriteString("\n")
	}
	if m.status != "" {
		out.WriteString(errStyle.Render(m.status))
		out.WriteString("\n")
	}

	if m.showHelp {
		out.WriteString("\n")
		out.WriteString(dimStyle.Render(widgets.RenderKeyHelp(keyHelp)))
		if m.Surface != nil && len(m.devices) > 0 {
			out.WriteString("\n\nLaunchpad\n")
			out.WriteString(widgets.RenderPadMirror(m.Surface.LEDs()))
			out.WriteString("\n")
			out.WriteString(m.padLegend())
		}
	} else {
		out.WriteString(dimStyle.Render("space:play  1-0:toggle  +/-:tempo  k:key  m:machine  ?:help  q:quit"))
	}

	return out.String()
}

// padLegend explains the side column and the grid rows
func (m Model) padLegend() string {
	th := m.Theme
	lines := []string{
		widgets.RenderLegendItem(th.RGB(theme.RoleSuccess), "top right", "play / stop"),
		widgets.RenderLegendItem(th.RGB(theme.RoleWarning), "side 2-3", "tempo ±5"),
		widgets.RenderLegendItem(th.RGB(theme.RoleAccent), "side 4-5", "key ±fifth"),
		widgets.RenderLegendItem(th.RGB(theme.RoleCursor), "side 6", "instructor language"),
		widgets.RenderLegendItem(th.RGB(theme.RoleFG), "bottom rows", "toggle, program"),
		widgets.RenderLegendItem(th.RGB(theme.RoleMuted), "upper rows", "volume"),
	}
	return strings.Join(lines, "\n")
}
