package midi

import (
	"fmt"
	"sync/atomic"

	"go-beatmachine/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Novation SysEx header for the Launchpad X
var lpxHeader = []byte{0x00, 0x20, 0x29, 0x02, 0x0C}

// LaunchpadController drives a Novation Launchpad X in programmer mode
type LaunchpadController struct {
	id       string
	send     func(msg gomidi.Message) error
	stopFunc func()
	sent     atomic.Uint64

	padChan  chan PadEvent
	noteChan chan NoteEvent
}

// NewLaunchpadController opens both ports and switches the device to
// programmer mode. Either port may be nil.
func NewLaunchpadController(id string, inPort drivers.In, outPort drivers.Out) (*LaunchpadController, error) {
	lp := &LaunchpadController{
		id:       id,
		padChan:  make(chan PadEvent, 32),
		noteChan: make(chan NoteEvent, 32),
	}

	if outPort != nil {
		send, err := gomidi.SendTo(outPort)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		lp.send = send
		for _, msg := range setupMessages() {
			if err := lp.send(msg); err != nil {
				debug.Log("launchpad", "%s: setup message failed: %v", id, err)
			}
		}
	}

	if inPort != nil {
		stop, err := gomidi.ListenTo(inPort, lp.handleMessage)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		lp.stopFunc = stop
	}

	debug.Log("launchpad", "%s connected", id)
	return lp, nil
}

// setupMessages: programmer mode, full brightness, external LED feedback
func setupMessages() []gomidi.Message {
	sysex := func(body ...byte) gomidi.Message {
		return gomidi.SysEx(append(append([]byte{}, lpxHeader...), body...))
	}
	return []gomidi.Message{
		sysex(0x00, 0x7F),
		sysex(0x08, 0x7F),
		sysex(0x0A, 0x01, 0x01),
	}
}

func (lp *LaunchpadController) handleMessage(msg gomidi.Message, timestampms int32) {
	var channel, key, value uint8

	switch {
	case msg.GetNoteOn(&channel, &key, &value) && value > 0:
		if row, col, ok := noteToRowCol(key); ok {
			lp.emit(PadEvent{Row: row, Col: col, Velocity: value})
		}
	case msg.GetControlChange(&channel, &key, &value) && value > 0:
		if row, col, ok := ccToRowCol(key); ok {
			lp.emit(PadEvent{Row: row, Col: col, Velocity: value})
		}
	}
}

func (lp *LaunchpadController) emit(ev PadEvent) {
	select {
	case lp.padChan <- ev:
	default:
		debug.Log("launchpad", "%s: pad queue full, dropped %d,%d", lp.id, ev.Row, ev.Col)
	}
}

func (lp *LaunchpadController) ID() string {
	return lp.id
}

func (lp *LaunchpadController) Type() ControllerType {
	return ControllerLaunchpad
}

func (lp *LaunchpadController) PadEvents() <-chan PadEvent {
	return lp.padChan
}

// NoteEvents never delivers; pads arrive as PadEvents
func (lp *LaunchpadController) NoteEvents() <-chan NoteEvent {
	return lp.noteChan
}

// SetLEDBatch sends one NoteOn per pad with the nearest palette color
func (lp *LaunchpadController) SetLEDBatch(updates []LEDUpdate) error {
	if lp.send == nil || len(updates) == 0 {
		return nil
	}

	var firstErr error
	for _, u := range updates {
		msg := gomidi.NoteOn(u.Channel, rowColToNote(u.Row, u.Col), nearestPaletteColor(u.Color))
		if err := lp.send(msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	count := lp.sent.Add(uint64(len(updates)))
	if count%100 < uint64(len(updates)) {
		debug.Log("lp-send", "batch count=%d (this batch=%d)", count, len(updates))
	}
	return firstErr
}

// Close blanks every pad and releases the ports
func (lp *LaunchpadController) Close() error {
	if lp.send != nil {
		var updates []LEDUpdate
		for row := 0; row <= TopRow; row++ {
			for col := 0; col <= SideCol; col++ {
				if row == TopRow && col == SideCol {
					continue // logo LED
				}
				updates = append(updates, LEDUpdate{Row: row, Col: col})
			}
		}
		lp.SetLEDBatch(updates)
	}
	if lp.stopFunc != nil {
		lp.stopFunc()
	}
	close(lp.padChan)
	close(lp.noteChan)
	return nil
}

// Launchpad X palette entries {velocity, R, G, B}
var lpxPalette = [][4]uint8{
	{0, 0, 0, 0},
	{5, 255, 0, 0},
	{6, 255, 80, 80},
	{7, 180, 60, 60},
	{9, 255, 100, 0},
	{11, 180, 80, 40},
	{13, 255, 200, 0},
	{17, 0, 180, 0},
	{19, 0, 100, 0},
	{21, 0, 255, 0},
	{37, 0, 200, 200},
	{43, 40, 60, 120},
	{45, 0, 100, 255},
	{47, 80, 150, 255},
	{49, 150, 0, 200},
	{53, 255, 80, 180},
	{78, 100, 100, 255},
	{84, 255, 150, 50},
	{87, 150, 255, 100},
	{97, 180, 180, 60},
	{119, 255, 255, 255},
}

// nearestPaletteColor picks the palette velocity closest to rgb
func nearestPaletteColor(rgb [3]uint8) uint8 {
	best := uint8(0)
	bestDist := -1
	r, g, b := int(rgb[0]), int(rgb[1]), int(rgb[2])
	for _, p := range lpxPalette {
		dr, dg, db := r-int(p[1]), g-int(p[2]), b-int(p[3])
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = p[0]
		}
	}
	return best
}

// Programmer-mode layout:
// grid row r, col c = note (r+1)*10 + c+1 (11..88)
// side column = notes 19, 29 .. 89
// top row = CC 91..98 (LEDs addressed as notes 91..98)

func rowColToNote(row, col int) uint8 {
	if row == TopRow {
		return uint8(91 + col)
	}
	return uint8((row+1)*10 + col + 1)
}

func noteToRowCol(note uint8) (row, col int, ok bool) {
	if note >= 91 && note <= 98 {
		return TopRow, int(note - 91), true
	}
	row = int(note/10) - 1
	col = int(note%10) - 1
	if row < 0 || row >= GridSize || col < 0 || col > SideCol {
		return 0, 0, false
	}
	return row, col, true
}

func ccToRowCol(cc uint8) (row, col int, ok bool) {
	if cc >= 91 && cc <= 98 {
		return TopRow, int(cc - 91), true
	}
	return 0, 0, false
}
