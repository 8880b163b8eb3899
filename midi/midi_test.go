package midi

import (
	"testing"

	"go-beatmachine/config"
)

func TestGridNoteMapping(t *testing.T) {
	for row := 0; row < GridSize; row++ {
		for col := 0; col <= SideCol; col++ {
			note := rowColToNote(row, col)
			r, c, ok := noteToRowCol(note)
			if !ok || r != row || c != col {
				t.Fatalf("%d,%d -> note %d -> %d,%d ok=%v", row, col, note, r, c, ok)
			}
		}
	}
	if rowColToNote(0, 0) != 11 || rowColToNote(7, 7) != 88 || rowColToNote(3, SideCol) != 49 {
		t.Fatalf("corner notes wrong")
	}
}

func TestTopRowMapping(t *testing.T) {
	if n := rowColToNote(TopRow, 0); n != 91 {
		t.Fatalf("top row note = %d", n)
	}
	row, col, ok := ccToRowCol(95)
	if !ok || row != TopRow || col != 4 {
		t.Fatalf("cc 95 -> %d,%d %v", row, col, ok)
	}
	if _, _, ok := ccToRowCol(10); ok {
		t.Fatalf("cc 10 should not map")
	}
	if _, _, ok := noteToRowCol(5); ok {
		t.Fatalf("note 5 should not map")
	}
}

func TestNearestPaletteColor(t *testing.T) {
	tests := []struct {
		rgb  [3]uint8
		want uint8
	}{
		{[3]uint8{0, 0, 0}, 0},
		{[3]uint8{250, 5, 5}, 5},
		{[3]uint8{255, 255, 255}, 119},
		{[3]uint8{0, 250, 10}, 21},
		{[3]uint8{10, 90, 250}, 45},
	}
	for _, tt := range tests {
		if got := nearestPaletteColor(tt.rgb); got != tt.want {
			t.Errorf("nearestPaletteColor(%v) = %d, want %d", tt.rgb, got, tt.want)
		}
	}
}

func TestKeyboardChannelFilter(t *testing.T) {
	all := &KeyboardController{}
	if !all.accepts(0) || !all.accepts(15) {
		t.Fatalf("channel 0 should accept all")
	}
	ten := &KeyboardController{channel: 10}
	if !ten.accepts(9) || ten.accepts(0) {
		t.Fatalf("channel 10 filter wrong")
	}
}

func TestClassifyPorts(t *testing.T) {
	dm := NewDeviceManager([]config.ControllerConfig{
		{PortName: "Keystation 49", Type: config.ControllerKeyboard, AutoConnect: true, InputChannel: 2},
		{PortName: "Other Keys", Type: config.ControllerKeyboard},
		{PortName: "Custom Grid", Type: config.ControllerLaunchpadMini, AutoConnect: true},
	})

	tests := []struct {
		name    string
		kind    ControllerType
		channel int
	}{
		{"keystation 49", ControllerKeyboard, 2},
		{"Other Keys", ControllerUnknown, 0},
		{"Custom Grid", ControllerLaunchpad, 0},
		{"Launchpad X LPX MIDI", ControllerLaunchpad, 0},
		{"Launchpad X LPX DAW", ControllerUnknown, 0},
		{"IAC Driver Bus 1", ControllerUnknown, 0},
	}
	for _, tt := range tests {
		kind, channel := dm.Classify(tt.name)
		if kind != tt.kind || channel != tt.channel {
			t.Errorf("classify(%q) = %v,%d want %v,%d", tt.name, kind, channel, tt.kind, tt.channel)
		}
	}
}
