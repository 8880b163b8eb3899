package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"go-beatmachine/midi"
)

// RenderPad renders a single colored pad; black pads render as a dim dot
func RenderPad(color [3]uint8) string {
	if color == ([3]uint8{}) {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#333333")).Render("·")
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(rgbToHex(color)))
	return style.Render("■")
}

// RenderPadMirror draws a Launchpad frame: control row on top, then the
// 8x8 grid (row 7 first) with the side column on the right
func RenderPadMirror(leds []midi.LEDUpdate) string {
	var grid [midi.GridSize + 1][midi.SideCol + 1][3]uint8
	for _, led := range leds {
		if led.Row >= 0 && led.Row <= midi.TopRow && led.Col >= 0 && led.Col <= midi.SideCol {
			grid[led.Row][led.Col] = led.Color
		}
	}

	var lines []string
	for row := midi.TopRow; row >= 0; row-- {
		var line strings.Builder
		for col := 0; col <= midi.SideCol; col++ {
			if row == midi.TopRow && col == midi.SideCol {
				break // logo
			}
			if col == midi.SideCol {
				line.WriteString(" ")
			}
			line.WriteString(RenderPad(grid[row][col]))
			line.WriteString(" ")
		}
		lines = append(lines, strings.TrimRight(line.String(), " "))
		if row == midi.TopRow {
			lines = append(lines, "")
		}
	}
	return strings.Join(lines, "\n")
}

// RenderLegendItem renders a single legend item: "■ Name - description"
func RenderLegendItem(color [3]uint8, name, desc string) string {
	return fmt.Sprintf("  %s %s - %s", RenderPad(color), name, desc)
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}

func rgbToHex(c [3]uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
