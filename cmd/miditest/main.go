package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-beatmachine/config"
	"go-beatmachine/debug"
	"go-beatmachine/machine"
	mididev "go-beatmachine/midi"
	"go-beatmachine/surface"
	"go-beatmachine/theme"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listPorts(cfg)
	case "monitor":
		monitor(cfg)
	case "leds":
		testLEDs(cfg)
	default:
		usage()
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list     - List all MIDI ports and how they would be opened")
	fmt.Println("  monitor  - Print pad and note events from connected controllers")
	fmt.Println("  leds     - Show the beat machine pad layout on connected Launchpads")
}

func listPorts(cfg *config.Config) {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ins := midi.GetInPorts()
		outs := midi.GetOutPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	dm := mididev.NewDeviceManager(cfg.Controllers)

	select {
	case r := <-ch:
		for i, p := range r.ins {
			kind, channel := dm.Classify(p.String())
			switch {
			case kind == mididev.ControllerKeyboard && channel > 0:
				fmt.Printf("  %d: %s  [%s, channel %d]\n", i, p.String(), kind, channel)
			case kind != mididev.ControllerUnknown:
				fmt.Printf("  %d: %s  [%s]\n", i, p.String(), kind)
			default:
				fmt.Printf("  %d: %s\n", i, p.String())
			}
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

// runDevices starts hot-plug detection until Ctrl-C. gone may be nil.
func runDevices(cfg *config.Config, fn func(mididev.Controller), gone func(id string)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := mididev.NewDeviceManager(cfg.Controllers)
	go dm.Run(ctx)

	fmt.Println("Waiting for controllers (Ctrl-C to quit)...")
	for ev := range dm.Events() {
		switch ev.Type {
		case mididev.DeviceConnected:
			fmt.Printf("+ %s (%s)\n", ev.ID, ev.Controller.Type())
			fn(ev.Controller)
		case mididev.DeviceDisconnected:
			fmt.Printf("- %s\n", ev.ID)
			if gone != nil {
				gone(ev.ID)
			}
		}
	}
}

func monitor(cfg *config.Config) {
	debug.SetOutput(os.Stderr)
	runDevices(cfg, func(c mididev.Controller) {
		go func() {
			for ev := range c.PadEvents() {
				fmt.Printf("  %s pad row=%d col=%d vel=%d\n", c.ID(), ev.Row, ev.Col, ev.Velocity)
			}
		}()
		go func() {
			for ev := range c.NoteEvents() {
				fmt.Printf("  %s note=%d (%s) vel=%d ch=%d\n", c.ID(), ev.Note, machine.KeyName(int(ev.Note)), ev.Velocity, ev.Channel+1)
			}
		}()
	}, nil)
}

// idle is a stopped transport so the layout can be shown without audio
type idle struct {
	m *machine.Machine
}

func (t idle) Machine() *machine.Machine { return t.m }
func (t idle) Playing() bool             { return false }
func (t idle) Play()                     {}
func (t idle) Stop()                     {}
func (t idle) BeatIndicator() int        { return 0 }

func testLEDs(cfg *config.Config) {
	m, err := machine.LoadPreset(cfg.Session.Machine)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	th, err := theme.Load(cfg.UI.Palette)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	srf := surface.New(idle{m: m}, th)
	go srf.Run(context.Background())

	fmt.Printf("Pads edit the %s preset; nothing plays.\n", m.Name)
	runDevices(cfg, srf.Attach, srf.Detach)
}
