package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"go-beatmachine/audio"
	"go-beatmachine/bank"
	"go-beatmachine/config"
	"go-beatmachine/debug"
	"go-beatmachine/machine"
	"go-beatmachine/midi"
	"go-beatmachine/mixer"
	"go-beatmachine/sequencer"
	"go-beatmachine/surface"
	"go-beatmachine/theme"
	"go-beatmachine/tui"
)

func main() {
	debugFlag := flag.Bool("debug", false, "write a debug log to ~/.config/go-beatmachine/debug.log")
	configPath := flag.String("config", "", "config file (default ~/.config/go-beatmachine/config.json)")
	preset := flag.String("machine", "", "machine preset: "+strings.Join(machine.PresetNames(), ", "))
	bpm := flag.Float64("bpm", 0, "starting tempo")
	audioPath := flag.String("bank", "", "sample bank audio file (.mp3 or .wav)")
	indexPath := flag.String("index", "", "sample bank index file (.json)")
	play := flag.Bool("play", false, "start playing as soon as the bank is loaded")
	flag.Parse()

	if *debugFlag {
		if err := debug.Enable(); err != nil {
			fmt.Fprintf(os.Stderr, "debug log: %v\n", err)
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if *preset != "" && *preset != cfg.Session.Machine {
		cfg.Session = config.Session{Machine: *preset, Autoplay: cfg.Session.Autoplay}
	}
	if *bpm > 0 {
		cfg.Session.BPM = *bpm
	}
	if *audioPath != "" {
		cfg.Audio.BankAudio = *audioPath
	}
	if *indexPath != "" {
		cfg.Audio.BankIndex = *indexPath
	}
	if *play {
		cfg.Session.Autoplay = true
	}

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, *configPath); err != nil {
		fmt.Printf("Warning: could not save session: %v\n", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func saveConfig(cfg *config.Config, path string) error {
	if path != "" {
		return cfg.SaveFile(path)
	}
	return cfg.Save()
}

func run(cfg *config.Config) error {
	th, err := theme.Load(cfg.UI.Palette)
	if err != nil {
		return fmt.Errorf("palette: %w", err)
	}

	m, err := machine.LoadPreset(cfg.Session.Machine)
	if err != nil {
		return err
	}
	if err := cfg.Session.Apply(m); err != nil {
		debug.Log("main", "session: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bank loads in the background; the engine skips ticks until it is ready
	b := bank.New()
	audioFile, indexFile := cfg.BankPaths()
	loaded := b.LoadFiles(ctx, audioFile, indexFile)

	mx := mixer.New(b, cfg.Audio.SampleRate)
	mx.SetMasterVolume(cfg.Audio.MasterVolume)

	out, err := audio.Open(mx, cfg.Buffer())
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer out.Close()

	eng := sequencer.New(m, mx, b, sequencer.Options{
		LookaheadSlots: cfg.Scheduler.LookaheadSlots,
		RefillInterval: cfg.RefillInterval(),
		Resume:         out.Resume,
	})
	defer eng.Close()

	// MIDI device manager (handles hot-plug)
	deviceMgr := midi.NewDeviceManager(cfg.Controllers)
	go deviceMgr.Run(ctx)

	srf := surface.New(eng, th)
	go srf.Run(ctx)

	fmt.Println("go-beatmachine")
	fmt.Println("Connect MIDI devices any time - they'll be detected automatically")
	fmt.Println("")

	model := tui.NewModel(eng, eng.UpdateChan, cfg.Session.Machine, th).
		WithDevices(deviceMgr, srf).
		WithHelp(cfg.UI.ShowHelp)
	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		if err := <-loaded; err != nil {
			debug.Log("main", "bank: %v", err)
			p.Send(tui.StatusMsg(fmt.Sprintf("sample bank not loaded: %v", err)))
			return
		}
		debug.Log("main", "bank ready: %d samples", len(b.Names()))
		if cfg.Session.Autoplay {
			eng.Play()
		}
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}

	if fm, ok := final.(tui.Model); ok {
		cfg.Session.Capture(fm.Preset(), eng.Machine())
	}
	return nil
}
