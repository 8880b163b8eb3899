// Command beatrender plays a machine preset offline and writes the result
// to a WAV file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go-beatmachine/audio"
	"go-beatmachine/bank"
	"go-beatmachine/config"
	"go-beatmachine/debug"
	"go-beatmachine/machine"
	"go-beatmachine/mixer"
	"go-beatmachine/sequencer"
)

func main() {
	preset := flag.String("machine", "salsa", "machine preset: "+strings.Join(machine.PresetNames(), ", "))
	bpm := flag.Float64("bpm", 0, "tempo (default: the preset's)")
	key := flag.Int("key", -1, "key note 0-11 (default: the preset's)")
	with := flag.String("with", "", "comma-separated instruments to enable (default: the preset's)")
	language := flag.String("language", "", "instructor language")
	seconds := flag.Float64("seconds", 16, "length to render")
	rate := flag.Int("rate", 44100, "output sample rate")
	out := flag.String("out", "beat.wav", "output WAV file")
	audioPath := flag.String("bank", "bank/main.mp3", "sample bank audio file")
	indexPath := flag.String("index", "bank/main.json", "sample bank index file")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	if *verbose {
		debug.SetOutput(os.Stderr)
	}

	session := config.Session{
		Machine:            *preset,
		BPM:                *bpm,
		InstructorLanguage: *language,
	}
	if *key >= 0 {
		session.KeyNote = key
	}
	if *with != "" {
		session.Instruments = strings.Split(*with, ",")
	}

	if err := render(session, *audioPath, *indexPath, *rate, *seconds, *out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func render(session config.Session, audioPath, indexPath string, rate int, seconds float64, outPath string) error {
	m, err := machine.LoadPreset(session.Machine)
	if err != nil {
		return err
	}
	if err := session.Apply(m); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	b := bank.New()
	if err := <-b.LoadFiles(ctx, audioPath, indexPath); err != nil {
		return fmt.Errorf("load bank: %w", err)
	}

	mx := mixer.New(b, rate)
	// Refills are driven by the render loop, not the wall clock
	eng := sequencer.New(m, mx, b, sequencer.Options{RefillInterval: 24 * time.Hour})
	defer eng.Close()

	eng.Play()
	samples := audio.Render(mx, seconds, eng.Refill)
	eng.Stop()

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, rate, samples); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("%s: %s %.0f bpm key %s, %.1fs\n", outPath, m.Name, m.BPM(), machine.KeyName(m.KeyNote()), seconds)
	return nil
}
