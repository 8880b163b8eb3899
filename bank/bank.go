// Package bank holds the decoded sample bank: one shared audio buffer and an
// index mapping sample names to ranges within it.
package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IndexSampleRate is the rate the index offsets are expressed in
const IndexSampleRate = 44100

var (
	ErrNotReady       = errors.New("sample bank not ready")
	ErrSampleNotFound = errors.New("sample not found")
)

// Format is an encoded audio container the bank can decode
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
)

// FormatFromPath picks a format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return FormatMP3, nil
	case ".wav", ".wave":
		return FormatWAV, nil
	}
	return "", fmt.Errorf("unsupported bank format %q", filepath.Ext(path))
}

// Index maps a sample name to [channel, startSample, lengthSample] at
// IndexSampleRate. The channel entry is ignored.
type Index map[string][]float64

// Sample is a resolved range of the bank, in bank frames
type Sample struct {
	Name   string
	Start  int
	Length int
	Rate   int
}

// Offset returns the start of the sample in seconds
func (s Sample) Offset() float64 {
	return float64(s.Start) / float64(s.Rate)
}

// Duration returns the length of the sample in seconds
func (s Sample) Duration() float64 {
	return float64(s.Length) / float64(s.Rate)
}

// Bank is safe for concurrent use. Audio data is interleaved stereo float32.
type Bank struct {
	mu         sync.RWMutex
	data       []float32
	rate       int
	index      Index
	audioReady bool
	indexReady bool
}

// New creates an empty, not-ready bank
func New() *Bank {
	return &Bank{}
}

// FromPCM creates a bank with already decoded audio. frames holds
// interleaved samples with the given channel count (1 or 2).
func FromPCM(frames []float32, channels, rate int) *Bank {
	b := New()
	b.setAudio(toStereo(frames, channels), rate)
	return b
}

// Ready reports whether both the audio and the index have loaded
func (b *Bank) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.audioReady && b.indexReady
}

// SampleRate returns the rate of the decoded audio (0 before loading)
func (b *Bank) SampleRate() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rate
}

// Data returns the decoded stereo buffer. The slice is never written after
// loading, so callers may keep reading it without the lock.
func (b *Bank) Data() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// Names returns every sample name in the index
func (b *Bank) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.index))
	for name := range b.index {
		names = append(names, name)
	}
	return names
}

// SetIndex installs an index and marks it ready
func (b *Bank) SetIndex(idx Index) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = idx
	b.indexReady = true
}

// LoadIndex decodes a JSON index
func (b *Bank) LoadIndex(r io.Reader) error {
	var idx Index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return fmt.Errorf("decode bank index: %w", err)
	}
	for name, entry := range idx {
		if len(entry) < 3 {
			return fmt.Errorf("bank index entry %q: want 3 values, got %d", name, len(entry))
		}
	}
	b.SetIndex(idx)
	return nil
}

// LoadAudio decodes the bank audio
func (b *Bank) LoadAudio(r io.Reader, format Format) error {
	var (
		data []float32
		rate int
		err  error
	)
	switch format {
	case FormatMP3:
		data, rate, err = decodeMP3(r)
	case FormatWAV:
		data, rate, err = decodeWAV(r)
	default:
		return fmt.Errorf("unsupported bank format %q", format)
	}
	if err != nil {
		return fmt.Errorf("decode bank audio: %w", err)
	}
	b.setAudio(data, rate)
	return nil
}

func (b *Bank) setAudio(data []float32, rate int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = data
	b.rate = rate
	b.audioReady = true
}

// LoadFiles loads audio and index concurrently. The returned channel
// delivers one result (nil on success) and is then closed. The bank stays
// not-ready until both parts succeed.
func (b *Bank) LoadFiles(ctx context.Context, audioPath, indexPath string) <-chan error {
	result := make(chan error, 1)

	go func() {
		defer close(result)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = b.loadAudioFile(audioPath)
		}()
		go func() {
			defer wg.Done()
			errs[1] = b.loadIndexFile(indexPath)
		}()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-ctx.Done():
			result <- ctx.Err()
		case <-done:
			result <- errors.Join(errs...)
		}
	}()

	return result
}

func (b *Bank) loadAudioFile(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bank audio: %w", err)
	}
	defer f.Close()
	return b.LoadAudio(f, format)
}

func (b *Bank) loadIndexFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bank index: %w", err)
	}
	defer f.Close()
	return b.LoadIndex(f)
}

// Resolve looks up a sample by name
func (b *Bank) Resolve(name string) (Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.audioReady || !b.indexReady {
		return Sample{}, ErrNotReady
	}
	entry, ok := b.index[name]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrSampleNotFound, name)
	}

	frames := len(b.data) / 2
	scale := float64(b.rate) / IndexSampleRate
	start := int(math.Round(entry[1] * scale))
	length := int(math.Round(entry[2] * scale))
	if start < 0 || start >= frames || length <= 0 {
		return Sample{}, fmt.Errorf("%w: %s lies outside the bank audio", ErrSampleNotFound, name)
	}
	if start+length > frames {
		length = frames - start
	}
	return Sample{Name: name, Start: start, Length: length, Rate: b.rate}, nil
}

func toStereo(frames []float32, channels int) []float32 {
	switch channels {
	case 2:
		return frames
	case 1:
		out := make([]float32, len(frames)*2)
		for i, s := range frames {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	}
	// keep the first two channels
	n := len(frames) / channels
	out := make([]float32, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = frames[i*channels]
		out[i*2+1] = frames[i*channels+1]
	}
	return out
}
