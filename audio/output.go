// Package audio connects the mixer to the sound card (oto) and to WAV files.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"go-beatmachine/debug"
	"go-beatmachine/mixer"
)

const bytesPerFrame = 8 // stereo float32

// Stream adapts the mixer to io.Reader as little-endian stereo float32
type Stream struct {
	mu      sync.Mutex
	mixer   *mixer.Mixer
	scratch []float32
}

// NewStream creates a reader that pulls audio from mx
func NewStream(mx *mixer.Mixer) *Stream {
	return &Stream{mixer: mx}
}

// Read renders len(buf)/8 frames. It never returns an error; the mixer
// renders silence when nothing is scheduled.
func (s *Stream) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(buf) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(s.scratch) < frames*2 {
		s.scratch = make([]float32, frames*2)
	}
	samples := s.scratch[:frames*2]
	s.mixer.Process(samples)

	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return frames * bytesPerFrame, nil
}

// Output plays the mixer on the default audio device. oto allows a single
// context per process, so open one Output and share it.
type Output struct {
	ctx    *oto.Context
	player *oto.Player
	stream *Stream
}

// Open creates the device context and starts pulling from mx
func Open(mx *mixer.Mixer, buffer time.Duration) (*Output, error) {
	op := &oto.NewContextOptions{
		SampleRate:   mx.SampleRate(),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	o := &Output{
		ctx:    ctx,
		stream: NewStream(mx),
	}
	o.player = ctx.NewPlayer(o.stream)
	if buffer > 0 {
		o.player.SetBufferSize(int(buffer.Seconds()*float64(mx.SampleRate())) * bytesPerFrame)
	}
	o.player.Play()

	debug.Log("audio", "output open: %d Hz, buffer %s", mx.SampleRate(), buffer)
	return o, nil
}

// Resume wakes the device after Suspend (the engine calls it on play)
func (o *Output) Resume() error {
	return o.ctx.Resume()
}

// Suspend pauses the device; the mixer clock stops with it
func (o *Output) Suspend() error {
	return o.ctx.Suspend()
}

// Close stops playback
func (o *Output) Close() error {
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil
	return err
}
