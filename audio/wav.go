package audio

import (
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"go-beatmachine/mixer"
)

const renderBlock = 512

// Render pulls seconds of stereo audio from mx in fixed blocks, calling
// before ahead of each block so a scheduler can refill against the
// advancing audio clock.
func Render(mx *mixer.Mixer, seconds float64, before func()) []float32 {
	frames := int(math.Round(seconds * float64(mx.SampleRate())))
	out := make([]float32, frames*2)
	for pos := 0; pos < frames; pos += renderBlock {
		if before != nil {
			before()
		}
		end := min(pos+renderBlock, frames)
		mx.Process(out[pos*2 : end*2])
	}
	return out
}

// WriteWAV encodes interleaved stereo float32 as 16-bit PCM
func WriteWAV(w io.WriteSeeker, rate int, samples []float32) error {
	enc := wav.NewEncoder(w, rate, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 2,
			SampleRate:  rate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, v := range samples {
		v = max(-1, min(1, v))
		buf.Data[i] = int(v * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
