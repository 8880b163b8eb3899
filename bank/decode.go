package bank

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3 returns interleaved stereo float32. go-mp3 always yields 16-bit
// little-endian stereo.
func decodeMP3(r io.Reader) ([]float32, int, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, 0, err
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out, d.SampleRate(), nil
}

func decodeWAV(r io.Reader) ([]float32, int, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, err
		}
		rs = bytes.NewReader(raw)
	}

	d := wav.NewDecoder(rs)
	if !d.IsValidFile() {
		return nil, 0, errors.New("not a valid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, errors.New("wav file has no channels")
	}

	depth := int(d.BitDepth)
	if depth < 8 || depth > 32 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", depth)
	}
	scale := float32(int64(1) << (depth - 1))
	// 8-bit PCM is unsigned, centered on 128
	bias := 0
	if depth == 8 {
		bias = 128
	}
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v-bias) / scale
	}
	return toStereo(samples, buf.Format.NumChannels), buf.Format.SampleRate, nil
}
