package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"go-beatmachine/bank"
	"go-beatmachine/mixer"
)

func loudMixer() *mixer.Mixer {
	data := make([]float32, 200)
	for i := range data {
		data[i] = 2 // clipped on output
	}
	mx := mixer.New(bank.FromPCM(data, 2, 100), 100)
	mx.VoiceFor("clave").Play(bank.Sample{Name: "clave-0", Length: 100, Rate: 100}, 0, 0.25)
	return mx
}

func TestStreamEncodesFloat32(t *testing.T) {
	s := NewStream(loudMixer())
	buf := make([]byte, 8*4+3)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 32 {
		t.Fatalf("read %d bytes, want 32 (whole frames only)", n)
	}
	for i := 0; i < 8; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		if v != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, v)
		}
	}

	if n, _ := s.Read(make([]byte, 7)); n != 0 {
		t.Fatalf("short buffer read %d bytes", n)
	}
}

func TestStreamClips(t *testing.T) {
	mx := loudMixer()
	mx.SetMasterVolume(4)
	s := NewStream(mx)
	buf := make([]byte, 8)
	s.Read(buf)
	if v := math.Float32frombits(binary.LittleEndian.Uint32(buf)); v != 1 {
		t.Fatalf("sample = %v, want clipped to 1", v)
	}
}

func TestRenderCallsBeforeEachBlock(t *testing.T) {
	mx := mixer.New(bank.New(), 1000)
	calls := 0
	out := Render(mx, 1.2, func() { calls++ })
	if len(out) != 2400 {
		t.Fatalf("rendered %d samples, want 2400", len(out))
	}
	if calls != 3 {
		t.Fatalf("before called %d times, want 3", calls)
	}
	if mx.Now() != 1.2 {
		t.Fatalf("audio clock = %v", mx.Now())
	}
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	samples := []float32{0, 0, 0.5, -0.5, 1.5, -1.5}
	if err := WriteWAV(f, 22050, samples); err != nil {
		t.Fatal(err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatalf("invalid wav written")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if buf.Format.NumChannels != 2 || buf.Format.SampleRate != 22050 {
		t.Fatalf("format = %+v", buf.Format)
	}
	want := []int{0, 0, 16383, -16383, 32767, -32767}
	for i, w := range want {
		if buf.Data[i] != w {
			t.Fatalf("data = %v, want %v", buf.Data, want)
		}
	}
}
