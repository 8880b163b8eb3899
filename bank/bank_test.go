package bank

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestResolveConvertsIndexRate(t *testing.T) {
	b := FromPCM(make([]float32, 22050), 1, 22050)
	if b.Ready() {
		t.Fatalf("bank without index should not be ready")
	}
	if _, err := b.Resolve("clave-0"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}

	err := b.LoadIndex(strings.NewReader(`{"clave-0": [0, 4410, 8820], "tail": [0, 40000, 10000]}`))
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if !b.Ready() {
		t.Fatalf("bank should be ready")
	}

	s, err := b.Resolve("clave-0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Start != 2205 || s.Length != 4410 {
		t.Fatalf("sample = %+v, want start 2205 length 4410", s)
	}
	if s.Offset() != 0.1 || s.Duration() != 0.2 {
		t.Fatalf("offset/duration = %v/%v", s.Offset(), s.Duration())
	}

	// 40000 -> 20000 frames, clipped to the 22050 available
	tail, err := b.Resolve("tail")
	if err != nil {
		t.Fatalf("resolve tail: %v", err)
	}
	if tail.Start+tail.Length != 22050 {
		t.Fatalf("tail not clipped: %+v", tail)
	}

	if _, err := b.Resolve("cowbell-3"); !errors.Is(err, ErrSampleNotFound) {
		t.Fatalf("err = %v, want ErrSampleNotFound", err)
	}
}

func TestResolveOutsideAudio(t *testing.T) {
	b := FromPCM(make([]float32, 200), 2, IndexSampleRate)
	b.SetIndex(Index{"late": {0, 500, 10}})
	if _, err := b.Resolve("late"); !errors.Is(err, ErrSampleNotFound) {
		t.Fatalf("err = %v, want ErrSampleNotFound", err)
	}
}

func TestLoadIndexRejectsShortEntries(t *testing.T) {
	b := New()
	if err := b.LoadIndex(strings.NewReader(`{"x": [0, 1]}`)); err == nil {
		t.Fatalf("expected error for two-value entry")
	}
	if err := b.LoadIndex(strings.NewReader(`not json`)); err == nil {
		t.Fatalf("expected error for bad json")
	}
	if b.Ready() {
		t.Fatalf("failed index load must not make the bank ready")
	}
}

func TestMonoIsDuplicated(t *testing.T) {
	b := FromPCM([]float32{0.5, -0.5}, 1, 8000)
	data := b.Data()
	want := []float32{0.5, 0.5, -0.5, -0.5}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("data = %v, want %v", data, want)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	if f, _ := FormatFromPath("bank/ALL.MP3"); f != FormatMP3 {
		t.Fatalf("mp3 path -> %q", f)
	}
	if f, _ := FormatFromPath("bank.wav"); f != FormatWAV {
		t.Fatalf("wav path -> %q", f)
	}
	if _, err := FormatFromPath("bank.ogg"); err == nil {
		t.Fatalf("expected error for ogg")
	}
}

func writeTestWAV(t *testing.T, path string, rate int, data []int) {
	t.Helper()
	writeTestWAVDepth(t, path, rate, 16, data)
}

func writeTestWAVDepth(t *testing.T, path string, rate, depth int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, depth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "all.wav")
	indexPath := filepath.Join(dir, "all.json")

	writeTestWAV(t, audioPath, 44100, []int{0, 16384, -16384, 32767})
	if err := os.WriteFile(indexPath, []byte(`{"clave-0": [0, 1, 2]}`), 0644); err != nil {
		t.Fatal(err)
	}

	b := New()
	if err := <-b.LoadFiles(context.Background(), audioPath, indexPath); err != nil {
		t.Fatalf("load files: %v", err)
	}
	if !b.Ready() || b.SampleRate() != 44100 {
		t.Fatalf("ready=%v rate=%d", b.Ready(), b.SampleRate())
	}

	data := b.Data()
	if len(data) != 8 {
		t.Fatalf("got %d samples, want 8 stereo samples", len(data))
	}
	if data[2] != 0.5 || data[3] != 0.5 || data[4] != -0.5 {
		t.Fatalf("decoded data = %v", data)
	}

	s, err := b.Resolve("clave-0")
	if err != nil || s.Start != 1 || s.Length != 2 {
		t.Fatalf("resolve = %+v, %v", s, err)
	}
}

func TestDecodeUnsigned8BitWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u8.wav")
	writeTestWAVDepth(t, path, 8000, 8, []int{128, 192, 64, 0})

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	data, rate, err := decodeWAV(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate != 8000 {
		t.Fatalf("rate = %d, want 8000", rate)
	}
	want := []float32{0, 0, 0.5, 0.5, -0.5, -0.5, -1, -1}
	if len(data) != len(want) {
		t.Fatalf("got %d samples, want %d", len(data), len(want))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v (all %v)", i, data[i], want[i], data)
		}
	}
}

func TestLoadFilesMissingIndex(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "all.wav")
	writeTestWAV(t, audioPath, 22050, []int{0, 0})

	b := New()
	err := <-b.LoadFiles(context.Background(), audioPath, filepath.Join(dir, "missing.json"))
	if err == nil {
		t.Fatalf("expected error for missing index")
	}
	if b.Ready() {
		t.Fatalf("bank must stay not-ready when the index fails")
	}
}
