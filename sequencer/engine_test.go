package sequencer

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go-beatmachine/bank"
	"go-beatmachine/debug"
	"go-beatmachine/machine"
	"go-beatmachine/mixer"
)

const testRate = 1000

type fakeSamples struct {
	ready   bool
	missing map[string]bool
}

func (f *fakeSamples) Ready() bool { return f.ready }

func (f *fakeSamples) Resolve(name string) (bank.Sample, error) {
	if !f.ready {
		return bank.Sample{}, bank.ErrNotReady
	}
	if f.missing[name] {
		return bank.Sample{}, fmt.Errorf("%w: %s", bank.ErrSampleNotFound, name)
	}
	return bank.Sample{Name: name, Length: 10, Rate: testRate}, nil
}

func hits(slots ...int) []machine.Note {
	notes := make([]machine.Note, len(slots))
	for i, s := range slots {
		notes[i] = machine.Note{Index: s, Velocity: 1}
	}
	return notes
}

// salsaMachine: clave (Son 3-2 / Rumba), keyed bass, disabled cowbell
func salsaMachine(bpm float64) *machine.Machine {
	clave := machine.NewInstrument("clave", "Clave", []*machine.Program{
		machine.NewProgram("Son", 16, hits(0, 3, 6, 10, 12)),
		machine.NewProgram("Rumba", 16, hits(0, 3, 7, 10, 12)),
	}, true, 0.7)
	bass := machine.NewInstrument("bass", "Bass", []*machine.Program{
		machine.NewProgram("Tumbao", 4, hits(0, 3)),
	}, true, 1)
	bass.Keyed = true
	cowbell := machine.NewInstrument("cowbell", "Cowbell", []*machine.Program{
		machine.NewProgram("Quarters", 2, hits(0)),
	}, false, 1)
	return machine.New("Test", machine.Salsa, bpm, 0, []*machine.Instrument{clave, bass, cowbell})
}

func newTestEngine(t *testing.T, m *machine.Machine) (*Engine, *mixer.Mixer, *fakeSamples) {
	t.Helper()
	mx := mixer.New(bank.FromPCM(make([]float32, 2*testRate), 2, testRate), testRate)
	samples := &fakeSamples{ready: true}
	e := New(m, mx, samples, Options{RefillInterval: time.Hour})
	t.Cleanup(e.Close)
	return e, mx, samples
}

func pendingNames(v *mixer.Voice) []string {
	var out []string
	for _, p := range v.Pending() {
		out = append(out, p.Name)
	}
	return out
}

func TestScenarioClaveTimestamps(t *testing.T) {
	clave := machine.NewInstrument("clave", "Clave", []*machine.Program{
		machine.NewProgram("Son", 16, hits(0, 3, 6, 10, 12)),
	}, true, 1)
	m := machine.New("Test", machine.Salsa, 120, 0, []*machine.Instrument{clave})
	e, mx, _ := newTestEngine(t, m)

	e.Play()
	pending := mx.VoiceFor("clave").Pending()
	if len(pending) != 20 {
		t.Fatalf("64 slots of a 16-slot clave should give 20 hits, got %d", len(pending))
	}
	for i, slot := range []int{0, 3, 6, 10, 12} {
		want := float64(slot) * (60.0 / 120 / 2)
		if pending[i].At != want || pending[i].Name != "clave-0" {
			t.Errorf("entry %d = %+v, want clave-0 at %v", i, pending[i], want)
		}
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].At <= pending[i-1].At {
			t.Fatalf("entries out of order or duplicated at %d: %v then %v", i, pending[i-1].At, pending[i].At)
		}
	}
}

func TestPlayFillsLookahead(t *testing.T) {
	e, mx, _ := newTestEngine(t, salsaMachine(120))
	e.Play()
	if !e.Playing() {
		t.Fatalf("engine should be playing")
	}
	select {
	case <-e.UpdateChan:
	default:
		t.Fatalf("Play should notify views")
	}

	// bass: 2 hits per 4 slots over 64 slots
	if n := len(mx.VoiceFor("bass").Pending()); n != 32 {
		t.Fatalf("bass pending = %d, want 32", n)
	}
	if n := len(mx.VoiceFor("cowbell").Pending()); n != 0 {
		t.Fatalf("disabled cowbell scheduled %d notes", n)
	}

	// refilling without time passing adds nothing
	e.Refill()
	if n := len(mx.VoiceFor("bass").Pending()); n != 32 {
		t.Fatalf("bass pending after idle refill = %d", n)
	}

	// 2s at 120bpm = 4 beats = 8 slots consumed, 8 more scheduled
	mx.Advance(2)
	e.Refill()
	pending := mx.VoiceFor("bass").Pending()
	if len(pending) != 32 {
		t.Fatalf("bass pending after refill = %d, want 32", len(pending))
	}
	// cursor is now 72, last bass hit at slot 71 (71 mod 4 = 3)
	if last := pending[len(pending)-1].At; last != 71*0.25 {
		t.Fatalf("last bass hit at %v, want %v", last, 71*0.25)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e, mx, _ := newTestEngine(t, salsaMachine(120))
	e.Play()
	mx.Advance(1.3)
	e.Refill()

	e.Stop()
	pos, playing, cursor := e.Position(), e.Playing(), e.cursor
	e.Stop()
	if e.Position() != pos || e.Playing() != playing || e.cursor != cursor {
		t.Fatalf("second Stop changed state")
	}
	if playing || pos != 0 || cursor != 0 {
		t.Fatalf("stopped engine: playing=%v pos=%v cursor=%d", playing, pos, cursor)
	}
	for _, id := range []string{"clave", "bass", "cowbell"} {
		v := mx.VoiceFor(id)
		if len(v.Pending()) != 0 || v.Sounding() != 0 {
			t.Fatalf("%s still scheduled after stop", id)
		}
	}
	if e.BeatIndicator() != 0 {
		t.Fatalf("beat indicator should be 0 when stopped")
	}

	// next play restarts from slot 0 at the current audio time
	e.Play()
	first := mx.VoiceFor("clave").Pending()[0]
	if math.Abs(first.At-mx.Now()) > 1e-9 {
		t.Fatalf("restart first hit at %v, audio time %v", first.At, mx.Now())
	}
}

func TestTempoChangeKeepsPhase(t *testing.T) {
	m := salsaMachine(100)
	e, mx, _ := newTestEngine(t, m)
	e.Play()

	mx.Advance(4)
	before := e.Position()
	m.SetBPM(140)
	after := e.Position()
	if math.Abs(after-before) >= 0.01 {
		t.Fatalf("beat jumped from %v to %v", before, after)
	}

	if want := int(math.Ceil(2*before)) + 64; e.cursor < want-1 || e.cursor > want+1 {
		t.Fatalf("cursor = %d, want about %d", e.cursor, want)
	}

	// bass hits on slots 0 and 3 of every 4, so gaps are 1 or 3 new slots
	slot := 60.0 / 140 / 2
	pending := mx.VoiceFor("bass").Pending()
	if len(pending) < 2 {
		t.Fatalf("bass pending = %d", len(pending))
	}
	for _, p := range pending {
		if p.At < mx.Now() {
			t.Fatalf("entry scheduled in the past: %v < %v", p.At, mx.Now())
		}
	}
	for i := 1; i < len(pending); i++ {
		gap := pending[i].At - pending[i-1].At
		if math.Abs(gap-3*slot) > 0.002 && math.Abs(gap-slot) > 0.002 {
			t.Fatalf("bass gap %v does not match the new tempo", gap)
		}
	}
}

func TestInvalidTempoIgnored(t *testing.T) {
	m := salsaMachine(120)
	e, mx, _ := newTestEngine(t, m)
	e.Play()
	mx.Advance(1)

	before := mx.VoiceFor("clave").Pending()
	m.SetBPM(0)
	if got := mx.VoiceFor("clave").Pending(); !reflect.DeepEqual(got, before) {
		t.Fatalf("rejected tempo changed the schedule")
	}
	if e.clock.BPM() != 120 {
		t.Fatalf("clock tempo = %v", e.clock.BPM())
	}

	// a later valid change starts from the clock's tempo
	pos := e.Position()
	m.SetBPM(90)
	if math.Abs(e.Position()-pos) > 1e-9 {
		t.Fatalf("beat jumped after recovering from an invalid tempo")
	}
}

func TestKeyChangeOnlyTouchesKeyed(t *testing.T) {
	m := salsaMachine(120)
	e, mx, _ := newTestEngine(t, m)
	e.Play()
	mx.Advance(1)
	e.Refill()

	claveBefore := mx.VoiceFor("clave").Pending()
	bassBefore := mx.VoiceFor("bass").Pending()
	for _, name := range pendingNames(mx.VoiceFor("bass")) {
		if name != "bass-0" {
			t.Fatalf("unexpected bass sample %q", name)
		}
	}

	m.SetKeyNote(5)

	if got := mx.VoiceFor("clave").Pending(); !reflect.DeepEqual(got, claveBefore) {
		t.Fatalf("key change touched the clave schedule")
	}
	bassAfter := mx.VoiceFor("bass").Pending()
	if len(bassAfter) != len(bassBefore) {
		t.Fatalf("bass pending %d -> %d", len(bassBefore), len(bassAfter))
	}
	for i := range bassAfter {
		if bassAfter[i].Name != "bass-5" || bassAfter[i].At != bassBefore[i].At {
			t.Fatalf("bass entry %d = %+v, was %+v", i, bassAfter[i], bassBefore[i])
		}
	}
}

// At a slot duration of 0.2499s slot 4 falls at 0.9996s, which rounds to
// frame 1000: exactly the playhead after one second.
const boundaryBPM = 30 / 0.2499

func TestKeyChangeAtPlayheadFrame(t *testing.T) {
	m := salsaMachine(boundaryBPM)
	e, mx, _ := newTestEngine(t, m)
	e.Play()
	mx.Advance(1)

	before := mx.VoiceFor("bass").Pending()
	if len(before) == 0 || before[0].At != 1 || before[0].Name != "bass-0" {
		t.Fatalf("slot 4 should be pending at 1.0, got %+v", before)
	}

	m.SetKeyNote(5)

	after := mx.VoiceFor("bass").Pending()
	if len(after) != len(before) {
		t.Fatalf("bass pending %d -> %d", len(before), len(after))
	}
	if after[0].At != 1 || after[0].Name != "bass-5" {
		t.Fatalf("first bass entry = %+v, want bass-5 at 1.0", after[0])
	}
}

func TestTempoChangeAtPlayheadFrame(t *testing.T) {
	m := salsaMachine(boundaryBPM)
	e, mx, _ := newTestEngine(t, m)
	e.Play()
	mx.Advance(1)

	m.SetBPM(120)

	// the new phase puts slot 4 at 0.9996s again, still frame 1000
	if got := e.clock.SlotTime(4); math.Abs(got-0.9996) > 1e-6 {
		t.Fatalf("slot 4 at %v after the tempo change", got)
	}
	pending := mx.VoiceFor("bass").Pending()
	if len(pending) == 0 || pending[0].At != 1 || pending[0].Name != "bass-0" {
		t.Fatalf("slot 4 lost by the tempo change, bass pending starts %+v", pending)
	}
}

func TestProgramChangeRegeneratesOneInstrument(t *testing.T) {
	m := salsaMachine(120)
	e, mx, _ := newTestEngine(t, m)
	e.Play()
	mx.Advance(0.5)

	bassBefore := mx.VoiceFor("bass").Pending()
	m.Instrument("clave").SetActiveProgram(1)

	if got := mx.VoiceFor("bass").Pending(); !reflect.DeepEqual(got, bassBefore) {
		t.Fatalf("program change touched another instrument")
	}
	// Rumba has slot 7 where Son has slot 6
	var slots []int
	for _, p := range mx.VoiceFor("clave").Pending() {
		slots = append(slots, int(math.Round(p.At/0.25))%16)
	}
	for _, s := range slots {
		if s == 6 {
			t.Fatalf("stale Son hit still scheduled: %v", slots)
		}
	}
	if !containsInt(slots, 7) {
		t.Fatalf("Rumba hit missing: %v", slots)
	}
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func TestDisableEnable(t *testing.T) {
	m := salsaMachine(120)
	e, mx, _ := newTestEngine(t, m)
	e.Play()
	clave := m.Instrument("clave")
	v := mx.VoiceFor("clave")

	clave.SetEnabled(false)
	if v.Gain() != 0 {
		t.Fatalf("disabled voice gain = %v", v.Gain())
	}
	mx.Advance(5)
	e.Refill()

	st := clave.State()
	for slot := 0; slot < 32; slot++ {
		if len(ResolveNotes(0, st, slot)) != 0 {
			t.Fatalf("disabled clave resolved notes at slot %d", slot)
		}
	}

	clave.SetEnabled(true)
	if v.Gain() != 0.7 {
		t.Fatalf("re-enabled gain = %v, want 0.7", v.Gain())
	}

	// the whole window is scheduled again without duplicates
	pending := v.Pending()
	from := int(math.Ceil(2 * e.Position()))
	want := 0
	for slot := from; slot < e.cursor; slot++ {
		want += len(clave.Programs[0].NotesAt(slot))
	}
	if len(pending) != want {
		t.Fatalf("clave pending after enable = %d, want %d", len(pending), want)
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].At == pending[i-1].At {
			t.Fatalf("duplicate clave entry at %v", pending[i].At)
		}
	}
}

func TestVolumeStagedWhileDisabled(t *testing.T) {
	m := salsaMachine(120)
	_, mx, _ := newTestEngine(t, m)
	clave := m.Instrument("clave")
	v := mx.VoiceFor("clave")

	clave.SetEnabled(false)
	clave.SetVolume(0.3)
	if v.Gain() != 0 {
		t.Fatalf("volume change unmuted a disabled voice")
	}
	clave.SetEnabled(true)
	if v.Gain() != 0.3 {
		t.Fatalf("gain after enable = %v, want 0.3", v.Gain())
	}
}

func TestNotReadySkipsTick(t *testing.T) {
	m := salsaMachine(120)
	e, mx, samples := newTestEngine(t, m)
	samples.ready = false

	var logged bytes.Buffer
	debug.SetOutput(&logged)
	defer debug.Disable()

	e.Play()
	if n := len(mx.VoiceFor("clave").Pending()); n != 0 {
		t.Fatalf("scheduled %d notes before the bank was ready", n)
	}

	mx.Advance(1)
	e.Refill()
	mx.Advance(2)
	e.Refill()
	debug.SetOutput(nil)
	if n := strings.Count(logged.String(), "not ready"); n != 1 {
		t.Fatalf("logged %d not-ready lines over three skipped ticks, want 1:\n%s", n, logged.String())
	}

	samples.ready = true
	e.Refill()

	pending := mx.VoiceFor("clave").Pending()
	if len(pending) == 0 {
		t.Fatalf("nothing scheduled once ready")
	}
	if pending[0].At < 3 {
		t.Fatalf("caught-up refill scheduled a slot in the past: %v", pending[0].At)
	}
}

// waitFor polls cond until it holds or timeout passes
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func lastPendingAt(v *mixer.Voice) float64 {
	p := v.Pending()
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].At
}

func TestLoopsRefillAndPublishWhilePlaying(t *testing.T) {
	m := salsaMachine(120)
	mx := mixer.New(bank.FromPCM(make([]float32, 2*testRate), 2, testRate), testRate)
	e := New(m, mx, &fakeSamples{ready: true}, Options{
		RefillInterval: 5 * time.Millisecond,
		DisplayFPS:     200,
	})
	t.Cleanup(e.Close)

	e.Play()
	clave := mx.VoiceFor("clave")
	initial := lastPendingAt(clave)
	if initial >= 16 {
		t.Fatalf("initial window ends at %v, want under 16s", initial)
	}

	// audio output stand-in: 50x real time
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				mx.Advance(0.05)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	if !waitFor(10*time.Second, func() bool { return e.Beat() > 1 }) {
		t.Fatalf("display loop never published a beat, Beat() = %v", e.Beat())
	}
	if !waitFor(10*time.Second, func() bool { return mx.Now() > 20 }) {
		t.Fatalf("audio clock stalled at %v", mx.Now())
	}
	if last := lastPendingAt(clave); last <= 20 {
		t.Fatalf("refill loop did not extend the schedule: last entry at %v, clock at %v", last, mx.Now())
	}
	if len(clave.Pending()) == 0 {
		t.Fatalf("schedule ran dry while playing")
	}

	e.Stop()
	if b := e.Beat(); b != 0 {
		t.Fatalf("Beat() = %v after stop", b)
	}
	stoppedAt := mx.Now()
	time.Sleep(100 * time.Millisecond)
	if mx.Now() <= stoppedAt {
		t.Fatalf("audio clock did not keep running")
	}
	for _, inst := range m.Instruments {
		if p := mx.VoiceFor(inst.ID).Pending(); len(p) != 0 {
			t.Fatalf("%s scheduled %d notes after stop", inst.ID, len(p))
		}
	}
	if b := e.Beat(); b != 0 {
		t.Fatalf("display loop published %v after stop", b)
	}
}

func TestMissingSampleDropsOneNote(t *testing.T) {
	m := salsaMachine(120)
	e, mx, samples := newTestEngine(t, m)
	samples.missing = map[string]bool{"clave-0": true}

	e.Play()
	if n := len(mx.VoiceFor("clave").Pending()); n != 0 {
		t.Fatalf("missing sample scheduled %d times", n)
	}
	if n := len(mx.VoiceFor("bass").Pending()); n != 32 {
		t.Fatalf("bass should be unaffected, got %d", n)
	}
}

func TestLanguageChange(t *testing.T) {
	voice := machine.NewInstrument("instructor", "Instructor", []*machine.Program{
		machine.NewProgram("Count", 4, []machine.Note{{Index: 0, Pitch: 1, Velocity: 1}}),
	}, true, 1)
	voice.Languages = []string{"spanish", "italian"}
	m := machine.New("Test", machine.Salsa, 120, 0, []*machine.Instrument{voice})
	voice.SetLanguage("spanish")

	e, mx, _ := newTestEngine(t, m)
	e.Play()
	voice.SetLanguage("italian")
	for _, name := range pendingNames(mx.VoiceFor("instructor")) {
		if !strings.HasPrefix(name, "italian:") {
			t.Fatalf("stale language sample %q", name)
		}
	}
}

func TestSetMachine(t *testing.T) {
	salsa := salsaMachine(120)
	e, mx, _ := newTestEngine(t, salsa)
	e.Play()
	mx.Advance(2)

	tambora := machine.NewInstrument("tambora", "Tambora", []*machine.Program{
		machine.NewProgram("Basic", 8, hits(0, 2, 4)),
	}, true, 1)
	merengue := machine.New("Merengue", machine.Merengue, 130, 0, []*machine.Instrument{tambora})
	e.SetMachine(merengue)

	if !e.Playing() || e.Machine() != merengue {
		t.Fatalf("swap should keep playing with the new machine")
	}
	if mx.Voices() != 1 {
		t.Fatalf("voices after swap = %d, want 1", mx.Voices())
	}
	first := mx.VoiceFor("tambora").Pending()[0]
	if math.Abs(first.At-2) > 1e-9 {
		t.Fatalf("new machine should start at the current audio time, got %v", first.At)
	}

	// the old machine no longer drives the engine
	salsa.SetBPM(200)
	if e.clock.BPM() != 130 {
		t.Fatalf("old machine changed the tempo to %v", e.clock.BPM())
	}
}

func TestEnginesAreIndependent(t *testing.T) {
	a, mxA, _ := newTestEngine(t, salsaMachine(120))
	b, mxB, _ := newTestEngine(t, salsaMachine(90))
	a.Play()
	mxA.Advance(1)
	mxB.Advance(1)
	if b.Playing() || len(mxB.VoiceFor("clave").Pending()) != 0 {
		t.Fatalf("second engine affected by the first")
	}
	b.Play()
	a.Stop()
	if !b.Playing() || len(mxB.VoiceFor("clave").Pending()) == 0 {
		t.Fatalf("stopping one engine affected the other")
	}
}

func TestBeatIndicator(t *testing.T) {
	cases := []struct {
		flavor  machine.Flavor
		beat    float64
		playing bool
		want    int
	}{
		{machine.Salsa, 0, true, 1},
		{machine.Salsa, 0.2, true, 1},
		{machine.Salsa, 1.1, true, 2},
		{machine.Salsa, 7.6, true, 8},
		{machine.Salsa, 8.2, true, 1},
		{machine.Merengue, 3, true, 2},
		{machine.Merengue, 7.9, true, 4},
		{machine.Merengue, 8.1, true, 1},
		{machine.Salsa, 3, false, 0},
	}
	for _, c := range cases {
		if got := BeatIndicator(c.flavor, c.beat, c.playing); got != c.want {
			t.Errorf("BeatIndicator(%s, %v, %v) = %d, want %d", c.flavor, c.beat, c.playing, got, c.want)
		}
	}
}
