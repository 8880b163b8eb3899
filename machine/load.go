package machine

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// ErrUnknownPreset is returned by LoadPreset for a name with no embedded file
var ErrUnknownPreset = errors.New("unknown preset")

type machineDoc struct {
	Name        string          `yaml:"name"`
	Flavor      Flavor          `yaml:"flavor"`
	BPM         float64         `yaml:"bpm"`
	KeyNote     int             `yaml:"keyNote"`
	Instruments []instrumentDoc `yaml:"instruments"`
}

type instrumentDoc struct {
	ID                  string       `yaml:"id"`
	Title               string       `yaml:"title"`
	Enabled             bool         `yaml:"enabled"`
	Volume              *float64     `yaml:"volume"`
	PitchOffset         int          `yaml:"pitchOffset"`
	LeftHandPitchOffset int          `yaml:"leftHandPitchOffset"`
	Keyed               bool         `yaml:"keyed"`
	PlayBothHands       bool         `yaml:"playBothHands"`
	Languages           []string     `yaml:"languages"`
	Language            string       `yaml:"language"`
	ActiveProgram       int          `yaml:"activeProgram"`
	Programs            []programDoc `yaml:"programs"`
}

type programDoc struct {
	Title  string    `yaml:"title"`
	Length int       `yaml:"length"`
	Hits   []int     `yaml:"hits"` // shorthand: pitch 0, full velocity
	Notes  []noteDoc `yaml:"notes"`
}

type noteDoc struct {
	Index      int      `yaml:"index"`
	Pitch      int      `yaml:"pitch"`
	Velocity   *float64 `yaml:"velocity"`
	Hand       Hand     `yaml:"hand"`
	PianoTonic bool     `yaml:"pianoTonic"`
}

// Load decodes a YAML machine description
func Load(r io.Reader) (*Machine, error) {
	var doc machineDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode machine: %w", err)
	}
	return doc.build()
}

// LoadPreset loads one of the embedded presets by name ("salsa", "merengue")
func LoadPreset(name string) (*Machine, error) {
	f, err := presetFS.Open(path.Join("presets", strings.ToLower(name)+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	defer f.Close()
	return Load(f)
}

// PresetNames lists the embedded presets
func PresetNames() []string {
	entries, _ := presetFS.ReadDir("presets")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func (doc *machineDoc) build() (*Machine, error) {
	if !doc.Flavor.Valid() {
		return nil, fmt.Errorf("machine %q: unsupported flavor %q", doc.Name, doc.Flavor)
	}
	if doc.BPM <= 0 {
		return nil, fmt.Errorf("machine %q: bpm must be positive, got %v", doc.Name, doc.BPM)
	}

	seen := make(map[string]bool)
	instruments := make([]*Instrument, 0, len(doc.Instruments))
	for _, d := range doc.Instruments {
		if d.ID == "" {
			return nil, fmt.Errorf("machine %q: instrument without id", doc.Name)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("machine %q: duplicate instrument %q", doc.Name, d.ID)
		}
		seen[d.ID] = true

		inst, err := d.build()
		if err != nil {
			return nil, fmt.Errorf("machine %q: %w", doc.Name, err)
		}
		instruments = append(instruments, inst)
	}

	name := doc.Name
	if name == "" {
		name = string(doc.Flavor)
	}
	return New(name, doc.Flavor, doc.BPM, doc.KeyNote, instruments), nil
}

func (doc *instrumentDoc) build() (*Instrument, error) {
	if len(doc.Programs) == 0 {
		return nil, fmt.Errorf("instrument %q: no programs", doc.ID)
	}

	programs := make([]*Program, 0, len(doc.Programs))
	for i, pd := range doc.Programs {
		if pd.Length <= 0 {
			return nil, fmt.Errorf("instrument %q: program %d has length %d", doc.ID, i, pd.Length)
		}
		notes := make([]Note, 0, len(pd.Hits)+len(pd.Notes))
		for _, idx := range pd.Hits {
			notes = append(notes, Note{Index: idx, Velocity: 1})
		}
		for _, nd := range pd.Notes {
			n, err := nd.build()
			if err != nil {
				return nil, fmt.Errorf("instrument %q: program %d: %w", doc.ID, i, err)
			}
			notes = append(notes, n)
		}
		title := pd.Title
		if title == "" {
			title = fmt.Sprintf("Program %d", i+1)
		}
		programs = append(programs, NewProgram(title, pd.Length, notes))
	}

	volume := 1.0
	if doc.Volume != nil {
		volume = *doc.Volume
	}
	title := doc.Title
	if title == "" {
		title = doc.ID
	}

	inst := NewInstrument(doc.ID, title, programs, doc.Enabled, volume)
	inst.PitchOffset = doc.PitchOffset
	inst.LeftHandPitchOffset = doc.LeftHandPitchOffset
	inst.Keyed = doc.Keyed
	inst.PlayBothHands = doc.PlayBothHands
	inst.Languages = doc.Languages
	if doc.ActiveProgram >= 0 && doc.ActiveProgram < len(programs) {
		inst.activeProgram = doc.ActiveProgram
	}
	if len(doc.Languages) > 0 {
		inst.language = doc.Languages[0]
		if inst.hasLanguage(doc.Language) {
			inst.language = doc.Language
		}
	}
	return inst, nil
}

func (nd *noteDoc) build() (Note, error) {
	switch nd.Hand {
	case HandAny, HandLeft, HandRight:
	default:
		return Note{}, fmt.Errorf("note %d: unknown hand %q", nd.Index, nd.Hand)
	}
	velocity := 1.0
	if nd.Velocity != nil {
		velocity = *nd.Velocity
		if velocity < 0 || velocity > 1 {
			return Note{}, fmt.Errorf("note %d: velocity %v out of range", nd.Index, velocity)
		}
	}
	return Note{
		Index:      nd.Index,
		Pitch:      nd.Pitch,
		Velocity:   velocity,
		Hand:       nd.Hand,
		PianoTonic: nd.PianoTonic,
	}, nil
}
