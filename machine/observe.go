package machine

// Field identifies an observable field
type Field int

const (
	FieldBPM Field = iota
	FieldKeyNote
	FieldEnabled
	FieldVolume
	FieldActiveProgram
	FieldLanguage
)

func (f Field) String() string {
	switch f {
	case FieldBPM:
		return "bpm"
	case FieldKeyNote:
		return "keyNote"
	case FieldEnabled:
		return "enabled"
	case FieldVolume:
		return "volume"
	case FieldActiveProgram:
		return "activeProgram"
	case FieldLanguage:
		return "language"
	}
	return "unknown"
}

// Change describes one mutation. Instrument is nil for machine-level fields.
// Old and New carry numeric values (bools as 0/1); they are zero for language.
type Change struct {
	Field      Field
	Instrument *Instrument
	Old, New   float64
}

// Subscribe registers fn for every change on this machine and its
// instruments. fn runs on the mutating goroutine after the mutation is
// visible. The returned func unsubscribes.
func (m *Machine) Subscribe(fn func(Change)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Machine) notify(c Change) {
	m.mu.RLock()
	fns := make([]func(Change), 0, len(m.observers))
	for i := 0; i < m.nextObs; i++ {
		if fn, ok := m.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
