package audit

type changeKey struct {
	reducer string
	path    string
}

// Recorder accumulates one turn's audit. It is created per Step and must
// not be reused across turns.
type Recorder struct {
	t         int
	sequence  []string
	changes   []FieldChange
	index     map[changeKey]int
	undo      []undoEntry
	triggers  []string
	errors    []Error
	finalized bool
}

type undoEntry struct {
	pos  int
	prev FieldChange
}

// Mark is a rollback point over field changes, their coalescing history
// and fired triggers. Errors are never rolled back.
type Mark struct {
	changes  int
	undo     int
	triggers int
}

func NewRecorder(t int) *Recorder {
	return &Recorder{t: t, index: map[changeKey]int{}}
}

func (r *Recorder) Timestep() int { return r.t }

// AddReducer appends a reducer name. Consecutive calls with the same name
// collapse into one entry.
func (r *Recorder) AddReducer(name string) {
	if r.finalized {
		return
	}
	if n := len(r.sequence); n > 0 && r.sequence[n-1] == name {
		return
	}
	r.sequence = append(r.sequence, name)
}

// CaptureFieldChange records a mutation of path by reducer. A second capture
// of the same (reducer, path) keeps the first old value and takes the latest
// new value, parameters and details.
func (r *Recorder) CaptureFieldChange(path string, oldValue, newValue any, reducer string, params, details Params) {
	if r.finalized {
		return
	}
	fc := FieldChange{
		FieldPath:          path,
		OldValue:           Value(oldValue),
		NewValue:           Value(newValue),
		ReducerName:        reducer,
		ReducerParams:      sanitize(params),
		CalculationDetails: sanitize(details),
	}
	k := changeKey{reducer, path}
	if i, ok := r.index[k]; ok {
		r.undo = append(r.undo, undoEntry{pos: i, prev: r.changes[i]})
		fc.OldValue = r.changes[i].OldValue
		r.changes[i] = fc
		return
	}
	r.index[k] = len(r.changes)
	r.changes = append(r.changes, fc)
}

func (r *Recorder) AddTriggerFired(name string) {
	if r.finalized {
		return
	}
	r.triggers = append(r.triggers, name)
}

func (r *Recorder) AddError(e Error) {
	if r.finalized {
		return
	}
	e.Inputs = sanitize(e.Inputs)
	r.errors = append(r.errors, e)
}

func (r *Recorder) Mark() Mark {
	return Mark{changes: len(r.changes), undo: len(r.undo), triggers: len(r.triggers)}
}

// Rollback discards field changes and fired triggers captured after m.
// Reducer names stay so the failed invocation is still visible in the
// sequence.
func (r *Recorder) Rollback(m Mark) {
	if r.finalized {
		return
	}
	for i := len(r.undo) - 1; i >= m.undo; i-- {
		u := r.undo[i]
		if u.pos < m.changes {
			r.changes[u.pos] = u.prev
		}
	}
	r.undo = r.undo[:m.undo]
	for i := m.changes; i < len(r.changes); i++ {
		fc := r.changes[i]
		delete(r.index, changeKey{fc.ReducerName, fc.FieldPath})
	}
	r.changes = r.changes[:m.changes]
	r.triggers = r.triggers[:m.triggers]
}

// Finalize freezes the recorder and returns an independent StepAudit.
// Later mutating calls are ignored.
func (r *Recorder) Finalize() StepAudit {
	r.finalized = true
	return StepAudit{
		Timestep:        r.t,
		ReducerSequence: append([]string{}, r.sequence...),
		FieldChanges:    append([]FieldChange{}, r.changes...),
		TriggersFired:   append([]string{}, r.triggers...),
		Errors:          append([]Error{}, r.errors...),
	}
}
