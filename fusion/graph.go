package fusion

import (
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Contract violations. They signal a defect in the caller, not bad data.
var (
	ErrDuplicateState  = errors.New("state already exists")
	ErrUnknownState    = errors.New("unknown state")
	ErrFactorSignature = errors.New("factor does not match its state signature")
)

// FactorGraph owns every state variable and factor of one estimation run.
// Factors refer to states by key; states are never removed and factors are
// append-only. It is not safe for concurrent use.
type FactorGraph struct {
	states    map[StateKey]*StateVariable
	byName    map[string][]StateKey
	factors   []*Factor
	factorsOf map[StateKey][]int
	free      []StateKey
}

func NewFactorGraph() *FactorGraph {
	return &FactorGraph{
		states:    make(map[StateKey]*StateVariable),
		byName:    make(map[string][]StateKey),
		factorsOf: make(map[StateKey][]int),
	}
}

// AddState creates a new free state. The mean defaults to zeros of the
// type's dimension. Re-adding an existing key fails with ErrDuplicateState
// and leaves the existing state untouched.
func (g *FactorGraph) AddState(name string, typ StateType, t float64, opts ...StateOption) (StateKey, error) {
	if typ.Dim() == 0 {
		return StateKey{}, errors.Errorf("unknown state type %d", int(typ))
	}
	v := &StateVariable{Key: StateKey{Name: name, Timestamp: t}, Type: typ}
	for _, opt := range opts {
		opt(v)
	}
	if v.Mean == nil {
		v.Mean = make([]float64, typ.Dim())
	}
	if len(v.Mean) != typ.Dim() {
		return StateKey{}, errors.Errorf("mean of %s has %d components, %s needs %d", v.Key, len(v.Mean), typ, typ.Dim())
	}
	if v.StdDev != nil && len(v.StdDev) != typ.Dim() {
		return StateKey{}, errors.Errorf("std dev of %s has %d components, %s needs %d", v.Key, len(v.StdDev), typ, typ.Dim())
	}
	if _, ok := g.states[v.Key]; ok {
		return StateKey{}, errors.Wrapf(ErrDuplicateState, "%s", v.Key)
	}
	v.normalize()
	g.states[v.Key] = v
	keys := g.byName[name]
	i := sort.Search(len(keys), func(i int) bool { return v.Key.less(keys[i]) })
	keys = append(keys, StateKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = v.Key
	g.byName[name] = keys
	g.free = append(g.free, v.Key)
	return v.Key, nil
}

// AddFactor validates the keys and payload and appends one factor. On any
// error the graph is unchanged.
func (g *FactorGraph) AddFactor(kind FactorKind, keys []StateKey, payload any, noise *NoiseModel) (int, error) {
	m, err := newModel(kind, payload)
	if err != nil {
		return 0, err
	}
	sig := m.signature()
	if len(keys) != len(sig) {
		return 0, errors.Wrapf(ErrFactorSignature, "%s connects %d states, got %d keys", kind, len(sig), len(keys))
	}
	for i, k := range keys {
		v, ok := g.states[k]
		if !ok {
			return 0, errors.Wrapf(ErrUnknownState, "%s references %s", kind, k)
		}
		if v.Type != sig[i] {
			return 0, errors.Wrapf(ErrFactorSignature, "%s slot %d needs %s, %s is %s", kind, i, sig[i], k, v.Type)
		}
	}
	if noise == nil {
		return 0, errors.Errorf("%s needs a noise model", kind)
	}
	if noise.Dim() != m.dim() {
		return 0, errors.Wrapf(ErrFactorSignature, "%s residual has %d components, noise model %d", kind, m.dim(), noise.Dim())
	}
	f := &Factor{
		ID:    len(g.factors),
		Kind:  kind,
		Keys:  append([]StateKey(nil), keys...),
		Noise: noise,
		model: m,
	}
	g.factors = append(g.factors, f)
	for _, k := range lo.Uniq(f.Keys) {
		g.factorsOf[k] = append(g.factorsOf[k], f.ID)
	}
	return f.ID, nil
}

// HasState reports whether key exists.
func (g *FactorGraph) HasState(key StateKey) bool {
	_, ok := g.states[key]
	return ok
}

// State returns a copy of the state at key.
func (g *FactorGraph) State(key StateKey) (StateVariable, bool) {
	v, ok := g.states[key]
	if !ok {
		return StateVariable{}, false
	}
	return v.clone(), true
}

// Mean returns a copy of the mean at key.
func (g *FactorGraph) Mean(key StateKey) ([]float64, error) {
	v, ok := g.states[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownState, "%s", key)
	}
	return append([]float64(nil), v.Mean...), nil
}

// States returns copies of all states called name ordered by time.
func (g *FactorGraph) States(name string) []StateVariable {
	return lo.Map(g.byName[name], func(k StateKey, _ int) StateVariable {
		return g.states[k].clone()
	})
}

// Latest returns the newest state called name at or before t.
func (g *FactorGraph) Latest(name string, t float64) (StateVariable, bool) {
	keys := g.byName[name]
	i := sort.Search(len(keys), func(i int) bool { return keys[i].Timestamp > t })
	if i == 0 {
		return StateVariable{}, false
	}
	return g.states[keys[i-1]].clone(), true
}

// StateNames returns the names of all stored state series, sorted.
func (g *FactorGraph) StateNames() []string {
	names := lo.Keys(g.byName)
	sort.Strings(names)
	return names
}

// Factor returns the factor with the given id.
func (g *FactorGraph) Factor(id int) (*Factor, bool) {
	if id < 0 || id >= len(g.factors) {
		return nil, false
	}
	return g.factors[id], true
}

// FactorsOf returns the ids of all factors touching key.
func (g *FactorGraph) FactorsOf(key StateKey) []int {
	return append([]int(nil), g.factorsOf[key]...)
}

func (g *FactorGraph) NumStates() int     { return len(g.states) }
func (g *FactorGraph) NumFreeStates() int { return len(g.free) }
func (g *FactorGraph) NumFactors() int    { return len(g.factors) }

// SetAllConstantOutsideWindow freezes every free state older than
// now-window and returns how many were frozen. Frozen states stay frozen.
func (g *FactorGraph) SetAllConstantOutsideWindow(window, now float64) int {
	cutoff := now - window
	kept := g.free[:0]
	frozen := 0
	for _, k := range g.free {
		if k.Timestamp < cutoff {
			g.states[k].Frozen = true
			frozen++
			continue
		}
		kept = append(kept, k)
	}
	g.free = kept
	return frozen
}

// GraphStats summarises the graph content.
type GraphStats struct {
	States        int
	FreeStates    int
	FrozenStates  int
	Factors       int
	StatesByName  map[string]int
	FactorsByKind map[FactorKind]int
}

// Stats is read-only.
func (g *FactorGraph) Stats() GraphStats {
	s := GraphStats{
		States:        len(g.states),
		FreeStates:    len(g.free),
		FrozenStates:  len(g.states) - len(g.free),
		Factors:       len(g.factors),
		StatesByName:  make(map[string]int, len(g.byName)),
		FactorsByKind: make(map[FactorKind]int),
	}
	for name, keys := range g.byName {
		s.StatesByName[name] = len(keys)
	}
	for _, f := range g.factors {
		s.FactorsByKind[f.Kind]++
	}
	return s
}

// Report renders the graph content as a table.
func (g *FactorGraph) Report(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("factor graph")
	t.AppendHeader(table.Row{"item", "count", "free", "frozen"})
	for _, name := range g.StateNames() {
		free := 0
		for _, k := range g.byName[name] {
			if !g.states[k].Frozen {
				free++
			}
		}
		total := len(g.byName[name])
		t.AppendRow(table.Row{"state " + name, total, free, total - free})
	}
	stats := g.Stats()
	for _, kind := range FactorKinds {
		if n := stats.FactorsByKind[kind]; n > 0 {
			t.AppendRow(table.Row{"factor " + kind.String(), n, "", ""})
		}
	}
	t.AppendFooter(table.Row{"total", stats.States + stats.Factors, stats.FreeStates, stats.FrozenStates})
	t.Render()
}
