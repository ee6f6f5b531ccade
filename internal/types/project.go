package types

// WatchSpec is the persisted form of a watch table row.
type WatchSpec struct {
	Name string  `json:"name" yaml:"name" toml:"name"`
	Type TypeTag `json:"type" yaml:"type" toml:"type"`
}

type Project struct {
	Name    string            `json:"name" yaml:"name" toml:"name"`
	Symbols []Symbol          `json:"symbols" yaml:"symbols" toml:"symbols"`
	Offsets MemoryAreaOffsets `json:"offsets" yaml:"offsets" toml:"offsets"`
	Watch   []WatchSpec       `json:"watch" yaml:"watch" toml:"watch"`
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := &Project{
		Name:    p.Name,
		Symbols: make([]Symbol, len(p.Symbols)),
		Offsets: make(MemoryAreaOffsets, len(p.Offsets)),
		Watch:   make([]WatchSpec, len(p.Watch)),
	}
	for i, s := range p.Symbols {
		if s.Bit != nil {
			b := *s.Bit
			s.Bit = &b
		}
		out.Symbols[i] = s
	}
	for k, v := range p.Offsets {
		out.Offsets[k] = v
	}
	copy(out.Watch, p.Watch)
	return out
}
