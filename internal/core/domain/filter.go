package domain

// RecordFilter selects part records. Zero fields match anything.
type RecordFilter struct {
	NXID      string
	Container *Container
	Building  int

	// Serial matches one serial. FungibleOnly restricts to records without a
	// serial and is ignored when Serial is set.
	Serial       string
	FungibleOnly bool
}

// InContainer is shorthand for a filter on a single container.
func InContainer(c Container) RecordFilter {
	return RecordFilter{Container: &c}
}

// Narrow returns a copy of f restricted to the nxid and serial of item.
func (f RecordFilter) Narrow(item CartItem) RecordFilter {
	out := f
	out.NXID = item.NXID
	if item.Serialized() {
		out.Serial = item.Serial
		out.FungibleOnly = false
	} else {
		out.Serial = ""
		out.FungibleOnly = true
	}
	return out
}

// Match applies f to r in memory.
func (f RecordFilter) Match(r PartRecord) bool {
	if f.NXID != "" && r.NXID != f.NXID {
		return false
	}
	if f.Container != nil && r.Container != *f.Container {
		return false
	}
	if f.Building != 0 && r.Building != f.Building {
		return false
	}
	if f.Serial != "" {
		return r.Serial == f.Serial
	}
	if f.FungibleOnly && r.Serial != "" {
		return false
	}
	return true
}
