package mapview

import "github.com/dpup/tripcost/server/internal/lib/geo"

// OverlayKind distinguishes the two kinds of drawn overlays
type OverlayKind string

const (
	KindPolyline OverlayKind = "polyline"
	KindMarker   OverlayKind = "marker"
)

// Entry is one drawn overlay. Seq is its position in creation order across
// the registry's lifetime; Generation is the refresh that created it.
type Entry struct {
	Seq        int            `json:"seq"`
	Kind       OverlayKind    `json:"kind"`
	RouteIndex int            `json:"route_index"`
	Generation uint64         `json:"generation"`
	Style      *Style         `json:"style,omitempty"`
	Path       []geo.Point    `json:"path,omitempty"`
	Marker     *MarkerOptions `json:"marker,omitempty"`

	handle   Overlay
	disposed bool
}

// Dispose removes the overlay from the engine. It is safe to call twice.
func (e *Entry) Dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	if e.handle != nil {
		e.handle.Remove()
	}
}

// Registry owns every overlay currently drawn for a surface. It is not safe
// for concurrent use; the surface event loop is its only caller.
type Registry struct {
	entries    []*Entry
	nextSeq    int
	generation uint64
}

// NewRegistry creates an empty registry at generation 0
func NewRegistry() *Registry {
	return &Registry{}
}

// Clear disposes every entry, empties the registry and starts a new
// generation, which it returns. Adds tagged with an older generation are
// rejected from then on.
func (r *Registry) Clear() uint64 {
	for _, e := range r.entries {
		e.Dispose()
	}
	r.entries = nil
	r.generation++
	return r.generation
}

// Add registers a freshly drawn overlay. If gen is not the current
// generation the handle is removed immediately and Add returns false.
func (r *Registry) Add(gen uint64, entry Entry, handle Overlay) bool {
	if gen != r.generation {
		if handle != nil {
			handle.Remove()
		}
		return false
	}
	entry.Seq = r.nextSeq
	entry.Generation = gen
	entry.handle = handle
	r.nextSeq++
	r.entries = append(r.entries, &entry)
	return true
}

// Generation returns the current generation
func (r *Registry) Generation() uint64 {
	return r.generation
}

// Len returns the number of live overlays
func (r *Registry) Len() int {
	return len(r.entries)
}

// Count returns the number of live overlays of one kind
func (r *Registry) Count(kind OverlayKind) int {
	n := 0
	for _, e := range r.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Entries returns a copy of the live entries in creation order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
		out[i].handle = nil
	}
	return out
}
