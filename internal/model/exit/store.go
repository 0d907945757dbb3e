package exit

// Store exposes quick-exit destinations to HTTP handlers.
type Store interface {
	List() []Destination
	FindByVariant(variant string) (Destination, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Destination
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied destinations.
func NewMemoryStore(items []Destination) *MemoryStore {
	return &MemoryStore{items: append([]Destination(nil), items...)}
}

// List returns the configured destinations.
func (s *MemoryStore) List() []Destination {
	return append([]Destination(nil), s.items...)
}

// FindByVariant looks up a destination by variant name.
func (s *MemoryStore) FindByVariant(variant string) (Destination, bool) {
	for _, item := range s.items {
		if item.Variant == variant {
			return item, true
		}
	}
	return Destination{}, false
}

// Resolve returns the destination for variant, or the blank destination when
// the variant is unknown. A quick exit must always land somewhere.
func Resolve(s Store, variant string) Destination {
	if d, ok := s.FindByVariant(variant); ok {
		return d
	}
	if d, ok := s.FindByVariant(VariantBlank); ok {
		return d
	}
	return Destination{Variant: VariantBlank, Label: "Close", URL: BlankURL}
}
