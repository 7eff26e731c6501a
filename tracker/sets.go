package tracker

// orderedSet is a deduplicated sequence: membership by identity, iteration in
// insertion order. Backs ExposureSet, the stay candidates and VisibleSet.
type orderedSet[E comparable] struct {
	items   []E
	members map[E]struct{}
}

func newOrderedSet[E comparable]() *orderedSet[E] {
	return &orderedSet[E]{members: make(map[E]struct{})}
}

// add inserts e unless it is already present. Reports whether it was inserted.
func (s *orderedSet[E]) add(e E) bool {
	if _, ok := s.members[e]; ok {
		return false
	}
	s.members[e] = struct{}{}
	s.items = append(s.items, e)
	return true
}

// remove deletes e. Absent elements are ignored.
func (s *orderedSet[E]) remove(e E) bool {
	if _, ok := s.members[e]; !ok {
		return false
	}
	delete(s.members, e)
	for i, it := range s.items {
		if it == e {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

func (s *orderedSet[E]) has(e E) bool {
	_, ok := s.members[e]
	return ok
}

func (s *orderedSet[E]) len() int { return len(s.items) }

// snapshot copies the contents. Never nil, so empty flushes serialise as [].
func (s *orderedSet[E]) snapshot() []E {
	out := make([]E, len(s.items))
	copy(out, s.items)
	return out
}

func (s *orderedSet[E]) clear() {
	s.items = s.items[:0]
	clear(s.members)
}
