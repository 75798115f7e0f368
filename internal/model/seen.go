package model

// SeenSet remembers the most recent ids up to a fixed capacity.
type SeenSet struct {
	capacity int
	order    []string
	items    map[string]struct{}
}

func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &SeenSet{
		capacity: capacity,
		items:    make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was new. Empty ids are always new.
func (s *SeenSet) Add(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := s.items[id]; ok {
		return false
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}
	s.order = append(s.order, id)
	s.items[id] = struct{}{}
	return true
}

func (s *SeenSet) Len() int {
	return len(s.items)
}
