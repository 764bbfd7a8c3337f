package board

import "sort"

// Store is the object map of one board. Every change goes through Apply.
//
// A Store is not safe for concurrent use; its owner serializes access.
type Store struct {
	objects map[string]Object
}

func NewStore() *Store {
	return &Store{objects: make(map[string]Object)}
}

// Apply folds m into the store.
// Create overwrites, Update and Delete on a missing id do nothing, and a
// Batch applies its entries in order so each one sees the previous ones.
func (s *Store) Apply(m Mutation) {
	switch m := m.(type) {
	case Create:
		s.objects[m.Object.ID] = m.Object.clone()
	case Update:
		obj, ok := s.objects[m.ID]
		if !ok {
			return
		}
		s.objects[m.ID] = m.Props.merge(obj)
	case Delete:
		delete(s.objects, m.ID)
	case Batch:
		for _, sub := range m.Mutations {
			s.Apply(sub)
		}
	}
}

// Get returns a copy of the object with id.
func (s *Store) Get(id string) (Object, bool) {
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return obj.clone(), true
}

func (s *Store) Len() int {
	return len(s.objects)
}

// Snapshot returns a deep copy of every object keyed by id.
func (s *Store) Snapshot() map[string]Object {
	out := make(map[string]Object, len(s.objects))
	for id, obj := range s.objects {
		out[id] = obj.clone()
	}
	return out
}

// Replace discards the current contents and loads objects instead.
// Clients use it when the relay sends a full snapshot.
func (s *Store) Replace(objects map[string]Object) {
	s.objects = make(map[string]Object, len(objects))
	for id, obj := range objects {
		s.objects[id] = obj.clone()
	}
}

// Ordered returns the objects in paint order (zIndex, then id).
func (s *Store) Ordered() []Object {
	out := make([]Object, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Seed turns a snapshot into a batch of creates so restoring a board goes
// through Apply like any other change.
func Seed(objects map[string]Object) Batch {
	b := Batch{Mutations: make([]Mutation, 0, len(objects))}
	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.Mutations = append(b.Mutations, Create{Object: objects[id]})
	}
	return b
}
