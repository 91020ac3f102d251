package store

import (
	"github.com/google/uuid"
	"github.com/samber/lo"

	"nationcraft.ai/internal/sim/nation/model"
)

// Get returns the live nation. Callers must not mutate it.
func (s *Store) Get(id uuid.UUID) (*model.Nation, bool) {
	n, ok := s.nations[id]
	return n, ok
}

func (s *Store) ByName(name string) (*model.Nation, bool) {
	id, ok := s.byName[model.FoldName(name)]
	if !ok {
		return nil, false
	}
	return s.nations[id], true
}

// ByMember resolves identity through the reverse index.
func (s *Store) ByMember(identity uuid.UUID) (*model.Nation, bool) {
	id, ok := s.byMember[identity]
	if !ok {
		return nil, false
	}
	n := s.nations[id]
	return n, n != nil
}

// Nations lists live nations in creation order.
func (s *Store) Nations() []*model.Nation {
	return lo.FilterMap(s.order, func(id uuid.UUID, _ int) (*model.Nation, bool) {
		n := s.nations[id]
		return n, n != nil
	})
}

func (s *Store) Len() int { return len(s.nations) }

// MemberIndex returns a copy of the identity -> nation index.
func (s *Store) MemberIndex() map[uuid.UUID]uuid.UUID { return lo.Assign(s.byMember) }

// Diplomacy reads from's stance toward to, Neutral when absent or unknown.
func (s *Store) Diplomacy(from, to uuid.UUID) model.Diplomacy {
	n := s.nations[from]
	if n == nil {
		return model.Neutral
	}
	return n.DiplomacyWith(to)
}

// AreAllied is true for two identities of the same nation, or when the first
// identity's nation holds an alliance with the second's.
func (s *Store) AreAllied(p1, p2 uuid.UUID) bool {
	n1, ok1 := s.byMember[p1]
	n2, ok2 := s.byMember[p2]
	if !ok1 || !ok2 {
		return false
	}
	if n1 == n2 {
		return true
	}
	return s.Diplomacy(n1, n2) == model.Allied
}

// AreAtWar consults only the first identity's nation; same-nation pairs are never at war.
func (s *Store) AreAtWar(p1, p2 uuid.UUID) bool {
	n1, ok1 := s.byMember[p1]
	n2, ok2 := s.byMember[p2]
	if !ok1 || !ok2 || n1 == n2 {
		return false
	}
	return s.Diplomacy(n1, n2) == model.AtWar
}

// MemberCount is the total number of identities in any nation.
func (s *Store) MemberCount() int { return len(s.byMember) }
