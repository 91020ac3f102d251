package store

import (
	"fmt"

	"github.com/google/uuid"

	"nationcraft.ai/internal/sim/nation/model"
)

// CheckInvariants verifies the structural rules every mutation must preserve. It is
// used by tests and by the debug endpoint.
func (s *Store) CheckInvariants() error {
	if len(s.order) != len(s.nations) {
		return fmt.Errorf("order has %d ids, map has %d nations", len(s.order), len(s.nations))
	}
	names := map[string]uuid.UUID{}
	members := map[uuid.UUID]uuid.UUID{}
	for _, n := range s.Nations() {
		key := model.FoldName(n.Name)
		if prev, dup := names[key]; dup {
			return fmt.Errorf("nations %s and %s share name %q", prev, n.ID, n.Name)
		}
		names[key] = n.ID
		if s.byName[key] != n.ID {
			return fmt.Errorf("name index for %q does not point at %s", n.Name, n.ID)
		}
		if n.MemberCount() == 0 {
			return fmt.Errorf("nation %s has no members", n.ID)
		}
		leaders := 0
		for _, m := range n.Members() {
			if prev, dup := members[m.ID]; dup {
				return fmt.Errorf("identity %s in nations %s and %s", m.ID, prev, n.ID)
			}
			members[m.ID] = n.ID
			if m.Rank == model.RankLeader {
				leaders++
			}
		}
		if leaders != 1 {
			return fmt.Errorf("nation %s has %d leaders", n.ID, leaders)
		}
		for oid := range n.DiplomacyEntries() {
			if oid == n.ID {
				return fmt.Errorf("nation %s holds a relation with itself", n.ID)
			}
			if s.nations[oid] == nil {
				return fmt.Errorf("nation %s holds a relation with missing nation %s", n.ID, oid)
			}
		}
		for _, inv := range n.Invites() {
			if n.IsMember(inv) {
				return fmt.Errorf("nation %s invites its own member %s", n.ID, inv)
			}
		}
	}
	if len(names) != len(s.byName) {
		return fmt.Errorf("name index has %d entries, want %d", len(s.byName), len(names))
	}
	if len(members) != len(s.byMember) {
		return fmt.Errorf("member index has %d entries, want %d", len(s.byMember), len(members))
	}
	for id, nid := range members {
		if s.byMember[id] != nid {
			return fmt.Errorf("member index maps %s to %s, want %s", id, s.byMember[id], nid)
		}
	}
	return nil
}
