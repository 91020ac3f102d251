// Package replica is the read-only cache a connection holds of the authoritative
// nation state. It is only ever replaced wholesale.
package replica

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
)

// Replica is safe for concurrent use. Replace swaps one pointer, so readers see either
// the previous snapshot or the next one, never a mix.
type Replica struct {
	cur atomic.Pointer[view]
}

type view struct {
	version uint64
	nations []protocol.NationState
	byID    map[uuid.UUID]int
	byName  map[string]int
	index   map[uuid.UUID]uuid.UUID
}

var empty = &view{
	byID:   map[uuid.UUID]int{},
	byName: map[string]int{},
	index:  map[uuid.UUID]uuid.UUID{},
}

func New() *Replica {
	r := &Replica{}
	r.cur.Store(empty)
	return r
}

// Replace discards the cached state and installs s. The replica takes ownership of s.
func (r *Replica) Replace(s protocol.Snapshot) {
	v := &view{
		version: s.Version,
		nations: s.Nations,
		byID:    make(map[uuid.UUID]int, len(s.Nations)),
		byName:  make(map[string]int, len(s.Nations)),
		index:   s.Index,
	}
	if v.index == nil {
		v.index = map[uuid.UUID]uuid.UUID{}
	}
	for i, n := range s.Nations {
		v.byID[n.ID] = i
		v.byName[model.FoldName(n.Name)] = i
	}
	r.cur.Store(v)
}

func (r *Replica) load() *view {
	if v := r.cur.Load(); v != nil {
		return v
	}
	return empty
}

// Version of the last installed snapshot; 0 before the first one.
func (r *Replica) Version() uint64 { return r.load().version }

// ListNations returns every nation in server order. The slices inside each
// NationState are shared and must not be modified.
func (r *Replica) ListNations() []protocol.NationState {
	return append([]protocol.NationState(nil), r.load().nations...)
}

func (r *Replica) Len() int { return len(r.load().nations) }

func (r *Replica) Get(id uuid.UUID) (protocol.NationState, bool) {
	v := r.load()
	i, ok := v.byID[id]
	if !ok {
		return protocol.NationState{}, false
	}
	return v.nations[i], true
}

// ByName matches case-insensitively.
func (r *Replica) ByName(name string) (protocol.NationState, bool) {
	v := r.load()
	i, ok := v.byName[model.FoldName(name)]
	if !ok {
		return protocol.NationState{}, false
	}
	return v.nations[i], true
}

// ByMember resolves an identity's nation through the snapshot's index.
func (r *Replica) ByMember(identity uuid.UUID) (protocol.NationState, bool) {
	v := r.load()
	id, ok := v.index[identity]
	if !ok {
		return protocol.NationState{}, false
	}
	i, ok := v.byID[id]
	if !ok {
		return protocol.NationState{}, false
	}
	return v.nations[i], true
}

// RankOf reports identity's rank in its nation.
func (r *Replica) RankOf(identity uuid.UUID) (model.Rank, bool) {
	n, ok := r.ByMember(identity)
	if !ok {
		return 0, false
	}
	m, ok := lo.Find(n.Members, func(m model.Member) bool { return m.ID == identity })
	return m.Rank, ok
}

// Diplomacy reads from's stance toward to. Anything not recorded is Neutral.
func (r *Replica) Diplomacy(from, to uuid.UUID) model.Diplomacy {
	n, ok := r.Get(from)
	if !ok {
		return model.Neutral
	}
	rel, ok := lo.Find(n.Diplomacy, func(d protocol.Relation) bool { return d.Nation == to })
	if !ok {
		return model.Neutral
	}
	return rel.State
}

// AreAllied mirrors the server rule: same nation, or the first identity's nation is allied.
func (r *Replica) AreAllied(p1, p2 uuid.UUID) bool {
	v := r.load()
	n1, ok1 := v.index[p1]
	n2, ok2 := v.index[p2]
	if !ok1 || !ok2 {
		return false
	}
	return n1 == n2 || r.Diplomacy(n1, n2) == model.Allied
}

func (r *Replica) AreAtWar(p1, p2 uuid.UUID) bool {
	v := r.load()
	n1, ok1 := v.index[p1]
	n2, ok2 := v.index[p2]
	if !ok1 || !ok2 || n1 == n2 {
		return false
	}
	return r.Diplomacy(n1, n2) == model.AtWar
}

// HasInvite reports whether nationID has a pending invite for identity.
func (r *Replica) HasInvite(nationID, identity uuid.UUID) bool {
	n, ok := r.Get(nationID)
	return ok && lo.Contains(n.Invites, identity)
}
