package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"nationcraft.ai/internal/sim/nation/model"
)

// Snapshot is the complete nation state pushed to every identity.
type Snapshot struct {
	// Version is the store version the snapshot was built from.
	Version uint64
	Nations []NationState
	// Index maps identity to nation id.
	Index map[uuid.UUID]uuid.UUID
}

type NationState struct {
	ID          uuid.UUID
	Name        string
	Color       model.Color
	Description string
	Members     []model.Member
	Diplomacy   []Relation
	Invites     []uuid.UUID
}

type Relation struct {
	Nation uuid.UUID
	State  model.Diplomacy
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	var w writer
	w.varint(s.Version)
	w.varint(uint64(len(s.Nations)))
	for _, n := range s.Nations {
		if model.NameLen(n.Name) > model.NameMaxLen {
			return nil, fmt.Errorf("nation %s: name exceeds %d runes", n.ID, model.NameMaxLen)
		}
		if model.NameLen(n.Description) > model.DescriptionMaxLen {
			return nil, fmt.Errorf("nation %s: description exceeds %d runes", n.ID, model.DescriptionMaxLen)
		}
		w.id(n.ID)
		w.str(n.Name)
		w.varint(uint64(n.Color))
		w.str(n.Description)
		w.varint(uint64(len(n.Members)))
		for _, m := range n.Members {
			w.id(m.ID)
			w.varint(uint64(m.Rank))
		}
		w.varint(uint64(len(n.Diplomacy)))
		for _, d := range n.Diplomacy {
			w.id(d.Nation)
			w.varint(uint64(d.State))
		}
		w.varint(uint64(len(n.Invites)))
		for _, id := range n.Invites {
			w.id(id)
		}
	}
	keys := make([]uuid.UUID, 0, len(s.Index))
	for k := range s.Index {
		keys = append(keys, k)
	}
	model.SortIDs(keys)
	w.varint(uint64(len(keys)))
	for _, k := range keys {
		w.id(k)
		w.id(s.Index[k])
	}
	return w.b, nil
}

func decodeSnapshot(r *reader) (Snapshot, error) {
	var s Snapshot
	s.Version = r.varint()
	// Smallest nation: id + empty name + color + empty description + three zero counts.
	count := r.count(16 + 6)
	if count > 0 {
		s.Nations = make([]NationState, 0, count)
	}
	for i := 0; i < count && r.err == nil; i++ {
		var n NationState
		n.ID = r.id()
		n.Name = r.str(model.NameMaxLen)
		n.Color = model.Color(r.byte8())
		if r.err == nil && !n.Color.Valid() {
			r.fail("color %d", n.Color)
		}
		n.Description = r.str(model.DescriptionMaxLen)

		members := r.count(17)
		for j := 0; j < members && r.err == nil; j++ {
			m := model.Member{ID: r.id(), Rank: model.Rank(r.byte8())}
			if r.err == nil && !m.Rank.Valid() {
				r.fail("rank %d", m.Rank)
			}
			n.Members = append(n.Members, m)
		}
		relations := r.count(17)
		for j := 0; j < relations && r.err == nil; j++ {
			d := Relation{Nation: r.id(), State: model.Diplomacy(r.byte8())}
			if r.err == nil && !d.State.Valid() {
				r.fail("diplomacy %d", d.State)
			}
			n.Diplomacy = append(n.Diplomacy, d)
		}
		invites := r.count(16)
		for j := 0; j < invites && r.err == nil; j++ {
			n.Invites = append(n.Invites, r.id())
		}
		s.Nations = append(s.Nations, n)
	}
	entries := r.count(32)
	s.Index = make(map[uuid.UUID]uuid.UUID, entries)
	for i := 0; i < entries && r.err == nil; i++ {
		k := r.id()
		s.Index[k] = r.id()
	}
	if r.err != nil {
		return Snapshot{}, r.err
	}
	return s, nil
}
