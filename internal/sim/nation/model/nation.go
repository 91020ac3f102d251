package model

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
)

const (
	NameMinLen        = 3
	NameMaxLen        = 24
	DescriptionMaxLen = 256
)

// Member is one membership entry, in insertion order.
type Member struct {
	ID   uuid.UUID
	Rank Rank
}

// Nation is a player-owned group. The store owns every live *Nation; anything handed
// outside the authoritative goroutine is a Clone.
type Nation struct {
	ID          uuid.UUID
	Name        string
	Color       Color
	Description string

	members   map[uuid.UUID]Rank
	order     []uuid.UUID
	diplomacy map[uuid.UUID]Diplomacy
	invites   map[uuid.UUID]struct{}
}

func New(id uuid.UUID, name string, color Color) *Nation {
	return &Nation{
		ID:        id,
		Name:      name,
		Color:     color,
		members:   map[uuid.UUID]Rank{},
		diplomacy: map[uuid.UUID]Diplomacy{},
		invites:   map[uuid.UUID]struct{}{},
	}
}

// NormalizeName trims surrounding whitespace.
func NormalizeName(name string) string { return strings.TrimSpace(name) }

// NameLen counts characters, not bytes.
func NameLen(name string) int { return utf8.RuneCountInString(name) }

// FoldName is the key used for case-insensitive name uniqueness.
func FoldName(name string) string { return cases.Fold().String(NormalizeName(name)) }

func (n *Nation) MemberCount() int { return len(n.order) }

func (n *Nation) IsMember(id uuid.UUID) bool {
	_, ok := n.members[id]
	return ok
}

// RankOf returns the member's rank and whether id is a member at all.
func (n *Nation) RankOf(id uuid.UUID) (Rank, bool) {
	r, ok := n.members[id]
	return r, ok
}

// Members returns a copy of the membership list in insertion order.
func (n *Nation) Members() []Member {
	out := make([]Member, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, Member{ID: id, Rank: n.members[id]})
	}
	return out
}

func (n *Nation) Leader() (uuid.UUID, bool) {
	for _, id := range n.order {
		if n.members[id] == RankLeader {
			return id, true
		}
	}
	return uuid.Nil, false
}

// AddMember inserts id with rank and clears any pending invite for it.
// Re-adding an existing member only changes the rank.
func (n *Nation) AddMember(id uuid.UUID, rank Rank) {
	if _, ok := n.members[id]; !ok {
		n.order = append(n.order, id)
	}
	n.members[id] = rank
	delete(n.invites, id)
}

func (n *Nation) RemoveMember(id uuid.UUID) bool {
	if _, ok := n.members[id]; !ok {
		return false
	}
	delete(n.members, id)
	n.order = slices.DeleteFunc(n.order, func(v uuid.UUID) bool { return v == id })
	return true
}

func (n *Nation) SetRank(id uuid.UUID, rank Rank) bool {
	if _, ok := n.members[id]; !ok {
		return false
	}
	n.members[id] = rank
	return true
}

// RepairLeader promotes the first officer, or failing that the first member, when no
// leader remains. It returns the promoted identity.
func (n *Nation) RepairLeader() (uuid.UUID, bool) {
	if len(n.order) == 0 {
		return uuid.Nil, false
	}
	if _, ok := n.Leader(); ok {
		return uuid.Nil, false
	}
	next := n.order[0]
	for _, id := range n.order {
		if n.members[id] == RankOfficer {
			next = id
			break
		}
	}
	n.members[next] = RankLeader
	return next, true
}

func (n *Nation) DiplomacyWith(other uuid.UUID) Diplomacy {
	if d, ok := n.diplomacy[other]; ok {
		return d
	}
	return Neutral
}

// SetDiplomacy stores the stance toward other; Neutral deletes the entry.
func (n *Nation) SetDiplomacy(other uuid.UUID, d Diplomacy) {
	if d == Neutral {
		delete(n.diplomacy, other)
		return
	}
	n.diplomacy[other] = d
}

// DiplomacyEntries returns a copy of the stored (non-neutral) entries.
func (n *Nation) DiplomacyEntries() map[uuid.UUID]Diplomacy {
	return lo.Assign(n.diplomacy)
}

func (n *Nation) AddInvite(id uuid.UUID) { n.invites[id] = struct{}{} }

func (n *Nation) RemoveInvite(id uuid.UUID) { delete(n.invites, id) }

func (n *Nation) HasInvite(id uuid.UUID) bool {
	_, ok := n.invites[id]
	return ok
}

// Invites returns pending invite targets sorted by id.
func (n *Nation) Invites() []uuid.UUID {
	return SortIDs(lo.Keys(n.invites))
}

// Clone returns an independently allocated copy.
func (n *Nation) Clone() *Nation {
	c := New(n.ID, n.Name, n.Color)
	c.Description = n.Description
	c.order = slices.Clone(n.order)
	c.members = lo.Assign(n.members)
	c.diplomacy = lo.Assign(n.diplomacy)
	c.invites = lo.Assign(n.invites)
	return c
}

// SortIDs sorts in place by canonical string form and returns ids.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return ids
}
