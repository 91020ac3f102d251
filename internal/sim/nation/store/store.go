package store

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"nationcraft.ai/internal/sim/nation/model"
)

var (
	ErrNameTooShort  = errors.New("nation name too short")
	ErrNameTooLong   = errors.New("nation name too long")
	ErrNameTaken     = errors.New("nation name taken")
	ErrAlreadyMember = errors.New("identity already belongs to a nation")
	ErrNotMember     = errors.New("identity is not a member")
	ErrNoPermission  = errors.New("no permission")
	ErrNotFound      = errors.New("nation not found")
	ErrSelfRelation  = errors.New("nation cannot hold a relation with itself")
)

// Store owns every nation plus the derived name and member indices.
//
// It is not safe for concurrent use. The world loop is its only writer and every
// method leaves the indices consistent before it returns.
type Store struct {
	nations  map[uuid.UUID]*model.Nation
	order    []uuid.UUID
	byName   map[string]uuid.UUID
	byMember map[uuid.UUID]uuid.UUID

	dirty   bool
	version uint64

	newID func() uuid.UUID
}

func New() *Store {
	return &Store{
		nations:  map[uuid.UUID]*model.Nation{},
		byName:   map[string]uuid.UUID{},
		byMember: map[uuid.UUID]uuid.UUID{},
		newID:    uuid.New,
	}
}

// SetIDSource replaces the nation id generator (tests use a deterministic one).
func (s *Store) SetIDSource(f func() uuid.UUID) {
	if f != nil {
		s.newID = f
	}
}

func (s *Store) touch() {
	s.dirty = true
	s.version++
}

// Dirty reports whether anything changed since the last MarkClean.
func (s *Store) Dirty() bool { return s.dirty }

func (s *Store) MarkClean() { s.dirty = false }

// MarkDirty forces the next flush, e.g. after a handed-off snapshot failed to save.
func (s *Store) MarkDirty() { s.dirty = true }

// Version increases on every applied mutation.
func (s *Store) Version() uint64 { return s.version }

// ResumeVersion continues numbering after a persisted sequence. It never moves the version back.
func (s *Store) ResumeVersion(seq uint64) {
	if seq > s.version {
		s.version = seq
	}
}

// ValidateName checks length bounds and uniqueness without mutating anything.
func (s *Store) ValidateName(name string) error {
	name = model.NormalizeName(name)
	switch n := model.NameLen(name); {
	case n < model.NameMinLen:
		return ErrNameTooShort
	case n > model.NameMaxLen:
		return ErrNameTooLong
	}
	if _, taken := s.byName[model.FoldName(name)]; taken {
		return ErrNameTaken
	}
	return nil
}

// Create founds a nation with founder as its sole leader.
func (s *Store) Create(name string, color model.Color, founder uuid.UUID) (*model.Nation, error) {
	if _, ok := s.byMember[founder]; ok {
		return nil, ErrAlreadyMember
	}
	if err := s.ValidateName(name); err != nil {
		return nil, err
	}
	if !color.Valid() {
		color = model.ColorWhite
	}
	id := s.newID()
	for id == uuid.Nil || s.nations[id] != nil {
		id = s.newID()
	}
	n := model.New(id, model.NormalizeName(name), color)
	n.AddMember(founder, model.RankLeader)
	s.insert(n)
	s.touch()
	return n.Clone(), nil
}

func (s *Store) insert(n *model.Nation) {
	s.nations[n.ID] = n
	s.order = append(s.order, n.ID)
	s.byName[model.FoldName(n.Name)] = n.ID
	for _, m := range n.Members() {
		s.byMember[m.ID] = n.ID
	}
}

// Disband destroys nationID on behalf of its leader.
func (s *Store) Disband(nationID, requester uuid.UUID) error {
	n := s.nations[nationID]
	if n == nil {
		return ErrNotFound
	}
	rank, ok := n.RankOf(requester)
	if !ok {
		return ErrNotMember
	}
	if rank != model.RankLeader {
		return ErrNoPermission
	}
	s.destroy(n)
	s.touch()
	return nil
}

// destroy drops the nation, its members' index entries and every relation pointing at it.
func (s *Store) destroy(n *model.Nation) {
	delete(s.nations, n.ID)
	s.order = slices.DeleteFunc(s.order, func(v uuid.UUID) bool { return v == n.ID })
	delete(s.byName, model.FoldName(n.Name))
	for _, m := range n.Members() {
		if s.byMember[m.ID] == n.ID {
			delete(s.byMember, m.ID)
		}
	}
	for _, other := range s.nations {
		other.SetDiplomacy(n.ID, model.Neutral)
	}
}

// AddMember moves identity into nationID as a recruit, leaving any current nation first.
func (s *Store) AddMember(identity, nationID uuid.UUID) error {
	n := s.nations[nationID]
	if n == nil {
		return ErrNotFound
	}
	if cur, ok := s.byMember[identity]; ok {
		if cur == nationID {
			return nil
		}
		s.removeMember(identity)
	}
	n.AddMember(identity, model.RankRecruit)
	s.byMember[identity] = nationID
	s.touch()
	return nil
}

// Removal describes what RemoveMember did.
type Removal struct {
	NationID  uuid.UUID
	Destroyed bool
	// Promoted is set when succession repair made someone leader.
	Promoted uuid.UUID
}

// RemoveMember takes identity out of its nation. Removing a non-member is a no-op (ok=false).
// An emptied nation is destroyed; a nation left without a leader is repaired before return.
func (s *Store) RemoveMember(identity uuid.UUID) (Removal, bool) {
	r, ok := s.removeMember(identity)
	if ok {
		s.touch()
	}
	return r, ok
}

func (s *Store) removeMember(identity uuid.UUID) (Removal, bool) {
	nationID, ok := s.byMember[identity]
	if !ok {
		return Removal{}, false
	}
	delete(s.byMember, identity)
	r := Removal{NationID: nationID}
	n := s.nations[nationID]
	if n == nil {
		return r, true
	}
	n.RemoveMember(identity)
	if n.MemberCount() == 0 {
		s.destroy(n)
		r.Destroyed = true
		return r, true
	}
	if promoted, repaired := n.RepairLeader(); repaired {
		r.Promoted = promoted
	}
	return r, true
}

// SetRank overwrites a member's rank. Authorization is the caller's concern.
func (s *Store) SetRank(nationID, identity uuid.UUID, rank model.Rank) error {
	n := s.nations[nationID]
	if n == nil {
		return ErrNotFound
	}
	if !rank.Valid() {
		return fmt.Errorf("set rank %d: %w", rank, model.ErrInvalidEnum)
	}
	if !n.SetRank(identity, rank) {
		return ErrNotMember
	}
	s.touch()
	return nil
}

// TransferLeadership makes to the leader and demotes from to officer in one step.
func (s *Store) TransferLeadership(nationID, from, to uuid.UUID) error {
	n := s.nations[nationID]
	if n == nil {
		return ErrNotFound
	}
	if !n.IsMember(from) || !n.IsMember(to) {
		return ErrNotMember
	}
	n.SetRank(from, model.RankOfficer)
	n.SetRank(to, model.RankLeader)
	s.touch()
	return nil
}

// SetDiplomacy records nationID's stance toward otherID. Alliances are written on both
// sides; war and neutral only on nationID.
func (s *Store) SetDiplomacy(nationID, otherID uuid.UUID, state model.Diplomacy) error {
	if nationID == otherID {
		return ErrSelfRelation
	}
	if !state.Valid() {
		return fmt.Errorf("set diplomacy %d: %w", state, model.ErrInvalidEnum)
	}
	n, other := s.nations[nationID], s.nations[otherID]
	if n == nil || other == nil {
		return ErrNotFound
	}
	n.SetDiplomacy(otherID, state)
	if state == model.Allied {
		other.SetDiplomacy(nationID, model.Allied)
	}
	s.touch()
	return nil
}

func (s *Store) AddInvite(nationID, identity uuid.UUID) error {
	n := s.nations[nationID]
	if n == nil {
		return ErrNotFound
	}
	n.AddInvite(identity)
	s.touch()
	return nil
}

func (s *Store) RemoveInvite(nationID, identity uuid.UUID) error {
	n := s.nations[nationID]
	if n == nil {
		return ErrNotFound
	}
	if n.HasInvite(identity) {
		n.RemoveInvite(identity)
		s.touch()
	}
	return nil
}
