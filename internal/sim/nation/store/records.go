package store

import (
	"github.com/google/uuid"
	"github.com/samber/lo"

	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/sim/nation/model"
)

// Export converts the live state into persisted records, in creation order.
func (s *Store) Export() []snapshot.NationV1 {
	return lo.Map(s.Nations(), func(n *model.Nation, _ int) snapshot.NationV1 {
		return exportNation(n)
	})
}

func exportNation(n *model.Nation) snapshot.NationV1 {
	rec := snapshot.NationV1{
		ID:          n.ID.String(),
		Name:        n.Name,
		Color:       n.Color.String(),
		Description: n.Description,
		Members: lo.Map(n.Members(), func(m model.Member, _ int) snapshot.MemberV1 {
			return snapshot.MemberV1{ID: m.ID.String(), Rank: m.Rank.String()}
		}),
		Invites: lo.Map(n.Invites(), func(id uuid.UUID, _ int) string { return id.String() }),
	}
	if d := n.DiplomacyEntries(); len(d) > 0 {
		rec.Diplomacy = make(map[string]string, len(d))
		for id, st := range d {
			rec.Diplomacy[id.String()] = st.String()
		}
	}
	return rec
}

// LoadStats counts what Load had to skip or repair.
type LoadStats struct {
	Nations          int
	SkippedNations   int
	SkippedEntries   int
	RepairedLeaders  int
	DroppedRelations int
}

// Load rebuilds a store from persisted records. Entries with unparseable ids or enums are
// skipped; the member index is derived from the membership lists.
func Load(recs []snapshot.NationV1) (*Store, LoadStats) {
	s := New()
	var st LoadStats
	for _, rec := range recs {
		id, err := uuid.Parse(rec.ID)
		if err != nil || id == uuid.Nil || s.nations[id] != nil {
			st.SkippedNations++
			continue
		}
		name := truncateRunes(model.NormalizeName(rec.Name), model.NameMaxLen)
		if name == "" {
			st.SkippedNations++
			continue
		}
		if _, taken := s.byName[model.FoldName(name)]; taken {
			st.SkippedNations++
			continue
		}
		var color model.Color
		_ = color.UnmarshalText([]byte(rec.Color))
		n := model.New(id, name, color)
		n.Description = truncateRunes(rec.Description, model.DescriptionMaxLen)

		for _, m := range rec.Members {
			pid, err := uuid.Parse(m.ID)
			rank, ok := model.ParseRank(m.Rank)
			if err != nil || !ok {
				st.SkippedEntries++
				continue
			}
			// An identity belongs to at most one nation; the earlier record wins.
			if _, taken := s.byMember[pid]; taken || n.IsMember(pid) {
				st.SkippedEntries++
				continue
			}
			n.AddMember(pid, rank)
		}
		if n.MemberCount() == 0 {
			st.SkippedNations++
			continue
		}
		demoteExtraLeaders(n)
		if _, repaired := n.RepairLeader(); repaired {
			st.RepairedLeaders++
		}
		for k, v := range rec.Diplomacy {
			oid, err := uuid.Parse(k)
			d, ok := model.ParseDiplomacy(v)
			if err != nil || !ok || oid == id {
				st.SkippedEntries++
				continue
			}
			n.SetDiplomacy(oid, d)
		}
		for _, v := range rec.Invites {
			pid, err := uuid.Parse(v)
			if err != nil || n.IsMember(pid) {
				st.SkippedEntries++
				continue
			}
			n.AddInvite(pid)
		}
		s.insert(n)
		st.Nations++
	}
	st.DroppedRelations = s.pruneRelations()
	return s, st
}

// demoteExtraLeaders keeps the first leader in insertion order.
func demoteExtraLeaders(n *model.Nation) {
	seen := false
	for _, m := range n.Members() {
		if m.Rank != model.RankLeader {
			continue
		}
		if seen {
			n.SetRank(m.ID, model.RankOfficer)
		}
		seen = true
	}
}

// pruneRelations drops relations toward nations that do not exist.
func (s *Store) pruneRelations() int {
	dropped := 0
	for _, n := range s.nations {
		for oid := range n.DiplomacyEntries() {
			if s.nations[oid] == nil {
				n.SetDiplomacy(oid, model.Neutral)
				dropped++
			}
		}
	}
	return dropped
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
