package model

import "strings"

// Rank is a member's standing inside a nation. Lower values carry more authority.
type Rank uint8

const (
	RankLeader Rank = iota
	RankOfficer
	RankRecruit
)

func (r Rank) String() string {
	switch r {
	case RankLeader:
		return "LEADER"
	case RankOfficer:
		return "OFFICER"
	case RankRecruit:
		return "RECRUIT"
	default:
		return "UNKNOWN"
	}
}

func (r Rank) Valid() bool { return r <= RankRecruit }

// CanManage reports whether r is strictly above target.
func (r Rank) CanManage(target Rank) bool { return r < target }

// Staff ranks may invite and set diplomacy.
func (r Rank) Staff() bool { return r == RankLeader || r == RankOfficer }

func ParseRank(s string) (Rank, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LEADER":
		return RankLeader, true
	case "OFFICER":
		return RankOfficer, true
	case "RECRUIT":
		return RankRecruit, true
	default:
		return 0, false
	}
}

func (r Rank) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Rank) UnmarshalText(b []byte) error {
	v, ok := ParseRank(string(b))
	if !ok {
		return &ParseError{Kind: "rank", Value: string(b)}
	}
	*r = v
	return nil
}
