package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestRank_CanManage(t *testing.T) {
	if !RankLeader.CanManage(RankOfficer) || !RankLeader.CanManage(RankRecruit) {
		t.Fatalf("leader should manage officer and recruit")
	}
	if !RankOfficer.CanManage(RankRecruit) {
		t.Fatalf("officer should manage recruit")
	}
	if RankOfficer.CanManage(RankOfficer) || RankOfficer.CanManage(RankLeader) {
		t.Fatalf("officer should not manage equal or higher ranks")
	}
	if RankLeader.CanManage(RankLeader) {
		t.Fatalf("leader should not manage leader")
	}
}

func TestParseColor_FallsBackToWhiteOnLoad(t *testing.T) {
	var c Color
	if err := c.UnmarshalText([]byte("blue")); err != nil || c != ColorBlue {
		t.Fatalf("blue: got %v err=%v", c, err)
	}
	if err := c.UnmarshalText([]byte("chartreuse")); err != nil || c != ColorWhite {
		t.Fatalf("unknown color should load as white, got %v err=%v", c, err)
	}
	if got := ColorOr("nope", ColorBlue); got != ColorBlue {
		t.Fatalf("ColorOr fallback: got %v", got)
	}
}

func TestFoldName_CaseInsensitive(t *testing.T) {
	if FoldName("  Alpha ") != FoldName("ALPHA") {
		t.Fatalf("expected folded names to match")
	}
	if NameLen("Ünïcode") != 7 {
		t.Fatalf("NameLen should count characters, got %d", NameLen("Ünïcode"))
	}
}

func TestNation_MembersKeepInsertionOrder(t *testing.T) {
	n := New(uuid.New(), "Alpha", ColorBlue)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	n.AddMember(a, RankLeader)
	n.AddMember(b, RankRecruit)
	n.AddMember(c, RankRecruit)
	n.RemoveMember(b)
	n.AddMember(b, RankRecruit)

	got := n.Members()
	if len(got) != 3 || got[0].ID != a || got[1].ID != c || got[2].ID != b {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestNation_RepairLeaderPrefersFirstOfficer(t *testing.T) {
	n := New(uuid.New(), "Alpha", ColorBlue)
	r1, o1, o2 := uuid.New(), uuid.New(), uuid.New()
	n.AddMember(r1, RankRecruit)
	n.AddMember(o1, RankOfficer)
	n.AddMember(o2, RankOfficer)

	promoted, ok := n.RepairLeader()
	if !ok || promoted != o1 {
		t.Fatalf("expected first officer promoted, got %v ok=%v", promoted, ok)
	}
	if _, again := n.RepairLeader(); again {
		t.Fatalf("repair should be a no-op once a leader exists")
	}
}

func TestNation_RepairLeaderFallsBackToFirstMember(t *testing.T) {
	n := New(uuid.New(), "Alpha", ColorBlue)
	r1, r2 := uuid.New(), uuid.New()
	n.AddMember(r1, RankRecruit)
	n.AddMember(r2, RankRecruit)
	promoted, ok := n.RepairLeader()
	if !ok || promoted != r1 {
		t.Fatalf("expected first member promoted, got %v", promoted)
	}
}

func TestNation_NeutralIsNeverStored(t *testing.T) {
	n := New(uuid.New(), "Alpha", ColorBlue)
	other := uuid.New()
	n.SetDiplomacy(other, AtWar)
	if n.DiplomacyWith(other) != AtWar {
		t.Fatalf("expected AT_WAR")
	}
	n.SetDiplomacy(other, Neutral)
	if len(n.DiplomacyEntries()) != 0 {
		t.Fatalf("neutral must remove the entry")
	}
	if n.DiplomacyWith(other) != Neutral {
		t.Fatalf("absent entry should read NEUTRAL")
	}
}

func TestNation_CloneIsIndependent(t *testing.T) {
	n := New(uuid.New(), "Alpha", ColorBlue)
	p := uuid.New()
	n.AddMember(p, RankLeader)
	c := n.Clone()
	n.AddMember(uuid.New(), RankRecruit)
	n.AddInvite(uuid.New())
	if c.MemberCount() != 1 || len(c.Invites()) != 0 {
		t.Fatalf("clone should not observe later mutations")
	}
}

func TestNation_AddMemberClearsInvite(t *testing.T) {
	n := New(uuid.New(), "Alpha", ColorBlue)
	p := uuid.New()
	n.AddInvite(p)
	n.AddMember(p, RankRecruit)
	if n.HasInvite(p) {
		t.Fatalf("invite should be cleared on join")
	}
}
