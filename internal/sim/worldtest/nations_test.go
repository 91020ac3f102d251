package worldtest

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	world "nationcraft.ai/internal/sim/world"
)

func TestCreateInviteJoinPromote(t *testing.T) {
	h := NewHarness(t, world.Config{})
	p1, p2 := h.Connect(), h.Connect()

	alpha := h.Create(p1, "Alpha")
	if h.W.View().Len() != 1 || h.Rank(p1) != model.RankLeader || alpha.Color != model.ColorBlue {
		t.Fatalf("unexpected state after create: %+v", alpha)
	}

	h.Must(p1, protocol.Request{Op: protocol.OpInvite, Target: p2.Identity})
	if !h.W.View().HasInvite(alpha.ID, p2.Identity) {
		t.Fatalf("invite not recorded")
	}
	if len(p2.Notices) != 1 || p2.Notices[0].Key != "message.invite_received" {
		t.Fatalf("expected invite notice, got %+v", p2.Notices)
	}

	h.Must(p2, protocol.Request{Op: protocol.OpJoin, Nation: alpha.ID})
	if h.Rank(p2) != model.RankRecruit || h.W.View().HasInvite(alpha.ID, p2.Identity) {
		t.Fatalf("join should make p2 a recruit and clear the invite")
	}
	if h.W.Metrics().Members != 2 {
		t.Fatalf("members=%d", h.W.Metrics().Members)
	}

	h.Must(p1, protocol.Request{Op: protocol.OpPromote, Target: p2.Identity})
	if h.Rank(p2) != model.RankOfficer {
		t.Fatalf("p2 should be officer")
	}

	// Promoting an officer hands over leadership. Intentional.
	out := h.Must(p1, protocol.Request{Op: protocol.OpPromote, Target: p2.Identity})
	if out.Key != "message.leadership_transferred" {
		t.Fatalf("key=%q", out.Key)
	}
	if h.Rank(p2) != model.RankLeader || h.Rank(p1) != model.RankOfficer {
		t.Fatalf("leadership not transferred: p1=%v p2=%v", h.Rank(p1), h.Rank(p2))
	}
}

func TestAllyThenWarLeavesStaleAlliance(t *testing.T) {
	h := NewHarness(t, world.Config{})
	a, b := h.Connect(), h.Connect()
	alpha := h.Create(a, "Alpha")
	beta := h.Create(b, "Beta")

	h.Must(a, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: beta.ID, State: model.Allied})
	v := h.W.View()
	if v.Diplomacy(alpha.ID, beta.ID) != model.Allied || v.Diplomacy(beta.ID, alpha.ID) != model.Allied {
		t.Fatalf("alliance must be symmetric")
	}

	h.Must(a, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: beta.ID, State: model.AtWar})
	if v.Diplomacy(alpha.ID, beta.ID) != model.AtWar {
		t.Fatalf("alpha->beta should be AT_WAR")
	}
	if v.Diplomacy(beta.ID, alpha.ID) != model.Allied {
		t.Fatalf("beta->alpha should stay ALLIED until beta changes it")
	}
	if !v.AreAtWar(a.Identity, b.Identity) || !v.AreAllied(b.Identity, a.Identity) {
		t.Fatalf("predicates should follow the first identity's nation")
	}
}

func TestLastMemberLeavingDestroysNation(t *testing.T) {
	h := NewHarness(t, world.Config{})
	a, b := h.Connect(), h.Connect()
	alpha := h.Create(a, "Alpha")
	beta := h.Create(b, "Beta")
	h.Must(b, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: alpha.ID, State: model.AtWar})

	h.Must(a, protocol.Request{Op: protocol.OpLeave})
	if _, ok := h.W.View().Get(alpha.ID); ok {
		t.Fatalf("alpha should be gone")
	}
	got, _ := h.W.View().Get(beta.ID)
	if len(got.Diplomacy) != 0 {
		t.Fatalf("dangling relations remain: %+v", got.Diplomacy)
	}
	h.Expect(b, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: alpha.ID, State: model.Allied}, protocol.ErrNationNotFound)
}

func TestCreateNameBounds(t *testing.T) {
	h := NewHarness(t, world.Config{})
	p := h.Connect()
	h.Expect(p, protocol.Request{Op: protocol.OpCreate, Name: "ab", Color: model.ColorBlue}, protocol.ErrNameTooShort)
	h.Expect(p, protocol.Request{Op: protocol.OpCreate, Name: strings.Repeat("X", 25), Color: model.ColorBlue}, protocol.ErrNameTooLong)
	h.Create(p, "Alpha")
	h.Expect(h.Connect(), protocol.Request{Op: protocol.OpCreate, Name: "ALPHA"}, protocol.ErrNameTaken)
	h.Expect(p, protocol.Request{Op: protocol.OpCreate, Name: "Gamma"}, protocol.ErrAlreadyInNation)
}

func TestLeaderLeavingPromotesFirstOfficer(t *testing.T) {
	h := NewHarness(t, world.Config{})
	lead, r1, o1 := h.Connect(), h.Connect(), h.Connect()
	alpha := h.Create(lead, "Alpha")
	h.Recruit(lead, r1, alpha)
	h.Recruit(lead, o1, alpha)
	h.Must(lead, protocol.Request{Op: protocol.OpPromote, Target: o1.Identity})

	h.Must(lead, protocol.Request{Op: protocol.OpLeave})
	if h.Rank(o1) != model.RankLeader || h.Rank(r1) != model.RankRecruit {
		t.Fatalf("expected officer to inherit: o1=%v r1=%v", h.Rank(o1), h.Rank(r1))
	}
	if len(o1.Notices) == 0 || o1.Notices[len(o1.Notices)-1].Key != "message.leadership_inherited" {
		t.Fatalf("heir should be notified: %+v", o1.Notices)
	}
}

func TestRejectionsDoNotBroadcast(t *testing.T) {
	h := NewHarness(t, world.Config{})
	a, watcher := h.Connect(), h.Connect()
	h.Create(a, "Alpha")
	before := watcher.Snapshots
	version := h.W.View().Version()

	h.Expect(watcher, protocol.Request{Op: protocol.OpLeave}, protocol.ErrNotInNation)
	h.Expect(watcher, protocol.Request{Op: protocol.OpJoin, Nation: uuid.New()}, protocol.ErrNationNotFound)
	if watcher.Snapshots != before || h.W.View().Version() != version {
		t.Fatalf("rejected requests must not mutate or broadcast")
	}
	if got := h.W.Metrics().Rejections; got != 2 {
		t.Fatalf("rejections=%d", got)
	}
	if n := len(watcher.Outcomes); n != 2 || watcher.Outcomes[1].Code != protocol.ErrNationNotFound {
		t.Fatalf("requester should receive outcome frames: %+v", watcher.Outcomes)
	}
}

func TestMutationBroadcastsToEveryone(t *testing.T) {
	h := NewHarness(t, world.Config{})
	a, b, c := h.Connect(), h.Connect(), h.Connect()
	for _, s := range []*Session{a, b, c} {
		if s.Snapshots == 0 {
			t.Fatalf("session %s missed its connect push", s.ID)
		}
	}
	alpha := h.Create(a, "Alpha")
	for _, s := range []*Session{a, b, c} {
		if _, ok := s.Replica.Get(alpha.ID); !ok {
			t.Fatalf("session %s replica missing alpha", s.ID)
		}
	}

	h.Disconnect(c)
	before := c.Snapshots
	h.Create(b, "Beta")
	if c.Snapshots != before {
		t.Fatalf("disconnected session still receives snapshots")
	}

	late := h.Connect()
	if late.Replica.Len() != 2 {
		t.Fatalf("connect push should carry current state, got %d nations", late.Replica.Len())
	}
}

func TestJoinRules(t *testing.T) {
	h := NewHarness(t, world.Config{})
	a, b, p := h.Connect(), h.Connect(), h.Connect()
	alpha := h.Create(a, "Alpha")
	beta := h.Create(b, "Beta")

	h.Expect(p, protocol.Request{Op: protocol.OpJoin, Nation: alpha.ID}, protocol.ErrNoInvite)
	h.Must(a, protocol.Request{Op: protocol.OpInvite, Target: p.Identity})
	h.Must(b, protocol.Request{Op: protocol.OpInvite, Target: p.Identity})
	h.Must(p, protocol.Request{Op: protocol.OpJoin, Nation: alpha.ID})
	h.Expect(p, protocol.Request{Op: protocol.OpJoin, Nation: beta.ID}, protocol.ErrAlreadyInNation)

	// Inviting someone already in another nation is allowed; only own members are refused.
	h.Must(b, protocol.Request{Op: protocol.OpInvite, Target: p.Identity})
	h.Expect(a, protocol.Request{Op: protocol.OpInvite, Target: p.Identity}, protocol.ErrAlreadyInNation)
	h.Expect(p, protocol.Request{Op: protocol.OpInvite, Target: uuid.New()}, protocol.ErrNoPermission)
}

func TestKickRules(t *testing.T) {
	h := NewHarness(t, world.Config{})
	lead, off, rec, outsider := h.Connect(), h.Connect(), h.Connect(), h.Connect()
	alpha := h.Create(lead, "Alpha")
	h.Recruit(lead, off, alpha)
	h.Recruit(lead, rec, alpha)
	h.Must(lead, protocol.Request{Op: protocol.OpPromote, Target: off.Identity})
	h.Create(outsider, "Beta")

	h.Expect(rec, protocol.Request{Op: protocol.OpKick, Target: off.Identity}, protocol.ErrNoPermission)
	h.Expect(off, protocol.Request{Op: protocol.OpKick, Target: lead.Identity}, protocol.ErrNoPermission)
	h.Expect(off, protocol.Request{Op: protocol.OpKick, Target: off.Identity}, protocol.ErrNoPermission)
	h.Expect(off, protocol.Request{Op: protocol.OpKick, Target: outsider.Identity}, protocol.ErrTargetNotFound)

	h.Must(off, protocol.Request{Op: protocol.OpKick, Target: rec.Identity})
	if _, ok := h.W.View().ByMember(rec.Identity); ok {
		t.Fatalf("kicked recruit still a member")
	}
	if len(rec.Notices) == 0 || rec.Notices[len(rec.Notices)-1].Key != "message.nation_left" {
		t.Fatalf("kicked identity should be notified: %+v", rec.Notices)
	}
	h.Must(lead, protocol.Request{Op: protocol.OpKick, Target: off.Identity})
}

func TestPromoteDemoteRules(t *testing.T) {
	h := NewHarness(t, world.Config{})
	lead, off, rec := h.Connect(), h.Connect(), h.Connect()
	alpha := h.Create(lead, "Alpha")
	h.Recruit(lead, off, alpha)
	h.Recruit(lead, rec, alpha)
	h.Must(lead, protocol.Request{Op: protocol.OpPromote, Target: off.Identity})

	h.Expect(off, protocol.Request{Op: protocol.OpPromote, Target: rec.Identity}, protocol.ErrNoPermission)
	h.Expect(off, protocol.Request{Op: protocol.OpDemote, Target: rec.Identity}, protocol.ErrNoPermission)
	h.Expect(lead, protocol.Request{Op: protocol.OpPromote, Target: lead.Identity}, protocol.ErrNoPermission)
	h.Expect(lead, protocol.Request{Op: protocol.OpDemote, Target: lead.Identity}, protocol.ErrNoPermission)
	h.Expect(lead, protocol.Request{Op: protocol.OpDemote, Target: uuid.New()}, protocol.ErrTargetNotFound)

	version := h.W.View().Version()
	h.Must(lead, protocol.Request{Op: protocol.OpDemote, Target: rec.Identity})
	if h.W.View().Version() != version {
		t.Fatalf("demoting a recruit is a no-op")
	}

	h.Must(lead, protocol.Request{Op: protocol.OpDemote, Target: off.Identity})
	if h.Rank(off) != model.RankRecruit {
		t.Fatalf("officer should be demoted to recruit")
	}
}

func TestDisbandCascades(t *testing.T) {
	h := NewHarness(t, world.Config{})
	lead, member, other := h.Connect(), h.Connect(), h.Connect()
	alpha := h.Create(lead, "Alpha")
	beta := h.Create(other, "Beta")
	h.Recruit(lead, member, alpha)
	h.Must(other, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: alpha.ID, State: model.Allied})

	h.Expect(member, protocol.Request{Op: protocol.OpDisband}, protocol.ErrNoPermission)
	h.Expect(h.Connect(), protocol.Request{Op: protocol.OpDisband}, protocol.ErrNotInNation)
	h.Must(lead, protocol.Request{Op: protocol.OpDisband})

	v := h.W.View()
	if _, ok := v.ByMember(member.Identity); ok {
		t.Fatalf("former member still indexed")
	}
	if v.Diplomacy(beta.ID, alpha.ID) != model.Neutral {
		t.Fatalf("relation toward disbanded nation should read NEUTRAL")
	}
	if len(member.Notices) == 0 || member.Notices[len(member.Notices)-1].Key != "message.nation_disbanded" {
		t.Fatalf("members should hear about the disband: %+v", member.Notices)
	}
	h.Create(member, "alpha")
}

func TestDiplomacyRules(t *testing.T) {
	h := NewHarness(t, world.Config{})
	lead, rec, other := h.Connect(), h.Connect(), h.Connect()
	alpha := h.Create(lead, "Alpha")
	beta := h.Create(other, "Beta")
	h.Recruit(lead, rec, alpha)

	h.Expect(rec, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: beta.ID, State: model.AtWar}, protocol.ErrNoPermission)
	h.Expect(lead, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: alpha.ID, State: model.AtWar}, protocol.ErrNoPermission)
	h.Expect(h.Connect(), protocol.Request{Op: protocol.OpSetDiplomacy, Nation: beta.ID, State: model.AtWar}, protocol.ErrNotInNation)

	h.Must(lead, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: beta.ID, State: model.AtWar})
	h.Must(lead, protocol.Request{Op: protocol.OpSetDiplomacy, Nation: beta.ID, State: model.Neutral})
	got, _ := h.W.View().Get(alpha.ID)
	if len(got.Diplomacy) != 0 {
		t.Fatalf("neutral must not be stored: %+v", got.Diplomacy)
	}
}

func TestRequesterComesFromSession(t *testing.T) {
	h := NewHarness(t, world.Config{})
	victim, attacker := h.Connect(), h.Connect()
	h.Create(victim, "Alpha")
	// A forged requester field is overwritten with the session identity.
	h.Expect(attacker, protocol.Request{Op: protocol.OpDisband, Requester: victim.Identity}, protocol.ErrNotInNation)
}
