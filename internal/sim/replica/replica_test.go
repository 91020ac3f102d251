package replica

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
)

func twoNations() (protocol.Snapshot, uuid.UUID, uuid.UUID, uuid.UUID, uuid.UUID) {
	alpha, beta := uuid.New(), uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	s := protocol.Snapshot{
		Version: 5,
		Nations: []protocol.NationState{
			{
				ID: alpha, Name: "Alpha", Color: model.ColorBlue,
				Members:   []model.Member{{ID: p1, Rank: model.RankLeader}},
				Diplomacy: []protocol.Relation{{Nation: beta, State: model.AtWar}},
			},
			{
				ID: beta, Name: "Beta", Color: model.ColorRed,
				Members: []model.Member{{ID: p2, Rank: model.RankLeader}},
				Invites: []uuid.UUID{p1},
			},
		},
		Index: map[uuid.UUID]uuid.UUID{p1: alpha, p2: beta},
	}
	return s, alpha, beta, p1, p2
}

func TestReplica_EmptyBeforeFirstSnapshot(t *testing.T) {
	r := New()
	if r.Len() != 0 || r.Version() != 0 {
		t.Fatalf("expected empty replica")
	}
	if _, ok := r.Get(uuid.New()); ok {
		t.Fatalf("unexpected nation")
	}
	if r.Diplomacy(uuid.New(), uuid.New()) != model.Neutral {
		t.Fatalf("default diplomacy must be NEUTRAL")
	}
}

func TestReplica_Queries(t *testing.T) {
	s, alpha, beta, p1, p2 := twoNations()
	r := New()
	r.Replace(s)

	if r.Version() != 5 || r.Len() != 2 {
		t.Fatalf("version=%d len=%d", r.Version(), r.Len())
	}
	if n, ok := r.ByName("aLpHa"); !ok || n.ID != alpha {
		t.Fatalf("ByName failed")
	}
	if n, ok := r.ByMember(p2); !ok || n.ID != beta {
		t.Fatalf("ByMember failed")
	}
	if rank, ok := r.RankOf(p1); !ok || rank != model.RankLeader {
		t.Fatalf("RankOf=%v,%v", rank, ok)
	}
	if r.Diplomacy(alpha, beta) != model.AtWar || r.Diplomacy(beta, alpha) != model.Neutral {
		t.Fatalf("diplomacy mismatch")
	}
	if !r.AreAtWar(p1, p2) || r.AreAtWar(p2, p1) || r.AreAllied(p1, p2) {
		t.Fatalf("predicate mismatch")
	}
	if !r.HasInvite(beta, p1) || r.HasInvite(alpha, p2) {
		t.Fatalf("invite mismatch")
	}
	if got := r.ListNations(); len(got) != 2 || got[0].ID != alpha {
		t.Fatalf("list order lost")
	}
}

func TestReplica_ReplaceDiscardsPreviousState(t *testing.T) {
	s, alpha, _, p1, _ := twoNations()
	r := New()
	r.Replace(s)
	r.Replace(protocol.Snapshot{Version: 6})
	if _, ok := r.Get(alpha); ok {
		t.Fatalf("stale nation survived replace")
	}
	if _, ok := r.ByMember(p1); ok {
		t.Fatalf("stale index survived replace")
	}
}

func TestReplica_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	s, _, _, p1, _ := twoNations()
	r := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n, ok := r.ByMember(p1); ok && (n.Name != "Alpha" || len(n.Members) != 1) {
					t.Errorf("torn read")
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			r.Replace(s)
		} else {
			r.Replace(protocol.Snapshot{})
		}
	}
	close(stop)
	wg.Wait()
}
