package worldtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	"nationcraft.ai/internal/sim/replica"
	world "nationcraft.ai/internal/sim/world"
)

// Harness drives a world through its exported API only:
//   - Connect registers a session via StepOnce
//   - Do sends one request via StepOnce and drains every session's frames
//   - each Session keeps its own replica, fed by the snapshots it received
type Harness struct {
	T *testing.T
	W *world.World

	sessions []*Session
	seq      uint64
}

type Session struct {
	ID       string
	Identity uuid.UUID
	Out      chan []byte
	Replica  *replica.Replica

	Snapshots int
	Outcomes  []protocol.Outcome
	Notices   []protocol.Notice
}

func NewHarness(t *testing.T, cfg world.Config) *Harness {
	t.Helper()
	cfg.CheckInvariants = true
	return &Harness{T: t, W: world.New(cfg, nil, nil)}
}

// Connect registers a new identity and drains its connect push.
func (h *Harness) Connect() *Session {
	h.T.Helper()
	s := &Session{
		ID:       fmt.Sprintf("S%03d", len(h.sessions)+1),
		Identity: uuid.New(),
		Out:      make(chan []byte, 64),
		Replica:  replica.New(),
	}
	h.sessions = append(h.sessions, s)
	h.W.StepOnce([]world.ConnectRequest{{SessionID: s.ID, Identity: s.Identity, Out: s.Out}}, nil, nil)
	h.drain()
	return s
}

// Disconnect removes s from the world's client table.
func (h *Harness) Disconnect(s *Session) {
	h.T.Helper()
	h.W.StepOnce(nil, []string{s.ID}, nil)
}

// Do applies req on behalf of s and returns the outcome s received.
func (h *Harness) Do(s *Session, req protocol.Request) protocol.Outcome {
	h.T.Helper()
	h.seq++
	req.Seq = h.seq
	outs := h.W.StepOnce(nil, nil, []world.Envelope{{SessionID: s.ID, Req: req}})
	if len(outs) != 1 {
		h.T.Fatalf("expected one outcome, got %d", len(outs))
	}
	h.drain()
	return outs[0]
}

// Must is Do that fails the test on a rejection.
func (h *Harness) Must(s *Session, req protocol.Request) protocol.Outcome {
	h.T.Helper()
	out := h.Do(s, req)
	if !out.OK() {
		h.T.Fatalf("%s by %s rejected: %s", req.Op, s.ID, out.Code)
	}
	return out
}

// Expect asserts req is rejected with code.
func (h *Harness) Expect(s *Session, req protocol.Request, code string) {
	h.T.Helper()
	if out := h.Do(s, req); out.Code != code {
		h.T.Fatalf("%s by %s: code=%q want %q", req.Op, s.ID, out.Code, code)
	}
}

func (h *Harness) Create(s *Session, name string) protocol.NationState {
	h.T.Helper()
	h.Must(s, protocol.Request{Op: protocol.OpCreate, Name: name, Color: model.ColorBlue})
	n, ok := h.W.View().ByName(name)
	if !ok {
		h.T.Fatalf("nation %q missing after create", name)
	}
	return n
}

// Recruit invites s into nation n (through inviter) and joins it.
func (h *Harness) Recruit(inviter, s *Session, n protocol.NationState) {
	h.T.Helper()
	h.Must(inviter, protocol.Request{Op: protocol.OpInvite, Target: s.Identity})
	h.Must(s, protocol.Request{Op: protocol.OpJoin, Nation: n.ID})
}

func (h *Harness) Rank(s *Session) model.Rank {
	h.T.Helper()
	r, ok := h.W.View().RankOf(s.Identity)
	if !ok {
		h.T.Fatalf("%s is in no nation", s.ID)
	}
	return r
}

func (h *Harness) drain() {
	h.T.Helper()
	for _, s := range h.sessions {
		for {
			select {
			case b := <-s.Out:
				h.handleFrame(s, b)
				continue
			default:
			}
			break
		}
	}
}

func (h *Harness) handleFrame(s *Session, b []byte) {
	h.T.Helper()
	f, err := protocol.DecodeFrame(b)
	if err != nil {
		h.T.Fatalf("session %s: decode frame: %v", s.ID, err)
	}
	switch {
	case f.Snapshot != nil:
		s.Snapshots++
		s.Replica.Replace(*f.Snapshot)
	case f.Outcome != nil:
		s.Outcomes = append(s.Outcomes, *f.Outcome)
	case f.Notice != nil:
		s.Notices = append(s.Notices, *f.Notice)
	}
}
