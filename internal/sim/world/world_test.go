package world

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
)

func create(t *testing.T, w *World, founder uuid.UUID, name string) {
	t.Helper()
	if out := w.Apply(protocol.Request{Op: protocol.OpCreate, Requester: founder, Name: name, Color: model.ColorRed}); !out.OK() {
		t.Fatalf("create %s: %s", name, out.Code)
	}
}

func TestFlush_OnlyWhenDirty(t *testing.T) {
	w := New(Config{}, nil, nil)
	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)

	if err := w.flush(false); err != nil {
		t.Fatalf("clean flush: %v", err)
	}
	if len(sink) != 0 {
		t.Fatalf("clean store must not be flushed")
	}

	create(t, w, uuid.New(), "Alpha")
	if err := w.flush(false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	snap := <-sink
	if snap.Header.Nations != 1 || snap.Nations[0].Name != "Alpha" || snap.Header.Seq != w.store.Version() {
		t.Fatalf("unexpected snapshot header: %+v", snap.Header)
	}
	if w.store.Dirty() {
		t.Fatalf("store should be clean after an accepted flush")
	}
}

func TestFlush_BackpressureKeepsDirty(t *testing.T) {
	w := New(Config{}, nil, nil)
	sink := make(chan snapshot.SnapshotV1) // unbuffered, nobody reading
	w.SetSnapshotSink(sink)
	create(t, w, uuid.New(), "Alpha")

	if err := w.flush(false); err != errBackpressure {
		t.Fatalf("expected backpressure, got %v", err)
	}
	if !w.store.Dirty() {
		t.Fatalf("rejected flush must leave the store dirty")
	}
	w.publishMetrics()
	if w.Metrics().FlushFailures != 1 {
		t.Fatalf("flush failure not counted")
	}
}

func TestFlush_FailedSaveMarksDirty(t *testing.T) {
	w := New(Config{}, nil, nil)
	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)
	w.TrackSaves()
	create(t, w, uuid.New(), "Alpha")

	if err := w.flush(false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	snap := <-sink
	if w.store.Dirty() || w.inFlight != 1 {
		t.Fatalf("handed-off snapshot: dirty=%v inFlight=%d", w.store.Dirty(), w.inFlight)
	}
	w.handleAck(SaveAck{Seq: snap.Header.Seq, Err: errors.New("disk full")})
	if !w.store.Dirty() || w.inFlight != 0 {
		t.Fatalf("failed save: dirty=%v inFlight=%d", w.store.Dirty(), w.inFlight)
	}

	if err := w.flush(false); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	snap = <-sink
	w.handleAck(SaveAck{Seq: snap.Header.Seq})
	if w.store.Dirty() {
		t.Fatalf("successful save should leave the store clean")
	}
}

func TestFinalFlush_WaitsForSaveAndRetries(t *testing.T) {
	w := New(Config{}, nil, nil)
	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)
	acks := w.TrackSaves()
	create(t, w, uuid.New(), "Alpha")

	saved := make(chan uint64, 1)
	go func() {
		first := true
		for snap := range sink {
			if first {
				first = false
				acks <- SaveAck{Seq: snap.Header.Seq, Err: errors.New("disk full")}
				continue
			}
			saved <- snap.Header.Seq
			acks <- SaveAck{Seq: snap.Header.Seq}
		}
	}()

	w.finalFlush()
	close(sink)
	select {
	case seq := <-saved:
		if seq != w.store.Version() {
			t.Fatalf("saved seq=%d want %d", seq, w.store.Version())
		}
	default:
		t.Fatalf("final flush did not retry the failed save")
	}
	if w.store.Dirty() {
		t.Fatalf("store dirty after final flush")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	w := New(Config{FlushEvery: time.Hour}, nil, nil)
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	id := uuid.New()
	out := make(chan []byte, 8)
	w.Connect() <- ConnectRequest{SessionID: "s1", Identity: id, Out: out}
	// Connect and inbox are separate queues; wait for the connect push before sending.
	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatalf("no connect push")
	}
	w.Inbox() <- Envelope{SessionID: "s1", Req: protocol.Request{Seq: 9, Op: protocol.OpCreate, Name: "Alpha"}}

	var gotSnapshot, gotOutcome bool
	deadline := time.After(2 * time.Second)
	for !gotOutcome {
		select {
		case b := <-out:
			f, err := protocol.DecodeFrame(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if f.Snapshot != nil && len(f.Snapshot.Nations) == 1 {
				gotSnapshot = true
			}
			if f.Outcome != nil {
				if f.Outcome.Seq != 9 || !f.Outcome.OK() {
					t.Fatalf("unexpected outcome: %+v", f.Outcome)
				}
				gotOutcome = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for outcome")
		}
	}
	if !gotSnapshot {
		t.Fatalf("snapshot should precede the outcome")
	}

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	if _, err := w.RequestFlush(rctx); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}
	if snap := <-sink; len(snap.Nations) != 1 {
		t.Fatalf("flushed snapshot has %d nations", len(snap.Nations))
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v", err)
	}
	if n, ok := w.View().ByMember(id); !ok || n.Name != "Alpha" {
		t.Fatalf("view not updated")
	}
}

func TestApply_NilRequesterRejected(t *testing.T) {
	w := New(Config{}, nil, nil)
	out := w.Apply(protocol.Request{Op: protocol.OpCreate, Name: "Alpha"})
	if out.Code != protocol.ErrNoPermission {
		t.Fatalf("code=%q", out.Code)
	}
}

type recorder struct {
	created, destroyed, membership, diplomacy int
	last                                      Event
}

func (r *recorder) NationCreated(e Event)     { r.created++; r.last = e }
func (r *recorder) NationDestroyed(e Event)   { r.destroyed++; r.last = e }
func (r *recorder) MembershipChanged(e Event) { r.membership++ }

type diplomacyOnly struct{ n int }

func (d *diplomacyOnly) DiplomacyChanged(Event) { d.n++ }

func TestListeners_CapabilityProbe(t *testing.T) {
	w := New(Config{}, nil, nil)
	rec := &recorder{}
	dip := &diplomacyOnly{}
	if got := w.AddListener(rec); got != 2 {
		t.Fatalf("recorder matched %d capabilities", got)
	}
	if got := w.AddListener(dip); got != 1 {
		t.Fatalf("diplomacyOnly matched %d capabilities", got)
	}
	if got := w.AddListener(struct{}{}); got != 0 {
		t.Fatalf("empty struct matched %d capabilities", got)
	}

	a, b := uuid.New(), uuid.New()
	create(t, w, a, "Alpha")
	create(t, w, b, "Beta")
	if rec.created != 2 || rec.last.NationName != "Beta" {
		t.Fatalf("created=%d last=%+v", rec.created, rec.last)
	}
	beta, _ := w.store.ByName("Beta")
	w.Apply(protocol.Request{Op: protocol.OpSetDiplomacy, Requester: a, Nation: beta.ID, State: model.AtWar})
	if dip.n != 1 {
		t.Fatalf("diplomacy listener calls=%d", dip.n)
	}
	w.Apply(protocol.Request{Op: protocol.OpLeave, Requester: b})
	if rec.membership != 1 || rec.destroyed != 1 || !rec.last.Destroyed {
		t.Fatalf("leave of last member should report membership and destruction: %+v", rec)
	}
}

type memAudit struct{ entries []AuditEntry }

func (m *memAudit) WriteAudit(e AuditEntry) error { m.entries = append(m.entries, e); return nil }

func TestAudit_RecordsAcceptedAndRejected(t *testing.T) {
	w := New(Config{}, nil, nil)
	a1, a2 := &memAudit{}, &memAudit{}
	w.SetAuditLogger(AuditLoggers{a1, a2})
	p := uuid.New()
	create(t, w, p, "Alpha")
	w.Apply(protocol.Request{Op: protocol.OpCreate, Requester: p, Name: "Beta"})

	if len(a1.entries) != 2 || len(a2.entries) != 2 {
		t.Fatalf("entries=%d/%d", len(a1.entries), len(a2.entries))
	}
	if !a1.entries[0].Accepted() || a1.entries[0].Nation == "" {
		t.Fatalf("first entry should be an accepted create: %+v", a1.entries[0])
	}
	if a1.entries[1].Code != protocol.ErrAlreadyInNation {
		t.Fatalf("second entry code=%q", a1.entries[1].Code)
	}
}

func TestAudit_DiplomacyNamesBothNations(t *testing.T) {
	w := New(Config{}, nil, nil)
	a := &memAudit{}
	w.SetAuditLogger(a)
	p, q := uuid.New(), uuid.New()
	create(t, w, p, "Alpha")
	create(t, w, q, "Beta")
	alpha, _ := w.Store().ByMember(p)
	beta, _ := w.Store().ByMember(q)
	w.Apply(protocol.Request{Op: protocol.OpSetDiplomacy, Requester: p, Nation: beta.ID, State: model.AtWar})

	if len(a.entries) != 3 {
		t.Fatalf("entries=%d", len(a.entries))
	}
	if a.entries[0].Name != "Alpha" || a.entries[0].Color == "" {
		t.Fatalf("create entry should carry name and color: %+v", a.entries[0])
	}
	e := a.entries[2]
	if e.Nation != alpha.ID.String() || e.Target != beta.ID.String() || e.State != model.AtWar.String() {
		t.Fatalf("diplomacy entry=%+v", e)
	}
}

func TestApply_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	w := New(Config{}, nil, nil)
	w.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	p := uuid.New()
	create(t, w, p, "Alpha")
	w.Apply(protocol.Request{Op: protocol.OpCreate, Requester: p, Name: "Beta"})

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans=%d", len(spans))
	}
	if spans[0].Name() != "nation.apply" || spans[0].Status().Code != otelcodes.Unset {
		t.Fatalf("accepted span: name=%s status=%v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != otelcodes.Error || spans[1].Status().Description != protocol.ErrAlreadyInNation {
		t.Fatalf("rejected span status=%v", spans[1].Status())
	}
}

func TestApply_HandlersStayInMutationTaxonomy(t *testing.T) {
	w := New(Config{}, nil, nil)
	leader, recruit, outsider := uuid.New(), uuid.New(), uuid.New()
	create(t, w, leader, "Alpha")
	create(t, w, uuid.New(), "Beta")
	alpha, _ := w.Store().ByMember(leader)
	w.Apply(protocol.Request{Op: protocol.OpInvite, Requester: leader, Target: recruit})
	w.Apply(protocol.Request{Op: protocol.OpJoin, Requester: recruit, Nation: alpha.ID})

	for op := protocol.OpCreate; op <= protocol.OpSetDiplomacy; op++ {
		for _, who := range []uuid.UUID{outsider, recruit, leader} {
			for _, other := range []uuid.UUID{uuid.Nil, uuid.New(), alpha.ID, recruit} {
				out := w.Apply(protocol.Request{Op: op, Requester: who, Name: "x", Nation: other, Target: other, State: model.AtWar})
				if !protocol.IsMutationCode(out.Code) {
					t.Fatalf("%s by %s with %s: code %q outside the taxonomy", op, who, other, out.Code)
				}
			}
		}
	}
}
