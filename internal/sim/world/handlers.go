package world

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	"nationcraft.ai/internal/sim/nation/store"
)

// actionResult is what a handler decided. A non-empty code means nothing was mutated.
type actionResult struct {
	code    string
	key     string
	args    []string
	changed bool
	event   Event
	notices []notice
}

type notice struct {
	to   uuid.UUID
	note protocol.Notice
}

func fail(code string) actionResult {
	return actionResult{code: code, key: protocol.ErrorKey(code)}
}

func okResult(key string, args ...string) actionResult {
	return actionResult{code: protocol.CodeOK, key: key, args: args, changed: true}
}

// codeFor maps store sentinels onto outcome codes.
func codeFor(err error) string {
	switch {
	case err == nil:
		return protocol.CodeOK
	case errors.Is(err, store.ErrNameTooShort):
		return protocol.ErrNameTooShort
	case errors.Is(err, store.ErrNameTooLong):
		return protocol.ErrNameTooLong
	case errors.Is(err, store.ErrNameTaken):
		return protocol.ErrNameTaken
	case errors.Is(err, store.ErrAlreadyMember):
		return protocol.ErrAlreadyInNation
	case errors.Is(err, store.ErrNotMember):
		return protocol.ErrNotInNation
	case errors.Is(err, store.ErrNoPermission), errors.Is(err, store.ErrSelfRelation):
		return protocol.ErrNoPermission
	case errors.Is(err, store.ErrNotFound):
		return protocol.ErrNationNotFound
	default:
		return protocol.ErrInternal
	}
}

// Apply validates, authorizes and applies one request, then broadcasts on success.
// It is the single write path into the store.
func (w *World) Apply(req protocol.Request) protocol.Outcome {
	_, span := w.tracer.Start(context.Background(), "nation.apply", trace.WithAttributes(
		attribute.String("nation.op", req.Op.String()),
		attribute.String("nation.requester", req.Requester.String()),
	))
	defer span.End()

	var res actionResult
	if req.Requester == uuid.Nil {
		res = fail(protocol.ErrNoPermission)
	} else {
		res = w.dispatch(req)
	}
	res.event.Op = req.Op
	res.event.Requester = req.Requester

	out := protocol.Outcome{Seq: req.Seq, Op: req.Op, Code: res.code, Key: res.key, Args: res.args}
	w.audit(req, res)

	entry := w.log.WithFields(logrus.Fields{
		"requester": req.Requester,
		"op":        req.Op.String(),
		"code":      res.code,
	})
	span.SetAttributes(attribute.Int64("nation.version", int64(w.store.Version())))
	if !protocol.IsMutationCode(res.code) {
		entry.Error("request failed outside the mutation taxonomy")
	}
	if res.code != protocol.CodeOK {
		span.SetStatus(otelcodes.Error, res.code)
		w.counters.rejections.Add(1)
		entry.Debug("request rejected")
		return out
	}
	w.counters.mutations.Add(1)
	entry.Debug("request applied")
	if !res.changed {
		return out
	}
	if w.cfg.CheckInvariants {
		if err := w.store.CheckInvariants(); err != nil {
			w.log.WithError(err).Error("store invariant violated")
		}
	}
	w.publish()
	w.broadcast()
	for _, n := range res.notices {
		w.notify(n.to, n.note)
	}
	w.listeners.dispatch(res.event)
	return out
}

func (w *World) dispatch(req protocol.Request) actionResult {
	switch req.Op {
	case protocol.OpCreate:
		return w.handleCreate(req)
	case protocol.OpJoin:
		return w.handleJoin(req)
	case protocol.OpLeave:
		return w.handleLeaveNation(req)
	case protocol.OpDisband:
		return w.handleDisband(req)
	case protocol.OpInvite:
		return w.handleInvite(req)
	case protocol.OpKick:
		return w.handleKick(req)
	case protocol.OpPromote:
		return w.handlePromote(req)
	case protocol.OpDemote:
		return w.handleDemote(req)
	case protocol.OpSetDiplomacy:
		return w.handleSetDiplomacy(req)
	default:
		return fail(protocol.ErrInternal)
	}
}

// membership resolves the requester's nation and rank.
func (w *World) membership(id uuid.UUID) (*model.Nation, model.Rank, bool) {
	n, ok := w.store.ByMember(id)
	if !ok {
		return nil, 0, false
	}
	r, ok := n.RankOf(id)
	return n, r, ok
}

// target resolves an identity inside the requester's own nation.
func target(n *model.Nation, id uuid.UUID) (model.Rank, bool) {
	if id == uuid.Nil {
		return 0, false
	}
	return n.RankOf(id)
}

func (w *World) handleCreate(req protocol.Request) actionResult {
	if _, ok := w.store.ByMember(req.Requester); ok {
		return fail(protocol.ErrAlreadyInNation)
	}
	n, err := w.store.Create(req.Name, req.Color, req.Requester)
	if err != nil {
		return fail(codeFor(err))
	}
	res := okResult("message.nation_created", n.Name)
	res.event.Nation, res.event.NationName, res.event.Color = n.ID, n.Name, n.Color
	return res
}

func (w *World) handleJoin(req protocol.Request) actionResult {
	if _, ok := w.store.ByMember(req.Requester); ok {
		return fail(protocol.ErrAlreadyInNation)
	}
	n, ok := w.store.Get(req.Nation)
	if !ok {
		return fail(protocol.ErrNationNotFound)
	}
	if !n.HasInvite(req.Requester) {
		return fail(protocol.ErrNoInvite)
	}
	if err := w.store.AddMember(req.Requester, n.ID); err != nil {
		return fail(codeFor(err))
	}
	res := okResult("message.nation_joined", n.Name)
	res.event.Nation, res.event.NationName = n.ID, n.Name
	return res
}

func (w *World) handleLeaveNation(req protocol.Request) actionResult {
	n, _, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	name := n.Name
	r, _ := w.store.RemoveMember(req.Requester)
	res := okResult("message.nation_left", name)
	res.event.Nation, res.event.NationName = r.NationID, name
	res.event.Destroyed, res.event.Promoted = r.Destroyed, r.Promoted
	if r.Promoted != uuid.Nil {
		res.notices = append(res.notices, notice{to: r.Promoted, note: protocol.Notice{
			Key: "message.leadership_inherited", Args: []string{name},
		}})
	}
	return res
}

func (w *World) handleDisband(req protocol.Request) actionResult {
	n, _, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	id, name := n.ID, n.Name
	members := n.Members()
	if err := w.store.Disband(id, req.Requester); err != nil {
		return fail(codeFor(err))
	}
	res := okResult("message.nation_disbanded", name)
	res.event.Nation, res.event.NationName, res.event.Destroyed = id, name, true
	for _, m := range members {
		if m.ID == req.Requester {
			continue
		}
		res.notices = append(res.notices, notice{to: m.ID, note: protocol.Notice{
			Key: "message.nation_disbanded", Args: []string{name},
		}})
	}
	return res
}

func (w *World) handleInvite(req protocol.Request) actionResult {
	n, rank, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	if !rank.Staff() {
		return fail(protocol.ErrNoPermission)
	}
	if req.Target == uuid.Nil {
		return fail(protocol.ErrTargetNotFound)
	}
	if n.IsMember(req.Target) {
		return fail(protocol.ErrAlreadyInNation)
	}
	if err := w.store.AddInvite(n.ID, req.Target); err != nil {
		return fail(codeFor(err))
	}
	res := okResult("message.invite_sent", req.Target.String(), n.Name)
	res.event.Nation, res.event.NationName, res.event.Target = n.ID, n.Name, req.Target
	res.notices = []notice{{to: req.Target, note: protocol.Notice{
		Key: "message.invite_received", Args: []string{n.Name, n.ID.String()},
	}}}
	return res
}

func (w *World) handleKick(req protocol.Request) actionResult {
	n, rank, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	tr, ok := target(n, req.Target)
	if !ok {
		return fail(protocol.ErrTargetNotFound)
	}
	if !rank.CanManage(tr) {
		return fail(protocol.ErrNoPermission)
	}
	id, name := n.ID, n.Name
	w.store.RemoveMember(req.Target)
	res := okResult("message.member_kicked", req.Target.String(), name)
	res.event.Nation, res.event.NationName, res.event.Target = id, name, req.Target
	res.notices = []notice{{to: req.Target, note: protocol.Notice{
		Key: "message.nation_left", Args: []string{name},
	}}}
	return res
}

func (w *World) handlePromote(req protocol.Request) actionResult {
	n, rank, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	if rank != model.RankLeader {
		return fail(protocol.ErrNoPermission)
	}
	tr, ok := target(n, req.Target)
	if !ok {
		return fail(protocol.ErrTargetNotFound)
	}
	var res actionResult
	switch tr {
	case model.RankRecruit:
		if err := w.store.SetRank(n.ID, req.Target, model.RankOfficer); err != nil {
			return fail(codeFor(err))
		}
		res = okResult("message.member_promoted", req.Target.String(), model.RankOfficer.String())
	case model.RankOfficer:
		// Promoting an officer hands over leadership; the old leader becomes an officer.
		if err := w.store.TransferLeadership(n.ID, req.Requester, req.Target); err != nil {
			return fail(codeFor(err))
		}
		res = okResult("message.leadership_transferred", req.Target.String())
	default:
		return fail(protocol.ErrNoPermission)
	}
	res.event.Nation, res.event.NationName, res.event.Target = n.ID, n.Name, req.Target
	newRank, _ := n.RankOf(req.Target)
	res.notices = []notice{{to: req.Target, note: protocol.Notice{
		Key: "message.rank_changed", Args: []string{n.Name, newRank.String()},
	}}}
	return res
}

func (w *World) handleDemote(req protocol.Request) actionResult {
	n, rank, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	if rank != model.RankLeader {
		return fail(protocol.ErrNoPermission)
	}
	tr, ok := target(n, req.Target)
	if !ok {
		return fail(protocol.ErrTargetNotFound)
	}
	switch tr {
	case model.RankLeader:
		return fail(protocol.ErrNoPermission)
	case model.RankRecruit:
		res := okResult("message.member_demoted", req.Target.String(), model.RankRecruit.String())
		res.changed = false
		return res
	}
	if err := w.store.SetRank(n.ID, req.Target, model.RankRecruit); err != nil {
		return fail(codeFor(err))
	}
	res := okResult("message.member_demoted", req.Target.String(), model.RankRecruit.String())
	res.event.Nation, res.event.NationName, res.event.Target = n.ID, n.Name, req.Target
	res.notices = []notice{{to: req.Target, note: protocol.Notice{
		Key: "message.rank_changed", Args: []string{n.Name, model.RankRecruit.String()},
	}}}
	return res
}

func (w *World) handleSetDiplomacy(req protocol.Request) actionResult {
	n, rank, ok := w.membership(req.Requester)
	if !ok {
		return fail(protocol.ErrNotInNation)
	}
	if !rank.Staff() {
		return fail(protocol.ErrNoPermission)
	}
	other, ok := w.store.Get(req.Nation)
	if !ok {
		return fail(protocol.ErrNationNotFound)
	}
	if err := w.store.SetDiplomacy(n.ID, other.ID, req.State); err != nil {
		return fail(codeFor(err))
	}
	res := okResult("message.diplomacy_set", other.Name, req.State.String())
	res.event.Nation, res.event.NationName = n.ID, n.Name
	res.event.Other, res.event.OtherName, res.event.State = other.ID, other.Name, req.State
	return res
}
