package world

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
)

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// AuditEntry records one request and its outcome, accepted or not. Accepted entries
// carry enough of the request to be replayed. For SET_DIPLOMACY, Nation is the
// requester's nation and Target the other one.
type AuditEntry struct {
	Version   uint64    `json:"version"`
	Time      time.Time `json:"time"`
	Requester string    `json:"requester"`
	Op        string    `json:"op"`
	Nation    string    `json:"nation,omitempty"`
	Target    string    `json:"target,omitempty"`
	Name      string    `json:"name,omitempty"`
	Color     string    `json:"color,omitempty"`
	State     string    `json:"state,omitempty"`
	Code      string    `json:"code,omitempty"`
	Args      []string  `json:"args,omitempty"`
}

func (e AuditEntry) Accepted() bool { return e.Code == protocol.CodeOK }

// Request rebuilds the request an entry was recorded from. Seq is not kept.
func (e AuditEntry) Request() (protocol.Request, error) {
	op, ok := protocol.ParseOp(e.Op)
	if !ok {
		return protocol.Request{}, fmt.Errorf("audit v%d: unknown op %q", e.Version, e.Op)
	}
	req := protocol.Request{Op: op}
	var err error
	if req.Requester, err = uuid.Parse(e.Requester); err != nil {
		return req, fmt.Errorf("audit v%d: requester: %w", e.Version, err)
	}
	parse := func(field, s string) uuid.UUID {
		if err != nil {
			return uuid.Nil
		}
		var id uuid.UUID
		if id, err = uuid.Parse(s); err != nil {
			err = fmt.Errorf("audit v%d: %s: %w", e.Version, field, err)
		}
		return id
	}
	switch op {
	case protocol.OpCreate:
		req.Name, req.Color = e.Name, model.ColorOr(e.Color, model.ColorWhite)
	case protocol.OpJoin:
		req.Nation = parse("nation", e.Nation)
	case protocol.OpInvite, protocol.OpKick, protocol.OpPromote, protocol.OpDemote:
		req.Target = parse("target", e.Target)
	case protocol.OpSetDiplomacy:
		req.Nation = parse("target", e.Target)
		st, ok := model.ParseDiplomacy(e.State)
		if !ok && err == nil {
			err = fmt.Errorf("audit v%d: unknown state %q", e.Version, e.State)
		}
		req.State = st
	}
	return req, err
}

// AuditLoggers fans one entry out to several sinks.
type AuditLoggers []AuditLogger

func (ls AuditLoggers) WriteAudit(e AuditEntry) error {
	var errs []error
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.WriteAudit(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *World) audit(req protocol.Request, res actionResult) {
	if w.auditLogger == nil {
		return
	}
	e := AuditEntry{
		Version:   w.store.Version(),
		Time:      w.now().UTC(),
		Requester: req.Requester.String(),
		Op:        req.Op.String(),
		Code:      res.code,
		Args:      res.args,
	}
	if res.event.Nation != uuid.Nil {
		e.Nation = res.event.Nation.String()
	} else if req.Nation != uuid.Nil && req.Op != protocol.OpSetDiplomacy {
		e.Nation = req.Nation.String()
	}
	if req.Target != uuid.Nil {
		e.Target = req.Target.String()
	}
	switch req.Op {
	case protocol.OpCreate:
		e.Name, e.Color = req.Name, req.Color.String()
	case protocol.OpSetDiplomacy:
		e.State = req.State.String()
		if req.Nation != uuid.Nil {
			e.Target = req.Nation.String()
		}
	}
	if err := w.auditLogger.WriteAudit(e); err != nil {
		w.log.WithError(err).Error("audit write failed")
	}
}
