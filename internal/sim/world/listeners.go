package world

import (
	"github.com/google/uuid"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
)

// Event describes an applied mutation to listeners.
type Event struct {
	Op         protocol.Op
	Requester  uuid.UUID
	Nation     uuid.UUID
	NationName string
	Color      model.Color
	Target     uuid.UUID

	// Set by SetDiplomacy.
	Other     uuid.UUID
	OtherName string
	State     model.Diplomacy

	Destroyed bool
	Promoted  uuid.UUID
}

// Listeners opt into the callbacks they implement. Callbacks run on the world
// loop and must not block.
type (
	NationLifecycleListener interface {
		NationCreated(e Event)
		NationDestroyed(e Event)
	}
	MembershipListener interface {
		MembershipChanged(e Event)
	}
	DiplomacyListener interface {
		DiplomacyChanged(e Event)
	}
)

type listeners struct {
	lifecycle  []NationLifecycleListener
	membership []MembershipListener
	diplomacy  []DiplomacyListener
}

// AddListener registers l for every capability it provides and reports how many
// matched. A value with no known capability is ignored.
func (w *World) AddListener(l any) int {
	n := 0
	if v, ok := l.(NationLifecycleListener); ok {
		w.listeners.lifecycle = append(w.listeners.lifecycle, v)
		n++
	}
	if v, ok := l.(MembershipListener); ok {
		w.listeners.membership = append(w.listeners.membership, v)
		n++
	}
	if v, ok := l.(DiplomacyListener); ok {
		w.listeners.diplomacy = append(w.listeners.diplomacy, v)
		n++
	}
	if n == 0 {
		w.log.Warnf("listener %T provides no known capability", l)
	}
	return n
}

func (ls *listeners) dispatch(e Event) {
	switch e.Op {
	case protocol.OpCreate:
		for _, l := range ls.lifecycle {
			l.NationCreated(e)
		}
	case protocol.OpDisband:
		for _, l := range ls.lifecycle {
			l.NationDestroyed(e)
		}
	case protocol.OpSetDiplomacy:
		for _, l := range ls.diplomacy {
			l.DiplomacyChanged(e)
		}
	case protocol.OpJoin, protocol.OpLeave, protocol.OpKick, protocol.OpPromote, protocol.OpDemote:
		for _, l := range ls.membership {
			l.MembershipChanged(e)
		}
		if e.Destroyed {
			for _, l := range ls.lifecycle {
				l.NationDestroyed(e)
			}
		}
	}
}
