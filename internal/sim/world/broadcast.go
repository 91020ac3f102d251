package world

import (
	"github.com/google/uuid"
	"github.com/samber/lo"

	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/nation/model"
	"nationcraft.ai/internal/sim/nation/store"
)

// BuildSnapshot serializes the whole store into the client read model.
func BuildSnapshot(st *store.Store) protocol.Snapshot {
	return protocol.Snapshot{
		Version: st.Version(),
		Nations: lo.Map(st.Nations(), func(n *model.Nation, _ int) protocol.NationState {
			return nationState(n)
		}),
		Index: st.MemberIndex(),
	}
}

func nationState(n *model.Nation) protocol.NationState {
	d := n.DiplomacyEntries()
	ids := model.SortIDs(lo.Keys(d))
	return protocol.NationState{
		ID:          n.ID,
		Name:        n.Name,
		Color:       n.Color,
		Description: n.Description,
		Members:     n.Members(),
		Diplomacy: lo.Map(ids, func(id uuid.UUID, _ int) protocol.Relation {
			return protocol.Relation{Nation: id, State: d[id]}
		}),
		Invites: n.Invites(),
	}
}

// publish rebuilds the read view and the cached snapshot frame.
func (w *World) publish() {
	s := BuildSnapshot(w.store)
	b, err := protocol.EncodeSnapshotFrame(s)
	if err != nil {
		w.log.WithError(err).Error("encode snapshot")
	} else {
		w.frame = b
	}
	w.view.Replace(s)
}

// broadcast pushes the cached frame to every connected session.
func (w *World) broadcast() {
	if w.frame == nil {
		return
	}
	for _, c := range w.clients {
		sendLatest(c.Out, w.frame)
	}
	w.counters.broadcasts.Add(1)
}

// notify sends a notice to every session of identity, if any are connected.
func (w *World) notify(identity uuid.UUID, n protocol.Notice) {
	var b []byte
	for _, c := range w.clients {
		if c.Identity != identity {
			continue
		}
		if b == nil {
			var err error
			if b, err = protocol.EncodeNoticeFrame(n); err != nil {
				w.log.WithError(err).Error("encode notice")
				return
			}
		}
		if !trySend(c.Out, b) {
			w.counters.dropped.Add(1)
		}
	}
}
