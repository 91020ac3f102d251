package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"nationcraft.ai/internal/sim/nation/model"
)

// ErrMalformed marks a frame that cannot be decoded. Such frames are dropped.
var ErrMalformed = errors.New("malformed frame")

// Op is the stable integer key of a mutation request.
type Op uint8

const (
	OpCreate       Op = 1
	OpJoin         Op = 2
	OpLeave        Op = 3
	OpDisband      Op = 4
	OpInvite       Op = 5
	OpKick         Op = 6
	OpPromote      Op = 7
	OpDemote       Op = 8
	OpSetDiplomacy Op = 9
)

var opNames = map[Op]string{
	OpCreate:       "CREATE",
	OpJoin:         "JOIN",
	OpLeave:        "LEAVE",
	OpDisband:      "DISBAND",
	OpInvite:       "INVITE",
	OpKick:         "KICK",
	OpPromote:      "PROMOTE",
	OpDemote:       "DEMOTE",
	OpSetDiplomacy: "SET_DIPLOMACY",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("OP_%d", uint8(o))
}

// ParseOp is the inverse of Op.String for known ops.
func ParseOp(s string) (Op, bool) {
	for o, n := range opNames {
		if n == s {
			return o, true
		}
	}
	return 0, false
}

func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// MaxRequestNameBytes caps the name carried by a Create request. Lengths between
// model.NameMaxLen runes and this cap reach the handler and come back as NameTooLong.
const MaxRequestNameBytes = 256

// Request is one decoded mutation. Requester is never on the wire; the transport
// fills it from the authenticated connection.
type Request struct {
	Seq       uint64
	Op        Op
	Requester uuid.UUID

	Name   string
	Color  model.Color
	Nation uuid.UUID
	Target uuid.UUID
	State  model.Diplomacy
}

// Request field numbers.
const (
	fieldSeq    protowire.Number = 1
	fieldOp     protowire.Number = 2
	fieldName   protowire.Number = 3
	fieldColor  protowire.Number = 4
	fieldNation protowire.Number = 5
	fieldTarget protowire.Number = 6
	fieldState  protowire.Number = 7
)

// EncodeRequest writes only the fields op uses.
func EncodeRequest(r Request) []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Seq)
	b = protowire.AppendTag(b, fieldOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Op))
	switch r.Op {
	case OpCreate:
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, r.Name)
		b = protowire.AppendTag(b, fieldColor, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Color))
	case OpJoin:
		b = appendUUIDField(b, fieldNation, r.Nation)
	case OpInvite, OpKick, OpPromote, OpDemote:
		b = appendUUIDField(b, fieldTarget, r.Target)
	case OpSetDiplomacy:
		b = appendUUIDField(b, fieldNation, r.Nation)
		b = protowire.AppendTag(b, fieldState, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.State))
	}
	return b
}

func appendUUIDField(b []byte, num protowire.Number, id uuid.UUID) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

// DecodeRequest parses a request frame. Unknown fields are skipped; missing or
// out-of-range fields required by the op yield ErrMalformed.
func DecodeRequest(b []byte) (Request, error) {
	var r Request
	var seen = map[protowire.Number]bool{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && (num == fieldSeq || num == fieldOp || num == fieldColor || num == fieldState):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSeq:
				r.Seq = v
			case fieldOp:
				if v > 255 || !Op(v).Valid() {
					return r, fmt.Errorf("%w: op %d", ErrMalformed, v)
				}
				r.Op = Op(v)
			case fieldColor:
				if v > 255 || !model.Color(v).Valid() {
					return r, fmt.Errorf("%w: color %d", ErrMalformed, v)
				}
				r.Color = model.Color(v)
			case fieldState:
				if v > 255 || !model.Diplomacy(v).Valid() {
					return r, fmt.Errorf("%w: diplomacy %d", ErrMalformed, v)
				}
				r.State = model.Diplomacy(v)
			}
			seen[num] = true
		case typ == protowire.BytesType && (num == fieldName || num == fieldNation || num == fieldTarget):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldName:
				if len(v) > MaxRequestNameBytes || !utf8.Valid(v) {
					return r, fmt.Errorf("%w: name", ErrMalformed)
				}
				r.Name = string(v)
			case fieldNation, fieldTarget:
				id, err := uuid.FromBytes(v)
				if err != nil {
					return r, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, err)
				}
				if num == fieldNation {
					r.Nation = id
				} else {
					r.Target = id
				}
			}
			seen[num] = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !seen[fieldOp] {
		return r, fmt.Errorf("%w: missing op", ErrMalformed)
	}
	var need []protowire.Number
	switch r.Op {
	case OpCreate:
		need = []protowire.Number{fieldName}
	case OpJoin:
		need = []protowire.Number{fieldNation}
	case OpInvite, OpKick, OpPromote, OpDemote:
		need = []protowire.Number{fieldTarget}
	case OpSetDiplomacy:
		need = []protowire.Number{fieldNation, fieldState}
	}
	for _, f := range need {
		if !seen[f] {
			return r, fmt.Errorf("%w: %s missing field %d", ErrMalformed, r.Op, f)
		}
	}
	if r.Op == OpCreate && !seen[fieldColor] {
		r.Color = model.ColorBlue
	}
	return r, nil
}
