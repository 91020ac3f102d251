package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Kind is the first byte of every binary server frame.
type Kind uint8

const (
	KindSnapshot Kind = 1
	KindOutcome  Kind = 2
	KindNotice   Kind = 3
)

// Frame flags, second byte.
const (
	FlagLZ4 uint8 = 1 << 0
)

const (
	// CompressThreshold is the body size above which frames are lz4 compressed.
	CompressThreshold = 4 << 10
	// MaxFrameBytes bounds a decompressed body.
	MaxFrameBytes = 16 << 20
)

// Frame is a decoded server frame. Exactly one of the payload fields is set.
type Frame struct {
	Kind     Kind
	Snapshot *Snapshot
	Outcome  *Outcome
	Notice   *Notice
}

// Outcome answers one request. Code is CodeOK on success.
type Outcome struct {
	Seq  uint64
	Op   Op
	Code string
	Key  string
	Args []string
}

func (o Outcome) OK() bool { return o.Code == CodeOK }

// Notice is an unsolicited message for one identity (invited, kicked).
type Notice struct {
	Key  string
	Args []string
}

func EncodeSnapshotFrame(s Snapshot) ([]byte, error) {
	body, err := encodeSnapshot(s)
	if err != nil {
		return nil, err
	}
	return seal(KindSnapshot, body)
}

func EncodeOutcomeFrame(o Outcome) ([]byte, error) {
	var w writer
	w.varint(o.Seq)
	w.varint(uint64(o.Op))
	w.str(o.Code)
	w.str(o.Key)
	w.strs(o.Args)
	return seal(KindOutcome, w.b)
}

func EncodeNoticeFrame(n Notice) ([]byte, error) {
	var w writer
	w.str(n.Key)
	w.strs(n.Args)
	return seal(KindNotice, w.b)
}

func seal(kind Kind, body []byte) ([]byte, error) {
	if len(body) > MaxFrameBytes {
		return nil, fmt.Errorf("frame body %d bytes exceeds %d", len(body), MaxFrameBytes)
	}
	flags := uint8(0)
	if len(body) > CompressThreshold {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		if buf.Len() < len(body) {
			body = buf.Bytes()
			flags |= FlagLZ4
		}
	}
	out := make([]byte, 0, 2+len(body))
	out = append(out, byte(kind), flags)
	return append(out, body...), nil
}

// DecodeFrame parses one binary server frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < 2 {
		return Frame{}, fmt.Errorf("%w: short frame", ErrMalformed)
	}
	f := Frame{Kind: Kind(b[0])}
	flags, body := b[1], b[2:]
	if flags&^FlagLZ4 != 0 {
		return f, fmt.Errorf("%w: flags %#x", ErrMalformed, flags)
	}
	if flags&FlagLZ4 != 0 {
		zr := lz4.NewReader(bytes.NewReader(body))
		raw, err := io.ReadAll(io.LimitReader(zr, MaxFrameBytes+1))
		if err != nil {
			return f, fmt.Errorf("%w: lz4: %v", ErrMalformed, err)
		}
		if len(raw) > MaxFrameBytes {
			return f, fmt.Errorf("%w: frame too large", ErrMalformed)
		}
		body = raw
	}
	r := reader{b: body}
	switch f.Kind {
	case KindSnapshot:
		s, err := decodeSnapshot(&r)
		if err != nil {
			return f, err
		}
		f.Snapshot = &s
	case KindOutcome:
		var o Outcome
		o.Seq = r.varint()
		o.Op = Op(r.varint())
		o.Code = r.str(64)
		o.Key = r.str(128)
		o.Args = r.strs(16, 256)
		f.Outcome = &o
	case KindNotice:
		var n Notice
		n.Key = r.str(128)
		n.Args = r.strs(16, 256)
		f.Notice = &n
	default:
		return f, fmt.Errorf("%w: kind %d", ErrMalformed, f.Kind)
	}
	if r.err != nil {
		return f, r.err
	}
	if len(r.b) != 0 {
		return f, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.b))
	}
	return f, nil
}
