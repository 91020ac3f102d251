package protocol

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

type writer struct{ b []byte }

func (w *writer) varint(v uint64) { w.b = protowire.AppendVarint(w.b, v) }
func (w *writer) str(s string)    { w.b = protowire.AppendString(w.b, s) }
func (w *writer) id(id uuid.UUID) { w.b = append(w.b, id[:]...) }

func (w *writer) strs(ss []string) {
	w.varint(uint64(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

// reader latches the first error; later reads return zero values.
type reader struct {
	b   []byte
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

func (r *reader) varint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail("varint: %v", protowire.ParseError(n))
		return 0
	}
	r.b = r.b[n:]
	return v
}

// count reads an element count and rejects counts the remaining bytes cannot hold.
func (r *reader) count(minElem int) int {
	v := r.varint()
	if r.err != nil {
		return 0
	}
	if minElem < 1 {
		minElem = 1
	}
	if v > uint64(len(r.b)/minElem) {
		r.fail("count %d exceeds remaining %d bytes", v, len(r.b))
		return 0
	}
	return int(v)
}

func (r *reader) byte8() uint8 {
	v := r.varint()
	if v > 255 {
		r.fail("enum %d out of range", v)
		return 0
	}
	return uint8(v)
}

// str reads a length-prefixed UTF-8 string of at most maxRunes runes.
func (r *reader) str(maxRunes int) string {
	if r.err != nil {
		return ""
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail("string: %v", protowire.ParseError(n))
		return ""
	}
	if len(v) > maxRunes*utf8.UTFMax || !utf8.Valid(v) || utf8.RuneCount(v) > maxRunes {
		r.fail("string exceeds %d runes", maxRunes)
		return ""
	}
	r.b = r.b[n:]
	return string(v)
}

func (r *reader) strs(maxCount, maxRunes int) []string {
	n := r.count(1)
	if n > maxCount {
		r.fail("%d strings exceeds %d", n, maxCount)
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.str(maxRunes))
	}
	return out
}

func (r *reader) id() uuid.UUID {
	if r.err != nil {
		return uuid.Nil
	}
	if len(r.b) < 16 {
		r.fail("short uuid")
		return uuid.Nil
	}
	var id uuid.UUID
	copy(id[:], r.b[:16])
	r.b = r.b[16:]
	return id
}
