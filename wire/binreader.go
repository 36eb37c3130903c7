package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// binReader sequentially consumes a big-endian binary buffer, tracking the
// first error encountered so call sites can chain reads without checking
// err after every call (mirrors the teacher's style of deferring error
// checks to a single point, e.g. core/storage.go's diskLRU helpers).
type binReader struct {
	buf []byte
	pos int
	err error
}

func newBinReader(b []byte) *binReader { return &binReader{buf: b} }

func (r *binReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *binReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.fail(ErrTruncated)
		return false
	}
	return true
}

func (r *binReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *binReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *binReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *binReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *binReader) i32() int32 { return int32(r.u32()) }
func (r *binReader) i64() int64 { return int64(r.u64()) }

func (r *binReader) bool() bool { return r.u8() != 0 }

func (r *binReader) bytes() []byte {
	n := r.u32()
	if !r.need(int(n)) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b
}

func (r *binReader) string() string { return string(r.bytes()) }

func (r *binReader) bytesArray() [][]byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = r.bytes()
	}
	return out
}

func (r *binReader) u16Array() []uint16 {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = r.u16()
	}
	return out
}

func (r *binReader) i64Array() []int64 {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = r.i64()
	}
	return out
}

func (r *binReader) filter() Filter {
	f := Filter{}
	f.Field = r.string()
	f.Operator = r.string()
	cmp := r.string()
	f.Cmp = ParseCMP(cmp)
	valBytes := r.bytes()
	if r.err == nil {
		fv, err := DecodeFilterValue(valBytes)
		if err != nil {
			r.fail(err)
		} else {
			f.Value = fv
		}
	}
	return f
}

func (r *binReader) filters() []Filter {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([]Filter, n)
	for i := range out {
		out[i] = r.filter()
	}
	return out
}

func (r *binReader) limitField() LimitField {
	return LimitField{Name: r.string(), Limit: r.i32()}
}

func (r *binReader) match() Match {
	m := Match{}
	m.NodeType = r.bytes()
	m.Filters = r.filters()
	m.Limit = r.i32()
	m.LimitField = r.limitField()
	m.Level = r.u16Array()
	m.Discard = r.bool()
	m.Bottom = r.bool()
	m.ID = r.u8()
	m.RequireID = r.u8()
	m.CursorID1 = r.bytes()
	return m
}

func (r *binReader) matches() []Match {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([]Match, n)
	for i := range out {
		out[i] = r.match()
	}
	return out
}

func (r *binReader) allowEmbed() AllowEmbed {
	return AllowEmbed{NodeType: r.bytes(), Filters: r.filters()}
}

func (r *binReader) allowEmbeds() []AllowEmbed {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([]AllowEmbed, n)
	for i := range out {
		out[i] = r.allowEmbed()
	}
	return out
}

func (r *binReader) fetchQuery() FetchQuery {
	q := FetchQuery{}
	q.Depth = r.i32()
	q.Limit = r.i32()
	q.CutoffTime = r.u64()
	q.RootNodeID1 = r.bytes()
	q.DiscardRoot = r.bool()
	q.ParentID = r.bytes()
	q.TargetPublicKey = r.bytes()
	q.SourcePublicKey = r.bytes()
	q.Match = r.matches()
	q.AllowEmbed = r.allowEmbeds()
	q.TriggerNodeID = r.bytes()
	q.TriggerInterval = r.u16()
	q.OnlyTrigger = r.bool()
	q.Descending = r.bool()
	q.OrderByStorageTime = r.bool()
	q.IgnoreInactive = r.bool()
	q.IgnoreOwn = r.bool()
	q.PreserveTransient = r.bool()
	q.Region = r.string()
	q.Jurisdiction = r.string()
	if s := r.string(); r.err == nil {
		n, err := strconv.Atoi(s)
		if err != nil {
			r.fail(ErrMalformedBody)
		} else {
			q.IncludeLicenses = IncludeLicenses(n)
		}
	}
	return q
}

func (r *binReader) fetchCRDT() FetchCRDT {
	c := FetchCRDT{}
	c.Algo = CRDTAlgoName(r.u8())
	c.Conf = r.string()
	c.MsgID = r.bytes()
	c.Reverse = r.bool()
	c.Head = r.i32()
	c.Tail = r.i32()
	c.CursorID1 = r.bytes()
	c.CursorIndex = r.i32()
	return c
}

func (r *binReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedBody, len(r.buf)-r.pos)
	}
	return nil
}
