package wire

import (
	"encoding/binary"
	"strconv"
)

// binWriter appends a big-endian binary body; it never fails (all writes
// are length-prefixed appends to a growable buffer).
type binWriter struct {
	buf []byte
}

func newBinWriter() *binWriter { return &binWriter{buf: make([]byte, 0, 256)} }

func (w *binWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *binWriter) bool(v bool)  { if v { w.u8(1) } else { w.u8(0) } }

func (w *binWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) i32(v int32) { w.u32(uint32(v)) }
func (w *binWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *binWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binWriter) string(s string) { w.bytes([]byte(s)) }

func (w *binWriter) bytesArray(bs [][]byte) {
	w.u32(uint32(len(bs)))
	for _, b := range bs {
		w.bytes(b)
	}
}

func (w *binWriter) u16Array(vs []uint16) {
	w.u32(uint32(len(vs)))
	for _, v := range vs {
		w.u16(v)
	}
}

func (w *binWriter) i64Array(vs []int64) {
	w.u32(uint32(len(vs)))
	for _, v := range vs {
		w.i64(v)
	}
}

func (w *binWriter) filter(f Filter) error {
	w.string(f.Field)
	w.string(f.Operator)
	w.string(f.Cmp.String())
	val, err := EncodeFilterValue(f.Value)
	if err != nil {
		return err
	}
	w.bytes(val)
	return nil
}

func (w *binWriter) filters(fs []Filter) error {
	w.u32(uint32(len(fs)))
	for _, f := range fs {
		if err := w.filter(f); err != nil {
			return err
		}
	}
	return nil
}

func (w *binWriter) limitField(lf LimitField) {
	w.string(lf.Name)
	w.i32(lf.Limit)
}

func (w *binWriter) match(m Match) error {
	w.bytes(m.NodeType)
	if err := w.filters(m.Filters); err != nil {
		return err
	}
	w.i32(m.Limit)
	w.limitField(m.LimitField)
	w.u16Array(m.Level)
	w.bool(m.Discard)
	w.bool(m.Bottom)
	w.u8(m.ID)
	w.u8(m.RequireID)
	w.bytes(m.CursorID1)
	return nil
}

func (w *binWriter) matches(ms []Match) error {
	w.u32(uint32(len(ms)))
	for _, m := range ms {
		if err := w.match(m); err != nil {
			return err
		}
	}
	return nil
}

func (w *binWriter) allowEmbed(a AllowEmbed) error {
	w.bytes(a.NodeType)
	return w.filters(a.Filters)
}

func (w *binWriter) allowEmbeds(as []AllowEmbed) error {
	w.u32(uint32(len(as)))
	for _, a := range as {
		if err := w.allowEmbed(a); err != nil {
			return err
		}
	}
	return nil
}

func (w *binWriter) fetchQuery(q FetchQuery) error {
	w.i32(q.Depth)
	w.i32(q.Limit)
	w.u64(q.CutoffTime)
	w.bytes(q.RootNodeID1)
	w.bool(q.DiscardRoot)
	w.bytes(q.ParentID)
	w.bytes(q.TargetPublicKey)
	w.bytes(q.SourcePublicKey)
	if err := w.matches(q.Match); err != nil {
		return err
	}
	if err := w.allowEmbeds(q.AllowEmbed); err != nil {
		return err
	}
	w.bytes(q.TriggerNodeID)
	w.u16(q.TriggerInterval)
	w.bool(q.OnlyTrigger)
	w.bool(q.Descending)
	w.bool(q.OrderByStorageTime)
	w.bool(q.IgnoreInactive)
	w.bool(q.IgnoreOwn)
	w.bool(q.PreserveTransient)
	w.string(q.Region)
	w.string(q.Jurisdiction)
	w.string(strconv.Itoa(int(q.IncludeLicenses)))
	return nil
}

func (w *binWriter) fetchCRDT(c FetchCRDT) {
	w.u8(CRDTAlgoTag[c.Algo])
	w.string(c.Conf)
	w.bytes(c.MsgID)
	w.bool(c.Reverse)
	w.i32(c.Head)
	w.i32(c.Tail)
	w.bytes(c.CursorID1)
	w.i32(c.CursorIndex)
}
