package wire

import (
	"encoding/binary"
	"fmt"
)

// Encode renders msg as a frame: 4-byte big-endian opcode followed by its
// schema-defined body (spec.md §6.1).
func Encode(msg Message) ([]byte, error) {
	w := newBinWriter()
	var err error
	switch m := msg.(type) {
	case FetchRequest:
		err = w.fetchQuery(m.Query)
		if err == nil {
			w.fetchCRDT(m.CRDT)
		}
	case FetchResponse:
		w.u8(uint8(m.Status))
		w.bytesArray(m.Result.Nodes)
		w.bytes(m.CRDTResult.Delta)
		w.u16(m.Seq)
		w.u16(m.EndSeq)
		w.u16(m.RowCount)
		w.string(m.Error)
	case StoreRequest:
		w.bytesArray(m.Nodes)
		w.bytes(m.SourcePublicKey)
		w.bytes(m.TargetPublicKey)
		w.bytesArray(m.MuteMsgIDs)
		w.bool(m.PreserveTransient)
		w.u32(m.BatchID)
		w.bool(m.HasMore)
	case StoreResponse:
		w.u8(uint8(m.Status))
		w.bytesArray(m.StoredID1List)
		w.bytesArray(m.MissingBlobID1List)
		w.i64Array(m.MissingBlobSizes)
		w.string(m.Error)
	case UnsubscribeRequest:
		w.bytes(m.OriginalMsgID)
		w.bytes(m.TargetPublicKey)
	case UnsubscribeResponse:
		w.u8(uint8(m.Status))
		w.string(m.Error)
	case WriteBlobRequest:
		w.bytes(m.NodeID1)
		w.u64(m.Pos)
		w.bytes(m.Data)
		w.bytes(m.SourcePublicKey)
		w.bytes(m.TargetPublicKey)
		w.bytesArray(m.MuteMsgIDs)
	case WriteBlobResponse:
		w.u8(uint8(m.Status))
		w.u64(m.CurrentLength)
		w.string(m.Error)
	case ReadBlobRequest:
		w.bytes(m.NodeID1)
		w.u64(m.Pos)
		w.u32(m.Length)
		w.bytes(m.TargetPublicKey)
		w.bytes(m.SourcePublicKey)
	case ReadBlobResponse:
		w.u8(uint8(m.Status))
		w.bytes(m.Data)
		w.u16(m.Seq)
		w.u16(m.EndSeq)
		w.u64(m.BlobLength)
		w.string(m.Error)
	case GenericMessageRequest:
		w.string(m.Action)
		w.bytes(m.SourcePublicKey)
		w.bytes(m.Data)
	case GenericMessageResponse:
		w.u8(uint8(m.Status))
		w.bytes(m.Data)
		w.string(m.Error)
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 4+len(w.buf))
	binary.BigEndian.PutUint32(frame, uint32(msg.Opcode()))
	copy(frame[4:], w.buf)
	return frame, nil
}

// Decode reads the leading opcode and dispatches to the matching variant's
// body decoder. It returns ErrUnknownOpcode for an opcode outside 1..12.
func Decode(data []byte) (Message, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	op := Opcode(binary.BigEndian.Uint32(data))
	body := data[4:]
	r := newBinReader(body)

	var msg Message
	switch op {
	case OpFetchRequest:
		q := r.fetchQuery()
		c := r.fetchCRDT()
		msg = FetchRequest{Query: q, CRDT: c}
	case OpFetchResponse:
		status := Status(r.u8())
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		nodes := r.bytesArray()
		delta := r.bytes()
		seq := r.u16()
		end := r.u16()
		rows := r.u16()
		errStr := r.string()
		msg = FetchResponse{Status: status, Result: FetchResult{Nodes: nodes}, CRDTResult: CRDTResult{Delta: delta}, Seq: seq, EndSeq: end, RowCount: rows, Error: errStr}
	case OpStoreRequest:
		nodes := r.bytesArray()
		src := r.bytes()
		tgt := r.bytes()
		mute := r.bytesArray()
		preserve := r.bool()
		batch := r.u32()
		hasMore := r.bool()
		msg = StoreRequest{Nodes: nodes, SourcePublicKey: src, TargetPublicKey: tgt, MuteMsgIDs: mute, PreserveTransient: preserve, BatchID: batch, HasMore: hasMore}
	case OpStoreResponse:
		status := Status(r.u8())
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		stored := r.bytesArray()
		missingBlobs := r.bytesArray()
		missingSizes := r.i64Array()
		errStr := r.string()
		msg = StoreResponse{Status: status, StoredID1List: stored, MissingBlobID1List: missingBlobs, MissingBlobSizes: missingSizes, Error: errStr}
	case OpUnsubscribeRequest:
		orig := r.bytes()
		tgt := r.bytes()
		msg = UnsubscribeRequest{OriginalMsgID: orig, TargetPublicKey: tgt}
	case OpUnsubscribeResponse:
		status := Status(r.u8())
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		errStr := r.string()
		msg = UnsubscribeResponse{Status: status, Error: errStr}
	case OpWriteBlobRequest:
		id := r.bytes()
		pos := r.u64()
		data := r.bytes()
		src := r.bytes()
		tgt := r.bytes()
		mute := r.bytesArray()
		msg = WriteBlobRequest{NodeID1: id, Pos: pos, Data: data, SourcePublicKey: src, TargetPublicKey: tgt, MuteMsgIDs: mute}
	case OpWriteBlobResponse:
		status := Status(r.u8())
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		cur := r.u64()
		errStr := r.string()
		msg = WriteBlobResponse{Status: status, CurrentLength: cur, Error: errStr}
	case OpReadBlobRequest:
		id := r.bytes()
		pos := r.u64()
		length := r.u32()
		tgt := r.bytes()
		src := r.bytes()
		msg = ReadBlobRequest{NodeID1: id, Pos: pos, Length: length, TargetPublicKey: tgt, SourcePublicKey: src}
	case OpReadBlobResponse:
		status := Status(r.u8())
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		data := r.bytes()
		seq := r.u16()
		end := r.u16()
		blobLen := r.u64()
		errStr := r.string()
		msg = ReadBlobResponse{Status: status, Data: data, Seq: seq, EndSeq: end, BlobLength: blobLen, Error: errStr}
	case OpGenericMessageRequest:
		action := r.string()
		src := r.bytes()
		data := r.bytes()
		msg = GenericMessageRequest{Action: action, SourcePublicKey: src, Data: data}
	case OpGenericMessageResponse:
		status := Status(r.u8())
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		data := r.bytes()
		errStr := r.string()
		msg = GenericMessageResponse{Status: status, Data: data, Error: errStr}
	default:
		return nil, ErrUnknownOpcode
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	if msg.Opcode() != op {
		return nil, ErrWrongOpcode
	}
	return msg, nil
}
