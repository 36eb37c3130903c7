package wire

import (
	"encoding/json"
	"fmt"
)

// --- Filter -----------------------------------------------------------

type jsonFilter struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Cmp      string      `json:"cmp"`
	Value    interface{} `json:"value,omitempty"`
}

func filterToJSON(f Filter) jsonFilter {
	jf := jsonFilter{Field: f.Field, Operator: f.Operator, Cmp: f.Cmp.String()}
	switch f.Value.Kind {
	case FilterValueString:
		jf.Value = f.Value.Str
	case FilterValueNumber:
		jf.Value = f.Value.Num
	case FilterValueBytes:
		octets := make([]int, len(f.Value.Bytes))
		for i, b := range f.Value.Bytes {
			octets[i] = int(b)
		}
		jf.Value = octets
	}
	return jf
}

func filterFromJSON(jf jsonFilter) (Filter, error) {
	f := Filter{Field: jf.Field, Operator: jf.Operator, Cmp: ParseCMP(jf.Cmp)}
	switch v := jf.Value.(type) {
	case nil:
		f.Value = FilterValue{Kind: FilterValueAbsent}
	case string:
		f.Value = FilterValue{Kind: FilterValueString, Str: v}
	case float64:
		f.Value = FilterValue{Kind: FilterValueNumber, Num: v}
	case []interface{}:
		b := make([]byte, len(v))
		for i, el := range v {
			n, ok := el.(float64)
			if !ok {
				return Filter{}, ErrMalformedBody
			}
			b[i] = byte(int(n))
		}
		f.Value = FilterValue{Kind: FilterValueBytes, Bytes: b}
	default:
		return Filter{}, ErrMalformedBody
	}
	return f, nil
}

func filtersToJSON(fs []Filter) []jsonFilter {
	out := make([]jsonFilter, len(fs))
	for i, f := range fs {
		out[i] = filterToJSON(f)
	}
	return out
}

func filtersFromJSON(jfs []jsonFilter) ([]Filter, error) {
	out := make([]Filter, len(jfs))
	for i, jf := range jfs {
		f, err := filterFromJSON(jf)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// --- Match / AllowEmbed -------------------------------------------------

type jsonLimitField struct {
	Name  string `json:"name,omitempty"`
	Limit int32  `json:"limit,omitempty"`
}

type jsonMatch struct {
	NodeType   HexBytes       `json:"nodeType,omitempty"`
	Filters    []jsonFilter   `json:"filters,omitempty"`
	Limit      int32          `json:"limit,omitempty"`
	LimitField jsonLimitField `json:"limitField,omitempty"`
	Level      []uint16       `json:"level,omitempty"`
	Discard    bool           `json:"discard,omitempty"`
	Bottom     bool           `json:"bottom,omitempty"`
	ID         uint8          `json:"id,omitempty"`
	RequireID  uint8          `json:"requireId,omitempty"`
	CursorID1  HexBytes       `json:"cursorId1,omitempty"`
}

func matchToJSON(m Match) (jsonMatch, error) {
	return jsonMatch{
		NodeType:   HexBytes(m.NodeType),
		Filters:    filtersToJSON(m.Filters),
		Limit:      m.Limit,
		LimitField: jsonLimitField{Name: m.LimitField.Name, Limit: m.LimitField.Limit},
		Level:      m.Level,
		Discard:    m.Discard,
		Bottom:     m.Bottom,
		ID:         m.ID,
		RequireID:  m.RequireID,
		CursorID1:  HexBytes(m.CursorID1),
	}, nil
}

func matchFromJSON(jm jsonMatch) (Match, error) {
	filters, err := filtersFromJSON(jm.Filters)
	if err != nil {
		return Match{}, err
	}
	return Match{
		NodeType:   []byte(jm.NodeType),
		Filters:    filters,
		Limit:      jm.Limit,
		LimitField: LimitField{Name: jm.LimitField.Name, Limit: jm.LimitField.Limit},
		Level:      jm.Level,
		Discard:    jm.Discard,
		Bottom:     jm.Bottom,
		ID:         jm.ID,
		RequireID:  jm.RequireID,
		CursorID1:  []byte(jm.CursorID1),
	}, nil
}

type jsonAllowEmbed struct {
	NodeType HexBytes     `json:"nodeType,omitempty"`
	Filters  []jsonFilter `json:"filters,omitempty"`
}

func allowEmbedToJSON(a AllowEmbed) jsonAllowEmbed {
	return jsonAllowEmbed{NodeType: HexBytes(a.NodeType), Filters: filtersToJSON(a.Filters)}
}

func allowEmbedFromJSON(ja jsonAllowEmbed) (AllowEmbed, error) {
	filters, err := filtersFromJSON(ja.Filters)
	if err != nil {
		return AllowEmbed{}, err
	}
	return AllowEmbed{NodeType: []byte(ja.NodeType), Filters: filters}, nil
}

// --- FetchQuery / FetchCRDT ---------------------------------------------

type jsonFetchQuery struct {
	Depth              int32            `json:"depth"`
	Limit              int32            `json:"limit"`
	CutoffTime         uint64           `json:"cutoffTime,omitempty"`
	RootNodeID1        HexBytes         `json:"rootNodeId1,omitempty"`
	DiscardRoot        bool             `json:"discardRoot,omitempty"`
	ParentID           HexBytes         `json:"parentId,omitempty"`
	TargetPublicKey    HexBytes         `json:"targetPublicKey,omitempty"`
	SourcePublicKey    HexBytes         `json:"sourcePublicKey,omitempty"`
	Match              []jsonMatch      `json:"match,omitempty"`
	AllowEmbed         []jsonAllowEmbed `json:"embed,omitempty"`
	TriggerNodeID      HexBytes         `json:"triggerNodeId,omitempty"`
	TriggerInterval    uint16           `json:"triggerInterval,omitempty"`
	OnlyTrigger        bool             `json:"onlyTrigger,omitempty"`
	Descending         bool             `json:"descending,omitempty"`
	OrderByStorageTime bool             `json:"orderByStorageTime,omitempty"`
	IgnoreInactive     bool             `json:"ignoreInactive,omitempty"`
	IgnoreOwn          bool             `json:"ignoreOwn,omitempty"`
	PreserveTransient  bool             `json:"preserveTransient,omitempty"`
	Region             string           `json:"region,omitempty"`
	Jurisdiction       string           `json:"jurisdiction,omitempty"`
	IncludeLicenses    uint8            `json:"includeLicenses,omitempty"`
}

func fetchQueryToJSON(q FetchQuery) (jsonFetchQuery, error) {
	jq := jsonFetchQuery{
		Depth: q.Depth, Limit: q.Limit, CutoffTime: q.CutoffTime,
		RootNodeID1: HexBytes(q.RootNodeID1), DiscardRoot: q.DiscardRoot,
		ParentID: HexBytes(q.ParentID), TargetPublicKey: HexBytes(q.TargetPublicKey),
		SourcePublicKey: HexBytes(q.SourcePublicKey),
		AllowEmbed:      make([]jsonAllowEmbed, len(q.AllowEmbed)),
		TriggerNodeID:   HexBytes(q.TriggerNodeID), TriggerInterval: q.TriggerInterval,
		OnlyTrigger: q.OnlyTrigger, Descending: q.Descending, OrderByStorageTime: q.OrderByStorageTime,
		IgnoreInactive: q.IgnoreInactive, IgnoreOwn: q.IgnoreOwn, PreserveTransient: q.PreserveTransient,
		Region: q.Region, Jurisdiction: q.Jurisdiction, IncludeLicenses: uint8(q.IncludeLicenses),
	}
	jq.Match = make([]jsonMatch, len(q.Match))
	for i, m := range q.Match {
		jm, err := matchToJSON(m)
		if err != nil {
			return jsonFetchQuery{}, err
		}
		jq.Match[i] = jm
	}
	for i, a := range q.AllowEmbed {
		jq.AllowEmbed[i] = allowEmbedToJSON(a)
	}
	return jq, nil
}

func fetchQueryFromJSON(jq jsonFetchQuery) (FetchQuery, error) {
	q := FetchQuery{
		Depth: jq.Depth, Limit: jq.Limit, CutoffTime: jq.CutoffTime,
		RootNodeID1: []byte(jq.RootNodeID1), DiscardRoot: jq.DiscardRoot,
		ParentID: []byte(jq.ParentID), TargetPublicKey: []byte(jq.TargetPublicKey),
		SourcePublicKey: []byte(jq.SourcePublicKey),
		TriggerNodeID:   []byte(jq.TriggerNodeID), TriggerInterval: jq.TriggerInterval,
		OnlyTrigger: jq.OnlyTrigger, Descending: jq.Descending, OrderByStorageTime: jq.OrderByStorageTime,
		IgnoreInactive: jq.IgnoreInactive, IgnoreOwn: jq.IgnoreOwn, PreserveTransient: jq.PreserveTransient,
		Region: jq.Region, Jurisdiction: jq.Jurisdiction, IncludeLicenses: IncludeLicenses(jq.IncludeLicenses),
	}
	q.Match = make([]Match, len(jq.Match))
	for i, jm := range jq.Match {
		m, err := matchFromJSON(jm)
		if err != nil {
			return FetchQuery{}, err
		}
		q.Match[i] = m
	}
	q.AllowEmbed = make([]AllowEmbed, len(jq.AllowEmbed))
	for i, ja := range jq.AllowEmbed {
		a, err := allowEmbedFromJSON(ja)
		if err != nil {
			return FetchQuery{}, err
		}
		q.AllowEmbed[i] = a
	}
	return q, nil
}

type jsonFetchCRDT struct {
	Algo        string   `json:"algo,omitempty"`
	Conf        string   `json:"conf,omitempty"`
	MsgID       HexBytes `json:"msgId,omitempty"`
	Reverse     bool     `json:"reverse,omitempty"`
	Head        int32    `json:"head,omitempty"`
	Tail        int32    `json:"tail,omitempty"`
	CursorID1   HexBytes `json:"cursorId1,omitempty"`
	CursorIndex int32    `json:"cursorIndex,omitempty"`
}

func fetchCRDTToJSON(c FetchCRDT) jsonFetchCRDT {
	return jsonFetchCRDT{Algo: c.Algo, Conf: c.Conf, MsgID: HexBytes(c.MsgID), Reverse: c.Reverse, Head: c.Head, Tail: c.Tail, CursorID1: HexBytes(c.CursorID1), CursorIndex: c.CursorIndex}
}

func fetchCRDTFromJSON(jc jsonFetchCRDT) FetchCRDT {
	return FetchCRDT{Algo: jc.Algo, Conf: jc.Conf, MsgID: []byte(jc.MsgID), Reverse: jc.Reverse, Head: jc.Head, Tail: jc.Tail, CursorID1: []byte(jc.CursorID1), CursorIndex: jc.CursorIndex}
}

// --- top-level request/response JSON shapes -----------------------------

type jsonFetchRequest struct {
	Query jsonFetchQuery `json:"query"`
	CRDT  jsonFetchCRDT  `json:"crdt,omitempty"`
}

type jsonFetchResponse struct {
	Status     uint8          `json:"status"`
	Result     struct {
		Nodes []B64Bytes `json:"nodes,omitempty"`
	} `json:"result,omitempty"`
	CRDTResult struct {
		Delta B64Bytes `json:"delta,omitempty"`
	} `json:"crdtResult,omitempty"`
	Seq      uint16 `json:"seq,omitempty"`
	EndSeq   uint16 `json:"endSeq,omitempty"`
	RowCount uint16 `json:"rowCount,omitempty"`
	Error    string `json:"error,omitempty"`
}

type jsonStoreRequest struct {
	Nodes             []B64Bytes `json:"nodes,omitempty"`
	SourcePublicKey   HexBytes   `json:"sourcePublicKey,omitempty"`
	TargetPublicKey   HexBytes   `json:"targetPublicKey,omitempty"`
	MuteMsgIDs        []HexBytes `json:"muteMsgIds,omitempty"`
	PreserveTransient bool       `json:"preserveTransient,omitempty"`
	BatchID           uint32     `json:"batchId,omitempty"`
	HasMore           bool       `json:"hasMore,omitempty"`
}

// jsonStoreResponse uses storedId1List as the canonical field name (see
// DESIGN.md for the storedId1s/storedId1List naming ambiguity this
// resolves) while still accepting the alternate name on decode.
type jsonStoreResponse struct {
	Status             uint8      `json:"status"`
	StoredID1List      []HexBytes `json:"storedId1List,omitempty"`
	StoredID1ListAlias []HexBytes `json:"storedId1s,omitempty"`
	MissingBlobID1List []HexBytes `json:"missingBlobId1List,omitempty"`
	MissingBlobSizes   []Int64Str `json:"missingBlobSizes,omitempty"`
	Error              string     `json:"error,omitempty"`
}

type jsonUnsubscribeRequest struct {
	OriginalMsgID   HexBytes `json:"originalMsgId"`
	TargetPublicKey HexBytes `json:"targetPublicKey,omitempty"`
}

type jsonUnsubscribeResponse struct {
	Status uint8  `json:"status"`
	Error  string `json:"error"`
}

type jsonWriteBlobRequest struct {
	NodeID1         HexBytes   `json:"nodeId1"`
	Pos             uint64     `json:"pos,omitempty"`
	Data            B64Bytes   `json:"data,omitempty"`
	SourcePublicKey HexBytes   `json:"sourcePublicKey,omitempty"`
	TargetPublicKey HexBytes   `json:"targetPublicKey,omitempty"`
	MuteMsgIDs      []HexBytes `json:"muteMsgIds,omitempty"`
}

type jsonWriteBlobResponse struct {
	Status        uint8  `json:"status"`
	CurrentLength uint64 `json:"currentLength"`
	Error         string `json:"error,omitempty"`
}

type jsonReadBlobRequest struct {
	NodeID1         HexBytes `json:"nodeId1"`
	Pos             uint64   `json:"pos,omitempty"`
	Length          uint32   `json:"length"`
	TargetPublicKey HexBytes `json:"targetPublicKey,omitempty"`
	SourcePublicKey HexBytes `json:"sourcePublicKey,omitempty"`
}

type jsonReadBlobResponse struct {
	Status     uint8    `json:"status"`
	Data       B64Bytes `json:"data,omitempty"`
	Seq        uint16   `json:"seq,omitempty"`
	EndSeq     uint16   `json:"endSeq,omitempty"`
	BlobLength uint64   `json:"blobLength"`
	Error      string   `json:"error,omitempty"`
}

type jsonGenericMessageRequest struct {
	Action          string   `json:"action"`
	SourcePublicKey HexBytes `json:"sourcePublicKey,omitempty"`
	Data            B64Bytes `json:"data,omitempty"`
}

type jsonGenericMessageResponse struct {
	Status uint8    `json:"status"`
	Data   B64Bytes `json:"data,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// EncodeJSON renders msg in the JSON wire format (spec.md §6.2).
func EncodeJSON(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case FetchRequest:
		jq, err := fetchQueryToJSON(m.Query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonFetchRequest{Query: jq, CRDT: fetchCRDTToJSON(m.CRDT)})
	case FetchResponse:
		if !m.Status.Valid() {
			return nil, ErrUnknownStatus
		}
		jr := jsonFetchResponse{Status: uint8(m.Status), Seq: m.Seq, EndSeq: m.EndSeq, RowCount: m.RowCount, Error: m.Error}
		jr.Result.Nodes = b64BytesSlice(m.Result.Nodes)
		jr.CRDTResult.Delta = B64Bytes(m.CRDTResult.Delta)
		return json.Marshal(jr)
	case StoreRequest:
		return json.Marshal(jsonStoreRequest{
			Nodes: b64BytesSlice(m.Nodes), SourcePublicKey: HexBytes(m.SourcePublicKey),
			TargetPublicKey: HexBytes(m.TargetPublicKey), MuteMsgIDs: hexBytesSlice(m.MuteMsgIDs),
			PreserveTransient: m.PreserveTransient, BatchID: m.BatchID, HasMore: m.HasMore,
		})
	case StoreResponse:
		if !m.Status.Valid() {
			return nil, ErrUnknownStatus
		}
		return json.Marshal(jsonStoreResponse{
			Status: uint8(m.Status), StoredID1List: hexBytesSlice(m.StoredID1List),
			MissingBlobID1List: hexBytesSlice(m.MissingBlobID1List),
			MissingBlobSizes:   int64StrSlice(m.MissingBlobSizes), Error: m.Error,
		})
	case UnsubscribeRequest:
		return json.Marshal(jsonUnsubscribeRequest{OriginalMsgID: HexBytes(m.OriginalMsgID), TargetPublicKey: HexBytes(m.TargetPublicKey)})
	case UnsubscribeResponse:
		if !m.Status.Valid() {
			return nil, ErrUnknownStatus
		}
		return json.Marshal(jsonUnsubscribeResponse{Status: uint8(m.Status), Error: m.Error})
	case WriteBlobRequest:
		return json.Marshal(jsonWriteBlobRequest{
			NodeID1: HexBytes(m.NodeID1), Pos: m.Pos, Data: B64Bytes(m.Data),
			SourcePublicKey: HexBytes(m.SourcePublicKey), TargetPublicKey: HexBytes(m.TargetPublicKey),
			MuteMsgIDs: hexBytesSlice(m.MuteMsgIDs),
		})
	case WriteBlobResponse:
		if !m.Status.Valid() {
			return nil, ErrUnknownStatus
		}
		return json.Marshal(jsonWriteBlobResponse{Status: uint8(m.Status), CurrentLength: m.CurrentLength, Error: m.Error})
	case ReadBlobRequest:
		return json.Marshal(jsonReadBlobRequest{
			NodeID1: HexBytes(m.NodeID1), Pos: m.Pos, Length: m.Length,
			TargetPublicKey: HexBytes(m.TargetPublicKey), SourcePublicKey: HexBytes(m.SourcePublicKey),
		})
	case ReadBlobResponse:
		if !m.Status.Valid() {
			return nil, ErrUnknownStatus
		}
		return json.Marshal(jsonReadBlobResponse{Status: uint8(m.Status), Data: B64Bytes(m.Data), Seq: m.Seq, EndSeq: m.EndSeq, BlobLength: m.BlobLength, Error: m.Error})
	case GenericMessageRequest:
		return json.Marshal(jsonGenericMessageRequest{Action: m.Action, SourcePublicKey: HexBytes(m.SourcePublicKey), Data: B64Bytes(m.Data)})
	case GenericMessageResponse:
		if !m.Status.Valid() {
			return nil, ErrUnknownStatus
		}
		return json.Marshal(jsonGenericMessageResponse{Status: uint8(m.Status), Data: B64Bytes(m.Data), Error: m.Error})
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}
}

// DecodeJSON infers the request/response variant from the key-presence
// precedence in spec.md §4.1 and parses it into the matching Message.
func DecodeJSON(data []byte) (Message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, ErrMalformedBody
	}

	has := func(k string) bool { _, ok := probe[k]; return ok }

	switch {
	case has("query"):
		var j jsonFetchRequest
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		q, err := fetchQueryFromJSON(j.Query)
		if err != nil {
			return nil, err
		}
		return FetchRequest{Query: q, CRDT: fetchCRDTFromJSON(j.CRDT)}, nil

	case has("result"):
		var j jsonFetchResponse
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		status := Status(j.Status)
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		return FetchResponse{
			Status: status, Result: FetchResult{Nodes: rawB64Slice(j.Result.Nodes)},
			CRDTResult: CRDTResult{Delta: []byte(j.CRDTResult.Delta)},
			Seq:        j.Seq, EndSeq: j.EndSeq, RowCount: j.RowCount, Error: j.Error,
		}, nil

	case has("nodes"):
		var j jsonStoreRequest
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		return StoreRequest{
			Nodes: rawB64Slice(j.Nodes), SourcePublicKey: []byte(j.SourcePublicKey),
			TargetPublicKey: []byte(j.TargetPublicKey), MuteMsgIDs: rawBytesSlice(j.MuteMsgIDs),
			PreserveTransient: j.PreserveTransient, BatchID: j.BatchID, HasMore: j.HasMore,
		}, nil

	case has("storedId1s"), has("storedId1List"):
		var j jsonStoreResponse
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		status := Status(j.Status)
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		stored := j.StoredID1List
		if len(stored) == 0 {
			stored = j.StoredID1ListAlias
		}
		return StoreResponse{
			Status: status, StoredID1List: rawBytesSlice(stored),
			MissingBlobID1List: rawBytesSlice(j.MissingBlobID1List),
			MissingBlobSizes:   rawInt64Slice(j.MissingBlobSizes), Error: j.Error,
		}, nil

	case has("originalMsgId"):
		var j jsonUnsubscribeRequest
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		return UnsubscribeRequest{OriginalMsgID: []byte(j.OriginalMsgID), TargetPublicKey: []byte(j.TargetPublicKey)}, nil

	case has("nodeId1") && has("data"):
		var j jsonWriteBlobRequest
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		return WriteBlobRequest{
			NodeID1: []byte(j.NodeID1), Pos: j.Pos, Data: []byte(j.Data),
			SourcePublicKey: []byte(j.SourcePublicKey), TargetPublicKey: []byte(j.TargetPublicKey),
			MuteMsgIDs: rawBytesSlice(j.MuteMsgIDs),
		}, nil

	case has("currentLength"):
		var j jsonWriteBlobResponse
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		status := Status(j.Status)
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		return WriteBlobResponse{Status: status, CurrentLength: j.CurrentLength, Error: j.Error}, nil

	case has("nodeId1") && has("length"):
		var j jsonReadBlobRequest
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		return ReadBlobRequest{
			NodeID1: []byte(j.NodeID1), Pos: j.Pos, Length: j.Length,
			TargetPublicKey: []byte(j.TargetPublicKey), SourcePublicKey: []byte(j.SourcePublicKey),
		}, nil

	case has("blobLength"):
		var j jsonReadBlobResponse
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		status := Status(j.Status)
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		return ReadBlobResponse{Status: status, Data: []byte(j.Data), Seq: j.Seq, EndSeq: j.EndSeq, BlobLength: j.BlobLength, Error: j.Error}, nil

	case has("action"):
		var j jsonGenericMessageRequest
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		return GenericMessageRequest{Action: j.Action, SourcePublicKey: []byte(j.SourcePublicKey), Data: []byte(j.Data)}, nil

	case has("status") && has("data"):
		var j jsonGenericMessageResponse
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		status := Status(j.Status)
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		return GenericMessageResponse{Status: status, Data: []byte(j.Data), Error: j.Error}, nil

	case has("status") && has("error"):
		var j jsonUnsubscribeResponse
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, ErrMalformedBody
		}
		status := Status(j.Status)
		if !status.Valid() {
			return nil, ErrUnknownStatus
		}
		return UnsubscribeResponse{Status: status, Error: j.Error}, nil

	default:
		return nil, ErrIndeterminateVariant
	}
}
