package wire

// CMP is the comparison operator a Filter applies between a node field and
// a value.
type CMP uint8

const (
	CmpEQ CMP = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

var cmpNames = [...]string{"EQ", "NE", "LT", "LE", "GT", "GE"}

func (c CMP) String() string {
	if int(c) < len(cmpNames) {
		return cmpNames[c]
	}
	return "EQ"
}

// ParseCMP maps a wire/JSON string back to the CMP enum, defaulting to EQ
// for an unrecognized token (mirrors SchemaParser's ParseEnum default
// behavior for this field).
func ParseCMP(s string) CMP {
	for i, n := range cmpNames {
		if n == s {
			return CMP(i)
		}
	}
	return CmpEQ
}

// FilterValue is a tagged scalar: string, number, byte-string, or absent.
// Exactly one of the typed fields is meaningful when Kind != FilterValueAbsent.
type FilterValueKind uint8

const (
	FilterValueAbsent FilterValueKind = iota
	FilterValueString
	FilterValueNumber
	FilterValueBytes
)

type FilterValue struct {
	Kind   FilterValueKind
	Str    string
	Num    float64
	Bytes  []byte
}

// Filter is one predicate inside a Match.
type Filter struct {
	Field    string
	Operator string
	Cmp      CMP
	Value    FilterValue
}

// LimitField bounds the number of matched rows grouped by a named field.
type LimitField struct {
	Name  string
	Limit int32
}

// Match selects nodes of a given type subject to a filter conjunction.
type Match struct {
	NodeType    []byte
	Filters     []Filter
	Limit       int32
	LimitField  LimitField
	Level       []uint16
	Discard     bool
	Bottom      bool
	ID          uint8
	RequireID   uint8
	CursorID1   []byte
}

// AllowEmbed whitelists embeddable node types/filters for a fetch.
type AllowEmbed struct {
	NodeType []byte
	Filters  []Filter
}

// IncludeLicenses is a 0..3 tri-state-plus-one knob on FetchQuery.
type IncludeLicenses uint8

const (
	IncludeLicensesNone IncludeLicenses = iota
	IncludeLicensesDirect
	IncludeLicensesAll
	IncludeLicensesAllWithTransient
)

// FetchQuery carries the read parameters of a fetch against the graph.
type FetchQuery struct {
	Depth              int32
	Limit              int32
	CutoffTime         uint64
	RootNodeID1        []byte
	DiscardRoot        bool
	ParentID           []byte
	TargetPublicKey    []byte
	SourcePublicKey    []byte
	Match              []Match
	AllowEmbed         []AllowEmbed
	TriggerNodeID      []byte
	TriggerInterval    uint16
	OnlyTrigger        bool
	Descending         bool
	OrderByStorageTime bool
	IgnoreInactive     bool
	IgnoreOwn          bool
	PreserveTransient  bool
	Region             string
	Jurisdiction       string
	IncludeLicenses    IncludeLicenses
}

// DefaultFetchQuery returns a FetchQuery with spec.md §3 defaults applied
// (depth=-1, limit=-1, everything else zero).
func DefaultFetchQuery() FetchQuery {
	return FetchQuery{Depth: -1, Limit: -1}
}

// FetchCRDT carries optional CRDT-view merge parameters for a fetch.
type FetchCRDT struct {
	Algo        string
	Conf        string
	MsgID       []byte
	Reverse     bool
	Head        int32
	Tail        int32
	CursorID1   []byte
	CursorIndex int32
}

// CRDTAlgoTag maps the FetchCRDT.Algo string to the stable u8 tag used on
// the binary wire (spec.md Open Question: shared mapping table for both
// codecs). Unregistered/empty names map to 0.
var CRDTAlgoTag = map[string]uint8{
	"":        0,
	"ref":     1,
	"object":  2,
	"stream":  3,
}

var crdtAlgoName = func() map[uint8]string {
	m := make(map[uint8]string, len(CRDTAlgoTag))
	for k, v := range CRDTAlgoTag {
		m[v] = k
	}
	return m
}()

// CRDTAlgoName is the inverse of CRDTAlgoTag, defaulting to "" for an
// unregistered tag.
func CRDTAlgoName(tag uint8) string {
	if n, ok := crdtAlgoName[tag]; ok {
		return n
	}
	return ""
}

// FetchRequest = { query, crdt }.
type FetchRequest struct {
	Query FetchQuery
	CRDT  FetchCRDT
}

func (FetchRequest) Opcode() Opcode { return OpFetchRequest }

// FetchResult carries the decoded nodes of one response chunk.
type FetchResult struct {
	Nodes [][]byte
}

// CRDTResult carries one fragment of a CRDT delta stream.
type CRDTResult struct {
	Delta []byte
}

// FetchResponse is one chunk of a (possibly streamed) fetch reply.
type FetchResponse struct {
	Status     Status
	Result     FetchResult
	CRDTResult CRDTResult
	Seq        uint16
	EndSeq     uint16
	RowCount   uint16
	Error      string
}

func (FetchResponse) Opcode() Opcode { return OpFetchResponse }

// StoreRequest submits nodes for persistence.
type StoreRequest struct {
	Nodes             [][]byte
	SourcePublicKey   []byte
	TargetPublicKey   []byte
	MuteMsgIDs        [][]byte
	PreserveTransient bool
	BatchID           uint32
	HasMore           bool
}

func (StoreRequest) Opcode() Opcode { return OpStoreRequest }

// StoreResponse reports which submitted nodes were stored, and which
// referenced blobs are still missing. The canonical field name is
// StoredID1List (see DESIGN.md for the storedId1s/storedId1List ambiguity
// this resolves).
type StoreResponse struct {
	Status            Status
	StoredID1List     [][]byte
	MissingBlobID1List [][]byte
	MissingBlobSizes  []int64
	Error             string
}

func (StoreResponse) Opcode() Opcode { return OpStoreResponse }

// UnsubscribeRequest cancels a prior streaming fetch by its msgId.
type UnsubscribeRequest struct {
	OriginalMsgID   []byte
	TargetPublicKey []byte
}

func (UnsubscribeRequest) Opcode() Opcode { return OpUnsubscribeRequest }

type UnsubscribeResponse struct {
	Status Status
	Error  string
}

func (UnsubscribeResponse) Opcode() Opcode { return OpUnsubscribeResponse }

// WriteBlobRequest appends data to a node's blob at pos.
type WriteBlobRequest struct {
	NodeID1         []byte
	Pos             uint64
	Data            []byte
	SourcePublicKey []byte
	TargetPublicKey []byte
	MuteMsgIDs      [][]byte
}

func (WriteBlobRequest) Opcode() Opcode { return OpWriteBlobRequest }

type WriteBlobResponse struct {
	Status        Status
	CurrentLength uint64
	Error         string
}

func (WriteBlobResponse) Opcode() Opcode { return OpWriteBlobResponse }

// ReadBlobRequest reads up to length bytes of a node's blob starting at pos.
type ReadBlobRequest struct {
	NodeID1         []byte
	Pos             uint64
	Length          uint32
	TargetPublicKey []byte
	SourcePublicKey []byte
}

func (ReadBlobRequest) Opcode() Opcode { return OpReadBlobRequest }

type ReadBlobResponse struct {
	Status     Status
	Data       []byte
	Seq        uint16
	EndSeq     uint16
	BlobLength uint64
	Error      string
}

func (ReadBlobResponse) Opcode() Opcode { return OpReadBlobResponse }

// GenericMessageRequest carries an application-defined action/payload pair.
type GenericMessageRequest struct {
	Action          string
	SourcePublicKey []byte
	Data            []byte
}

func (GenericMessageRequest) Opcode() Opcode { return OpGenericMessageRequest }

type GenericMessageResponse struct {
	Status Status
	Data   []byte
	Error  string
}

func (GenericMessageResponse) Opcode() Opcode { return OpGenericMessageResponse }
