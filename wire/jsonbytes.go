package wire

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// HexBytes is a fixed/identity-style binary field (ids, public keys,
// hashes) on the JSON wire: encoded as hex, per spec.md §6.2.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ErrMalformedBody
	}
	*h = b
	return nil
}

// B64Bytes is a variable-length binary field on the JSON wire: encoded
// as base64, per spec.md §6.2.
type B64Bytes []byte

func (b B64Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *B64Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*b = nil
		return nil
	}
	dec, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ErrMalformedBody
	}
	*b = dec
	return nil
}

// Int64Str renders an int64 as a decimal string ("bigint fields are
// decimal strings", spec.md §6.2).
type Int64Str int64

func (n Int64Str) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(n), 10))
}

func (n *Int64Str) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ErrMalformedBody
	}
	*n = Int64Str(v)
	return nil
}

func hexBytesSlice(bs [][]byte) []HexBytes {
	out := make([]HexBytes, len(bs))
	for i, b := range bs {
		out[i] = HexBytes(b)
	}
	return out
}

func rawBytesSlice(bs []HexBytes) [][]byte {
	out := make([][]byte, len(bs))
	for i, b := range bs {
		out[i] = []byte(b)
	}
	return out
}

func b64BytesSlice(bs [][]byte) []B64Bytes {
	out := make([]B64Bytes, len(bs))
	for i, b := range bs {
		out[i] = B64Bytes(b)
	}
	return out
}

func rawB64Slice(bs []B64Bytes) [][]byte {
	out := make([][]byte, len(bs))
	for i, b := range bs {
		out[i] = []byte(b)
	}
	return out
}

func int64StrSlice(vs []int64) []Int64Str {
	out := make([]Int64Str, len(vs))
	for i, v := range vs {
		out[i] = Int64Str(v)
	}
	return out
}

func rawInt64Slice(vs []Int64Str) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = int64(v)
	}
	return out
}
