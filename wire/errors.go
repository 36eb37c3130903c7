package wire

import "errors"

// Protocol-level error kinds (spec.md §7 "Protocol").
var (
	ErrWrongOpcode         = errors.New("wire: wrong opcode for decoded type")
	ErrUnknownOpcode       = errors.New("wire: unknown opcode")
	ErrUnknownStatus       = errors.New("wire: unknown status byte")
	ErrIndeterminateVariant = errors.New("wire: cannot infer JSON request variant")
	ErrMalformedBody       = errors.New("wire: malformed message body")
	ErrTruncated           = errors.New("wire: truncated wire buffer")
)
