package wire

// Status is the canonical response disposition carried by every response
// variant. Numerical assignment is implementation-defined by the source
// spec but must be stable: this is the table odinsync commits to, and both
// the binary and JSON codecs use it exclusively (spec.md Open Question:
// "exact numerical assignment implementation-defined but must be stable").
type Status uint8

const (
	StatusError Status = iota
	StatusResult
	StatusMissing
	StatusNotAllowed
	StatusMalformedRequest
	StatusExists
	StatusMissingRootNode
	StatusDroppedTrigger
	StatusMismatchingSession
	StatusMissingCursor
	StatusTryAgain
)

var statusNames = map[Status]string{
	StatusError:              "Error",
	StatusResult:             "Result",
	StatusMissing:            "Missing",
	StatusNotAllowed:         "NotAllowed",
	StatusMalformedRequest:   "MalformedRequest",
	StatusExists:             "Exists",
	StatusMissingRootNode:    "MissingRootNode",
	StatusDroppedTrigger:     "DroppedTrigger",
	StatusMismatchingSession: "MismatchingSession",
	StatusMissingCursor:      "MissingCursor",
	StatusTryAgain:           "TryAgain",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Valid reports whether s belongs to the known Status enum. Decoders must
// reject unknown status bytes with ErrUnknownStatus.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}
