package schema

// PeerInfoSchema is the structural schema for the handshake PeerInfo JSON
// blob the remote side sends (spec.md §6.3).
var PeerInfoSchema = Object(map[string]*Node{
	"peerDataFormat": OptionalWithDefault(KindNumber, float64(0)),
	"serializeFormat": OptionalWithDefault(KindNumber, float64(0)),
	"version":         OptionalWithDefault(KindString, ""),
	"appVersion":      OptionalWithDefault(KindString, ""),
	"region":          OptionalWithDefault(KindString, ""),
	"jurisdiction":    OptionalWithDefault(KindString, ""),
	"authCert":        OptionalNoDefault(KindBytes),
	"sessionTimeout":  OptionalWithDefault(KindNumber, float64(0)),
})
