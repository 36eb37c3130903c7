package service

import (
	"context"
	"time"

	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/thread"
)

// State is the Service lifecycle state machine of spec.md §4.10.
type State uint8

const (
	StateIdle State = iota
	StateInitialized
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// HandshakeResult and HandshakeFactory are peerclient's definitions,
// aliased here so callers can spell them as service.HandshakeResult/
// service.HandshakeFactory without an extra import; the types must live
// in peerclient (not service) since transport implements HandshakeFactory
// and service imports transport for its Loopback helper — a service
// package definition would create an import cycle.
type HandshakeResult = peerclient.HandshakeResult
type HandshakeFactory = peerclient.HandshakeFactory

// StorageDriver is the opaque local storage backend the database config
// path drives (spec.md §1: "the storage query engine internals... treated
// as an opaque StorageClient"). Open/CreateTables prepare the backend;
// Serve then runs the driver's own request/response loop against channel
// (the "app" end of the in-process pair connectDatabaseLoop wires up)
// until channel is closed or ctx is cancelled, answering the fetch/store/
// blob/message opcodes the rest of this module issues against it.
type StorageDriver interface {
	Open() error
	CreateTables() error
	Serve(ctx context.Context, channel peerclient.Channel) error
	Close() error
}

// DatabaseConfig configures the local-database storage path.
type DatabaseConfig struct {
	Driver StorageDriver
	// ReconnectDelay is slept between failed/closed connection attempts.
	// Zero or negative disables the reconnect loop (one attempt only).
	ReconnectDelay time.Duration
}

// PeerConnectionConfig configures one peer-facing HandshakeFactory.
type PeerConnectionConfig struct {
	Factory     HandshakeFactory
	Permissions peerclient.Permissions
	Region      string
	Jurisdiction string
}

// StorageConnectionConfig configures one remote-storage HandshakeFactory
// (used instead of DatabaseConfig when storage lives behind a peer
// connection rather than a local driver). There is no connection-count
// setting: onStorageHandshake keeps the first successful handshake's
// client and closes the channel of any later handshake while storage is
// connected.
type StorageConnectionConfig struct {
	Factory HandshakeFactory
}

// PolicyHook is the region/jurisdiction validation hook spec.md §4.10
// step 3 reserves: "stub: reserved for policy hook; must not throw."
// Returning false rejects the handshake. A nil hook accepts everything.
type PolicyHook func(region, jurisdiction string) bool

// ServiceConfig is the full configuration surface Init/Start consume.
type ServiceConfig struct {
	AuthCertImage            []byte
	SignCertImages           [][]byte
	ThreadTemplates          map[string]thread.Template
	PeerConnectionConfigs    []PeerConnectionConfig
	StorageConnectionConfigs []StorageConnectionConfig
	DatabaseConfig           *DatabaseConfig
	SyncConfigs              []autofetch.AutoFetch
	PolicyHook               PolicyHook
	// ExternalPermissions is applied to externalStorageClient, the
	// separately-permissioned view handed to the embedding application
	// (spec.md §4.10 step 2 "third pair mediated by a Forwarder to apply
	// app permissions").
	ExternalPermissions peerclient.Permissions
}
