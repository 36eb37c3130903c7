package service

import "errors"

var (
	// ErrNotInitialized is returned by Start when Init has not run.
	ErrNotInitialized = errors.New("service: not initialized")
	// ErrAlreadyInitialized is returned by Init when called more than once.
	ErrAlreadyInitialized = errors.New("service: already initialized")
	// ErrRunning names the running state. No Service method returns it:
	// authCert and databaseConfig are set only by Init, which rejects any
	// call after the first with ErrAlreadyInitialized.
	ErrRunning = errors.New("service: running")
	// ErrNotRunning is returned by Stop when the service is not running.
	ErrNotRunning = errors.New("service: not running")
	// ErrClosed is returned by Start once Close has run.
	ErrClosed = errors.New("service: closed")
	// ErrDuplicateStorage is returned when both a local database config and
	// remote storage connection configs are supplied.
	ErrDuplicateStorage = errors.New("service: duplicate storage configuration")
	// ErrInvalidAuthCert is returned when the service's own authCert fails
	// signature verification at Init.
	ErrInvalidAuthCert = errors.New("service: invalid auth cert")
	// ErrPeerAuthCertInvalid marks a remote peer's authCert as failing
	// signature verification.
	ErrPeerAuthCertInvalid = errors.New("service: peer auth cert invalid")
	// ErrPeerAuthCertMismatch marks a remote peer's declared region/
	// jurisdiction as not matching the connection config, or as rejected
	// by the policy hook.
	ErrPeerAuthCertMismatch = errors.New("service: peer auth cert region/jurisdiction mismatch")
	// ErrPeerAuthCertDestroyed marks a remote peer's authCert carrier node
	// as absent after a store attempt — the cert was destroyed.
	ErrPeerAuthCertDestroyed = errors.New("service: peer auth cert destroyed")
	// ErrNoStorageClient is returned when a peer handshake completes before
	// storage has connected.
	ErrNoStorageClient = errors.New("service: no storage client")
)
