package service

import "sync"

// EventKind tags the Service-level observer events spec.md §5 describes
// as dispatched "on the next scheduler tick, never synchronously."
type EventKind uint8

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventStorageConnected
	EventStorageDisconnected
	EventError
)

// Event is one deferred notification handed to every registered observer.
type Event struct {
	Kind       EventKind
	PeerPublicKey []byte
	Err        error
}

// dispatcher decouples event producers (the handshake/reconnect
// goroutines) from observer callbacks, matching the teacher's
// one-goroutine-per-subscription channel style in core/network.go's
// Subscribe: a single draining goroutine reads off a buffered channel and
// fans out to every registered callback, so a slow or panicking observer
// never blocks the call that raised the event.
type dispatcher struct {
	mu        sync.Mutex
	observers []func(Event)
	events    chan Event
	done      chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{events: make(chan Event, 256), done: make(chan struct{})}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for {
		select {
		case ev := <-d.events:
			d.mu.Lock()
			cbs := append([]func(Event){}, d.observers...)
			d.mu.Unlock()
			for _, cb := range cbs {
				cb(ev)
			}
		case <-d.done:
			return
		}
	}
}

// subscribe registers cb to receive every future event.
func (d *dispatcher) subscribe(cb func(Event)) {
	d.mu.Lock()
	d.observers = append(d.observers, cb)
	d.mu.Unlock()
}

// emit queues ev for deferred dispatch. Never blocks the caller beyond
// the channel send; a saturated queue (256 events un-drained) drops the
// event rather than stall the handshake/reconnect loop that raised it.
func (d *dispatcher) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
	}
}

// close stops the draining goroutine. Safe to call once.
func (d *dispatcher) close() {
	close(d.done)
}
