package thread

import (
	"sync"
	"time"

	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/wire"
)

// ControllerConfig tunes ThreadController's purge timer and auto-sync
// registration (spec.md §4.8).
type ControllerConfig struct {
	// PurgeInterval is how often the purge timer runs. Zero defaults to
	// 60s.
	PurgeInterval time.Duration
	// MaxAge is how old a view entry may get before the purge timer drops
	// it. Zero defaults to 600s.
	MaxAge time.Duration
	// DisableAutoSync skips registering the forward/reverse AutoFetches.
	DisableAutoSync bool
	// MakeData, if set, derives the enriched `data` object attached to
	// every added/updated entry forwarded to OnChange. Defaults to
	// returning node unchanged.
	MakeData func(n *node.Node, data interface{}, isUpdate bool) interface{}
}

// Entry pairs a tracked node with its enriched data and last-seen time,
// keyed by id1 in the controller's entry map.
type Entry struct {
	Node     *node.Node
	Data     interface{}
	seenAt   time.Time
	index    int
}

// ThreadController is a long-lived subscription over a Thread.Stream:
// it owns the stream, two auto-sync AutoFetches (forward + reverse)
// unless disabled, a purge timer, and dispatches enriched onChange events
// exactly once per close.
type ThreadController struct {
	thread *Thread
	stream *Stream
	cfg    ControllerConfig

	registry *autofetch.Registry
	forward  autofetch.AutoFetch
	reverse  autofetch.AutoFetch
	syncer   AutoSyncer

	mu       sync.Mutex
	entries  map[string]*Entry
	nextIdx  int
	onChange []func(added, updated, deleted []*Entry)
	onClose  []func()
	closed   bool
	stopPurge chan struct{}
}

// AutoSyncer is the hot-update surface a ThreadController registers its
// forward/reverse AutoFetches against — ordinarily the owning Service.
type AutoSyncer interface {
	AddAutoFetch(af autofetch.AutoFetch)
	RemoveAutoFetch(af autofetch.AutoFetch)
}

// NewController subscribes t.Stream(req), schedules the purge timer, and
// (unless cfg.DisableAutoSync) registers forward and reverse AutoFetches
// for req with syncer.
func NewController(t *Thread, req wire.FetchRequest, syncer AutoSyncer, cfg ControllerConfig) (*ThreadController, error) {
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = 60 * time.Second
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 600 * time.Second
	}
	if cfg.MakeData == nil {
		cfg.MakeData = func(n *node.Node, _ interface{}, _ bool) interface{} { return n }
	}

	merged, err := t.GetFetchRequest(req, true)
	if err != nil {
		return nil, err
	}
	stream, err := t.Stream(merged)
	if err != nil {
		return nil, err
	}

	c := &ThreadController{
		thread: t, stream: stream, cfg: cfg,
		syncer:  syncer,
		entries: make(map[string]*Entry),
		stopPurge: make(chan struct{}),
	}

	if !cfg.DisableAutoSync && syncer != nil {
		c.forward = autofetch.AutoFetch{FetchRequest: merged, BlobSizeMaxLimit: -1, Reverse: false}
		c.reverse = autofetch.AutoFetch{FetchRequest: merged, BlobSizeMaxLimit: -1, Reverse: true}
		syncer.AddAutoFetch(c.forward)
		syncer.AddAutoFetch(c.reverse)
	}

	stream.OnChange(c.handleChange)
	go c.purgeLoop()
	return c, nil
}

func (c *ThreadController) handleChange(added, updated, deleted []*node.Node) {
	c.mu.Lock()
	var addedEntries, updatedEntries, deletedEntries []*Entry

	for _, n := range added {
		e := &Entry{Node: n, seenAt: time.Now(), index: c.nextIdx}
		c.nextIdx++
		if c.cfg.MakeData != nil {
			e.Data = c.cfg.MakeData(n, nil, false)
		}
		c.entries[key(n)] = e
		addedEntries = append(addedEntries, e)
	}
	for _, n := range updated {
		k := key(n)
		prev, ok := c.entries[k]
		var prevData interface{}
		idx := c.nextIdx
		if ok {
			prevData = prev.Data
			idx = prev.index
		} else {
			c.nextIdx++
		}
		e := &Entry{Node: n, seenAt: time.Now(), index: idx}
		if c.cfg.MakeData != nil {
			e.Data = c.cfg.MakeData(n, prevData, true)
		}
		c.entries[k] = e
		updatedEntries = append(updatedEntries, e)
	}
	for _, n := range deleted {
		k := key(n)
		if e, ok := c.entries[k]; ok {
			delete(c.entries, k)
			deletedEntries = append(deletedEntries, e)
		}
	}
	c.mu.Unlock()

	sortByIndex(addedEntries)
	sortByIndex(updatedEntries)

	c.mu.Lock()
	cbs := append([]func(added, updated, deleted []*Entry){}, c.onChange...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(addedEntries, updatedEntries, deletedEntries)
	}
}

func sortByIndex(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].index > entries[j].index; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func key(n *node.Node) string { return string(n.ID1) }

// OnChange registers cb to be called after every completed batch with
// enriched, index-sorted added/updated entries and the raw deleted ones.
func (c *ThreadController) OnChange(cb func(added, updated, deleted []*Entry)) {
	c.mu.Lock()
	c.onChange = append(c.onChange, cb)
	c.mu.Unlock()
}

// OnClose registers cb to run exactly once when Close runs.
func (c *ThreadController) OnClose(cb func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cb()
		return
	}
	c.onClose = append(c.onClose, cb)
	c.mu.Unlock()
}

// Snapshot returns every currently tracked entry, in no particular order.
func (c *ThreadController) Snapshot() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

func (c *ThreadController) purgeLoop() {
	t := time.NewTicker(c.cfg.PurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.purge(c.cfg.MaxAge)
		case <-c.stopPurge:
			return
		}
	}
}

// purge drops every view entry older than maxAge (age 0 drops everything,
// used by Close).
func (c *ThreadController) purge(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.seenAt) >= maxAge {
			delete(c.entries, k)
		}
	}
}

// Close cancels the stream, unregisters both AutoFetches, purges every
// entry, and fires every OnClose callback exactly once.
func (c *ThreadController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cbs := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	close(c.stopPurge)
	if err := c.stream.StopStream(); err != nil {
		// Best-effort: the stream may already be gone if the peer closed first.
		_ = err
	}
	if c.syncer != nil && !c.cfg.DisableAutoSync {
		c.syncer.RemoveAutoFetch(c.forward)
		c.syncer.RemoveAutoFetch(c.reverse)
	}
	c.purge(0)

	for _, cb := range cbs {
		cb()
	}
}
