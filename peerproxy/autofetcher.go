package peerproxy

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/autofetch"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

// AutoFetcher owns a set of AutoFetch subscriptions between one remote
// peer and local storage (spec.md §4.9). Forward-direction entries stream
// the remote's fetch into local storage; reverse-direction entries stream
// local storage's fetch out to the remote. Either direction mutes its own
// outgoing msgId so the paired subscription and storage-side echoes don't
// loop.
type AutoFetcher struct {
	Remote   *peerclient.P2PClient
	Local    *peerclient.P2PClient
	Mutes    *MuteLists
	Registry *autofetch.Registry
	Blobs    *BlobCoordinator
	Log      *logrus.Entry

	mu     sync.Mutex
	active map[string]*running
}

type running struct {
	get   *storageclient.GetResponse
	msgID string
}

// NewAutoFetcher returns an AutoFetcher bound to remote/local, backed by
// registry (shared with the owning Service so addAutoFetch/removeAutoFetch
// hot-updates are visible here) and blobs (shared across every AutoFetcher
// pulling from the same local storage, for first-match-wins blob sync).
func NewAutoFetcher(remote, local *peerclient.P2PClient, mutes *MuteLists, registry *autofetch.Registry, blobs *BlobCoordinator, log *logrus.Entry) *AutoFetcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &AutoFetcher{
		Remote: remote, Local: local, Mutes: mutes, Registry: registry, Blobs: blobs,
		Log:    log.WithField("proxy", "autofetcher"),
		active: make(map[string]*running),
	}
	remote.OnClose(a.stopAll)
	return a
}

// AddFetch registers each entry in the shared registry and, for entries
// genuinely new (refcount 0→1) that match this peer, starts the
// subscription.
func (a *AutoFetcher) AddFetch(list []autofetch.AutoFetch) {
	for _, af := range list {
		isNew := a.Registry.Add(af)
		if !isNew || !af.MatchesPeer(a.Remote.Remote.HandshakePublicKey) {
			continue
		}
		a.start(af)
	}
}

// RemoveFetch decrements each entry's refcount, tearing down the
// subscription once no registration remains.
func (a *AutoFetcher) RemoveFetch(list []autofetch.AutoFetch) {
	for _, af := range list {
		if a.Registry.Remove(af) {
			continue
		}
		a.stop(af)
	}
}

func (a *AutoFetcher) start(af autofetch.AutoFetch) {
	if af.Reverse {
		a.startReverse(af)
	} else {
		a.startForward(af)
	}
}

// startForward issues the fetch against the remote peer and writes
// returned nodes into local storage.
func (a *AutoFetcher) startForward(af autofetch.AutoFetch) {
	req := af.FetchRequest
	g, err := a.Remote.Fetch(&req)
	if err != nil {
		a.Log.WithError(err).Warn("peerproxy: autofetch forward start failed")
		return
	}
	a.Mutes.Mute(g.GetMsgID())
	g.OnReply(func(msg wire.Message) { a.ingest(msg, af, a.Local, g.GetMsgID()) })
	a.track(af, g)
}

// startReverse issues the fetch against local storage and sends returned
// nodes out to the remote peer.
func (a *AutoFetcher) startReverse(af autofetch.AutoFetch) {
	req := af.FetchRequest
	g, err := a.Local.Fetch(&req)
	if err != nil {
		a.Log.WithError(err).Warn("peerproxy: autofetch reverse start failed")
		return
	}
	a.Mutes.ReverseMute(g.GetMsgID())
	g.OnReply(func(msg wire.Message) { a.ingest(msg, af, a.Remote, g.GetMsgID()) })
	a.track(af, g)
}

// ingest stores every node from a fetch response chunk into dest,
// muting the outgoing store so the destination's own echo doesn't
// re-trigger this subscription. Only node bodies are copied here, so
// af.BlobSizeMaxLimit is not applied.
func (a *AutoFetcher) ingest(msg wire.Message, af autofetch.AutoFetch, dest *peerclient.P2PClient, originMsgID string) {
	resp, ok := msg.(*wire.FetchResponse)
	if !ok || resp.Status != wire.StatusResult {
		return
	}
	nodes := resp.Result.Nodes
	if len(nodes) == 0 {
		return
	}
	if _, err := dest.Store(&wire.StoreRequest{Nodes: nodes, MuteMsgIDs: [][]byte{[]byte(originMsgID)}}); err != nil {
		a.Log.WithError(err).Warn("peerproxy: autofetch ingest store failed")
	}
}

func (a *AutoFetcher) track(af autofetch.AutoFetch, g *storageclient.GetResponse) {
	a.mu.Lock()
	a.active[af.Key()] = &running{get: g, msgID: g.GetMsgID()}
	a.mu.Unlock()
}

func (a *AutoFetcher) stop(af autofetch.AutoFetch) {
	a.mu.Lock()
	r, ok := a.active[af.Key()]
	delete(a.active, af.Key())
	a.mu.Unlock()
	if !ok {
		return
	}
	a.Mutes.Unmute(r.msgID)
	var err error
	if af.Reverse {
		_, err = a.Local.Unsubscribe([]byte(r.msgID))
	} else {
		_, err = a.Remote.Unsubscribe([]byte(r.msgID))
	}
	if err != nil {
		a.Log.WithError(err).Debug("peerproxy: autofetch unsubscribe failed")
	}
}

func (a *AutoFetcher) stopAll() {
	a.mu.Lock()
	all := a.active
	a.active = make(map[string]*running)
	a.mu.Unlock()
	for _, r := range all {
		a.Mutes.Unmute(r.msgID)
	}
}

// BlobFetchFunc performs the actual remote blob pull for SyncBlob,
// returning the complete blob bytes.
type BlobFetchFunc func() ([]byte, error)

// BlobCoordinator deduplicates concurrent blob pulls for the same node
// across every AutoFetcher sharing a local storage client: the first
// caller for a given key performs the fetch, every other caller for the
// same key observes its result (spec.md §4.9 syncBlob "first-match-wins").
type BlobCoordinator struct {
	mu       sync.Mutex
	inflight map[string]*blobPull
}

type blobPull struct {
	done chan struct{}
	data []byte
	err  error
}

// NewBlobCoordinator returns an empty BlobCoordinator.
func NewBlobCoordinator() *BlobCoordinator {
	return &BlobCoordinator{inflight: make(map[string]*blobPull)}
}

// SyncBlob returns a channel of exactly one BlobResult for key (typically
// hex(nodeId1)). If another caller is already pulling the same key, this
// call yields that pull's result instead of starting a second fetch.
func (bc *BlobCoordinator) SyncBlob(key string, fetch BlobFetchFunc) <-chan BlobResult {
	out := make(chan BlobResult, 1)

	bc.mu.Lock()
	p, inflight := bc.inflight[key]
	if !inflight {
		p = &blobPull{done: make(chan struct{})}
		bc.inflight[key] = p
	}
	bc.mu.Unlock()

	if inflight {
		go func() {
			<-p.done
			out <- BlobResult{Data: p.data, Err: p.err}
		}()
		return out
	}

	go func() {
		data, err := fetch()
		p.data, p.err = data, err
		close(p.done)
		bc.mu.Lock()
		delete(bc.inflight, key)
		bc.mu.Unlock()
		out <- BlobResult{Data: data, Err: err}
	}()
	return out
}

// BlobResult is the outcome SyncBlob delivers.
type BlobResult struct {
	Data []byte
	Err  error
}

// SyncBlob requests nodeId1's blob (expectedLen bytes) from the remote
// peer, deduplicating against any other AutoFetcher already pulling the
// same blob through the shared BlobCoordinator.
func (a *AutoFetcher) SyncBlob(nodeID1 []byte, expectedLen uint64) <-chan BlobResult {
	key := fmt.Sprintf("%x", nodeID1)
	return a.Blobs.SyncBlob(key, func() ([]byte, error) {
		g, err := a.Remote.ReadBlob(&wire.ReadBlobRequest{NodeID1: nodeID1, Length: uint32(expectedLen)})
		if err != nil {
			return nil, err
		}

		type result struct {
			data []byte
			err  error
		}
		resCh := make(chan result, 1)
		var buf []byte
		var once sync.Once
		g.OnReply(func(msg wire.Message) {
			rb, ok := msg.(*wire.ReadBlobResponse)
			if !ok {
				once.Do(func() { resCh <- result{err: fmt.Errorf("peerproxy: unexpected reply type %T", msg)} })
				return
			}
			buf = append(buf, rb.Data...)
			if rb.Seq == rb.EndSeq {
				once.Do(func() { resCh <- result{data: buf} })
			}
		})
		g.OnCancel(func() {
			once.Do(func() { resCh <- result{err: fmt.Errorf("peerproxy: blob sync cancelled")} })
		})

		r := <-resCh
		return r.data, r.err
	})
}
