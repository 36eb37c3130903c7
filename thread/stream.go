package thread

import (
	"sync"

	"github.com/odinsync/core/node"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

// Stream is the ThreadStreamResponseAPI spec.md §4.7 describes: a
// running subscription that chunks decoded Data nodes to onData and
// dispatches a single (added, updated, deleted) batch to onChange once
// per fetch response whose seq reaches endSeq.
type Stream struct {
	thread *Thread
	view   *View

	mu       sync.Mutex
	onData   []func([]*node.Node)
	onChange []func(added, updated, deleted []*node.Node)
	get      *storageclient.GetResponse
	delta    []byte
}

// Stream merges req per GetFetchRequest(req, true) and opens a streaming
// fetch, wiring its replies into onData/onChange dispatch.
func (t *Thread) Stream(req wire.FetchRequest) (*Stream, error) {
	merged, err := t.GetFetchRequest(req, true)
	if err != nil {
		return nil, err
	}
	g, err := t.Client.Fetch(&merged)
	if err != nil {
		return nil, err
	}

	s := &Stream{thread: t, view: NewView(), get: g}
	g.OnReply(s.handleReply)
	return s, nil
}

// OnData registers cb to be called with every batch of newly-decoded
// nodes as chunks arrive: non-special nodes plus DESTROY_NODE and
// DESTROY_LICENSES_FOR_NODE nodes.
func (s *Stream) OnData(cb func([]*node.Node)) {
	s.mu.Lock()
	s.onData = append(s.onData, cb)
	s.mu.Unlock()
}

// OnChange registers cb to be called once per completed fetch batch with
// the CRDT view diff.
func (s *Stream) OnChange(cb func(added, updated, deleted []*node.Node)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, cb)
	s.mu.Unlock()
}

// Delta returns the CRDT delta fragments accumulated since the last
// completed batch, concatenated in arrival order.
func (s *Stream) Delta() []byte { return s.delta }

// View exposes the live CRDT view this stream maintains.
func (s *Stream) View() *View { return s.view }

func (s *Stream) handleReply(msg wire.Message) {
	resp, ok := msg.(*wire.FetchResponse)
	if !ok {
		return
	}

	var batch []*node.Node
	for _, raw := range resp.Result.Nodes {
		n, err := node.Decode(raw)
		if err != nil {
			continue
		}
		if n.Flags.IsSpecial && n.Info != tagDestroyNode && n.Info != tagDestroyLicensesForNode {
			continue
		}
		batch = append(batch, n)
	}
	s.delta = append(s.delta, resp.CRDTResult.Delta...)

	if len(batch) > 0 {
		s.mu.Lock()
		dataCbs := append([]func([]*node.Node){}, s.onData...)
		s.mu.Unlock()
		for _, cb := range dataCbs {
			cb(batch)
		}
	}

	if resp.Seq != resp.EndSeq {
		return
	}

	added, updated, deleted := s.view.ApplyBatch(batch)
	s.delta = nil

	s.mu.Lock()
	changeCbs := append([]func(added, updated, deleted []*node.Node){}, s.onChange...)
	s.mu.Unlock()
	for _, cb := range changeCbs {
		cb(added, updated, deleted)
	}
}

// StopStream unsubscribes the underlying fetch.
func (s *Stream) StopStream() error {
	_, err := s.thread.Client.Unsubscribe([]byte(s.get.GetMsgID()))
	return err
}

// UpdateStream re-issues the underlying fetch with a new merged request,
// clearing crdt.msgId to force a fresh subscription (identical to the
// promotion behavior GetFetchRequest already applies).
func (s *Stream) UpdateStream(req wire.FetchRequest) error {
	merged, err := s.thread.GetFetchRequest(req, true)
	if err != nil {
		return err
	}
	g, err := s.thread.Client.Fetch(&merged)
	if err != nil {
		return err
	}
	s.get = g
	g.OnReply(s.handleReply)
	return nil
}
