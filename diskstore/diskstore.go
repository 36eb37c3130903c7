// Package diskstore is the reference service.StorageDriver: a disk-backed,
// content-addressed node/blob store. It wraps node.ID1 and blob keys as
// CIDs (spec.md §1's "storage query engine internals" are out of scope;
// this is the minimal concrete backend the rest of the module needs to
// exercise Store/Fetch/WriteBlob/ReadBlob end to end), with a bounded
// in-memory LRU in front of the on-disk files, the same two-tier shape as
// the teacher's IPFS-gateway cache in core/storage.go.
package diskstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/node"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/wire"
)

// Driver is a disk-backed service.StorageDriver. Zero value is not usable;
// construct with New.
type Driver struct {
	Dir string
	Log *logrus.Entry

	cache *lru.Cache[string, []byte]

	mu       sync.Mutex
	byParent map[string][]string // hex(parentID) -> []cidKey, insertion order
	blobLen  map[string]uint64   // cidKey -> current blob length
}

// New returns a Driver rooted at dir, with an in-memory LRU of capacity
// cacheEntries fronting the disk.
func New(dir string, cacheEntries int, log *logrus.Entry) (*Driver, error) {
	if cacheEntries <= 0 {
		cacheEntries = 1024
	}
	cache, err := lru.New[string, []byte](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("diskstore: new lru: %w", err)
	}
	return &Driver{
		Dir:      dir,
		Log:      log,
		cache:    cache,
		byParent: make(map[string][]string),
		blobLen:  make(map[string]uint64),
	}, nil
}

// addressOf wraps raw content-address bytes (a node's ID1, or a blob's
// node-ID1-derived key) as a CIDv1 over a sha2-256 multihash, the same
// chunk-addressing scheme core/storage.go used for IPFS gateway keys.
func addressOf(raw []byte) (cid.Cid, error) {
	sum, err := mh.Sum(raw, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("diskstore: multihash sum: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

func blobAddress(nodeID1 []byte) (cid.Cid, error) {
	return addressOf(append([]byte("blob:"), nodeID1...))
}

func (d *Driver) path(c cid.Cid) string {
	return filepath.Join(d.Dir, c.String())
}

// Open creates the backing directory.
func (d *Driver) Open() error {
	return os.MkdirAll(d.Dir, 0o755)
}

// CreateTables is a no-op: diskstore has no schema to migrate.
func (d *Driver) CreateTables() error { return nil }

// Close is a no-op: files are flushed synchronously by every write.
func (d *Driver) Close() error { return nil }

func (d *Driver) read(c cid.Cid) ([]byte, bool) {
	key := c.String()
	if v, ok := d.cache.Get(key); ok {
		return v, true
	}
	b, err := os.ReadFile(d.path(c))
	if err != nil {
		return nil, false
	}
	d.cache.Add(key, b)
	return b, true
}

func (d *Driver) write(c cid.Cid, data []byte) error {
	if err := os.WriteFile(d.path(c), data, 0o644); err != nil {
		return fmt.Errorf("diskstore: write %s: %w", c, err)
	}
	d.cache.Add(c.String(), data)
	return nil
}

// Serve answers Store/Fetch/WriteBlob/ReadBlob/Unsubscribe/GenericMessage
// requests arriving on channel until ctx is cancelled or channel closes.
func (d *Driver) Serve(ctx context.Context, channel peerclient.Channel) error {
	channel.SetReceiver(func(msgID string, msg wire.Message) {
		resp := d.handle(msg)
		if resp == nil {
			return
		}
		if err := channel.Send(msgID, resp); err != nil && d.Log != nil {
			d.Log.WithError(err).Warn("diskstore: send response")
		}
	})
	<-ctx.Done()
	return ctx.Err()
}

func (d *Driver) handle(msg wire.Message) wire.Message {
	switch req := msg.(type) {
	case *wire.StoreRequest:
		return d.handleStore(req)
	case *wire.FetchRequest:
		return d.handleFetch(req)
	case *wire.WriteBlobRequest:
		return d.handleWriteBlob(req)
	case *wire.ReadBlobRequest:
		return d.handleReadBlob(req)
	case *wire.UnsubscribeRequest:
		return &wire.UnsubscribeResponse{Status: wire.StatusResult}
	case *wire.GenericMessageRequest:
		return &wire.GenericMessageResponse{Status: wire.StatusError, Error: "diskstore: generic messages not supported"}
	default:
		return nil
	}
}

func (d *Driver) handleStore(req *wire.StoreRequest) wire.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := make([][]byte, 0, len(req.Nodes))
	for _, body := range req.Nodes {
		n, err := node.Decode(body)
		if err != nil {
			continue
		}
		addr, err := addressOf(n.ID1)
		if err != nil {
			continue
		}
		if err := d.write(addr, body); err != nil {
			continue
		}
		parentKey := hex.EncodeToString(n.ParentID)
		d.byParent[parentKey] = append(d.byParent[parentKey], addr.String())
		stored = append(stored, n.ID1)
	}
	return &wire.StoreResponse{Status: wire.StatusResult, StoredID1List: stored}
}

func (d *Driver) handleFetch(req *wire.FetchRequest) wire.Message {
	d.mu.Lock()
	keys := append([]string(nil), d.byParent[hex.EncodeToString(req.Query.ParentID)]...)
	d.mu.Unlock()

	limit := int(req.Query.Limit)
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	nodes := make([][]byte, 0, limit)
	for _, key := range keys[:limit] {
		c, err := cid.Decode(key)
		if err != nil {
			continue
		}
		if body, ok := d.read(c); ok {
			nodes = append(nodes, body)
		}
	}
	return &wire.FetchResponse{
		Status:   wire.StatusResult,
		Result:   wire.FetchResult{Nodes: nodes},
		Seq:      0,
		EndSeq:   0,
		RowCount: uint16(len(nodes)),
	}
}

var errBlobNotFound = errors.New("diskstore: blob not found")

func (d *Driver) handleWriteBlob(req *wire.WriteBlobRequest) wire.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr, err := blobAddress(req.NodeID1)
	if err != nil {
		return &wire.WriteBlobResponse{Status: wire.StatusError, Error: err.Error()}
	}
	existing, _ := d.read(addr)
	end := int(req.Pos) + len(req.Data)
	if end > len(existing) {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[req.Pos:], req.Data)
	if err := d.write(addr, existing); err != nil {
		return &wire.WriteBlobResponse{Status: wire.StatusError, Error: err.Error()}
	}
	d.blobLen[addr.String()] = uint64(len(existing))
	return &wire.WriteBlobResponse{Status: wire.StatusResult, CurrentLength: uint64(len(existing))}
}

func (d *Driver) handleReadBlob(req *wire.ReadBlobRequest) wire.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr, err := blobAddress(req.NodeID1)
	if err != nil {
		return &wire.ReadBlobResponse{Status: wire.StatusError, Error: err.Error()}
	}
	data, ok := d.read(addr)
	if !ok {
		return &wire.ReadBlobResponse{Status: wire.StatusError, Error: errBlobNotFound.Error()}
	}
	start := int(req.Pos)
	if start > len(data) {
		start = len(data)
	}
	end := start + int(req.Length)
	if end > len(data) {
		end = len(data)
	}
	return &wire.ReadBlobResponse{
		Status:     wire.StatusResult,
		Data:       data[start:end],
		Seq:        0,
		EndSeq:     0,
		BlobLength: uint64(len(data)),
	}
}
