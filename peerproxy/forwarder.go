// Package peerproxy implements the per-peer routing layer spec.md §4.9
// describes: Forwarder, Extender, and AutoFetcher, each binding one
// remote P2PClient to the local storage P2PClient.
package peerproxy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/storageclient"
	"github.com/odinsync/core/wire"
)

// Forwarder routes allowed request kinds from a remote peer to local
// storage, subject to fetch/store permissions, replying NotAllowed to
// anything it disallows.
type Forwarder struct {
	Remote *peerclient.P2PClient
	Local  *peerclient.P2PClient
	Mutes  *MuteLists
	Log    *logrus.Entry
}

// NewForwarder binds remote's inbound requests to local storage and
// returns the Forwarder. It takes over remote's request handler.
func NewForwarder(remote, local *peerclient.P2PClient, mutes *MuteLists, log *logrus.Entry) *Forwarder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	f := &Forwarder{Remote: remote, Local: local, Mutes: mutes, Log: log.WithField("proxy", "forwarder")}
	remote.SetRequestHandler(f.handle)
	remote.OnClose(func() { local.Close() })
	return f
}

func (f *Forwarder) handle(msgID string, req wire.Message) {
	if f.Mutes.IsMuted(msgID) {
		return
	}
	if !f.allowed(req) {
		if err := f.Remote.SendResponse(msgID, notAllowed(req)); err != nil {
			f.Log.WithError(err).Debug("peerproxy: not-allowed reply send failed")
		}
		return
	}
	g, err := dispatchLocal(f.Local, req)
	if err != nil {
		if sendErr := f.Remote.SendResponse(msgID, errorResponse(req, err)); sendErr != nil {
			f.Log.WithError(sendErr).Debug("peerproxy: error reply send failed")
		}
		return
	}
	g.OnReply(func(resp wire.Message) {
		if err := f.Remote.SendResponse(msgID, resp); err != nil {
			f.Log.WithError(err).WithField("msgId", msgID).Warn("peerproxy: reply send failed")
		}
	})
}

func (f *Forwarder) allowed(req wire.Message) bool {
	return checkPermissions(f.Remote.Permissions, req)
}

func checkPermissions(perms peerclient.Permissions, req wire.Message) bool {
	switch r := req.(type) {
	case *wire.FetchRequest:
		for _, m := range r.Query.Match {
			if !perms.Fetch.AllowsNodeType(m.NodeType) {
				return false
			}
		}
		return true
	case *wire.StoreRequest:
		return perms.Store.AllowStore
	case *wire.WriteBlobRequest:
		return perms.Store.AllowWriteBlob
	case *wire.ReadBlobRequest:
		return perms.Fetch.AllowReadBlob
	case *wire.UnsubscribeRequest, *wire.GenericMessageRequest:
		return true
	default:
		return false
	}
}

// dispatchLocal routes req to the appropriate method on local's embedded
// storageclient.Client.
func dispatchLocal(local *peerclient.P2PClient, req wire.Message) (*storageclient.GetResponse, error) {
	switch r := req.(type) {
	case *wire.FetchRequest:
		return local.Fetch(r)
	case *wire.StoreRequest:
		return local.Store(r)
	case *wire.UnsubscribeRequest:
		return local.Unsubscribe(r.OriginalMsgID)
	case *wire.WriteBlobRequest:
		return local.WriteBlob(r)
	case *wire.ReadBlobRequest:
		return local.ReadBlob(r)
	case *wire.GenericMessageRequest:
		return local.SendMessage(r)
	default:
		return nil, fmt.Errorf("peerproxy: unsupported request type %T", req)
	}
}

// notAllowed builds the response variant matching req's kind with
// Status = NotAllowed.
func notAllowed(req wire.Message) wire.Message {
	return statusResponse(req, wire.StatusNotAllowed, "")
}

func errorResponse(req wire.Message, err error) wire.Message {
	return statusResponse(req, wire.StatusError, err.Error())
}

func statusResponse(req wire.Message, status wire.Status, errMsg string) wire.Message {
	switch req.(type) {
	case *wire.FetchRequest:
		return &wire.FetchResponse{Status: status, Error: errMsg, EndSeq: 1, Seq: 1}
	case *wire.StoreRequest:
		return &wire.StoreResponse{Status: status, Error: errMsg}
	case *wire.UnsubscribeRequest:
		return &wire.UnsubscribeResponse{Status: status, Error: errMsg}
	case *wire.WriteBlobRequest:
		return &wire.WriteBlobResponse{Status: status, Error: errMsg}
	case *wire.ReadBlobRequest:
		return &wire.ReadBlobResponse{Status: status, Error: errMsg, EndSeq: 1, Seq: 1}
	case *wire.GenericMessageRequest:
		return &wire.GenericMessageResponse{Status: status, Error: errMsg}
	default:
		return &wire.GenericMessageResponse{Status: status, Error: errMsg}
	}
}
