package peerproxy

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/odinsync/core/cert"
	"github.com/odinsync/core/crypto"
	"github.com/odinsync/core/node"
	"github.com/odinsync/core/peerclient"
	"github.com/odinsync/core/wire"
)

// Extender behaves like Forwarder for fetch paths, but re-signs embedded
// license nodes under the local key when the remote's permissions allow
// embedding/includeLicenses, extending licenses across the friend
// boundary (spec.md §4.9). Its sign-cert pool is hot-updatable via
// SetSignCerts; updates apply to fetches issued after the call.
type Extender struct {
	Remote *peerclient.P2PClient
	Local  *peerclient.P2PClient
	Mutes  *MuteLists
	Log    *logrus.Entry

	Factory *node.Factory
	Signer  crypto.PublicKey

	mu        sync.RWMutex
	signCerts []*cert.Cert
}

// NewExtender binds remote's inbound fetch/blob requests through local
// storage, re-signing embedded licenses as permitted.
func NewExtender(remote, local *peerclient.P2PClient, mutes *MuteLists, factory *node.Factory, signer crypto.PublicKey, log *logrus.Entry) *Extender {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Extender{
		Remote: remote, Local: local, Mutes: mutes,
		Factory: factory, Signer: signer,
		Log: log.WithField("proxy", "extender"),
	}
	remote.SetRequestHandler(e.handle)
	remote.OnClose(func() { local.Close() })
	return e
}

// SetSignCerts hot-swaps the candidate sign-cert pool used to re-sign
// extended licenses. Takes effect for fetches issued after the call.
func (e *Extender) SetSignCerts(certs []*cert.Cert) {
	e.mu.Lock()
	e.signCerts = certs
	e.mu.Unlock()
}

func (e *Extender) certs() []*cert.Cert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*cert.Cert{}, e.signCerts...)
}

func (e *Extender) handle(msgID string, req wire.Message) {
	if e.Mutes.IsMuted(msgID) {
		return
	}
	if !checkPermissions(e.Remote.Permissions, req) {
		if err := e.Remote.SendResponse(msgID, notAllowed(req)); err != nil {
			e.Log.WithError(err).Debug("peerproxy: not-allowed reply send failed")
		}
		return
	}
	g, err := dispatchLocal(e.Local, req)
	if err != nil {
		if sendErr := e.Remote.SendResponse(msgID, errorResponse(req, err)); sendErr != nil {
			e.Log.WithError(sendErr).Debug("peerproxy: error reply send failed")
		}
		return
	}

	_, isFetch := req.(*wire.FetchRequest)
	certs := e.certs()
	g.OnReply(func(resp wire.Message) {
		if isFetch {
			if fr, ok := resp.(*wire.FetchResponse); ok {
				e.extendLicenses(fr, certs)
			}
		}
		if err := e.Remote.SendResponse(msgID, resp); err != nil {
			e.Log.WithError(err).WithField("msgId", msgID).Warn("peerproxy: reply send failed")
		}
	})
}

// extendLicenses re-signs every decodable license node in resp under the
// extender's own key using certs (the sign-cert pool as it was when the
// fetch arrived), when the remote's connection permissions
// (AllowEmbed/AllowIncludeLicenses) allow it. Nodes that fail to decode or
// have no matching sign-cert are passed through unchanged.
func (e *Extender) extendLicenses(resp *wire.FetchResponse, certs []*cert.Cert) {
	if !e.Remote.Permissions.Fetch.AllowEmbed && !e.Remote.Permissions.Fetch.AllowIncludeLicenses {
		return
	}
	if len(certs) == 0 {
		return
	}
	for i, raw := range resp.Result.Nodes {
		n, err := node.Decode(raw)
		if err != nil || n.Kind != node.KindLicense {
			continue
		}
		resigned, err := e.Factory.Build(node.KindLicense, n.Params, e.Signer, certs)
		if err != nil {
			continue
		}
		resp.Result.Nodes[i] = resigned.Body()
	}
}
