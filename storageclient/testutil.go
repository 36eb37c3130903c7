package storageclient

import "github.com/odinsync/core/wire"

// EchoSender is a Sender that synchronously calls a reply function for
// every outgoing message and delivers its result back into the owning
// Client. It stands in for a real transport in package tests outside
// storageclient (thread, peerproxy) that need a StorageClient without a
// socket.
type EchoSender struct {
	Client *Client
	Reply  func(msgID string, msg wire.Message) (wire.Message, error)
}

func (e *EchoSender) Send(msgID string, msg wire.Message) error {
	resp, err := e.Reply(msgID, msg)
	if err != nil {
		e.Client.Fail(msgID, err)
		return nil
	}
	e.Client.Deliver(msgID, resp)
	return nil
}
