package peerproxy

import (
	"github.com/odinsync/core/wire"
)

// fakeChannel is a hand-wired peerclient.Channel fixture: Send just
// records what was written, and the test drives inbound delivery directly
// through the unexported receiver field, matching the synchronous fixture
// style storageclient's EchoSender uses.
type fakeChannel struct {
	sent    []wire.Message
	sentIDs []string
	receiver func(msgID string, msg wire.Message)
}

func (f *fakeChannel) Send(msgID string, msg wire.Message) error {
	f.sent = append(f.sent, msg)
	f.sentIDs = append(f.sentIDs, msgID)
	return nil
}
func (f *fakeChannel) SetReceiver(cb func(msgID string, msg wire.Message)) { f.receiver = cb }
func (f *fakeChannel) Close() error                                       { return nil }

func (f *fakeChannel) last() wire.Message {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeChannel) lastMsgID() string {
	if len(f.sentIDs) == 0 {
		return ""
	}
	return f.sentIDs[len(f.sentIDs)-1]
}
