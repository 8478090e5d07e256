package musepa

import (
	"bytes"
	"fmt"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/mux"
)

// notifySeq hands out the monotonically increasing Observe sequence numbers
// notifications carry (RFC 7641). A Server holds one notifySeq shared by all
// of its subscriptions, so the numbers one subscription's observers see
// always increase but are not necessarily consecutive.
type notifySeq struct {
	n uint32
}

func (s *notifySeq) next() uint32 {
	s.n++
	return s.n
}

// notifyObservers pushes result to every client currently observing sub,
// grounded on the teacher's Observations.sendResponse: a confirmable
// message carrying the Observe option and the new representation. A
// client that has gone away (WriteMessage error) is dropped from the
// observer set rather than retried - per RFC 7641 §3.6 an unresponsive
// client is expected to reset the token itself, but pruning here keeps
// the registry from piling up dead entries.
func notifyObservers(sub *Subscription, result []byte, seq *notifySeq) {
	if len(sub.observers) == 0 {
		return
	}

	num := seq.next()
	for key, obs := range sub.observers {
		if err := sendNotification(obs.client, obs.token, num, result); err != nil {
			delete(sub.observers, key)
		}
	}
}

func sendNotification(client mux.Client, token []byte, seqNum uint32, data []byte) error {
	m := message.Message{
		Code:    codes.Content,
		Token:   token,
		Context: client.Context(),
		Body:    bytes.NewReader(data),
	}
	var opts message.Options
	var buf []byte
	opts, n, err := opts.SetContentFormat(buf, message.AppJSON)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, n)...)
		opts, n, err = opts.SetContentFormat(buf, message.AppJSON)
	}
	if err != nil {
		return fmt.Errorf("musepa: setting notification content format: %w", err)
	}
	opts, n, err = opts.SetObserve(buf, seqNum)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, n)...)
		opts, n, err = opts.SetObserve(buf, seqNum)
	}
	if err != nil {
		return fmt.Errorf("musepa: setting notification observe sequence: %w", err)
	}
	m.Options = opts
	return client.WriteMessage(&m)
}
