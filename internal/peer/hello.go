package peer

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// helloLabel names the data channel used for the hello exchange.
const helloLabel = "callrelay-hello"

// Hello is the first frame exchanged over a negotiated data channel. The
// answering side echoes it back unchanged apart from From, Role and Echo.
type Hello struct {
	From   string `msgpack:"from"`
	Role   string `msgpack:"role"`
	SentAt int64  `msgpack:"sentAt"`
	Echo   bool   `msgpack:"echo"`
}

// NewHello stamps a hello with the current time.
func NewHello(from, role string) Hello {
	return Hello{From: from, Role: role, SentAt: time.Now().UnixNano()}
}

// Reply builds the echo for h, sent by from.
func (h Hello) Reply(from, role string) Hello {
	return Hello{From: from, Role: role, SentAt: h.SentAt, Echo: true}
}

// RTT is the round trip measured by the originator when the echo arrives.
func (h Hello) RTT(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.SentAt))
}

func EncodeHello(h Hello) ([]byte, error) {
	return msgpack.Marshal(h)
}

func DecodeHello(data []byte) (Hello, error) {
	var h Hello
	err := msgpack.Unmarshal(data, &h)
	return h, err
}
