package relay

import "github.com/coder/websocket"

// bufferedMsg is one client message held back while the upstream connection
// is still opening. The websocket message type is preserved so control
// messages replay as text and audio as binary.
type bufferedMsg struct {
	typ  websocket.MessageType
	data []byte
}

// Prebuffer is a byte-capped FIFO of client messages. When pushing a message
// would exceed the cap, whole messages are evicted oldest-first until it
// fits — bounded memory, tolerable loss of only the oldest buffered audio.
//
// Prebuffer is not safe for concurrent use; the owning session serialises
// access.
type Prebuffer struct {
	capBytes int
	msgs     []bufferedMsg
	size     int
}

// NewPrebuffer creates a Prebuffer holding at most capBytes of payload.
func NewPrebuffer(capBytes int) *Prebuffer {
	return &Prebuffer{capBytes: capBytes}
}

// Push appends a message and evicts oldest-first while the total payload
// exceeds the cap. It returns the number of bytes evicted. A message larger
// than the cap itself evicts everything and is then dropped entirely.
func (p *Prebuffer) Push(typ websocket.MessageType, data []byte) (evicted int) {
	p.msgs = append(p.msgs, bufferedMsg{typ: typ, data: data})
	p.size += len(data)

	for p.size > p.capBytes && len(p.msgs) > 0 {
		head := p.msgs[0]
		p.msgs = p.msgs[1:]
		p.size -= len(head.data)
		evicted += len(head.data)
	}
	return evicted
}

// Drain returns all buffered messages in arrival order and empties the
// buffer.
func (p *Prebuffer) Drain() []bufferedMsg {
	msgs := p.msgs
	p.msgs = nil
	p.size = 0
	return msgs
}

// Len returns the number of buffered messages.
func (p *Prebuffer) Len() int { return len(p.msgs) }

// Bytes returns the total buffered payload size.
func (p *Prebuffer) Bytes() int { return p.size }
