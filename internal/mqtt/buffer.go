package mqtt

// queuedMsg is a serialized MQTT message held for replay after reconnection.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO holding messages while the broker is
// unreachable. When full the oldest message is overwritten.
// Not safe for concurrent use; the caller synchronizes.
type outbox struct {
	slots   []queuedMsg
	head    int // next write position
	count   int
	dropped int // messages overwritten since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{slots: make([]queuedMsg, capacity)}
}

// push queues msg and reports whether an older message was overwritten.
func (o *outbox) push(msg queuedMsg) bool {
	capacity := len(o.slots)
	o.slots[o.head] = msg
	o.head = (o.head + 1) % capacity
	if o.count == capacity {
		o.dropped++
		return true
	}
	o.count++
	return false
}

// drain returns queued messages oldest first along with the number that
// were lost to overflow, and empties the outbox.
func (o *outbox) drain() ([]queuedMsg, int) {
	dropped := o.dropped
	o.dropped = 0
	if o.count == 0 {
		return nil, dropped
	}
	capacity := len(o.slots)
	out := make([]queuedMsg, o.count)
	start := (o.head - o.count + capacity) % capacity
	for i := range out {
		out[i] = o.slots[(start+i)%capacity]
		o.slots[(start+i)%capacity] = queuedMsg{}
	}
	o.count = 0
	o.head = 0
	return out, dropped
}

func (o *outbox) len() int {
	return o.count
}
