package agent

import "sync"

// mailbox is the agent's FIFO inbox. A slice guarded by a cond (rather than
// a channel) so the owner can selectively drain queued trigger messages
// without disturbing anything else in line.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []any
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// push appends a message. Returns false when the mailbox is closed.
func (m *mailbox) push(msg any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items = append(m.items, msg)
	m.cond.Signal()
	return true
}

// pop blocks until a message is available or the mailbox closes.
func (m *mailbox) pop() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.items) == 0 {
		return nil, false
	}
	msg := m.items[0]
	m.items = m.items[1:]
	return msg, true
}

// drainTriggers removes every queued trigger-consensus message, leaving all
// other messages in order, and reports how many were dropped.
func (m *mailbox) drainTriggers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	dropped := 0
	for _, msg := range m.items {
		if _, isTrigger := msg.(msgTriggerConsensus); isTrigger {
			dropped++
			continue
		}
		kept = append(kept, msg)
	}
	m.items = kept
	return dropped
}

// close wakes the owner; pending messages are still delivered before pop
// reports closure.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
