package bus

import (
	"sync"
)

// Mailbox is an unbounded FIFO queue backed by a ring buffer that doubles
// its capacity when it reaches 70% full. Send never blocks and never drops.
type Mailbox[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	totalIn     int64
	totalOut    int64
	dropped     int64
	resizeCount int
}

// NewMailbox creates a mailbox with the given initial capacity.
func NewMailbox[T any](initialCapacity int) *Mailbox[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	m := &Mailbox[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Send appends an item. Returns false if the mailbox is closed.
func (m *Mailbox[T]) Send(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	threshold := (m.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if m.count+1 >= threshold {
		m.grow()
	}

	m.buf[m.tail] = item
	m.tail = (m.tail + 1) % m.capacity
	m.count++
	m.totalIn++

	m.cond.Signal()
	return true
}

// Receive removes the oldest item, blocking until one is available.
// Returns false once the mailbox is closed and empty.
func (m *Mailbox[T]) Receive() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.count == 0 && !m.closed {
		m.cond.Wait()
	}

	if m.count == 0 {
		var zero T
		return zero, false
	}
	return m.pop(), true
}

// DrainTo removes up to max items (all when max <= 0) without blocking.
func (m *Mailbox[T]) DrainTo(max int) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return nil
	}

	n := m.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = m.pop()
	}
	return result
}

// Close stops accepting items. Pending items can still be received.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}

// Discard closes the mailbox and drops every pending item.
func (m *Mailbox[T]) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.dropped += int64(m.count)
	var zero T
	for i := range m.buf {
		m.buf[i] = zero
	}
	m.head, m.tail, m.count = 0, 0, 0
	m.cond.Broadcast()
}

// Len returns the number of pending items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Stats returns mailbox statistics.
func (m *Mailbox[T]) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MailboxStats{
		Pending:     m.count,
		Capacity:    m.capacity,
		TotalIn:     m.totalIn,
		TotalOut:    m.totalOut,
		Dropped:     m.dropped,
		ResizeCount: m.resizeCount,
	}
}

// MailboxStats contains mailbox statistics.
type MailboxStats struct {
	Pending     int
	Capacity    int
	TotalIn     int64
	TotalOut    int64
	Dropped     int64 // discarded by Discard
	ResizeCount int
}

// pop removes the head item. Must be called with lock held and count > 0.
func (m *Mailbox[T]) pop() T {
	item := m.buf[m.head]
	var zero T
	m.buf[m.head] = zero // release reference
	m.head = (m.head + 1) % m.capacity
	m.count--
	m.totalOut++
	return item
}

// grow doubles the capacity. Must be called with lock held.
func (m *Mailbox[T]) grow() {
	newCapacity := m.capacity * 2
	newBuf := make([]T, newCapacity)

	if m.count > 0 {
		if m.head < m.tail {
			copy(newBuf, m.buf[m.head:m.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, m.buf[m.head:])
			copy(newBuf[n:], m.buf[:m.tail])
		}
	}

	m.buf = newBuf
	m.head = 0
	m.tail = m.count
	m.capacity = newCapacity
	m.resizeCount++
}
