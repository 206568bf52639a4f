// Package hashtable is a fixed-size chained hash table keyed by flow keys. Each
// bucket is a circular doubly-linked list so entries unlink in O(1) through their
// back-link.
package hashtable

import "Go2FlowSpectra/internal/engine/flowkey"

// DefaultSize is used when a table is created with a non-positive size.
const DefaultSize = 4096

// Entry is one key/value pair. An Entry handed out by Insert stays valid until it
// is removed.
type Entry[V any] struct {
	Key   flowkey.Key
	Value V

	bucket     int
	next, prev *Entry[V]
	table      *Table[V]
}

// Linked reports whether the entry is still held by a table.
func (e *Entry[V]) Linked() bool { return e.table != nil }

// Table is not safe for concurrent use; the owner serialises access.
type Table[V any] struct {
	buckets []*Entry[V]
	count   int
}

// New creates a table with size buckets.
func New[V any](size int) *Table[V] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Table[V]{buckets: make([]*Entry[V], size)}
}

// Len returns the number of entries.
func (t *Table[V]) Len() int { return t.count }

// Size returns the number of buckets.
func (t *Table[V]) Size() int { return len(t.buckets) }

func (t *Table[V]) index(k *flowkey.Key) int {
	return int(k.Hash % uint32(len(t.buckets)))
}

// Find returns the entry whose key equals k, or nil.
func (t *Table[V]) Find(k *flowkey.Key) *Entry[V] {
	head := t.buckets[t.index(k)]
	if head == nil {
		return nil
	}
	e := head
	for {
		if e.Key.Hash == k.Hash && e.Key.Equal(k) {
			return e
		}
		e = e.next
		if e == head {
			return nil
		}
	}
}

// Insert adds a new entry for k at the head of its bucket. It does not check for
// an existing entry; callers look up first.
func (t *Table[V]) Insert(k *flowkey.Key, v V) *Entry[V] {
	e := &Entry[V]{Key: *k, Value: v, table: t}
	e.bucket = t.index(k)
	head := t.buckets[e.bucket]
	if head == nil {
		e.next, e.prev = e, e
	} else {
		e.next = head
		e.prev = head.prev
		head.prev.next = e
		head.prev = e
	}
	t.buckets[e.bucket] = e
	t.count++
	return e
}

// Remove unlinks e. Removing an entry that is not linked into t is a no-op.
func (t *Table[V]) Remove(e *Entry[V]) {
	if e == nil || e.table != t {
		return
	}
	if e.next == e {
		t.buckets[e.bucket] = nil
	} else {
		e.prev.next = e.next
		e.next.prev = e.prev
		if t.buckets[e.bucket] == e {
			t.buckets[e.bucket] = e.next
		}
	}
	e.next, e.prev, e.table = nil, nil, nil
	t.count--
}

// Range calls fn for every entry until fn returns false. fn may remove the entry
// it is given.
func (t *Table[V]) Range(fn func(e *Entry[V]) bool) {
	for i := range t.buckets {
		head := t.buckets[i]
		if head == nil {
			continue
		}
		e := head
		last := head.prev
		for {
			next := e.next
			done := e == last
			if !fn(e) {
				return
			}
			if done {
				break
			}
			e = next
		}
	}
}

// Clear drops every entry.
func (t *Table[V]) Clear() {
	t.Range(func(e *Entry[V]) bool {
		e.next, e.prev, e.table = nil, nil, nil
		return true
	})
	clear(t.buckets)
	t.count = 0
}
