// Package aggregator keys canonical records by a configurable flow mask and merges
// every record of one flow into a single aggregate.
package aggregator

import (
	"container/list"
	"sync"
	"time"

	"Go2FlowSpectra/internal/engine/flowkey"
	"Go2FlowSpectra/internal/engine/hashtable"
	"Go2FlowSpectra/internal/engine/merge"
	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"k8s.io/utils/clock"
)

// Result is the outcome of offering a record to an aggregator.
type Result int

const (
	Skipped Result = iota
	Inserted
	Updated
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	}
	return "skipped"
}

// Config describes how an aggregator keys and combines records.
type Config struct {
	Name string
	Mask flowkey.Mask
	// Size is the number of hash buckets.
	Size int
	// Protocols restricts the aggregator to these IP protocols when not empty.
	Protocols []uint8
	// Label is added to every aggregate.
	Label string
	// Retain selects the DSRs kept in aggregates. Zero keeps all of them.
	Retain model.Mask
	// ReverseMatch also looks records up under their reverse key.
	ReverseMatch bool
	// IdleTimeout evicts aggregates not updated for this long. Zero disables it.
	IdleTimeout time.Duration
	// StatusTimeout reports live aggregates at this interval. Zero disables it.
	StatusTimeout time.Duration
	// Continue passes matched records on to the next aggregator of a chain.
	Continue bool
}

// Aggregate is one flow's merged record plus its bookkeeping.
type Aggregate struct {
	Record   *model.Record
	Created  time.Time
	Updated  time.Time
	Reported time.Time
	Merges   int

	// oriented is set once a reverse match has fixed which side is the source.
	oriented bool
	entry    *hashtable.Entry[*Aggregate]
	elem     *list.Element
}

// Stats counts aggregator outcomes.
type Stats struct {
	Inserted    uint64
	Updated     uint64
	Skipped     uint64
	ReverseHits uint64
	Flushed     uint64
}

// Aggregator owns a hash table of aggregates and a queue ordered by last update,
// most recent first. All methods are safe for concurrent use.
type Aggregator struct {
	cfg     Config
	builder *flowkey.Builder
	clock   clock.PassiveClock
	next    *Aggregator

	mu    sync.Mutex
	table *hashtable.Table[*Aggregate]
	queue *list.List
	stats Stats
	// scratch keys, guarded by mu
	fwd, rev flowkey.Key
}

// New creates an aggregator using the real clock.
func New(cfg Config) *Aggregator {
	return NewWithClock(cfg, clock.RealClock{})
}

// NewWithClock creates an aggregator whose timeouts follow clk.
func NewWithClock(cfg Config, clk clock.PassiveClock) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		builder: flowkey.NewBuilder(cfg.Mask),
		clock:   clk,
		table:   hashtable.New[*Aggregate](cfg.Size),
		queue:   list.New(),
	}
}

// Clone returns an empty aggregator chain with the same configuration.
func (a *Aggregator) Clone() *Aggregator {
	c := NewWithClock(a.cfg, a.clock)
	if a.next != nil {
		c.next = a.next.Clone()
	}
	return c
}

// Config returns the aggregator's configuration.
func (a *Aggregator) Config() Config { return a.cfg }

// Name returns the configured name.
func (a *Aggregator) Name() string { return a.cfg.Name }

// Chain appends next to the end of a's chain and returns a.
func (a *Aggregator) Chain(next *Aggregator) *Aggregator {
	tail := a
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = next
	return a
}

// Next returns the following aggregator of the chain, or nil.
func (a *Aggregator) Next() *Aggregator { return a.next }

// Process offers rec to each aggregator of the chain in turn. It stops at the
// first aggregator that accepts the record unless that aggregator continues, and
// returns the first non-skipped result.
func (a *Aggregator) Process(rec *model.Record) Result {
	res := Skipped
	for cur := a; cur != nil; cur = cur.next {
		r := cur.Insert(rec)
		if r == Skipped {
			continue
		}
		if res == Skipped {
			res = r
		}
		if !cur.cfg.Continue {
			break
		}
	}
	return res
}

// Insert merges rec into this aggregator only. rec is not retained or modified.
// Keys are built from rec as received; prefix generalisation of the stored copy
// happens once its orientation is settled.
func (a *Aggregator) Insert(rec *model.Record) Result {
	if !a.accepts(rec) {
		a.mu.Lock()
		a.stats.Skipped++
		a.mu.Unlock()
		return Skipped
	}

	in := a.prepare(rec)
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.builder.Build(rec, flowkey.Forward, &a.fwd)
	if e := a.table.Find(&a.fwd); e != nil {
		a.update(e.Value, in, now)
		a.stats.Updated++
		return Updated
	}

	if a.cfg.ReverseMatch {
		a.builder.Build(rec, flowkey.Reverse, &a.rev)
		if e := a.table.Find(&a.rev); e != nil && !a.rev.Equal(&a.fwd) {
			a.stats.ReverseHits++
			agg := e.Value
			if !agg.oriented && sawSyn(rec) && !sawSyn(agg.Record) {
				a.turnAround(agg, &a.fwd)
			} else {
				in = a.prepare(protocol.Reversed(rec))
			}
			agg.oriented = true
			a.update(agg, in, now)
			a.stats.Updated++
			return Updated
		}
	}

	a.create(in, now)
	a.stats.Inserted++
	return Inserted
}

func (a *Aggregator) accepts(rec *model.Record) bool {
	if len(a.cfg.Protocols) == 0 {
		return true
	}
	f := rec.Flow
	if f == nil {
		return false
	}
	for _, p := range a.cfg.Protocols {
		if p == f.Proto {
			return true
		}
	}
	return false
}

// prepare copies the retained DSRs of rec and generalises its addresses to the
// mask's prefixes.
func (a *Aggregator) prepare(rec *model.Record) *model.Record {
	in := rec.Clone()
	if keep := a.cfg.Retain; keep != 0 {
		for i := model.Index(0); i < model.NumSlots; i++ {
			if !keep.Has(i) && i != model.IdxFlow {
				in.Drop(i)
			}
		}
	}
	if f := in.Flow; f != nil && f.AddrLen() > 0 {
		full := f.MaxMask()
		if f.SrcMask == 0 || f.SrcMask > full {
			f.SrcMask = full
		}
		if f.DstMask == 0 || f.DstMask > full {
			f.DstMask = full
		}
		if p := a.cfg.Mask.SrcPrefix; p > 0 && p < f.SrcMask {
			f.SrcAddr, f.SrcMask = flowkey.MaskAddr(f.SrcAddr, f.AddrLen(), p), p
		}
		if p := a.cfg.Mask.DstPrefix; p > 0 && p < f.DstMask {
			f.DstAddr, f.DstMask = flowkey.MaskAddr(f.DstAddr, f.AddrLen(), p), p
		}
	}
	seedAgr(in)
	if a.cfg.Label != "" {
		l := in.UseLabel()
		l.Set(merge.MergeLabels(l.String(), a.cfg.Label))
	}
	return in
}

// seedAgr gives a fresh record an Agr DSR counting itself once.
func seedAgr(rec *model.Record) {
	if rec.Agr != nil {
		return
	}
	agr := rec.UseAgr()
	agr.Count = 1
	if t := rec.Time; t != nil {
		if start, end, ok := t.Bounds(); ok {
			agr.LastStart, agr.Last = start, end
			agr.Act = merge.Sample(uint32(min(end-start, int64(^uint32(0)))))
		}
	}
}

func (a *Aggregator) create(in *model.Record, now time.Time) {
	protocol.Derive(in)
	agg := &Aggregate{Record: in, Created: now, Updated: now, Reported: now}
	agg.entry = a.table.Insert(&a.fwd, agg)
	agg.elem = a.queue.PushFront(agg)
}

func (a *Aggregator) update(agg *Aggregate, in *model.Record, now time.Time) {
	rec := agg.Record
	if rec.Agr != nil && in.Agr != nil && in.Agr.LastStart > rec.Agr.Last {
		gap := min(in.Agr.LastStart-rec.Agr.Last, int64(^uint32(0)))
		rec.Agr.Idle = merge.CombineStats(rec.Agr.Idle, merge.Sample(uint32(gap)))
	}
	merge.Merge(rec, in)
	protocol.Derive(rec)
	agg.Merges++
	agg.Updated = now
	a.queue.MoveToFront(agg.elem)
}

// turnAround reverses a stored aggregate and files it under k, the forward key of
// the record that now defines its orientation.
func (a *Aggregator) turnAround(agg *Aggregate, k *flowkey.Key) {
	agg.Record = protocol.Reversed(agg.Record)
	a.table.Remove(agg.entry)
	agg.entry = a.table.Insert(k, agg)
}

// sawSyn reports whether the record's source opened a TCP connection.
func sawSyn(rec *model.Record) bool {
	n := rec.Network
	if n == nil || n.Kind != model.NetTCP {
		return false
	}
	return n.TCP.Src.Flags&(model.TCPFlagSYN|model.TCPFlagACK) == model.TCPFlagSYN
}

// Len returns the number of live aggregates.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.table.Len()
}

// Stats returns a copy of the outcome counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Records returns copies of the live aggregates, most recently updated first.
func (a *Aggregator) Records() []*model.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*model.Record, 0, a.queue.Len())
	for el := a.queue.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Aggregate).Record.Clone())
	}
	return out
}

// Drain removes every aggregate and returns their records.
func (a *Aggregator) Drain() []*model.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*model.Record, 0, a.queue.Len())
	for el := a.queue.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Aggregate).Record)
	}
	a.table.Clear()
	a.queue.Init()
	return out
}

// Flush evicts aggregates that have not been updated within the idle timeout and
// returns their records, oldest first.
func (a *Aggregator) Flush() []*model.Record {
	if a.cfg.IdleTimeout <= 0 {
		return nil
	}
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*model.Record
	for el := a.queue.Back(); el != nil; {
		agg := el.Value.(*Aggregate)
		if now.Sub(agg.Updated) < a.cfg.IdleTimeout {
			break
		}
		prev := el.Prev()
		a.queue.Remove(el)
		a.table.Remove(agg.entry)
		out = append(out, agg.Record)
		el = prev
	}
	a.stats.Flushed += uint64(len(out))
	return out
}

// StatusDue returns copies of aggregates not reported within the status timeout
// and marks them reported.
func (a *Aggregator) StatusDue() []*model.Record {
	if a.cfg.StatusTimeout <= 0 {
		return nil
	}
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*model.Record
	for el := a.queue.Front(); el != nil; el = el.Next() {
		agg := el.Value.(*Aggregate)
		if now.Sub(agg.Reported) >= a.cfg.StatusTimeout {
			agg.Reported = now
			out = append(out, agg.Record.Clone())
		}
	}
	return out
}
