// Package bins routes records into fixed-length time bins, each holding its own
// copy of an aggregator chain.
package bins

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"Go2FlowSpectra/internal/engine/aggregator"
	"Go2FlowSpectra/internal/model"
)

var (
	// ErrIndex is returned for a record that ends before the window start.
	ErrIndex = errors.New("record precedes the bin window")
	// ErrNoTime is returned for a record without a usable Time DSR.
	ErrNoTime = errors.New("record has no time")
	// ErrResourceExhausted is returned when a record would grow the bin array past
	// its configured maximum.
	ErrResourceExhausted = errors.New("bin limit reached")
)

// DefaultMax is the bin limit of a process configured without one.
const DefaultMax = 1024

// Config describes the bin window.
type Config struct {
	// Size is the length of one bin.
	Size time.Duration
	// Count is the initial number of bins and the growth block.
	Count int
	// Max bounds the number of bins. Zero selects DefaultMax.
	Max int
	// Start fixes the window start. When zero the window starts at the first
	// record, aligned down to Size.
	Start time.Time
}

// Bin is one time interval and its aggregates. Times are microseconds since the
// epoch; End is exclusive.
type Bin struct {
	Start int64
	End   int64
	Agg   *aggregator.Aggregator
}

// Process holds the bin array of one window.
type Process struct {
	cfg   Config
	proto *aggregator.Aggregator

	mu          sync.Mutex
	initialized bool
	size        int64
	start       int64
	bins        []*Bin
}

// New creates a bin process whose bins aggregate with copies of chain.
func New(cfg Config, chain *aggregator.Aggregator) (*Process, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("bin size must be positive, got %s", cfg.Size)
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.Max <= 0 {
		cfg.Max = max(DefaultMax, cfg.Count)
	}
	if cfg.Max < cfg.Count {
		return nil, fmt.Errorf("max bins %d below initial count %d", cfg.Max, cfg.Count)
	}
	p := &Process{cfg: cfg, proto: chain, size: cfg.Size.Microseconds()}
	if !cfg.Start.IsZero() {
		p.init(cfg.Start.UnixMicro())
	}
	return p, nil
}

func (p *Process) init(start int64) {
	p.start = start
	p.bins = make([]*Bin, p.cfg.Count)
	p.initialized = true
}

// Window returns the window start and the bin length.
func (p *Process) Window() (start time.Time, size time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.MicrosToTime(p.start), p.cfg.Size
}

// Insert routes rec into the bins its time range covers. A record inside one bin
// is offered to that bin's aggregators as is; a record spanning several bins is
// split and its counters apportioned by rate. The part of a record before the
// window is dropped; a record wholly before it yields ErrIndex.
func (p *Process) Insert(rec *model.Record) (aggregator.Result, error) {
	t := rec.Time
	if t == nil {
		return aggregator.Skipped, ErrNoTime
	}
	start, end, ok := t.Bounds()
	if !ok {
		return aggregator.Skipped, ErrNoTime
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		p.init(floorDiv(start, p.size) * p.size)
	}

	first, last := p.index(start), p.index(end)
	if end > start && (end-p.start)%p.size == 0 {
		// an end on a boundary belongs to the bin before it
		last--
	}
	if last < 0 {
		return aggregator.Skipped, fmt.Errorf("%w: ends %s, window starts %s", ErrIndex,
			model.MicrosToTime(end), model.MicrosToTime(p.start))
	}
	if err := p.grow(last); err != nil {
		return aggregator.Skipped, err
	}

	if first == last {
		return p.bin(first).Agg.Process(rec), nil
	}

	res := aggregator.Skipped
	sp := newSplitter(rec, start, end)
	if first < 0 {
		sp.skip(p.start - start)
		first = 0
	}
	for i := first; i <= last; i++ {
		lo, hi := p.start+int64(i)*p.size, p.start+int64(i+1)*p.size
		piece := sp.piece(max(lo, start), min(hi, end), i == last)
		if r := p.bin(i).Agg.Process(piece); res == aggregator.Skipped || r == aggregator.Inserted {
			res = r
		}
	}
	return res, nil
}

func (p *Process) index(ts int64) int {
	return int(floorDiv(ts-p.start, p.size))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// grow extends the bin array so idx is addressable, in whole blocks of Count,
// never past Max.
func (p *Process) grow(idx int) error {
	if idx < len(p.bins) {
		return nil
	}
	if idx >= p.cfg.Max {
		return fmt.Errorf("%w: index %d, max %d", ErrResourceExhausted, idx, p.cfg.Max)
	}
	block := p.cfg.Count
	n := min((idx/block+1)*block, p.cfg.Max)
	grown := make([]*Bin, n)
	copy(grown, p.bins)
	p.bins = grown
	return nil
}

// bin returns the bin at idx, allocating it on first use.
func (p *Process) bin(idx int) *Bin {
	b := p.bins[idx]
	if b == nil {
		lo := p.start + int64(idx)*p.size
		b = &Bin{Start: lo, End: lo + p.size, Agg: p.proto.Clone()}
		p.bins[idx] = b
	}
	return b
}

// Shift drops the n oldest bins, advances the window start by n bin lengths, and
// returns the dropped bins that were in use.
func (p *Process) Shift(n int) []*Bin {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || !p.initialized {
		return nil
	}

	var out []*Bin
	for i := 0; i < n && i < len(p.bins); i++ {
		if p.bins[i] != nil {
			out = append(out, p.bins[i])
		}
	}
	keep := len(p.bins)
	if n < keep {
		copy(p.bins, p.bins[n:])
		clear(p.bins[keep-n:])
	} else {
		clear(p.bins)
	}
	p.start += int64(n) * p.size
	return out
}

// Expired returns how many leading bins end at or before now.
func (p *Process) Expired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return 0
	}
	n := floorDiv(now.UnixMicro()-p.start, p.size)
	return int(max(n, 0))
}

// Bins returns the allocated bins in time order.
func (p *Process) Bins() []*Bin {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Bin, 0, len(p.bins))
	for _, b := range p.bins {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the length of the bin array.
func (p *Process) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bins)
}

// Reset empties the window. A window without a fixed start restarts at the next
// record.
func (p *Process) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bins = nil
	p.initialized = false
	if !p.cfg.Start.IsZero() {
		p.init(p.start)
	}
}

// counter apportions one total over consecutive pieces of a range.
type counter struct {
	total    int64
	assigned int64
	rate     float64
	carry    float64
	ready    bool
}

// share returns the amount for a piece of dur microseconds. The rate is
// computed on first use; fractions carry into the next piece and the last piece
// takes whatever remains.
func (c *counter) share(dur, span int64, last bool) int64 {
	if last {
		return c.total - c.assigned
	}
	if !c.ready {
		c.rate = float64(c.total) / float64(span)
		c.ready = true
	}
	exact := c.rate*float64(dur) + c.carry
	n := int64(math.Floor(exact))
	c.carry = exact - float64(n)
	c.assigned += n
	return n
}

// splitter cuts a record into per-bin pieces.
type splitter struct {
	rec        *model.Record
	start, end int64
	src, dst   [3]counter
}

func newSplitter(rec *model.Record, start, end int64) *splitter {
	sp := &splitter{rec: rec, start: start, end: end}
	if m := rec.Metric; m != nil {
		sp.src = counters(m.Src)
		sp.dst = counters(m.Dst)
	}
	return sp
}

func counters(c model.Counters) [3]counter {
	return [3]counter{{total: c.Pkts}, {total: c.Bytes}, {total: c.AppBytes}}
}

// skip consumes the counters of the first dur microseconds without producing a
// piece.
func (sp *splitter) skip(dur int64) {
	span := sp.end - sp.start
	for i := range sp.src {
		sp.src[i].share(dur, span, false)
		sp.dst[i].share(dur, span, false)
	}
}

// piece returns a copy of the record limited to [lo, hi).
func (sp *splitter) piece(lo, hi int64, last bool) *model.Record {
	out := sp.rec.Clone()
	dur, span := hi-lo, sp.end-sp.start

	if m := out.Metric; m != nil {
		apportion(&m.Src, &sp.src, dur, span, last)
		apportion(&m.Dst, &sp.dst, dur, span, last)
	}

	t := out.Time
	if t.HasSrc() {
		t.Src = clip(t.Src, lo, hi)
	}
	if t.HasDst() {
		t.Dst = clip(t.Dst, lo, hi)
	}
	t.Encoding = model.TimeAbsTimestamp
	if !t.IsPoint() {
		t.Encoding = model.TimeAbsRange
	}
	return out
}

func apportion(c *model.Counters, cs *[3]counter, dur, span int64, last bool) {
	c.Pkts = cs[0].share(dur, span, last)
	c.Bytes = cs[1].share(dur, span, last)
	c.AppBytes = cs[2].share(dur, span, last)
}

func clip(r model.TimeRange, lo, hi int64) model.TimeRange {
	r.Start = min(max(r.Start, lo), hi)
	r.End = max(min(r.End, hi), r.Start)
	return r
}
