// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool provides a generic connection pool with interchangeable strategies.
//
// # Design principles
//
//  1. All pool state is guarded by a single mutex held only for in-memory updates.
//     Factory calls and connection closing happen outside of it.
//  2. Pool never retries. Exhaustion, factory failures and timeouts are reported as *Error.
//  3. A lease is used by one caller at a time; exclusivity comes from the Acquire/Release handoff.
package pool

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/observability"
	"github.com/FerretDB/dbtx/internal/util/resource"
)

// Parts of Prometheus metric names.
const (
	namespace = "dbtx"
	subsystem = "pool"
)

// DefaultMaxSize is the default capacity of Queue and AsyncQueue pools.
const DefaultMaxSize = 10

// errClosed is wrapped by errors returned from a closed pool.
var errClosed = errors.New("pool is closed")

// Closer is implemented by pooled connections.
type Closer interface {
	Close() error
}

// Factory creates a new physical connection.
type Factory[C Closer] func(ctx context.Context) (C, error)

// entry is a physical connection owned by the pool.
type entry[C Closer] struct {
	conn      C
	createdAt time.Time
	id        uint64

	// fields below are protected by Pool.rw

	lastUsedAt time.Time
	holders    int  // Static and PerOwner leases
	detached   bool // removed from slots; closed when the last holder leaves
}

// slot is a lazily created shared connection of Static and PerOwner strategies.
type slot[C Closer] struct {
	ready chan struct{} // closed when e or err is set
	e     *entry[C]
	err   error
}

// staticOwner is the slot key of Static strategy.
type staticOwner struct{}

// Pool hands out leases on connections created by Factory.
//
// Pool methods can be called concurrently.
type Pool[C Closer] struct {
	factory  Factory[C]
	l        *zap.Logger
	name     string
	strategy Strategy
	maxSize  int
	token    *resource.Token

	rw        sync.Mutex
	available []*entry[C]       // FIFO
	waiters   []chan *entry[C]  // FIFO; nil entry grants a free slot, closed channel means closed pool
	slots     map[any]*slot[C] // keyed by owner
	active    int              // leases not yet released, including connections being created for them
	open      int              // physical connections
	lastID    uint64
	created   uint64
	discarded uint64
	closed    bool
}

// NewOpts represents the parameters of New function.
//
//nolint:vet // for readability
type NewOpts[C Closer] struct {
	Strategy Strategy
	Factory  Factory[C]
	L        *zap.Logger

	// MaxSize is the capacity of Queue and AsyncQueue pools; DefaultMaxSize if zero.
	MaxSize int

	// Name is used in logs and metrics; strategy name if empty.
	Name string
}

// New creates a new pool.
func New[C Closer](opts *NewOpts[C]) (*Pool[C], error) {
	if opts.Factory == nil {
		return nil, lazyerrors.New("factory is not set")
	}

	if !slices.Contains(Strategies(), opts.Strategy) {
		return nil, lazyerrors.Errorf("invalid strategy %d", opts.Strategy)
	}

	if opts.MaxSize < 0 {
		return nil, lazyerrors.Errorf("invalid max size %d", opts.MaxSize)
	}

	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	name := opts.Name
	if name == "" {
		name = opts.Strategy.String()
	}

	l := opts.L
	if l == nil {
		l = zap.NewNop()
	}

	p := &Pool[C]{
		factory:  opts.Factory,
		l:        l.Named("pool").With(zap.String("name", name)),
		name:     name,
		strategy: opts.Strategy,
		maxSize:  maxSize,
		token:    resource.NewToken(),
		slots:    map[any]*slot[C]{},
	}

	resource.Track(p, p.token)

	p.l.Info("Pool created", zap.Stringer("strategy", p.strategy), zap.Int("max_size", p.maxSize))

	return p, nil
}

// Acquire returns a lease on a connection.
//
// Queue fails with MaxConnectionsReached when at capacity.
// AsyncQueue waits for a released connection and fails with Timeout when ctx is done.
// PerOwner requires a comparable owner key set with WithOwner.
// All strategies fail with NoConnectionsAvailable after Close
// and with ConnectionFailed when Factory fails.
func (p *Pool[C]) Acquire(ctx context.Context) (*Lease[C], error) {
	defer observability.FuncCall(ctx)()

	switch p.strategy {
	case Queue, AsyncQueue:
		return p.acquireQueue(ctx)
	case Null:
		return p.acquireNew(ctx)
	case Static:
		return p.acquireSlot(ctx, staticOwner{})
	case PerOwner:
		owner, ok := OwnerFromContext(ctx)
		if !ok {
			return nil, lazyerrors.New("no owner in context, use pool.WithOwner")
		}

		if !reflect.TypeOf(owner).Comparable() {
			return nil, lazyerrors.Errorf("owner key of type %T is not comparable", owner)
		}

		return p.acquireSlot(ctx, owner)
	default:
		panic("not reached")
	}
}

// acquireQueue implements Acquire for Queue and AsyncQueue.
func (p *Pool[C]) acquireQueue(ctx context.Context) (*Lease[C], error) {
	p.rw.Lock()

	if p.closed {
		p.rw.Unlock()
		return nil, newError(ErrorCodeNoConnectionsAvailable, errClosed)
	}

	if len(p.available) > 0 {
		e := p.available[0]
		p.available = slices.Delete(p.available, 0, 1)
		p.active++

		l := p.lease(e, nil)
		p.rw.Unlock()

		return l, nil
	}

	if p.active < p.maxSize {
		p.active++
		p.rw.Unlock()

		return p.createReserved(ctx)
	}

	if p.strategy == Queue {
		p.rw.Unlock()
		return nil, newError(ErrorCodeMaxConnectionsReached, nil)
	}

	w := make(chan *entry[C], 1)
	p.waiters = append(p.waiters, w)
	p.rw.Unlock()

	return p.wait(ctx, w)
}

// wait waits for a connection or a free slot to be granted to w.
func (p *Pool[C]) wait(ctx context.Context, w chan *entry[C]) (*Lease[C], error) {
	select {
	case e, ok := <-w:
		if !ok {
			return nil, newError(ErrorCodeNoConnectionsAvailable, errClosed)
		}

		if e == nil {
			return p.createReserved(ctx)
		}

		p.rw.Lock()
		defer p.rw.Unlock()

		return p.lease(e, nil), nil

	case <-ctx.Done():
		p.rw.Lock()

		if i := slices.Index(p.waiters, w); i >= 0 {
			p.waiters = slices.Delete(p.waiters, i, i+1)
			p.rw.Unlock()

			return nil, newError(ErrorCodeTimeout, context.Cause(ctx))
		}

		p.rw.Unlock()

		// grants are sent under the lock, so one is already buffered
		if e, ok := <-w; ok {
			if e == nil {
				p.freeSlot()
			} else {
				p.put(e)
			}
		}

		return nil, newError(ErrorCodeTimeout, context.Cause(ctx))
	}
}

// createReserved creates a connection for a slot already counted in active.
func (p *Pool[C]) createReserved(ctx context.Context) (*Lease[C], error) {
	e, err := p.create(ctx)
	if err != nil {
		p.freeSlot()
		return nil, err
	}

	p.rw.Lock()
	defer p.rw.Unlock()

	return p.lease(e, nil), nil
}

// acquireNew implements Acquire for Null.
func (p *Pool[C]) acquireNew(ctx context.Context) (*Lease[C], error) {
	p.rw.Lock()

	if p.closed {
		p.rw.Unlock()
		return nil, newError(ErrorCodeNoConnectionsAvailable, errClosed)
	}

	p.active++
	p.rw.Unlock()

	e, err := p.create(ctx)

	p.rw.Lock()
	defer p.rw.Unlock()

	if err != nil {
		p.active--
		return nil, err
	}

	return p.lease(e, nil), nil
}

// acquireSlot implements Acquire for Static and PerOwner.
func (p *Pool[C]) acquireSlot(ctx context.Context, owner any) (*Lease[C], error) {
	for {
		p.rw.Lock()

		if p.closed {
			p.rw.Unlock()
			return nil, newError(ErrorCodeNoConnectionsAvailable, errClosed)
		}

		s := p.slots[owner]

		if s != nil && s.e != nil {
			l := p.lease(s.e, owner)
			p.rw.Unlock()

			return l, nil
		}

		if s != nil {
			// another caller is creating it
			p.rw.Unlock()

			select {
			case <-s.ready:
			case <-ctx.Done():
				return nil, newError(ErrorCodeTimeout, context.Cause(ctx))
			}

			if s.err != nil {
				// the creator gave up, but this caller may still create the connection
				if ctx.Err() == nil && (errors.Is(s.err, context.Canceled) || errors.Is(s.err, context.DeadlineExceeded)) {
					continue
				}

				return nil, s.err
			}

			continue
		}

		s = &slot[C]{ready: make(chan struct{})}
		p.slots[owner] = s
		p.rw.Unlock()

		e, err := p.create(ctx)

		p.rw.Lock()

		if err == nil && p.closed {
			p.open--
			p.rw.Unlock()
			p.closeConn(e)
			p.rw.Lock()

			err = newError(ErrorCodeNoConnectionsAvailable, errClosed)
		}

		if err != nil {
			if p.slots[owner] == s {
				delete(p.slots, owner)
			}

			s.err = err
			close(s.ready)
			p.rw.Unlock()

			return nil, err
		}

		s.e = e
		close(s.ready)

		if p.strategy == PerOwner {
			p.l.Debug("Owner connection created", zap.Any("owner", owner), zap.Uint64("id", e.id))
		}

		l := p.lease(e, owner)
		p.rw.Unlock()

		return l, nil
	}
}

// create calls Factory and registers a new entry.
func (p *Pool[C]) create(ctx context.Context) (*entry[C], error) {
	conn, err := p.factory(ctx)
	if err != nil {
		p.l.Warn("Failed to create connection", zap.Error(err))
		return nil, newError(ErrorCodeConnectionFailed, err)
	}

	now := time.Now()

	p.rw.Lock()
	defer p.rw.Unlock()

	p.lastID++
	p.open++
	p.created++

	return &entry[C]{
		conn:       conn,
		createdAt:  now,
		id:         p.lastID,
		lastUsedAt: now,
	}, nil
}

// lease returns a new lease on e.
//
// It must be called with p.rw held.
func (p *Pool[C]) lease(e *entry[C], owner any) *Lease[C] {
	if owner != nil {
		e.holders++
		p.active++
	}

	e.lastUsedAt = time.Now()

	return &Lease[C]{
		e:          e,
		owner:      owner,
		conn:       e.conn,
		id:         e.id,
		createdAt:  e.createdAt,
		lastUsedAt: e.lastUsedAt,
	}
}

// freeSlot frees a slot counted in active, granting it to the first waiter if any.
func (p *Pool[C]) freeSlot() {
	p.rw.Lock()
	defer p.rw.Unlock()

	if len(p.waiters) > 0 && !p.closed {
		w := p.waiters[0]
		p.waiters = slices.Delete(p.waiters, 0, 1)
		w <- nil

		return
	}

	p.active--
}

// put returns e to the available queue, handing it to the first waiter if any.
func (p *Pool[C]) put(e *entry[C]) {
	p.rw.Lock()

	e.lastUsedAt = time.Now()

	if p.closed {
		p.active--
		p.open--
		p.rw.Unlock()
		p.closeConn(e)

		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = slices.Delete(p.waiters, 0, 1)
		w <- e
		p.rw.Unlock()

		return
	}

	p.active--
	p.available = append(p.available, e)
	p.rw.Unlock()
}

// leaveSlot releases one holder of a shared entry, closing it if it was the last one
// and the entry is detached or the pool is closed.
func (p *Pool[C]) leaveSlot(e *entry[C]) {
	p.rw.Lock()

	e.holders--
	e.lastUsedAt = time.Now()
	p.active--

	closeConn := e.holders == 0 && (e.detached || p.closed)
	if closeConn {
		p.open--
	}

	p.rw.Unlock()

	if closeConn {
		p.closeConn(e)
	}
}

// Release returns the lease to the pool.
//
// Queue and AsyncQueue make the connection available to other callers.
// Null closes the connection.
// Static and PerOwner keep the connection open.
// Releasing a lease after Close closes its connection unless it is still shared.
func (p *Pool[C]) Release(l *Lease[C]) {
	if !l.done.CompareAndSwap(false, true) {
		panic("pool: lease released twice")
	}

	switch p.strategy {
	case Queue, AsyncQueue:
		p.put(l.e)

	case Null:
		p.rw.Lock()
		p.active--
		p.open--
		p.rw.Unlock()

		p.closeConn(l.e)

	case Static, PerOwner:
		p.leaveSlot(l.e)
	}
}

// Discard closes the connection of a broken lease and frees its place in the pool.
//
// For Static and PerOwner the shared connection is replaced on the next Acquire
// and closed when the last holder releases it.
func (p *Pool[C]) Discard(l *Lease[C]) {
	if !l.done.CompareAndSwap(false, true) {
		panic("pool: lease released twice")
	}

	p.l.Debug("Discarding connection", zap.Uint64("id", l.id))

	switch p.strategy {
	case Queue, AsyncQueue:
		p.rw.Lock()
		p.open--
		p.discarded++
		p.rw.Unlock()

		p.closeConn(l.e)
		p.freeSlot()

	case Null:
		p.rw.Lock()
		p.active--
		p.open--
		p.discarded++
		p.rw.Unlock()

		p.closeConn(l.e)

	case Static, PerOwner:
		p.rw.Lock()

		if s := p.slots[l.owner]; s != nil && s.e == l.e {
			delete(p.slots, l.owner)
		}

		if !l.e.detached {
			l.e.detached = true
			p.discarded++
		}

		p.rw.Unlock()

		p.leaveSlot(l.e)
	}
}

// Forget closes the connection of the given owner (PerOwner strategy).
//
// If some leases on it are still held, it is closed when the last of them is released.
func (p *Pool[C]) Forget(owner any) {
	if owner == nil || !reflect.TypeOf(owner).Comparable() {
		return
	}

	p.rw.Lock()

	s := p.slots[owner]
	if s == nil || s.e == nil {
		p.rw.Unlock()
		return
	}

	delete(p.slots, owner)
	s.e.detached = true

	closeConn := s.e.holders == 0
	if closeConn {
		p.open--
	}

	p.rw.Unlock()

	p.l.Debug("Owner connection dropped", zap.Any("owner", owner), zap.Bool("closed", closeConn))

	if closeConn {
		p.closeConn(s.e)
	}
}

// closeConn closes the physical connection.
func (p *Pool[C]) closeConn(e *entry[C]) {
	if err := e.conn.Close(); err != nil {
		p.l.Warn("Failed to close connection", zap.Uint64("id", e.id), zap.Error(err))
	}
}

// Strategy returns the pool strategy.
func (p *Pool[C]) Strategy() Strategy {
	return p.strategy
}

// Size returns the number of physical connections currently open.
func (p *Pool[C]) Size() int {
	p.rw.Lock()
	defer p.rw.Unlock()

	return p.open
}

// ActiveCount returns the number of leases that were acquired but not yet released.
func (p *Pool[C]) ActiveCount() int {
	p.rw.Lock()
	defer p.rw.Unlock()

	return p.active
}

// Stats represents pool statistics.
type Stats struct {
	Strategy  Strategy
	MaxSize   int
	Size      int
	Active    int
	Available int
	Waiters   int
	Created   uint64
	Discarded uint64
}

// Stats returns pool statistics.
func (p *Pool[C]) Stats() *Stats {
	p.rw.Lock()
	defer p.rw.Unlock()

	return &Stats{
		Strategy:  p.strategy,
		MaxSize:   p.maxSize,
		Size:      p.open,
		Active:    p.active,
		Available: len(p.available),
		Waiters:   len(p.waiters),
		Created:   p.created,
		Discarded: p.discarded,
	}
}

// Close closes idle connections and makes all future Acquire calls fail.
//
// Waiting Acquire calls fail with NoConnectionsAvailable.
// Connections leased at that moment are closed when released.
func (p *Pool[C]) Close() {
	p.rw.Lock()

	if p.closed {
		p.rw.Unlock()
		return
	}

	p.closed = true

	toClose := p.available
	p.available = nil

	for _, w := range p.waiters {
		close(w)
	}

	p.waiters = nil

	for _, s := range p.slots {
		if s.e != nil && s.e.holders == 0 {
			toClose = append(toClose, s.e)
		}
	}

	clear(p.slots)

	p.open -= len(toClose)
	p.rw.Unlock()

	for _, e := range toClose {
		p.closeConn(e)
	}

	p.l.Info("Pool closed", zap.Int("closed", len(toClose)))

	resource.Untrack(p, p.token)
}

// Describe implements prometheus.Collector.
func (p *Pool[C]) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(p, ch)
}

// Collect implements prometheus.Collector.
func (p *Pool[C]) Collect(ch chan<- prometheus.Metric) {
	stats := p.Stats()
	labels := prometheus.Labels{"name": p.name, "strategy": p.strategy.String()}

	for _, m := range []struct {
		name  string
		help  string
		t     prometheus.ValueType
		value float64
	}{
		{"size", "The current number of open connections.", prometheus.GaugeValue, float64(stats.Size)},
		{"active", "The current number of leased connections.", prometheus.GaugeValue, float64(stats.Active)},
		{"available", "The current number of idle connections.", prometheus.GaugeValue, float64(stats.Available)},
		{"waiters", "The current number of callers waiting for a connection.", prometheus.GaugeValue, float64(stats.Waiters)},
		{"created_total", "The total number of created connections.", prometheus.CounterValue, float64(stats.Created)},
		{"discarded_total", "The total number of discarded connections.", prometheus.CounterValue, float64(stats.Discarded)},
	} {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, m.name), m.help, nil, labels),
			m.t,
			m.value,
		)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Pool[Closer])(nil)
)
